package recorder

import (
	"math"
	"strings"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/engine"
)

const (
	MeasurementReading = "sensor_reading"
	MeasurementIntent  = "actuator_intent"
)

// fieldFor maps metric names used by the API to Influx field keys.
var fieldFor = map[string]string{
	"soilMoisture": "soil_moisture",
	"temperature":  "temperature",
	"airHumidity":  "air_humidity",
	"pumpSpeed":    "pump_speed",
}

// TickToPoints converts a tick into one reading point plus an intent point
// when the tick carried an actuator transition. NaN metrics are left out.
func TickToPoints(t engine.Tick) []*write.Point {
	r := t.Reading
	fields := map[string]interface{}{
		"pump_speed": r.PumpWater.Speed,
		"light_on":   r.Light.On(),
	}
	addFinite(fields, "soil_moisture", r.SoilMoisture)
	addFinite(fields, "temperature", r.Temperature)
	addFinite(fields, "air_humidity", r.AirHumidity)

	tags := map[string]string{"source": string(t.Source)}
	out := []*write.Point{influxdb2.NewPoint(MeasurementReading, tags, fields, t.At)}

	if t.Intent.Changed {
		itags := map[string]string{
			"source":  string(t.Source),
			"reasons": strings.Join(t.Intent.Reasons(), ","),
		}
		ifields := map[string]interface{}{
			"pump_speed": t.Intent.Pump.Speed,
			"pump_on":    t.Intent.Pump.On(),
			"light_on":   t.Intent.Light.On(),
		}
		out = append(out, influxdb2.NewPoint(MeasurementIntent, itags, ifields, t.At))
	}
	return out
}

func addFinite(fields map[string]interface{}, key string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	fields[key] = v
}
