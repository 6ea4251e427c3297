package engine

import (
	"math"
	"time"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
)

// Evaluate computes the alert flags of every metric. A flag is set on strict
// inequality only, so boundary values are in range, and an unparseable value
// or bound clears both flags. A record's timestamp moves only when one of its
// flags flips. changed reports whether any record differs from prior.
func Evaluate(r entities.Reading, cfg entities.ThresholdConfig, prior entities.AlertState, now time.Time) (entities.AlertState, entities.TriggerState, bool) {
	next := prior
	changed := false
	for _, m := range entities.Metrics {
		v, rg := r.Metric(m), cfg.For(m)
		var rec entities.AlertRecord
		if !math.IsNaN(v) && !math.IsNaN(rg.Min) && !math.IsNaN(rg.Max) {
			rec.Low = v < rg.Min
			rec.High = v > rg.Max
		}
		old := prior.For(m)
		if rec.SameFlags(old) {
			rec.Timestamp = old.Timestamp
		} else {
			ts := now.UTC().Format(time.RFC3339)
			rec.Timestamp = &ts
			changed = true
		}
		next.Set(m, rec)
	}
	return next, DeriveTriggers(next), changed
}

// DeriveTriggers fans the alert flags out to the actuator that answers them.
// One metric can feed both actuators through opposite sides.
func DeriveTriggers(a entities.AlertState) entities.TriggerState {
	return entities.TriggerState{
		Pump: entities.PumpTriggers{
			SoilMoistureLow: a.SoilMoisture.Low,
			AirHumidityLow:  a.AirHumidity.Low,
			TemperatureHigh: a.Temperature.High,
		},
		Light: entities.LightTriggers{
			SoilMoistureHigh: a.SoilMoisture.High,
			AirHumidityHigh:  a.AirHumidity.High,
			TemperatureLow:   a.Temperature.Low,
		},
	}
}
