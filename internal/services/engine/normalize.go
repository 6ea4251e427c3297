package engine

import (
	"fmt"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/messages"
)

// Patch is a partial Reading: nil fields are left untouched by ApplyPatch.
// The pump carries only its speed; status is always derived.
type Patch struct {
	SoilMoisture *float64
	Temperature  *float64
	AirHumidity  *float64
	PumpSpeed    *float64
	Light        *entities.Status
}

// Empty is true when the patch carries no field at all.
func (p Patch) Empty() bool {
	return p.SoilMoisture == nil && p.Temperature == nil && p.AirHumidity == nil &&
		p.PumpSpeed == nil && p.Light == nil
}

// Merge overlays o on p; fields set in o win.
func (p Patch) Merge(o Patch) Patch {
	if o.SoilMoisture != nil {
		p.SoilMoisture = o.SoilMoisture
	}
	if o.Temperature != nil {
		p.Temperature = o.Temperature
	}
	if o.AirHumidity != nil {
		p.AirHumidity = o.AirHumidity
	}
	if o.PumpSpeed != nil {
		p.PumpSpeed = o.PumpSpeed
	}
	if o.Light != nil {
		p.Light = o.Light
	}
	return p
}

// Normalize projects an inbound event onto a patch. prior supplies the
// fallback for actuator fields the event names but does not carry usably.
func Normalize(ev messages.Event, prior entities.Reading) (Patch, error) {
	var p Patch
	switch e := ev.(type) {
	case messages.TemperatureHumidity:
		p.Temperature = metricOf(e.Temperature)
		// humidity on the stream, airHumidity on the pull path
		if e.Humidity.Set {
			p.AirHumidity = metricOf(e.Humidity)
		} else {
			p.AirHumidity = metricOf(e.AirHumidity)
		}
	case messages.SoilMoisture:
		p.SoilMoisture = metricOf(e.SoilMoisture)
	case messages.Pump:
		speed := prior.PumpWater.Speed
		switch {
		case e.PumpSpeed.Numeric():
			speed = e.PumpSpeed.F
		case e.Speed.Numeric():
			speed = e.Speed.F
		}
		speed = entities.NewPumpState(speed).Speed
		p.PumpSpeed = &speed
	case messages.Light:
		st := prior.Light.Status
		if e.Status.Valid {
			st = e.Status.Status
		}
		if st == "" {
			st = entities.StatusOff
		}
		p.Light = &st
	default:
		return Patch{}, fmt.Errorf("%w: %T", messages.ErrUnknownEventKind, ev)
	}
	return p, nil
}

func metricOf(v messages.Value) *float64 {
	if !v.Set {
		return nil
	}
	f := v.F
	return &f
}
