package messages

import (
	"time"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
)

// ActuatorIntent is the desired actuator state derived from the alerts.
// It is published for an external agent to enact; the engine drives no hardware.
type ActuatorIntent struct {
	Pump      entities.PumpState    `json:"pumpWater"`
	Light     entities.LightState   `json:"light"`
	Triggers  entities.TriggerState `json:"triggers"`
	Changed   bool                  `json:"changed"`
	Timestamp time.Time             `json:"timestamp"`
}

// Reasons lists the active trigger flags, pump first.
func (i ActuatorIntent) Reasons() []string {
	var out []string
	p, l := i.Triggers.Pump, i.Triggers.Light
	if p.SoilMoistureLow {
		out = append(out, "soilMoistureLow")
	}
	if p.AirHumidityLow {
		out = append(out, "airHumidityLow")
	}
	if p.TemperatureHigh {
		out = append(out, "temperatureHigh")
	}
	if l.SoilMoistureHigh {
		out = append(out, "soilMoistureHigh")
	}
	if l.AirHumidityHigh {
		out = append(out, "airHumidityHigh")
	}
	if l.TemperatureLow {
		out = append(out, "temperatureLow")
	}
	return out
}
