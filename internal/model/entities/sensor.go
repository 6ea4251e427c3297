package entities

import (
	"encoding/json"
	"math"
	"strings"
)

// Status indicates whether an actuator (pump, light) is on or off.
type Status string

const (
	StatusOff Status = "Off"
	StatusOn  Status = "On"
)

// ParseStatus accepts "on"/"off" in any case. ok is false for anything else.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return StatusOn, true
	case "off":
		return StatusOff, true
	}
	return "", false
}

// PumpState is the water pump. Status is always derived from Speed.
type PumpState struct {
	Status Status  `json:"status"`
	Speed  float64 `json:"speed"` // 0..100
}

// NewPumpState builds a pump state from a speed, clamping it to 0..100.
func NewPumpState(speed float64) PumpState {
	if math.IsNaN(speed) || speed < 0 {
		speed = 0
	}
	if speed > 100 {
		speed = 100
	}
	st := StatusOff
	if speed > 0 {
		st = StatusOn
	}
	return PumpState{Status: st, Speed: speed}
}

func (p PumpState) On() bool { return p.Status == StatusOn }

type LightState struct {
	Status Status `json:"status"`
}

func (l LightState) On() bool { return l.Status == StatusOn }

// Reading is the canonical snapshot of sensor values and actuator states.
// Metric values may be NaN when the inbound value could not be parsed.
type Reading struct {
	SoilMoisture float64    `json:"soilMoisture"` // %
	Temperature  float64    `json:"temperature"`  // °C
	AirHumidity  float64    `json:"airHumidity"`  // %
	PumpWater    PumpState  `json:"pumpWater"`
	Light        LightState `json:"light"`
	Loading      bool       `json:"loading"`
	Error        *string    `json:"error"`
}

// DefaultReading is the provisional state shown before any data arrived.
func DefaultReading() Reading {
	return Reading{
		PumpWater: NewPumpState(0),
		Light:     LightState{Status: StatusOff},
		Loading:   true,
	}
}

// Usable reports whether the reading carries real data.
func (r Reading) Usable() bool { return !r.Loading && r.Error == nil }

// Metric returns the value of the named metric.
func (r Reading) Metric(m Metric) float64 {
	switch m {
	case MetricSoilMoisture:
		return r.SoilMoisture
	case MetricTemperature:
		return r.Temperature
	case MetricAirHumidity:
		return r.AirHumidity
	}
	return math.NaN()
}

// Actuators extracts the actuator half of the reading.
func (r Reading) Actuators() Actuators {
	return Actuators{Pump: r.PumpWater, Light: r.Light}
}

// MarshalJSON writes non-finite metrics as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	type wire struct {
		SoilMoisture *float64   `json:"soilMoisture"`
		Temperature  *float64   `json:"temperature"`
		AirHumidity  *float64   `json:"airHumidity"`
		PumpWater    PumpState  `json:"pumpWater"`
		Light        LightState `json:"light"`
		Loading      bool       `json:"loading"`
		Error        *string    `json:"error"`
	}
	return json.Marshal(wire{
		SoilMoisture: Finite(r.SoilMoisture),
		Temperature:  Finite(r.Temperature),
		AirHumidity:  Finite(r.AirHumidity),
		PumpWater:    r.PumpWater,
		Light:        r.Light,
		Loading:      r.Loading,
		Error:        r.Error,
	})
}

// PreviousReading is the last accepted value of each field before the current one.
// It only backs percent-change display.
type PreviousReading struct {
	SoilMoisture float64    `json:"soilMoisture"`
	Temperature  float64    `json:"temperature"`
	AirHumidity  float64    `json:"airHumidity"`
	PumpSpeed    float64    `json:"-"`
	Light        LightState `json:"light"`
}

func DefaultPrevious() PreviousReading {
	return PreviousReading{Light: LightState{Status: StatusOff}}
}

func (p PreviousReading) Metric(m Metric) float64 {
	switch m {
	case MetricSoilMoisture:
		return p.SoilMoisture
	case MetricTemperature:
		return p.Temperature
	case MetricAirHumidity:
		return p.AirHumidity
	}
	return math.NaN()
}

// MarshalJSON keeps the persisted shape {pumpWater:{speed}} and nulls NaN.
func (p PreviousReading) MarshalJSON() ([]byte, error) {
	type pump struct {
		Speed float64 `json:"speed"`
	}
	type wire struct {
		SoilMoisture *float64   `json:"soilMoisture"`
		Temperature  *float64   `json:"temperature"`
		AirHumidity  *float64   `json:"airHumidity"`
		PumpWater    pump       `json:"pumpWater"`
		Light        LightState `json:"light"`
	}
	return json.Marshal(wire{
		SoilMoisture: Finite(p.SoilMoisture),
		Temperature:  Finite(p.Temperature),
		AirHumidity:  Finite(p.AirHumidity),
		PumpWater:    pump{Speed: p.PumpSpeed},
		Light:        p.Light,
	})
}

// Actuators groups pump and light so the deriver can work on them alone.
type Actuators struct {
	Pump  PumpState  `json:"pumpWater"`
	Light LightState `json:"light"`
}

// Finite returns nil for NaN/Inf so the value can be encoded as JSON null.
func Finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
