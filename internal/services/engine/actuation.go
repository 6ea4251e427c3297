package engine

import "github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"

// fullSpeed is the only speed automation ever asks for.
const fullSpeed = 100

// Decide maps the triggers to the desired actuator state and reports whether
// it differs from current. Only real transitions are emitted.
func Decide(t entities.TriggerState, current entities.Actuators) (entities.Actuators, bool) {
	desired := current
	changed := false

	pumpOn := t.Pump.Any()
	switch {
	case pumpOn && (!current.Pump.On() || current.Pump.Speed == 0):
		desired.Pump = entities.NewPumpState(fullSpeed)
		changed = true
	case !pumpOn && current.Pump.On():
		desired.Pump = entities.NewPumpState(0)
		changed = true
	}

	lightOn := t.Light.Any()
	switch {
	case lightOn && !current.Light.On():
		desired.Light = entities.LightState{Status: entities.StatusOn}
		changed = true
	case !lightOn && current.Light.On():
		desired.Light = entities.LightState{Status: entities.StatusOff}
		changed = true
	}

	return desired, changed
}
