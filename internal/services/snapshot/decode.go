package snapshot

import (
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
)

// DecodeReading trusts each field of a stored reading independently.
// A stored object always yields a usable reading (loading=false).
func DecodeReading(m map[string]any) entities.Reading {
	r := entities.DefaultReading()
	r.SoilMoisture = number(m["soilMoisture"])
	r.Temperature = number(m["temperature"])
	r.AirHumidity = number(m["airHumidity"])
	pump, _ := m["pumpWater"].(map[string]any)
	r.PumpWater = entities.NewPumpState(number(pump["speed"]))
	r.Light = light(m["light"])
	r.Loading = false
	r.Error = nil
	return r
}

func DecodePrevious(m map[string]any) entities.PreviousReading {
	p := entities.DefaultPrevious()
	p.SoilMoisture = number(m["soilMoisture"])
	p.Temperature = number(m["temperature"])
	p.AirHumidity = number(m["airHumidity"])
	pump, _ := m["pumpWater"].(map[string]any)
	p.PumpSpeed = number(pump["speed"])
	p.Light = light(m["light"])
	return p
}

func DecodeAlerts(m map[string]any) entities.AlertState {
	var a entities.AlertState
	for _, metric := range entities.Metrics {
		obj, _ := m[string(metric)].(map[string]any)
		rec := entities.AlertRecord{
			High: truthy(obj["high"]),
			Low:  truthy(obj["low"]),
		}
		if ts, ok := obj["timestamp"].(string); ok && ts != "" {
			rec.Timestamp = &ts
		}
		a.Set(metric, rec)
	}
	return a
}

// number accepts JSON numbers only; anything else is 0.
func number(v any) float64 {
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return f
}

func light(v any) entities.LightState {
	obj, _ := v.(map[string]any)
	s, _ := obj["status"].(string)
	st, ok := entities.ParseStatus(s)
	if !ok {
		st = entities.StatusOff
	}
	return entities.LightState{Status: st}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}
