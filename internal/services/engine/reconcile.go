package engine

import (
	"math"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
)

// ApplyPatch merges patch into current field by field. previous holds the
// values the patch is about to overwrite, captured before the merge; fields
// the patch does not touch stay nil in it.
func ApplyPatch(current entities.Reading, patch Patch) (next entities.Reading, previous Patch) {
	next = current
	if patch.Empty() {
		return next, Patch{}
	}

	if patch.SoilMoisture != nil {
		previous.SoilMoisture = ptr(current.SoilMoisture)
		next.SoilMoisture = *patch.SoilMoisture
	}
	if patch.Temperature != nil {
		previous.Temperature = ptr(current.Temperature)
		next.Temperature = *patch.Temperature
	}
	if patch.AirHumidity != nil {
		previous.AirHumidity = ptr(current.AirHumidity)
		next.AirHumidity = *patch.AirHumidity
	}
	if patch.PumpSpeed != nil {
		previous.PumpSpeed = ptr(current.PumpWater.Speed)
		next.PumpWater = entities.NewPumpState(*patch.PumpSpeed)
	}
	if patch.Light != nil {
		st := current.Light.Status
		previous.Light = &st
		next.Light = entities.LightState{Status: *patch.Light}
	}

	next.Loading = false
	next.Error = nil
	return next, previous
}

// Into folds a captured previous patch into the previous-reading snapshot.
func (p Patch) Into(prev entities.PreviousReading) entities.PreviousReading {
	if p.SoilMoisture != nil {
		prev.SoilMoisture = *p.SoilMoisture
	}
	if p.Temperature != nil {
		prev.Temperature = *p.Temperature
	}
	if p.AirHumidity != nil {
		prev.AirHumidity = *p.AirHumidity
	}
	if p.PumpSpeed != nil {
		prev.PumpSpeed = *p.PumpSpeed
	}
	if p.Light != nil {
		prev.Light = entities.LightState{Status: *p.Light}
	}
	return prev
}

// PercentChange is round((curr-prev)/prev*100), rounding half up.
// It is 0 when prev is 0 or either side is not finite; 0 is a guard value,
// not a "no data" marker.
func PercentChange(curr, prev float64) int {
	if prev == 0 || !finite(curr) || !finite(prev) {
		return 0
	}
	r := math.Floor((curr-prev)/prev*100 + 0.5)
	if !finite(r) || r > math.MaxInt32 || r < math.MinInt32 {
		return 0
	}
	return int(r)
}

// Changes is the percent change of each metric against the previous snapshot.
type Changes struct {
	SoilMoisture int `json:"soilMoisture"`
	Temperature  int `json:"temperature"`
	AirHumidity  int `json:"airHumidity"`
	PumpSpeed    int `json:"pumpSpeed"`
}

func changesOf(r entities.Reading, prev entities.PreviousReading) Changes {
	return Changes{
		SoilMoisture: PercentChange(r.SoilMoisture, prev.SoilMoisture),
		Temperature:  PercentChange(r.Temperature, prev.Temperature),
		AirHumidity:  PercentChange(r.AirHumidity, prev.AirHumidity),
		PumpSpeed:    PercentChange(r.PumpWater.Speed, prev.PumpSpeed),
	}
}

func ptr(f float64) *float64 { return &f }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
