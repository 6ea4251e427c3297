package engine

import (
	"math"
	"testing"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
)

func f(v float64) *float64 { return &v }

func TestApplyPatchIdempotent(t *testing.T) {
	cur := entities.DefaultReading()
	on := entities.StatusOn
	patch := Patch{SoilMoisture: f(33), PumpSpeed: f(50), Light: &on}

	once, _ := ApplyPatch(cur, patch)
	twice, prev := ApplyPatch(once, patch)
	if once != twice {
		t.Fatalf("not idempotent: %+v vs %+v", once, twice)
	}
	if *prev.SoilMoisture != 33 {
		t.Fatalf("second previous should capture 33, got %v", *prev.SoilMoisture)
	}
}

func TestApplyPatchMergesFieldWise(t *testing.T) {
	cur := entities.Reading{
		SoilMoisture: 40, Temperature: 20, AirHumidity: 50,
		PumpWater: entities.NewPumpState(80),
		Light:     entities.LightState{Status: entities.StatusOn},
		Loading:   true,
	}

	next, prev := ApplyPatch(cur, Patch{PumpSpeed: f(0)})
	if next.Light.Status != entities.StatusOn {
		t.Fatal("pump patch clobbered light")
	}
	if next.PumpWater != (entities.PumpState{Status: entities.StatusOff, Speed: 0}) {
		t.Fatalf("pumpWater = %+v", next.PumpWater)
	}
	if next.SoilMoisture != 40 || next.Temperature != 20 || next.AirHumidity != 50 {
		t.Fatalf("untouched metrics changed: %+v", next)
	}
	if next.Loading || next.Error != nil {
		t.Fatal("real field should clear loading/error")
	}
	if prev.PumpSpeed == nil || *prev.PumpSpeed != 80 {
		t.Fatalf("previous pump speed = %v, want 80", prev.PumpSpeed)
	}
	if prev.SoilMoisture != nil || prev.Light != nil {
		t.Fatalf("previous should only hold touched fields: %+v", prev)
	}
}

func TestApplyPatchEmpty(t *testing.T) {
	cur := entities.DefaultReading()
	next, prev := ApplyPatch(cur, Patch{})
	if next != cur || !prev.Empty() {
		t.Fatal("empty patch must be a no-op")
	}
}

func TestPreviousInto(t *testing.T) {
	prev := entities.PreviousReading{SoilMoisture: 1, Temperature: 2, AirHumidity: 3, PumpSpeed: 4}
	got := Patch{Temperature: f(20)}.Into(prev)
	if got.Temperature != 20 || got.SoilMoisture != 1 || got.PumpSpeed != 4 {
		t.Fatalf("Into = %+v", got)
	}
}

func TestPumpStatusInvariant(t *testing.T) {
	cur := entities.DefaultReading()
	for _, speed := range []float64{0, 0.1, 50, 100, 150, -3, math.NaN()} {
		cur, _ = ApplyPatch(cur, Patch{PumpSpeed: f(speed)})
		if cur.PumpWater.On() != (cur.PumpWater.Speed > 0) {
			t.Fatalf("speed %v: status %q with speed %v", speed, cur.PumpWater.Status, cur.PumpWater.Speed)
		}
	}
}

func TestPercentChange(t *testing.T) {
	tests := []struct {
		curr, prev float64
		want       int
	}{
		{110, 100, 10},
		{90, 100, -10},
		{101.5, 100, 2},
		{98.5, 100, -1},
		{5, 0, 0},
		{0, 0, 0},
		{math.NaN(), 10, 0},
		{10, math.Inf(1), 0},
		{15, 20, -25},
	}
	for _, tt := range tests {
		if got := PercentChange(tt.curr, tt.prev); got != tt.want {
			t.Errorf("PercentChange(%v, %v) = %d, want %d", tt.curr, tt.prev, got, tt.want)
		}
	}
}
