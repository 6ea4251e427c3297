package messages

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
)

// Value is an inbound number. Devices send numbers, numeric strings, or
// garbage; garbage decodes to NaN so the evaluator can drop the alert.
// A missing or null field leaves Set false.
type Value struct {
	Set bool
	F   float64
}

// Num builds a present Value.
func Num(f float64) Value { return Value{Set: true, F: f} }

func (v *Value) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*v = Num(finiteOrNaN(f))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64); err == nil {
			*v = Num(finiteOrNaN(f))
			return nil
		}
	}
	*v = Num(math.NaN())
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Set || math.IsNaN(v.F) || math.IsInf(v.F, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v.F)
}

// Numeric is true when the value is present and parsed.
func (v Value) Numeric() bool { return v.Set && !math.IsNaN(v.F) }

func finiteOrNaN(f float64) float64 {
	if math.IsInf(f, 0) {
		return math.NaN()
	}
	return f
}

// StatusValue is an inbound on/off flag: "On", "off", true, false.
type StatusValue struct {
	Set    bool
	Valid  bool
	Status entities.Status
}

func StatusOf(s entities.Status) StatusValue {
	return StatusValue{Set: true, Valid: true, Status: s}
}

func (v *StatusValue) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*v = StatusValue{}
		return nil
	}
	*v = StatusValue{Set: true}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if st, ok := entities.ParseStatus(s); ok {
			v.Valid, v.Status = true, st
		}
		return nil
	}
	var on bool
	if err := json.Unmarshal(b, &on); err == nil {
		v.Valid = true
		v.Status = entities.StatusOff
		if on {
			v.Status = entities.StatusOn
		}
	}
	return nil
}

func (v StatusValue) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Status)
}
