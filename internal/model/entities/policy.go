package entities

import "math"

// Metric names one of the three monitored values.
type Metric string

const (
	MetricSoilMoisture Metric = "soilMoisture"
	MetricTemperature  Metric = "temperature"
	MetricAirHumidity  Metric = "airHumidity"
)

// Metrics lists the monitored metrics in evaluation order.
var Metrics = []Metric{MetricSoilMoisture, MetricTemperature, MetricAirHumidity}

// Range is an inclusive [Min, Max] band; values on the boundary are in range.
type Range struct {
	Min float64 `json:"min" mapstructure:"min"`
	Max float64 `json:"max" mapstructure:"max"`
}

// Valid is false for NaN bounds or an inverted band.
func (r Range) Valid() bool {
	return !math.IsNaN(r.Min) && !math.IsNaN(r.Max) && r.Min <= r.Max
}

// ThresholdConfig holds the alert band of every metric. It is only ever
// replaced as a whole.
type ThresholdConfig struct {
	SoilMoisture Range `json:"soilMoisture"`
	Temperature  Range `json:"temperature"`
	AirHumidity  Range `json:"airHumidity"`
}

// DefaultThresholds is used at startup and whenever an update is incomplete.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		SoilMoisture: Range{Min: 20, Max: 80},
		Temperature:  Range{Min: 18, Max: 32},
		AirHumidity:  Range{Min: 40, Max: 80},
	}
}

func (c ThresholdConfig) For(m Metric) Range {
	switch m {
	case MetricSoilMoisture:
		return c.SoilMoisture
	case MetricTemperature:
		return c.Temperature
	case MetricAirHumidity:
		return c.AirHumidity
	}
	return Range{Min: math.NaN(), Max: math.NaN()}
}
