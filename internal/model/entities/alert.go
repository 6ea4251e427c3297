package entities

// AlertRecord is the threshold state of one metric. Timestamp marks the last
// flag transition, not the last evaluation.
type AlertRecord struct {
	High      bool    `json:"high"`
	Low       bool    `json:"low"`
	Timestamp *string `json:"timestamp"`
}

// SameFlags compares the flags only.
func (a AlertRecord) SameFlags(b AlertRecord) bool {
	return a.High == b.High && a.Low == b.Low
}

type AlertState struct {
	SoilMoisture AlertRecord `json:"soilMoisture"`
	Temperature  AlertRecord `json:"temperature"`
	AirHumidity  AlertRecord `json:"airHumidity"`
}

func (s AlertState) For(m Metric) AlertRecord {
	switch m {
	case MetricSoilMoisture:
		return s.SoilMoisture
	case MetricTemperature:
		return s.Temperature
	case MetricAirHumidity:
		return s.AirHumidity
	}
	return AlertRecord{}
}

func (s *AlertState) Set(m Metric, rec AlertRecord) {
	switch m {
	case MetricSoilMoisture:
		s.SoilMoisture = rec
	case MetricTemperature:
		s.Temperature = rec
	case MetricAirHumidity:
		s.AirHumidity = rec
	}
}

// PumpTriggers are the conditions asking for water.
type PumpTriggers struct {
	SoilMoistureLow bool `json:"soilMoistureLow"`
	AirHumidityLow  bool `json:"airHumidityLow"`
	TemperatureHigh bool `json:"temperatureHigh"`
}

func (t PumpTriggers) Any() bool {
	return t.SoilMoistureLow || t.AirHumidityLow || t.TemperatureHigh
}

// LightTriggers are the conditions asking for the light.
type LightTriggers struct {
	SoilMoistureHigh bool `json:"soilMoistureHigh"`
	AirHumidityHigh  bool `json:"airHumidityHigh"`
	TemperatureLow   bool `json:"temperatureLow"`
}

func (t LightTriggers) Any() bool {
	return t.SoilMoistureHigh || t.AirHumidityHigh || t.TemperatureLow
}

type TriggerState struct {
	Pump  PumpTriggers  `json:"pump"`
	Light LightTriggers `json:"light"`
}
