package messages

import (
	"encoding/json"
	"fmt"
)

// PullResponse is the body of the latest-sensor-data endpoint.
// Entries that fail to decode are dropped and counted in Skipped; one bad
// device never voids the rest of the response.
type PullResponse struct {
	Success         bool          `json:"success"`
	Data            []DeviceEntry `json:"data"`
	HasFallbackData bool          `json:"hasFallbackData"`
	Skipped         int           `json:"-"`
}

func (p *PullResponse) UnmarshalJSON(b []byte) error {
	var raw struct {
		Success         bool              `json:"success"`
		Data            []json.RawMessage `json:"data"`
		HasFallbackData bool              `json:"hasFallbackData"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	*p = PullResponse{Success: raw.Success, HasFallbackData: raw.HasFallbackData}
	for _, item := range raw.Data {
		var e DeviceEntry
		if err := json.Unmarshal(item, &e); err != nil {
			p.Skipped++
			continue
		}
		p.Data = append(p.Data, e)
	}
	return nil
}

// DeviceEntry is one device in a pull response. Which fields matter depends
// on DeviceType.
type DeviceEntry struct {
	DeviceType   string      `json:"deviceType"`
	IsFallback   bool        `json:"isFallback"`
	SoilMoisture Value       `json:"soilMoisture"`
	Temperature  Value       `json:"temperature"`
	AirHumidity  Value       `json:"airHumidity"`
	Humidity     Value       `json:"humidity"`
	PumpSpeed    Value       `json:"pumpSpeed"`
	Speed        Value       `json:"speed"`
	Status       StatusValue `json:"status"`
}

// Event maps the entry onto the stream event union so both ingress paths
// share one normalizer.
func (d DeviceEntry) Event() (Event, error) {
	kind, ok := ParseKind(d.DeviceType)
	if !ok {
		return nil, fmt.Errorf("%w: deviceType %q", ErrUnknownEventKind, d.DeviceType)
	}
	switch kind {
	case KindTemperatureHumidity:
		return TemperatureHumidity{Temperature: d.Temperature, Humidity: d.Humidity, AirHumidity: d.AirHumidity}, nil
	case KindSoilMoisture:
		return SoilMoisture{SoilMoisture: d.SoilMoisture}, nil
	case KindPump:
		return Pump{PumpSpeed: d.PumpSpeed, Speed: d.Speed, Status: d.Status}, nil
	case KindLight:
		return Light{Status: d.Status}, nil
	}
	return nil, fmt.Errorf("%w: deviceType %q", ErrUnknownEventKind, d.DeviceType)
}
