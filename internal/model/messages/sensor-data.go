package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownEventKind is returned for a type/deviceType tag the dashboard does not handle.
	ErrUnknownEventKind = errors.New("unknown event kind")
	// ErrMalformedPayload is returned when the envelope itself cannot be decoded.
	ErrMalformedPayload = errors.New("malformed payload")
)

type EventKind string

const (
	KindTemperatureHumidity EventKind = "temperature_humidity"
	KindSoilMoisture        EventKind = "soil_moisture"
	KindPump                EventKind = "pump_water"
	KindLight               EventKind = "light"
)

// ParseKind folds hyphen/underscore spellings and the pump_status synonym.
func ParseKind(tag string) (EventKind, bool) {
	k := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(tag)), "-", "_")
	switch k {
	case "temperature_humidity":
		return KindTemperatureHumidity, true
	case "soil_moisture":
		return KindSoilMoisture, true
	case "pump_water", "pump_status":
		return KindPump, true
	case "light":
		return KindLight, true
	}
	return "", false
}

// Event is one inbound update. The set of implementations is closed:
// TemperatureHumidity, SoilMoisture, Pump, Light.
type Event interface {
	Kind() EventKind
	isEvent()
}

// TemperatureHumidity carries humidity as "humidity" on the stream and as
// "airHumidity" on the pull path.
type TemperatureHumidity struct {
	Temperature Value `json:"temperature"`
	Humidity    Value `json:"humidity"`
	AirHumidity Value `json:"airHumidity"`
}

type SoilMoisture struct {
	SoilMoisture Value `json:"soilMoisture"`
}

// Pump may carry pumpSpeed, speed, and a status. The status is never trusted.
type Pump struct {
	PumpSpeed Value       `json:"pumpSpeed"`
	Speed     Value       `json:"speed"`
	Status    StatusValue `json:"status"`
}

type Light struct {
	Status StatusValue `json:"status"`
}

func (TemperatureHumidity) Kind() EventKind { return KindTemperatureHumidity }
func (SoilMoisture) Kind() EventKind        { return KindSoilMoisture }
func (Pump) Kind() EventKind                { return KindPump }
func (Light) Kind() EventKind               { return KindLight }

func (TemperatureHumidity) isEvent() {}
func (SoilMoisture) isEvent()        {}
func (Pump) isEvent()                {}
func (Light) isEvent()               {}

// Envelope is the push-stream wire format: {"type": "...", "data": {...}}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a raw stream payload into a typed event.
func DecodeEnvelope(payload []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return env.Event()
}

// Event decodes Data according to Type.
func (e Envelope) Event() (Event, error) {
	kind, ok := ParseKind(e.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, e.Type)
	}
	data := e.Data
	if len(data) == 0 || strings.TrimSpace(string(data)) == "null" {
		data = []byte("{}")
	}
	var (
		ev  Event
		err error
	)
	switch kind {
	case KindTemperatureHumidity:
		var th TemperatureHumidity
		err = json.Unmarshal(data, &th)
		ev = th
	case KindSoilMoisture:
		var sm SoilMoisture
		err = json.Unmarshal(data, &sm)
		ev = sm
	case KindPump:
		var p Pump
		err = json.Unmarshal(data, &p)
		ev = p
	case KindLight:
		var l Light
		err = json.Unmarshal(data, &l)
		ev = l
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrMalformedPayload, kind, err)
	}
	return ev, nil
}
