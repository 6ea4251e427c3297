package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/engine"
)

type fakePublisher struct {
	sent [][]byte
	err  error
}

func (f *fakePublisher) PublishMessage(m interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m.([]byte))
	return nil
}
func (f *fakePublisher) Close() {}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}
func (f *fakeWriter) Close() error { return nil }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func pumpOnTick(changed bool) engine.Tick {
	return engine.Tick{
		Source: engine.SourceStream,
		Intent: messages.ActuatorIntent{
			Pump:     entities.NewPumpState(100),
			Light:    entities.LightState{Status: entities.StatusOff},
			Triggers: entities.TriggerState{Pump: entities.PumpTriggers{SoilMoistureLow: true}},
			Changed:  changed,
		},
		At: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestMQTTSinkPublishesTransitionsOnly(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTTSink(pub, quiet)

	s.Record(context.Background(), pumpOnTick(false))
	if len(pub.sent) != 0 {
		t.Fatal("unchanged intent must not be published")
	}
	s.Record(context.Background(), pumpOnTick(true))
	if len(pub.sent) != 1 {
		t.Fatalf("published %d, want 1", len(pub.sent))
	}

	var ev IntentEvent
	if err := json.Unmarshal(pub.sent[0], &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Source != "stream" || ev.Intent.Pump.Speed != 100 || len(ev.Reasons) != 1 || ev.Reasons[0] != "soilMoistureLow" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestMQTTSinkSurvivesPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	NewMQTTSink(pub, quiet).Record(context.Background(), pumpOnTick(true))
}

func TestKafkaSinkKeysByDevice(t *testing.T) {
	w := &fakeWriter{}
	s := NewKafkaSink(w, "field-1", quiet)

	s.Record(context.Background(), pumpOnTick(false))
	s.Record(context.Background(), pumpOnTick(true))
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "field-1" {
		t.Fatalf("key = %q", w.msgs[0].Key)
	}
}
