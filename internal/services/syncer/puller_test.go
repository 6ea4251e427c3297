package syncer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/sdcc_dashboard/pkg/dedup"
)

func TestHTTPPullerDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sensors/latest" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":[{"deviceType":"soil_moisture","soilMoisture":"41"}]}`))
	}))
	defer srv.Close()

	p := NewHTTPPuller(srv.URL+"/", "api/sensors/latest", time.Second, BreakerConfig{}, nil)
	resp, err := p.GetLatestSensorData(context.Background())
	if err != nil {
		t.Fatalf("GetLatestSensorData: %v", err)
	}
	if !resp.Success || len(resp.Data) != 1 || resp.Data[0].SoilMoisture.F != 41 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHTTPPullerBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPPuller(srv.URL, "/latest", time.Second, BreakerConfig{Failures: 2, OpenFor: time.Minute}, nil)
	for i := 0; i < 2; i++ {
		if _, err := p.GetLatestSensorData(context.Background()); err == nil {
			t.Fatal("expected upstream error")
		}
	}
	_, err := p.GetLatestSensorData(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("want open breaker, got %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("open breaker must not hit upstream, hits=%d", hits.Load())
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
	dup     bool
}

func (m fakeMessage) Duplicate() bool   { return m.dup }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 7 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

var _ mqtt.Message = fakeMessage{}

func TestMQTTStreamDropsOnlyRedeliveries(t *testing.T) {
	s := NewMQTTStream(nil, []string{"dashboard/sensors"}, 1, dedup.New(time.Minute, 100), nil)
	var got int
	s.SetHandler(func(context.Context, []byte) error {
		got++
		return nil
	})

	msg := fakeMessage{topic: "dashboard/sensors", payload: []byte(`{"type":"light","data":{"status":"On"}}`)}
	_ = s.onMessage("dashboard/sensors", msg)
	_ = s.onMessage("dashboard/sensors", msg) // same reading sent again
	msg.dup = true
	_ = s.onMessage("dashboard/sensors", msg) // broker redelivery

	if got != 2 {
		t.Fatalf("handled %d messages, want 2", got)
	}
	if s.Connected() {
		t.Fatal("nil client is never connected")
	}
}
