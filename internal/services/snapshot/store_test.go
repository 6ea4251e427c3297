package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
)

func newTestStore(b Backend) *Store {
	return NewStore(b, "", slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestLoadReadingPartialTrust(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	s := newTestStore(mem)
	_ = mem.Set(ctx, s.Keys().Reading, []byte(`{"soilMoisture":"abc","pumpWater":null,"temperature":21.5}`))

	r := s.LoadReading(ctx)
	if r.SoilMoisture != 0 {
		t.Fatalf("soilMoisture = %v, want 0", r.SoilMoisture)
	}
	if r.PumpWater != (entities.PumpState{Status: entities.StatusOff, Speed: 0}) {
		t.Fatalf("pumpWater = %+v, want Off/0", r.PumpWater)
	}
	if r.Temperature != 21.5 {
		t.Fatalf("temperature = %v, want 21.5", r.Temperature)
	}
	if r.Loading || r.Error != nil {
		t.Fatalf("stored reading should be usable, got loading=%v error=%v", r.Loading, r.Error)
	}
	if r.Light.Status != entities.StatusOff {
		t.Fatalf("light = %q, want Off", r.Light.Status)
	}
}

func TestLoadReadingRecomputesPumpStatus(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	s := newTestStore(mem)
	_ = mem.Set(ctx, s.Keys().Reading, []byte(`{"pumpWater":{"status":"Off","speed":40},"light":{"status":"on"}}`))

	r := s.LoadReading(ctx)
	if !r.PumpWater.On() || r.PumpWater.Speed != 40 {
		t.Fatalf("pumpWater = %+v, want On/40", r.PumpWater)
	}
	if !r.Light.On() {
		t.Fatalf("light = %q, want On", r.Light.Status)
	}
}

func TestLoadDefaults(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	s := newTestStore(mem)

	cases := map[string]string{
		"missing":  "",
		"not json": "{{{",
		"array":    "[1,2]",
		"null":     "null",
		"a number": "42",
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			if blob == "" {
				_ = mem.Delete(ctx, s.Keys().Reading)
			} else {
				_ = mem.Set(ctx, s.Keys().Reading, []byte(blob))
			}
			r := s.LoadReading(ctx)
			if !r.Loading {
				t.Fatalf("want default loading reading, got %+v", r)
			}
		})
	}
}

func TestLoadAlertsTruthiness(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	s := newTestStore(mem)
	_ = mem.Set(ctx, s.Keys().Alerts, []byte(`{
		"soilMoisture": {"high": 0, "low": 1, "timestamp": "2024-05-01T10:00:00Z"},
		"temperature": {"high": "yes", "low": null, "timestamp": ""},
		"airHumidity": "garbage"
	}`))

	a := s.LoadAlerts(ctx)
	if a.SoilMoisture.High || !a.SoilMoisture.Low || a.SoilMoisture.Timestamp == nil {
		t.Fatalf("soilMoisture = %+v", a.SoilMoisture)
	}
	if !a.Temperature.High || a.Temperature.Low || a.Temperature.Timestamp != nil {
		t.Fatalf("temperature = %+v", a.Temperature)
	}
	if a.AirHumidity != (entities.AlertRecord{}) {
		t.Fatalf("airHumidity = %+v, want zero record", a.AirHumidity)
	}
}

func TestSaveLoadRoundTripFile(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	s := newTestStore(fb)

	ts := "2024-05-01T10:00:00Z"
	in := State{
		Reading: entities.Reading{
			SoilMoisture: 15, Temperature: 25, AirHumidity: 60,
			PumpWater: entities.NewPumpState(100),
			Light:     entities.LightState{Status: entities.StatusOff},
		},
		Previous: entities.PreviousReading{SoilMoisture: 30, PumpSpeed: 0, Light: entities.LightState{Status: entities.StatusOff}},
		Alerts:   entities.AlertState{SoilMoisture: entities.AlertRecord{Low: true, Timestamp: &ts}},
	}
	if !s.Save(ctx, in) {
		t.Fatal("Save returned false")
	}

	out := s.Load(ctx)
	if out.Reading.SoilMoisture != 15 || out.Reading.PumpWater != entities.NewPumpState(100) || out.Reading.Loading {
		t.Fatalf("reading = %+v", out.Reading)
	}
	if out.Previous.SoilMoisture != 30 {
		t.Fatalf("previous = %+v", out.Previous)
	}
	if !out.Alerts.SoilMoisture.Low || *out.Alerts.SoilMoisture.Timestamp != ts {
		t.Fatalf("alerts = %+v", out.Alerts)
	}

	if !s.Clear(ctx) {
		t.Fatal("Clear returned false")
	}
	if r := s.LoadReading(ctx); !r.Loading {
		t.Fatalf("after clear want default reading, got %+v", r)
	}
}

func TestSaveSkipsLoadingReading(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	s := newTestStore(mem)

	if !s.Save(ctx, State{Reading: entities.DefaultReading(), Previous: entities.DefaultPrevious()}) {
		t.Fatal("Save returned false")
	}
	if _, found, _ := mem.Get(ctx, s.Keys().Reading); found {
		t.Fatal("loading reading should not be persisted")
	}
	if _, found, _ := mem.Get(ctx, s.Keys().Alerts); !found {
		t.Fatal("alerts should be persisted")
	}
}

type failingBackend struct{ MemoryBackend }

func (*failingBackend) Set(context.Context, string, []byte) error { return errors.New("disk full") }
func (*failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("io error")
}

func TestSaveFailureIsReported(t *testing.T) {
	s := newTestStore(&failingBackend{})
	if s.SaveReading(context.Background(), entities.Reading{}) {
		t.Fatal("SaveReading should report failure")
	}
	if r := s.LoadReading(context.Background()); !r.Loading {
		t.Fatal("load error should fall back to defaults")
	}
}

func TestKeysFor(t *testing.T) {
	k := KeysFor("")
	if k.Reading != "smart_watering_system_sensor_data" ||
		k.Previous != "smart_watering_system_prev_data" ||
		k.Alerts != "smart_watering_system_threshold_alerts" {
		t.Fatalf("unexpected default keys %+v", k)
	}
}

func TestQueriesFor(t *testing.T) {
	q, err := queriesFor(MySQL, "snaps")
	if err != nil {
		t.Fatalf("mysql: %v", err)
	}
	if !strings.Contains(q.upsert, "ON DUPLICATE KEY UPDATE") || !strings.Contains(q.get, "?") {
		t.Fatalf("mysql queries look wrong: %+v", q)
	}
	q, err = queriesFor(PostgreSQL, "snaps")
	if err != nil {
		t.Fatalf("postgres: %v", err)
	}
	if !strings.Contains(q.upsert, "ON CONFLICT (snapshot_key)") || !strings.Contains(q.get, "$1") {
		t.Fatalf("postgres queries look wrong: %+v", q)
	}
	if _, err := queriesFor(MySQL, "snaps; DROP TABLE x"); err == nil {
		t.Fatal("expected invalid table name error")
	}
	if _, err := queriesFor(Dialect("sqlite"), "snaps"); err == nil {
		t.Fatal("expected unsupported dialect error")
	}
}

func TestFileBackendRejectsPathKeys(t *testing.T) {
	fb, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	if err := fb.Set(context.Background(), "../escape", []byte("{}")); err == nil {
		t.Fatal("expected invalid key error")
	}
}
