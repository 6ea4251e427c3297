package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/observability"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/snapshot"
)

type recordingSink struct {
	mu    sync.Mutex
	ticks []Tick
}

func (s *recordingSink) Record(_ context.Context, t Tick) {
	s.mu.Lock()
	s.ticks = append(s.ticks, t)
	s.mu.Unlock()
}

func (s *recordingSink) last() Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks[len(s.ticks)-1]
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestEngine(t *testing.T) (*Engine, *snapshot.Store, *recordingSink, *clock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := snapshot.NewStore(snapshot.NewMemoryBackend(), "", logger, nil)
	sink := &recordingSink{}
	c := &clock{t: t0}
	e := New(Options{
		Store:   store,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
		Sinks:   []Sink{sink},
		Now:     c.now,
	})
	return e, store, sink, c
}

func stream(t *testing.T, e *Engine, payload string) {
	t.Helper()
	if err := e.HandleStreamMessage(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("HandleStreamMessage(%s): %v", payload, err)
	}
}

func seed(t *testing.T, e *Engine) {
	t.Helper()
	stream(t, e, `{"type":"temperature_humidity","data":{"temperature":25,"humidity":60}}`)
	stream(t, e, `{"type":"soil_moisture","data":{"soilMoisture":50}}`)
}

func TestEngineLowSoilThenRecovery(t *testing.T) {
	e, _, sink, c := newTestEngine(t)
	seed(t, e)

	c.t = t0.Add(time.Minute)
	stream(t, e, `{"type":"soil_moisture","data":{"soilMoisture":15}}`)

	if a := e.Alerts(); !a.SoilMoisture.Low {
		t.Fatalf("alerts = %+v, want soil low", a)
	}
	if tr := e.Triggers(); !tr.Pump.SoilMoistureLow {
		t.Fatalf("triggers = %+v", tr)
	}
	in := e.Intent()
	if !in.Changed || in.Pump != (entities.PumpState{Status: entities.StatusOn, Speed: 100}) {
		t.Fatalf("intent = %+v, want pump On/100", in)
	}
	if e.Reading().PumpWater != in.Pump {
		t.Fatal("derived pump state should land on the reading")
	}
	if !sink.last().Intent.Changed {
		t.Fatal("sink should see the transition")
	}

	c.t = t0.Add(2 * time.Minute)
	stream(t, e, `{"type":"soil_moisture","data":{"soilMoisture":50}}`)
	in = e.Intent()
	if !in.Changed || in.Pump != (entities.PumpState{Status: entities.StatusOff, Speed: 0}) {
		t.Fatalf("intent = %+v, want pump Off/0", in)
	}
	if got := e.Changes().SoilMoisture; got != 233 {
		t.Fatalf("soil change = %d, want 233", got)
	}
}

func TestEngineNoRederivationWithoutAlertChange(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	seed(t, e)

	// manual pump run reported by the device; alerts are unchanged
	stream(t, e, `{"type":"pump_water","data":{"pumpSpeed":40}}`)
	if p := e.Reading().PumpWater; p.Speed != 40 || !p.On() {
		t.Fatalf("pump = %+v, want On/40", p)
	}
	if e.Intent().Changed {
		t.Fatal("no alert change, no actuation")
	}
}

func TestEngineIgnoresUnknownKinds(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	err := e.HandleStreamMessage(context.Background(), []byte(`{"type":"rain","data":{}}`))
	if !errors.Is(err, messages.ErrUnknownEventKind) {
		t.Fatalf("want ErrUnknownEventKind, got %v", err)
	}
	if !e.Reading().Loading {
		t.Fatal("rejected event must not touch state")
	}
}

func TestEngineThresholdUpdate(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	seed(t, e)

	err := e.UpdateThresholdConfig(context.Background(), map[string]entities.Range{
		"soil_moisture": {Min: 60, Max: 90},
		"TEMPERATURE":   {Min: 18, Max: 32},
		"AIR_HUMIDITY":  {Min: 40, Max: 80},
	})
	if err != nil {
		t.Fatalf("UpdateThresholdConfig: %v", err)
	}
	if got := e.Thresholds().SoilMoisture; got != (entities.Range{Min: 60, Max: 90}) {
		t.Fatalf("soil range = %+v", got)
	}
	if !e.Alerts().SoilMoisture.Low || !e.Reading().PumpWater.On() {
		t.Fatal("new thresholds should be evaluated immediately")
	}

	err = e.UpdateThresholdConfig(context.Background(), map[string]entities.Range{
		"SOIL_MOISTURE": {Min: 90, Max: 10},
	})
	if !errors.Is(err, ErrInvalidThresholds) {
		t.Fatalf("want ErrInvalidThresholds, got %v", err)
	}
	if e.Thresholds() != entities.DefaultThresholds() {
		t.Fatalf("invalid update should install defaults, got %+v", e.Thresholds())
	}
	if e.Alerts().SoilMoisture.Low || e.Reading().PumpWater.On() {
		t.Fatal("defaults should be re-evaluated")
	}
}

func TestEnginePullFoldsEntries(t *testing.T) {
	e, _, sink, _ := newTestEngine(t)
	e.HandlePull(context.Background(), messages.PullResponse{
		Success: true,
		Data: []messages.DeviceEntry{
			{DeviceType: "soil_moisture", SoilMoisture: messages.Num(45)},
			{DeviceType: "temperature_humidity", Temperature: messages.Num(21), AirHumidity: messages.Num(55)},
			{DeviceType: "sprinkler"},
		},
	})
	r := e.Reading()
	if r.Loading || r.SoilMoisture != 45 || r.Temperature != 21 || r.AirHumidity != 55 {
		t.Fatalf("reading = %+v", r)
	}
	if len(sink.ticks) != 1 || sink.last().Source != SourcePull {
		t.Fatalf("want one pull tick, got %d", len(sink.ticks))
	}

	e.HandlePull(context.Background(), messages.PullResponse{Success: false})
	if len(sink.ticks) != 1 {
		t.Fatal("unsuccessful pull must not produce a tick")
	}
}

func TestEnginePullErrorOnlyWhileLoading(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	e.HandlePullError(errors.New("connection refused"))
	r := e.Reading()
	if r.Loading || r.Error == nil || *r.Error != "connection refused" {
		t.Fatalf("reading = %+v", r)
	}

	seed(t, e)
	e.HandlePullError(errors.New("timeout"))
	if r := e.Reading(); r.Error != nil {
		t.Fatalf("warm cache must hide transport errors, got %q", *r.Error)
	}
}

func TestEngineForceSaveAndRestore(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	if e.ForceSave(ctx) {
		t.Fatal("ForceSave must refuse while loading")
	}

	seed(t, e)
	stream(t, e, `{"type":"soil_moisture","data":{"soilMoisture":15}}`)
	if !e.ForceSave(ctx) {
		t.Fatal("ForceSave failed")
	}

	restored := New(Options{Store: store, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	restored.Restore(ctx)
	r := restored.Reading()
	if r.Loading || r.SoilMoisture != 15 || !r.PumpWater.On() {
		t.Fatalf("restored reading = %+v", r)
	}
	if !restored.Alerts().SoilMoisture.Low || !restored.Triggers().Pump.SoilMoistureLow {
		t.Fatal("alerts and triggers should be restored")
	}
	if restored.Previous().SoilMoisture != 50 {
		t.Fatalf("previous = %+v", restored.Previous())
	}

	if !e.ClearSavedData(ctx) {
		t.Fatal("ClearSavedData failed")
	}
	if e.Reading().SoilMoisture != 15 {
		t.Fatal("clearing storage must not touch memory")
	}
	if st := store.Load(ctx); !st.Reading.Loading {
		t.Fatal("storage should be empty after clear")
	}
}

func TestEngineViewIsACopy(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	seed(t, e)
	v := e.View()
	v.Reading.SoilMoisture = 99
	if e.Reading().SoilMoisture != 50 {
		t.Fatal("view must not alias engine state")
	}
}

func TestEngineConcurrentIngest(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := `{"type":"pump_water","data":{"speed":` + []string{"0", "30", "100"}[i%3] + `}}`
			_ = e.HandleStreamMessage(context.Background(), []byte(payload))
			_ = e.View()
		}(i)
	}
	wg.Wait()
	p := e.Reading().PumpWater
	if p.On() != (p.Speed > 0) {
		t.Fatalf("pump invariant broken: %+v", p)
	}
}

// gatedSink holds the first pump-On intent it sees until released.
type gatedSink struct {
	recordingSink
	armed   atomic.Bool
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedSink) Record(ctx context.Context, t Tick) {
	if s.armed.Load() && t.Intent.Changed && t.Intent.Pump.On() {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
	s.recordingSink.Record(ctx, t)
}

func TestEngineSinkDeliveryFollowsApplyOrder(t *testing.T) {
	sink := &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
	e := New(Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sinks:  []Sink{sink},
		Now:    (&clock{t: t0}).now,
	})
	seed(t, e)
	sink.armed.Store(true)
	ctx := context.Background()

	first := make(chan struct{})
	go func() {
		defer close(first)
		_ = e.HandleStreamMessage(ctx, []byte(`{"type":"soil_moisture","data":{"soilMoisture":15}}`))
	}()
	<-sink.entered

	second := make(chan struct{})
	go func() {
		defer close(second)
		_ = e.HandleStreamMessage(ctx, []byte(`{"type":"soil_moisture","data":{"soilMoisture":50}}`))
	}()
	deadline := time.Now().Add(2 * time.Second)
	for e.Reading().SoilMoisture != 50 {
		if time.Now().After(deadline) {
			t.Fatal("second update never applied")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(sink.release)
	<-first
	<-second

	if e.Intent().Pump.On() {
		t.Fatal("pump should be off after recovery")
	}
	if last := sink.last(); last.Intent.Pump.On() {
		t.Fatalf("sink ended on stale intent %+v", last.Intent.Pump)
	}
}

func TestEngineDropsOvertakenTick(t *testing.T) {
	e, _, sink, _ := newTestEngine(t)
	ctx := context.Background()
	e.after(ctx, Tick{Seq: 2, Source: SourceStream})
	e.after(ctx, Tick{Seq: 1, Source: SourcePull})
	e.after(ctx, Tick{Seq: 2, Source: SourcePull})
	if len(sink.ticks) != 1 || sink.last().Seq != 2 || sink.last().Source != SourceStream {
		t.Fatalf("delivered = %+v", sink.ticks)
	}
}

func TestEngineTicksCarryApplyOrder(t *testing.T) {
	e, _, sink, _ := newTestEngine(t)
	seed(t, e)
	stream(t, e, `{"type":"soil_moisture","data":{"soilMoisture":15}}`)
	for i := 1; i < len(sink.ticks); i++ {
		if sink.ticks[i].Seq <= sink.ticks[i-1].Seq {
			t.Fatalf("tick %d seq %d not after %d", i, sink.ticks[i].Seq, sink.ticks[i-1].Seq)
		}
	}
}

func TestEnginePullWithoutDataEndsLoading(t *testing.T) {
	tests := []struct {
		name string
		resp messages.PullResponse
	}{
		{"unsuccessful", messages.PullResponse{Success: false}},
		{"no entries", messages.PullResponse{Success: true}},
		{"only unknown devices", messages.PullResponse{Success: true, Data: []messages.DeviceEntry{{DeviceType: "sprinkler"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, sink, _ := newTestEngine(t)
			e.HandlePull(context.Background(), tt.resp)
			r := e.Reading()
			if r.Loading || r.Error != nil {
				t.Fatalf("reading = %+v, want loaded without error", r)
			}
			if len(sink.ticks) != 0 {
				t.Fatal("no data, no tick")
			}
			if e.Alerts() != (entities.AlertState{}) {
				t.Fatalf("nothing should be evaluated, alerts = %+v", e.Alerts())
			}
		})
	}
}

func TestEngineThresholdsAppliedAfterRestore(t *testing.T) {
	src, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	seed(t, src)
	stream(t, src, `{"type":"soil_moisture","data":{"soilMoisture":15}}`)
	if !src.ForceSave(ctx) {
		t.Fatal("ForceSave failed")
	}

	e := New(Options{Store: store, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	e.Restore(ctx)
	err := e.UpdateThresholdConfig(ctx, map[string]entities.Range{
		"SOIL_MOISTURE": {Min: 10, Max: 80},
		"TEMPERATURE":   {Min: 18, Max: 32},
		"AIR_HUMIDITY":  {Min: 40, Max: 80},
	})
	if err != nil {
		t.Fatalf("UpdateThresholdConfig: %v", err)
	}
	if e.Alerts().SoilMoisture.Low {
		t.Fatal("restored reading should be evaluated against the new thresholds")
	}
	if e.Reading().PumpWater.On() || e.Intent().Pump.On() {
		t.Fatal("pump should be switched off under the new thresholds")
	}
}
