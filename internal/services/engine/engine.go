package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/observability"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/snapshot"
)

// ErrInvalidThresholds is returned when a threshold update is incomplete or
// inconsistent. The engine has already fallen back to the defaults.
var ErrInvalidThresholds = errors.New("invalid threshold config")

// Source tags where an update came from.
type Source string

const (
	SourceStream Source = "stream"
	SourcePull   Source = "pull"
	SourceConfig Source = "config"
)

// Persister is the snapshot store as the engine sees it.
type Persister interface {
	Load(ctx context.Context) snapshot.State
	Save(ctx context.Context, st snapshot.State) bool
	Clear(ctx context.Context) bool
}

// Tick is what one accepted update produced. Seq follows the order in which
// updates were applied to the state.
type Tick struct {
	Seq       uint64
	Source    Source
	Reading   entities.Reading
	Alerts    entities.AlertState
	Intent    messages.ActuatorIntent
	Evaluated bool
	At        time.Time
}

// Sink receives ticks after the state lock is released, one at a time and in
// Seq order. A tick overtaken by a newer one is never delivered.
type Sink interface {
	Record(ctx context.Context, t Tick)
}

type Options struct {
	Store      Persister
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Sinks      []Sink
	Thresholds *entities.ThresholdConfig
	Now        func() time.Time
}

// Engine owns the canonical dashboard state. All mutations are serialized
// by mu; readers get copies.
type Engine struct {
	mu       sync.Mutex
	reading  entities.Reading
	previous entities.PreviousReading
	alerts   entities.AlertState
	triggers entities.TriggerState
	intent   messages.ActuatorIntent
	config   entities.ThresholdConfig
	version  uint64
	seq      uint64

	saveMu       sync.Mutex
	savedVersion uint64

	dispatchMu   sync.Mutex
	deliveredSeq uint64

	store   Persister
	log     *slog.Logger
	metrics *observability.Metrics
	sinks   []Sink
	now     func() time.Time
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cfg := entities.DefaultThresholds()
	if opts.Thresholds != nil {
		cfg = *opts.Thresholds
	}
	reading := entities.DefaultReading()
	return &Engine{
		reading:  reading,
		previous: entities.DefaultPrevious(),
		intent:   messages.ActuatorIntent{Pump: reading.PumpWater, Light: reading.Light},
		config:   cfg,
		store:    opts.Store,
		log:      logger.With("component", "engine"),
		metrics:  opts.Metrics,
		sinks:    opts.Sinks,
		now:      now,
	}
}

// Restore replaces the in-memory state with the persisted snapshot.
// Triggers are rebuilt from the restored alerts; nothing is re-derived.
func (e *Engine) Restore(ctx context.Context) {
	if e.store == nil {
		return
	}
	st := e.store.Load(ctx)
	e.mu.Lock()
	e.reading = st.Reading
	e.previous = st.Previous
	e.alerts = st.Alerts
	e.triggers = DeriveTriggers(st.Alerts)
	e.intent = messages.ActuatorIntent{
		Pump:      st.Reading.PumpWater,
		Light:     st.Reading.Light,
		Triggers:  e.triggers,
		Timestamp: e.now().UTC(),
	}
	e.version++
	e.mu.Unlock()

	e.metrics.SetAlerts(st.Alerts)
	e.metrics.SetActuators(st.Reading.Actuators())
	e.log.Info("state restored", "loading", st.Reading.Loading, "pump", st.Reading.PumpWater.Status, "light", st.Reading.Light.Status)
}

// HandleStreamMessage decodes a {type,data} envelope and applies it.
func (e *Engine) HandleStreamMessage(ctx context.Context, payload []byte) error {
	ev, err := messages.DecodeEnvelope(payload)
	if err != nil {
		e.metrics.Event(string(SourceStream), "unknown", "rejected")
		return err
	}
	return e.HandleEvent(ctx, SourceStream, ev)
}

// HandleEvent runs one event through normalize, reconcile, evaluate and derive.
func (e *Engine) HandleEvent(ctx context.Context, src Source, ev messages.Event) error {
	e.mu.Lock()
	patch, err := Normalize(ev, e.reading)
	if err != nil {
		e.mu.Unlock()
		e.metrics.Event(string(src), "unknown", "rejected")
		return err
	}
	tick := e.applyLocked(src, patch)
	e.mu.Unlock()

	e.metrics.Event(string(src), string(ev.Kind()), "accepted")
	e.after(ctx, tick)
	return nil
}

// HandlePull folds every entry of a pull response into one patch and applies
// it as a single update.
func (e *Engine) HandlePull(ctx context.Context, resp messages.PullResponse) {
	if !resp.Success || len(resp.Data) == 0 {
		e.log.Warn("pull returned no usable data", "success", resp.Success, "entries", len(resp.Data))
		e.metrics.Pull("empty")
		e.endLoading()
		return
	}
	if resp.HasFallbackData {
		e.log.Warn("pull response contains fallback data")
	}
	if resp.Skipped > 0 {
		e.log.Warn("pull entries skipped", "count", resp.Skipped)
	}

	e.mu.Lock()
	var patch Patch
	for _, entry := range resp.Data {
		ev, err := entry.Event()
		if err != nil {
			e.log.Warn("pull entry ignored", "err", err)
			continue
		}
		if entry.IsFallback {
			e.log.Warn("using fallback data", "deviceType", entry.DeviceType)
		}
		p, err := Normalize(ev, e.reading)
		if err != nil {
			e.log.Warn("pull entry ignored", "err", err)
			continue
		}
		patch = patch.Merge(p)
	}
	e.warnMissing(patch)
	if patch.Empty() {
		e.mu.Unlock()
		e.metrics.Pull("empty")
		e.endLoading()
		return
	}
	tick := e.applyLocked(SourcePull, patch)
	e.mu.Unlock()

	e.metrics.Pull("ok")
	e.after(ctx, tick)
}

// endLoading marks the first load done when the backend answered without
// data. Nothing is evaluated: the reading still holds defaults.
func (e *Engine) endLoading() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.reading.Loading {
		return
	}
	e.reading.Loading = false
	e.version++
	e.log.Info("initial load returned no data")
}

// HandlePullError records a transport failure. It only becomes visible on
// the reading while nothing has been loaded yet.
func (e *Engine) HandlePullError(err error) {
	e.metrics.Pull("error")
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.reading.Loading {
		e.log.Warn("pull failed, keeping last known state", "err", err)
		return
	}
	msg := err.Error()
	e.reading.Error = &msg
	e.reading.Loading = false
	e.version++
	e.log.Error("initial load failed", "err", err)
}

// UpdateThresholdConfig replaces the thresholds from a config keyed by
// upper-case metric names (SOIL_MOISTURE, TEMPERATURE, AIR_HUMIDITY).
// Keys are matched case-insensitively. A missing metric or an invalid range
// installs the defaults and returns ErrInvalidThresholds. Either way the
// current reading is re-evaluated.
func (e *Engine) UpdateThresholdConfig(ctx context.Context, raw map[string]entities.Range) error {
	cfg, err := translateThresholds(raw)
	if err != nil {
		e.log.Warn("threshold update rejected, using defaults", "err", err)
		cfg = entities.DefaultThresholds()
	}

	e.mu.Lock()
	e.config = cfg
	var tick Tick
	if e.reading.Usable() {
		tick = e.evaluateLocked(SourceConfig)
	}
	e.mu.Unlock()

	e.log.Info("thresholds updated", "soilMoisture", cfg.SoilMoisture, "temperature", cfg.Temperature, "airHumidity", cfg.AirHumidity)
	if tick.Evaluated {
		e.after(ctx, tick)
	}
	return err
}

var thresholdKeys = map[string]entities.Metric{
	"SOIL_MOISTURE": entities.MetricSoilMoisture,
	"TEMPERATURE":   entities.MetricTemperature,
	"AIR_HUMIDITY":  entities.MetricAirHumidity,
}

func translateThresholds(raw map[string]entities.Range) (entities.ThresholdConfig, error) {
	var cfg entities.ThresholdConfig
	seen := map[entities.Metric]bool{}
	for k, rg := range raw {
		m, ok := thresholdKeys[strings.ToUpper(strings.TrimSpace(k))]
		if !ok {
			continue
		}
		if !rg.Valid() {
			return entities.ThresholdConfig{}, fmt.Errorf("%w: %s range [%v, %v]", ErrInvalidThresholds, k, rg.Min, rg.Max)
		}
		switch m {
		case entities.MetricSoilMoisture:
			cfg.SoilMoisture = rg
		case entities.MetricTemperature:
			cfg.Temperature = rg
		case entities.MetricAirHumidity:
			cfg.AirHumidity = rg
		}
		seen[m] = true
	}
	for _, m := range entities.Metrics {
		if !seen[m] {
			return entities.ThresholdConfig{}, fmt.Errorf("%w: missing %s", ErrInvalidThresholds, m)
		}
	}
	return cfg, nil
}

// applyLocked merges the patch and, once real data is present, runs the
// evaluation stages. Caller holds mu.
func (e *Engine) applyLocked(src Source, patch Patch) Tick {
	next, captured := ApplyPatch(e.reading, patch)
	e.reading = next
	e.previous = captured.Into(e.previous)
	e.version++
	if !e.reading.Usable() {
		e.seq++
		return Tick{Seq: e.seq, Source: src, Reading: e.reading, Alerts: e.alerts, Intent: e.intent, At: e.now()}
	}
	return e.evaluateLocked(src)
}

// evaluateLocked runs evaluate then derive, strictly in that order. The
// derived actuator state lands on the reading but is only seen by the
// evaluator on the next update. Caller holds mu.
func (e *Engine) evaluateLocked(src Source) Tick {
	now := e.now()
	alerts, triggers, changed := Evaluate(e.reading, e.config, e.alerts, now)
	e.alerts = alerts
	e.triggers = triggers

	intent := messages.ActuatorIntent{
		Pump:      e.reading.PumpWater,
		Light:     e.reading.Light,
		Triggers:  triggers,
		Timestamp: now.UTC(),
	}
	if changed {
		e.version++
		desired, transition := Decide(triggers, e.reading.Actuators())
		if transition {
			e.reading.PumpWater = desired.Pump
			e.reading.Light = desired.Light
			intent.Pump = desired.Pump
			intent.Light = desired.Light
			intent.Changed = true
		}
	}
	e.intent = intent

	e.seq++
	return Tick{
		Seq:       e.seq,
		Source:    src,
		Reading:   e.reading,
		Alerts:    e.alerts,
		Intent:    intent,
		Evaluated: true,
		At:        now,
	}
}

func (e *Engine) warnMissing(p Patch) {
	if p.SoilMoisture == nil {
		e.log.Warn("no soil moisture data updated")
	}
	if p.Temperature == nil || p.AirHumidity == nil {
		e.log.Warn("no temperature/humidity data updated")
	}
	if p.PumpSpeed == nil {
		e.log.Warn("no pump data updated")
	}
	if p.Light == nil {
		e.log.Warn("no light data updated")
	}
}

// after runs the I/O of a tick once the in-memory state is final. Delivery
// is serialized; a tick older than the last delivered one is dropped so
// sinks never end on a stale intent.
func (e *Engine) after(ctx context.Context, t Tick) {
	e.persist(ctx, false)

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	if t.Seq <= e.deliveredSeq {
		e.log.Debug("stale tick dropped", "seq", t.Seq, "delivered", e.deliveredSeq)
		return
	}
	e.deliveredSeq = t.Seq

	e.metrics.SetAlerts(t.Alerts)
	e.metrics.SetActuators(t.Reading.Actuators())
	if t.Intent.Changed {
		e.metrics.Transition("pump", t.Intent.Pump.Status)
		e.metrics.Transition("light", t.Intent.Light.Status)
		e.log.Info("actuator intent changed",
			"pump", t.Intent.Pump.Status, "speed", t.Intent.Pump.Speed,
			"light", t.Intent.Light.Status, "reasons", t.Intent.Reasons())
	}
	for _, s := range e.sinks {
		s.Record(ctx, t)
	}
}

// persist saves the current state unless a newer version is already stored.
func (e *Engine) persist(ctx context.Context, force bool) bool {
	if e.store == nil {
		return false
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	st := snapshot.State{Reading: e.reading, Previous: e.previous, Alerts: e.alerts}
	v := e.version
	e.mu.Unlock()

	if !force && v <= e.savedVersion {
		return true
	}
	ok := e.store.Save(ctx, st)
	if ok && v > e.savedVersion {
		e.savedVersion = v
	}
	return ok
}

// ForceSave writes the current reading immediately. It refuses while the
// reading is still loading.
func (e *Engine) ForceSave(ctx context.Context) bool {
	e.mu.Lock()
	loading := e.reading.Loading
	e.mu.Unlock()
	if loading {
		e.log.Warn("cannot force save while loading")
		return false
	}
	return e.persist(ctx, true)
}

// ClearSavedData removes the persisted snapshot; in-memory state is kept.
func (e *Engine) ClearSavedData(ctx context.Context) bool {
	if e.store == nil {
		return false
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	ok := e.store.Clear(ctx)
	if ok {
		e.savedVersion = 0
	}
	return ok
}

func (e *Engine) Reading() entities.Reading {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reading
}

func (e *Engine) Previous() entities.PreviousReading {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.previous
}

func (e *Engine) Alerts() entities.AlertState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alerts
}

func (e *Engine) Triggers() entities.TriggerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggers
}

func (e *Engine) Intent() messages.ActuatorIntent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.intent
}

func (e *Engine) Thresholds() entities.ThresholdConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

func (e *Engine) Changes() Changes {
	e.mu.Lock()
	defer e.mu.Unlock()
	return changesOf(e.reading, e.previous)
}

// View is a consistent copy of everything a reader may want.
type View struct {
	Reading  entities.Reading         `json:"reading"`
	Previous entities.PreviousReading `json:"previous"`
	Alerts   entities.AlertState      `json:"alerts"`
	Triggers entities.TriggerState    `json:"triggers"`
	Intent   messages.ActuatorIntent  `json:"intent"`
	Changes  Changes                  `json:"changes"`
}

func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return View{
		Reading:  e.reading,
		Previous: e.previous,
		Alerts:   e.alerts,
		Triggers: e.triggers,
		Intent:   e.intent,
		Changes:  changesOf(e.reading, e.previous),
	}
}
