package snapshot

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/observability"
)

// Backend is the key/value contract every snapshot storage satisfies.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

const DefaultPrefix = "smart_watering_system"

// Keys names the three independent blobs.
type Keys struct {
	Reading  string
	Previous string
	Alerts   string
}

func KeysFor(prefix string) Keys {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keys{
		Reading:  prefix + "_sensor_data",
		Previous: prefix + "_prev_data",
		Alerts:   prefix + "_threshold_alerts",
	}
}

// State is everything that survives a restart.
type State struct {
	Reading  entities.Reading
	Previous entities.PreviousReading
	Alerts   entities.AlertState
}

// Store persists State on a Backend. Loads never fail: every field that is
// missing or of the wrong type falls back to its default. Saves report
// success as a bool and log failures.
type Store struct {
	backend Backend
	keys    Keys
	log     *slog.Logger
	metrics *observability.Metrics
}

func NewStore(b Backend, prefix string, logger *slog.Logger, m *observability.Metrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: b,
		keys:    KeysFor(prefix),
		log:     logger.With("component", "snapshot"),
		metrics: m,
	}
}

func (s *Store) Keys() Keys { return s.keys }

func (s *Store) Load(ctx context.Context) State {
	return State{
		Reading:  s.LoadReading(ctx),
		Previous: s.LoadPrevious(ctx),
		Alerts:   s.LoadAlerts(ctx),
	}
}

func (s *Store) LoadReading(ctx context.Context) entities.Reading {
	obj, ok := s.object(ctx, s.keys.Reading)
	if !ok {
		return entities.DefaultReading()
	}
	return DecodeReading(obj)
}

func (s *Store) LoadPrevious(ctx context.Context) entities.PreviousReading {
	obj, ok := s.object(ctx, s.keys.Previous)
	if !ok {
		return entities.DefaultPrevious()
	}
	return DecodePrevious(obj)
}

func (s *Store) LoadAlerts(ctx context.Context) entities.AlertState {
	obj, ok := s.object(ctx, s.keys.Alerts)
	if !ok {
		return entities.AlertState{}
	}
	return DecodeAlerts(obj)
}

// Save writes all three blobs. A reading that is still loading or failed is
// not written, so a provisional state never replaces real data on disk.
func (s *Store) Save(ctx context.Context, st State) bool {
	ok := true
	if st.Reading.Usable() {
		ok = s.SaveReading(ctx, st.Reading) && ok
	}
	ok = s.put(ctx, s.keys.Previous, st.Previous) && ok
	ok = s.put(ctx, s.keys.Alerts, st.Alerts) && ok
	return ok
}

// SaveReading stores the sensor/actuator half of a reading; loading and
// error are runtime-only. Pump status is rewritten from speed.
func (s *Store) SaveReading(ctx context.Context, r entities.Reading) bool {
	type stored struct {
		SoilMoisture *float64            `json:"soilMoisture"`
		Temperature  *float64            `json:"temperature"`
		AirHumidity  *float64            `json:"airHumidity"`
		PumpWater    entities.PumpState  `json:"pumpWater"`
		Light        entities.LightState `json:"light"`
	}
	return s.put(ctx, s.keys.Reading, stored{
		SoilMoisture: entities.Finite(r.SoilMoisture),
		Temperature:  entities.Finite(r.Temperature),
		AirHumidity:  entities.Finite(r.AirHumidity),
		PumpWater:    entities.NewPumpState(r.PumpWater.Speed),
		Light:        r.Light,
	})
}

// Clear removes the three blobs. In-memory state is not touched.
func (s *Store) Clear(ctx context.Context) bool {
	ok := true
	for _, k := range []string{s.keys.Reading, s.keys.Previous, s.keys.Alerts} {
		if err := s.backend.Delete(ctx, k); err != nil {
			s.log.Error("clear failed", "key", k, "err", err)
			ok = false
		}
	}
	if ok {
		s.log.Info("saved data cleared")
	}
	return ok
}

func (s *Store) Close() error { return s.backend.Close() }

func (s *Store) put(ctx context.Context, key string, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode failed", "key", key, "err", err)
		s.metrics.SnapshotWrite(false)
		return false
	}
	if err := s.backend.Set(ctx, key, b); err != nil {
		s.log.Error("save failed", "key", key, "err", err)
		s.metrics.SnapshotWrite(false)
		return false
	}
	s.metrics.SnapshotWrite(true)
	return true
}

// object fetches key and parses it as a JSON object.
func (s *Store) object(ctx context.Context, key string) (map[string]any, bool) {
	b, found, err := s.backend.Get(ctx, key)
	if err != nil {
		s.log.Warn("load failed, using defaults", "key", key, "err", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil || obj == nil {
		s.log.Warn("stored blob is not an object, using defaults", "key", key, "err", err)
		return nil, false
	}
	return obj, true
}
