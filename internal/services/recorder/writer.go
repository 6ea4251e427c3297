package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/engine"
)

// Writer records every engine tick to InfluxDB and tracks the last async
// write error for the health endpoint.
type Writer struct {
	api     api.WriteAPI
	log     *slog.Logger
	mu      sync.RWMutex
	lastErr time.Time
}

// NewWriter starts draining the async error channel of w.
func NewWriter(w api.WriteAPI, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	ww := &Writer{
		api:     w,
		log:     logger.With("component", "recorder"),
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				ww.mu.Lock()
				ww.lastErr = time.Now()
				ww.mu.Unlock()
				ww.log.Warn("influx write error", "err", err)
			}
		}
	}()
	return ww
}

// Record implements engine.Sink. Writes are batched by the client.
func (w *Writer) Record(_ context.Context, t engine.Tick) {
	for _, p := range TickToPoints(t) {
		w.api.WritePoint(p)
	}
}

// LastErrorAge is how long ago the last write error happened.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

func (w *Writer) Flush() {
	if w != nil {
		w.api.Flush()
	}
}
