package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/observability"
)

// BreakerConfig mirrors gobreaker.Settings in config-friendly units.
type BreakerConfig struct {
	Failures int
	OpenFor  time.Duration
	Interval time.Duration
}

// HTTPPuller calls the latest-sensor-data endpoint behind a circuit breaker.
type HTTPPuller struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
}

func mkCB(name string, cfg BreakerConfig, m *observability.Metrics) *gobreaker.CircuitBreaker {
	fails := cfg.Failures
	if fails <= 0 {
		fails = 3
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: cfg.Interval,
		Timeout:  cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			m.SetCircuitBreakerState(name, breakerGauge(to))
		},
	})
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

func NewHTTPPuller(baseURL, path string, timeout time.Duration, cb BreakerConfig, m *observability.Metrics) *HTTPPuller {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	path = "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPuller{
		url:     base + path,
		client:  &http.Client{Timeout: timeout},
		breaker: mkCB("sensor-data", cb, m),
		metrics: m,
	}
}

func (p *HTTPPuller) GetLatestSensorData(ctx context.Context) (messages.PullResponse, error) {
	res, err := p.breaker.Execute(func() (any, error) {
		return p.get(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return messages.PullResponse{}, fmt.Errorf("sensor-data breaker %s: %w", p.breaker.State(), err)
		}
		return messages.PullResponse{}, err
	}
	return res.(messages.PullResponse), nil
}

func (p *HTTPPuller) get(ctx context.Context) (messages.PullResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return messages.PullResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return messages.PullResponse{}, fmt.Errorf("sensor-data request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return messages.PullResponse{}, fmt.Errorf("sensor-data upstream status %d", resp.StatusCode)
	}
	var out messages.PullResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return messages.PullResponse{}, fmt.Errorf("sensor-data decode error: %w", err)
	}
	return out, nil
}
