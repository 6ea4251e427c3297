package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
)

// Metrics owns a private registry so several engines (tests) can coexist.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal      *prometheus.CounterVec
	pullsTotal       *prometheus.CounterVec
	snapshotTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	alertActive      *prometheus.GaugeVec
	pumpSpeed        prometheus.Gauge
	lightOn          prometheus.Gauge
	streamLive       prometheus.Gauge
	cbState          *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_events_total",
			Help: "Inbound updates by source, kind and outcome.",
		}, []string{"source", "kind", "outcome"}),
		pullsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_pulls_total",
			Help: "Pull attempts by outcome.",
		}, []string{"outcome"}),
		snapshotTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_snapshot_writes_total",
			Help: "Snapshot writes by result.",
		}, []string{"result"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_actuator_transitions_total",
			Help: "Derived actuator transitions by actuator and target status.",
		}, []string{"actuator", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dashboard_http_request_duration_seconds",
			Help:    "HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		alertActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dashboard_alert_active",
			Help: "1 while the metric is outside its band on the given side.",
		}, []string{"metric", "side"}),
		pumpSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_pump_speed",
			Help: "Canonical pump speed (0-100).",
		}),
		lightOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_light_on",
			Help: "1 while the canonical light status is On.",
		}),
		streamLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_stream_live",
			Help: "1 while the push stream is considered live.",
		}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dashboard_cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
	}

	m.registry.MustRegister(
		m.eventsTotal,
		m.pullsTotal,
		m.snapshotTotal,
		m.transitionsTotal,
		m.httpRequests,
		m.httpDuration,
		m.alertActive,
		m.pumpSpeed,
		m.lightOn,
		m.streamLive,
		m.cbState,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Event(source, kind, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(source, kind, outcome).Inc()
}

func (m *Metrics) Pull(outcome string) {
	if m == nil {
		return
	}
	m.pullsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SnapshotWrite(ok bool) {
	if m == nil {
		return
	}
	res := "ok"
	if !ok {
		res = "error"
	}
	m.snapshotTotal.WithLabelValues(res).Inc()
}

func (m *Metrics) Transition(actuator string, status entities.Status) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(actuator, string(status)).Inc()
}

func (m *Metrics) HTTPRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) SetAlerts(a entities.AlertState) {
	if m == nil {
		return
	}
	for _, metric := range entities.Metrics {
		rec := a.For(metric)
		m.alertActive.WithLabelValues(string(metric), "high").Set(b2f(rec.High))
		m.alertActive.WithLabelValues(string(metric), "low").Set(b2f(rec.Low))
	}
}

func (m *Metrics) SetActuators(a entities.Actuators) {
	if m == nil {
		return
	}
	m.pumpSpeed.Set(a.Pump.Speed)
	m.lightOn.Set(b2f(a.Light.On()))
}

func (m *Metrics) SetStreamLive(live bool) {
	if m == nil {
		return
	}
	m.streamLive.Set(b2f(live))
}

func (m *Metrics) SetCircuitBreakerState(target string, state float64) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(state)
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
