package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics holds every collector the relay exports.
type Metrics struct {
	registry *prometheus.Registry

	upstreamFrames       prometheus.Counter
	upstreamDecodeErrors prometheus.Counter
	upstreamReconnects   prometheus.Counter
	upstreamState        *prometheus.GaugeVec

	published  prometheus.Counter
	deliveries prometheus.Counter
	drops      *prometheus.CounterVec

	sessionsActive prometheus.Gauge
	sessionsOpened prometheus.Counter
	sessionsClosed *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		upstreamFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "frames_total",
			Help: "Frames received from the upstream publisher.",
		}),
		upstreamDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "decode_errors_total",
			Help: "Upstream frames dropped because they failed to decode.",
		}),
		upstreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "reconnects_total",
			Help: "Times the upstream link was lost and re-established.",
		}),
		upstreamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "state",
			Help: "1 for the current upstream link state, 0 otherwise.",
		}, []string{"state"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "published_total",
			Help: "Telemetry messages published to the hub.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "deliveries_total",
			Help: "Messages enqueued onto session queues.",
		}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "dropped_total",
			Help: "Messages a session did not deliver, by reason.",
		}, []string{"reason"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session", Name: "active",
			Help: "Currently registered viewer sessions.",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "opened_total",
			Help: "Viewer sessions accepted.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "closed_total",
			Help: "Viewer sessions torn down, by reason.",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.upstreamFrames,
		m.upstreamDecodeErrors,
		m.upstreamReconnects,
		m.upstreamState,
		m.published,
		m.deliveries,
		m.drops,
		m.sessionsActive,
		m.sessionsOpened,
		m.sessionsClosed,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (for tests and extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) UpstreamFrame() {
	if m != nil {
		m.upstreamFrames.Inc()
	}
}

func (m *Metrics) UpstreamDecodeError() {
	if m != nil {
		m.upstreamDecodeErrors.Inc()
	}
}

func (m *Metrics) UpstreamReconnect() {
	if m != nil {
		m.upstreamReconnects.Inc()
	}
}

// SetUpstreamState marks state as current among all known states.
func (m *Metrics) SetUpstreamState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.upstreamState.WithLabelValues(s).Set(v)
	}
}

// Published records one hub publish delivered to n sessions.
func (m *Metrics) Published(n int) {
	if m != nil {
		m.published.Inc()
		m.deliveries.Add(float64(n))
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.drops.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessionsOpened.Inc()
		m.sessionsActive.Inc()
	}
}

func (m *Metrics) SessionClosed(reason string) {
	if m != nil {
		m.sessionsClosed.WithLabelValues(reason).Inc()
		m.sessionsActive.Dec()
	}
}
