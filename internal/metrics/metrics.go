// Package metrics exposes conversation view counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"devchat/client/internal/session"
)

const namespace = "devchat"

// Metrics implements session.Metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	activeViews prometheus.Gauge
	opened      prometheus.Counter
	received    prometheus.Counter
	sent        prometheus.Counter
	failures    *prometheus.CounterVec
}

// New creates the collectors. Go runtime and process collectors are included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_views",
			Help:      "Conversation views currently open.",
		}),
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "views_opened_total",
			Help:      "Conversation views opened.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Live messages appended to transcripts.",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages handed to the realtime channel.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "absorbed_failures_total",
			Help:      "Failures a view kept running through, by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.activeViews,
		m.opened,
		m.received,
		m.sent,
		m.failures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, kind := range []session.FailureKind{
		session.FailureHistoryUnavailable,
		session.FailureProfileUnavailable,
		session.FailureConnect,
		session.FailureSend,
	} {
		m.failures.WithLabelValues(string(kind))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionOpened() {
	m.opened.Inc()
	m.activeViews.Inc()
}

func (m *Metrics) SessionClosed() {
	m.activeViews.Dec()
}

func (m *Metrics) MessageReceived() {
	m.received.Inc()
}

func (m *Metrics) MessageSent() {
	m.sent.Inc()
}

func (m *Metrics) Failure(kind session.FailureKind) {
	m.failures.WithLabelValues(string(kind)).Inc()
}

var _ session.Metrics = (*Metrics)(nil)
