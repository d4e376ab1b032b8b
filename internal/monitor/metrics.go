package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signal-trader/internal/events"
)

const namespace = "signal_trader"

// Metrics holds the Prometheus collectors derived from engine events.
type Metrics struct {
	registry *prometheus.Registry

	campaigns     prometheus.Gauge
	signals       *prometheus.CounterVec
	orders        *prometheus.CounterVec
	orderAttempts prometheus.Histogram
	reconnects    *prometheus.CounterVec
	streamsClosed *prometheus.CounterVec
	trailing      *prometheus.CounterVec
	errors        *prometheus.CounterVec
}

// NewMetrics builds a private registry with the engine collectors plus the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		campaigns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_campaigns",
			Help:      "Campaigns currently running.",
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Crossover signals detected.",
		}, []string{"type"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_results_total",
			Help:      "Order gateway results by action and outcome.",
		}, []string{"action", "outcome"}),
		orderAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_attempts",
			Help:      "Attempts used per submitted order.",
			Buckets:   []float64{1, 2, 3},
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Stream reconnect attempts.",
		}, []string{"kind"}),
		streamsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_closed_total",
			Help:      "Streams that ended their campaign.",
		}, []string{"kind"}),
		trailing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trailing_armed_total",
			Help:      "Trailing stops armed, by placement outcome.",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_errors_total",
			Help:      "Evaluation failures by stage.",
		}, []string{"stage"}),
	}
	m.registry.MustRegister(
		m.campaigns, m.signals, m.orders, m.orderAttempts,
		m.reconnects, m.streamsClosed, m.trailing, m.errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe updates collectors for one bus message.
func (m *Metrics) Observe(msg events.Message) {
	switch p := msg.Payload.(type) {
	case events.CampaignPayload:
		switch msg.Event {
		case events.EventCampaignStarted:
			m.campaigns.Inc()
		case events.EventCampaignStopped:
			m.campaigns.Dec()
		}
	case events.SignalPayload:
		m.signals.WithLabelValues(p.Type).Inc()
	case events.OrderPayload:
		m.orders.WithLabelValues(p.Action, outcome(p)).Inc()
		if p.Attempts > 0 {
			m.orderAttempts.Observe(float64(p.Attempts))
		}
	case events.StreamPayload:
		switch msg.Event {
		case events.EventStreamReconnecting:
			m.reconnects.WithLabelValues(p.Kind).Inc()
		case events.EventStreamClosed:
			m.streamsClosed.WithLabelValues(p.Kind).Inc()
		}
	case events.TrailingPayload:
		if p.OK {
			m.trailing.WithLabelValues("ok").Inc()
		} else {
			m.trailing.WithLabelValues("failed").Inc()
		}
	case events.ErrorPayload:
		m.errors.WithLabelValues(p.Stage).Inc()
	}
}

func outcome(p events.OrderPayload) string {
	switch {
	case p.Skipped:
		return "skipped"
	case p.OK:
		return "ok"
	case p.Tolerated:
		return "tolerated"
	default:
		return "failed"
	}
}
