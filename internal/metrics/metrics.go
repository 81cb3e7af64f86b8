// Package metrics holds the Prometheus collectors of the journal server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradejournal"

// Metrics is a set of collectors bound to their own registry, so tests can
// create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTPRequests counts API requests by route pattern and status class.
	HTTPRequests *prometheus.CounterVec
	// HTTPDuration observes API latency by route pattern.
	HTTPDuration *prometheus.HistogramVec
	// Writes counts trade writes by op (insert, update, delete) and outcome.
	Writes *prometheus.CounterVec
	// FeedEvents counts changes pushed to feed subscribers by kind.
	FeedEvents *prometheus.CounterVec
	// FeedSubscribers is the number of open change feeds.
	FeedSubscribers prometheus.Gauge
}

// New registers every collector plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "writes_total",
			Help:      "Trade writes by operation and outcome",
		}, []string{"op", "outcome"}),
		FeedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_total",
			Help:      "Change events pushed to feed subscribers",
		}, []string{"kind"}),
		FeedSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Open change feed connections",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.Writes,
		m.FeedEvents,
		m.FeedSubscribers,
	)
	return m
}

// ObserveWrite records the outcome of one trade write.
func (m *Metrics) ObserveWrite(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Writes.WithLabelValues(op, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
