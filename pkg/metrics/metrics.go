// Package metrics holds the prometheus collectors of a hub. Every method is
// safe to call on a nil *Metrics, which disables collection.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fliox"

type Metrics struct {
	Registry *prometheus.Registry

	syncRequests  *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
	tasks         *prometheus.CounterVec
	events        *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	disconnects   *prometheus.CounterVec
	subscribers   *prometheus.GaugeVec
	connections   prometheus.Gauge
}

// New registers the hub collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		syncRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_requests_total",
			Help:      "Sync requests executed, by database and request outcome",
		}, []string{"db", "result"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Time to execute all tasks of a sync request",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"db"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Tasks executed, by task type and error kind (ok on success)",
		}, []string{"db", "task", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_queued_total",
			Help:      "Events queued for subscribers",
		}, []string{"db"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber queue was full",
		}, []string{"db"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_disconnects_total",
			Help:      "Subscribers disconnected because their queue was full",
		}, []string{"db"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Clients with at least one subscription",
		}, []string{"db"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duplex_connections",
			Help:      "Open duplex connections",
		}),
	}
	m.Registry.MustRegister(
		m.syncRequests,
		m.syncDuration,
		m.tasks,
		m.events,
		m.eventsDropped,
		m.disconnects,
		m.subscribers,
		m.connections,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveSync(db, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.syncRequests.WithLabelValues(db, result).Inc()
	m.syncDuration.WithLabelValues(db).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTask(db, task, result string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(db, task, result).Inc()
}

func (m *Metrics) EventQueued(db string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(db).Inc()
}

func (m *Metrics) EventDropped(db string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(db).Inc()
}

func (m *Metrics) SubscriberDisconnected(db string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(db).Inc()
}

func (m *Metrics) SetSubscribers(db string, n int) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(db).Set(float64(n))
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
