// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidalhq/tidal/internal/dispatch"
	"github.com/tidalhq/tidal/internal/event"
)

// Metrics holds every collector the engine reports. It satisfies the storage
// layer's MetricsHook and produces the dispatcher's Hooks.
type Metrics struct {
	registry *prometheus.Registry

	eventsPublished *prometheus.CounterVec
	eventsRejected  *prometheus.CounterVec
	eventsDelivered *prometheus.CounterVec
	deadLettered    *prometheus.CounterVec

	connectionsActive  *prometheus.GaugeVec
	consumersLagging   prometheus.Counter
	slowDisconnects    prometheus.Counter
	replaysStarted     prometheus.Counter
	retentionTrims     prometheus.Counter
	archiveSegments    prometheus.Counter
	rateLimitRejected  *prometheus.CounterVec

	storageWriteSeconds  prometheus.Histogram
	storageReadSeconds   prometheus.Histogram
	storageCommitSeconds prometheus.Histogram
	storageCommitOps     prometheus.Histogram
}

// New builds a Metrics with its own registry, pre-registered with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidal", Name: "events_published_total",
			Help: "Events accepted into topic logs.",
		}, []string{"tenant"}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidal", Name: "events_rejected_total",
			Help: "Publishes rejected before append, by fault kind.",
		}, []string{"kind"}),
		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidal", Name: "events_delivered_total",
			Help: "Events enqueued to subscriber connections.",
		}, []string{"tenant"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidal", Name: "events_dead_lettered_total",
			Help: "Events routed to dead letter topics.",
		}, []string{"tenant"}),
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tidal", Name: "connections_active",
			Help: "Currently admitted connections.",
		}, []string{"tenant"}),
		consumersLagging: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tidal", Name: "consumers_lagging_total",
			Help: "Times a consumer lost events to drop-oldest or a trim.",
		}),
		slowDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tidal", Name: "slow_consumer_disconnects_total",
			Help: "Consumers disconnected after exhausting the stall grace.",
		}),
		replaysStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tidal", Name: "replays_started_total",
			Help: "Replay sessions opened from a cursor.",
		}),
		retentionTrims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tidal", Name: "retention_trims_total",
			Help: "Retention passes that truncated a log.",
		}),
		archiveSegments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tidal", Name: "archive_segments_total",
			Help: "Segments exported to the archive before truncation.",
		}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidal", Name: "rate_limited_total",
			Help: "Publishes rejected by the token bucket.",
		}, []string{"tenant"}),
		storageWriteSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tidal", Subsystem: "storage", Name: "write_seconds",
			Help:    "Latency of single-key writes.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
		}),
		storageReadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tidal", Subsystem: "storage", Name: "read_seconds",
			Help:    "Latency of single-key reads.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
		}),
		storageCommitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tidal", Subsystem: "storage", Name: "batch_commit_seconds",
			Help:    "Latency of batch commits.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		storageCommitOps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tidal", Subsystem: "storage", Name: "batch_commit_ops",
			Help:    "Operations per committed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	reg.MustRegister(
		m.eventsPublished, m.eventsRejected, m.eventsDelivered, m.deadLettered,
		m.connectionsActive, m.consumersLagging, m.slowDisconnects,
		m.replaysStarted, m.retentionTrims, m.archiveSegments, m.rateLimitRejected,
		m.storageWriteSeconds, m.storageReadSeconds,
		m.storageCommitSeconds, m.storageCommitOps,
	)
	return m
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveWrite implements the storage metrics hook.
func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.storageWriteSeconds.Observe(elapsed.Seconds())
}

// ObserveRead implements the storage metrics hook.
func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.storageReadSeconds.Observe(elapsed.Seconds())
}

// ObserveBatchCommit implements the storage metrics hook.
func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	m.storageCommitSeconds.Observe(elapsed.Seconds())
	m.storageCommitOps.Observe(float64(numOps))
}

// EventPublished counts an accepted publish.
func (m *Metrics) EventPublished(scope event.Scope) {
	m.eventsPublished.WithLabelValues(scope.Tenant).Inc()
}

// EventRejected counts a rejected publish by fault kind.
func (m *Metrics) EventRejected(kind string) {
	m.eventsRejected.WithLabelValues(kind).Inc()
}

// RateLimited counts a token-bucket rejection.
func (m *Metrics) RateLimited(scope event.Scope) {
	m.rateLimitRejected.WithLabelValues(scope.Tenant).Inc()
}

// DeadLettered counts an event routed to a dead letter topic.
func (m *Metrics) DeadLettered(scope event.Scope) {
	m.deadLettered.WithLabelValues(scope.Tenant).Inc()
}

// ConnectionOpened and ConnectionClosed track the admitted-connection gauge.
func (m *Metrics) ConnectionOpened(scope event.Scope) {
	m.connectionsActive.WithLabelValues(scope.Tenant).Inc()
}

func (m *Metrics) ConnectionClosed(scope event.Scope) {
	m.connectionsActive.WithLabelValues(scope.Tenant).Dec()
}

// ReplayStarted counts a replay session.
func (m *Metrics) ReplayStarted() { m.replaysStarted.Inc() }

// RetentionTrimmed counts a truncating retention pass.
func (m *Metrics) RetentionTrimmed() { m.retentionTrims.Inc() }

// ArchiveSegmentWritten counts an exported segment.
func (m *Metrics) ArchiveSegmentWritten() { m.archiveSegments.Inc() }

// DispatchHooks wires the dispatcher's observation points to this registry.
func (m *Metrics) DispatchHooks() dispatch.Hooks {
	return dispatch.Hooks{
		Delivered: func(scope event.Scope, topic string, n int) {
			m.eventsDelivered.WithLabelValues(scope.Tenant).Add(float64(n))
		},
		Lagging: func(connID, topic string) {
			m.consumersLagging.Inc()
		},
		SlowDisconnect: func(connID, topic string) {
			m.slowDisconnects.Inc()
		},
		DeadLettered: func(scope event.Scope, topic string) {
			m.DeadLettered(scope)
		},
	}
}
