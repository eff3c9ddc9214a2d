package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics of the collaboration engine, registered on the default
// registry and served at /metrics
var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "colabd_active_connections",
		Help: "Number of WebSocket sessions joined to a schema room",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "colabd_active_rooms",
		Help: "Number of schema rooms with at least one member",
	})

	OperationsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colabd_operations_applied_total",
		Help: "Document operations applied to live rooms",
	}, []string{"kind"})

	DroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colabd_dropped_messages_total",
		Help: "Outbound frames dropped because a session buffer was full",
	})

	SavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colabd_saves_total",
		Help: "Document flushes to the store by result",
	}, []string{"result"})

	SaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "colabd_save_duration_seconds",
		Help:    "Latency of document store saves",
		Buckets: prometheus.DefBuckets,
	})

	LockRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colabd_lock_requests_total",
		Help: "Lock acquire and release requests by outcome",
	}, []string{"action", "outcome"})

	LocksReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colabd_locks_reaped_total",
		Help: "Expired locks removed by the background reaper",
	})

	// StoreLatency is recorded by the storage backends
	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "colabd_store_latency_seconds",
		Help:    "Latency of document store calls by backend and operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation"})

	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colabd_cells_cache_hits_total",
		Help: "Cell cache lookups answered by Redis",
	})

	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colabd_cells_cache_misses_total",
		Help: "Cell cache lookups that fell through to the store",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colabd_http_requests_total",
		Help: "HTTP requests by method and status code",
	}, []string{"method", "status"})
)

// MetricsHandler serves the default Prometheus registry
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
