package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PoolDials records session establishment attempts by result (success|failure).
	PoolDials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scpsync_pool_dials_total",
			Help: "Total number of SSH session dial attempts",
		},
		[]string{"result"},
	)

	// PoolConnections tracks pooled sessions.
	PoolConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scpsync_pool_connections",
			Help: "Number of pooled SSH sessions",
		},
	)

	// PoolEvictions counts sessions removed from the pool by reason (idle|closed|invalidated|shutdown).
	PoolEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scpsync_pool_evictions_total",
			Help: "Total number of pooled sessions evicted",
		},
		[]string{"reason"},
	)

	// Transfers counts remote operations by operation (upload|download|delete) and result (success|failure|skipped).
	Transfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scpsync_transfers_total",
			Help: "Total number of remote file operations",
		},
		[]string{"operation", "result"},
	)

	// TransferBytes counts payload bytes moved by operation.
	TransferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scpsync_transfer_bytes_total",
			Help: "Total number of bytes transferred",
		},
		[]string{"operation"},
	)

	// SyncRuns counts full workspace syncs by result (success|partial|failure|cancelled).
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scpsync_sync_runs_total",
			Help: "Total number of full workspace syncs",
		},
		[]string{"result"},
	)

	// SyncDuration measures full workspace sync latency.
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scpsync_sync_duration_seconds",
			Help:    "Full workspace sync duration",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
