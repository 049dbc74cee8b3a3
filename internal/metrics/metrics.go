package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dispatchsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Finished sync runs by mode and result.",
		},
		[]string{"mode", "result"},
	)

	syncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_records_total",
			Help:      "Records seen by the pipeline, by stage (fetched, synced, failed).",
		},
		[]string{"sync_type", "stage"},
	)

	syncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall time of a sync run.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"mode"},
	)

	batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_batch_duration_seconds",
			Help:      "Wall time of one date batch.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sync_type"},
	)

	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Dispatch API calls by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retry attempts by layer (fetch, store).",
		},
		[]string{"layer"},
	)

	detailCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detail_cache_lookups_total",
			Help:      "Detail cache lookups by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			syncRuns,
			syncRecords,
			syncDuration,
			batchDuration,
			upstreamRequests,
			retries,
			detailCache,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveSyncRun records a finished run.
func ObserveSyncRun(mode, result string, d time.Duration) {
	syncRuns.WithLabelValues(mode, result).Inc()
	syncDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// AddRecords adds n to the record counter of a stage.
func AddRecords(syncType, stage string, n int) {
	if n <= 0 {
		return
	}
	syncRecords.WithLabelValues(syncType, stage).Add(float64(n))
}

func ObserveBatch(syncType string, d time.Duration) {
	batchDuration.WithLabelValues(syncType).Observe(d.Seconds())
}

func IncUpstream(endpoint, outcome string) {
	upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
}

func IncRetry(layer string) {
	retries.WithLabelValues(layer).Inc()
}

// AddCacheLookups records hits and misses of one detail cache read.
func AddCacheLookups(hits, misses int) {
	if hits > 0 {
		detailCache.WithLabelValues("hit").Add(float64(hits))
	}
	if misses > 0 {
		detailCache.WithLabelValues("miss").Add(float64(misses))
	}
}
