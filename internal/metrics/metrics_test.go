package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		ObserveSyncRun("full", "completed", time.Second)
		ObserveBatch("orders", 10*time.Millisecond)
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(syncRecords.WithLabelValues("orders", "synced"))
	AddRecords("orders", "synced", 240)
	AddRecords("orders", "synced", 0)
	assert.Equal(t, before+240, testutil.ToFloat64(syncRecords.WithLabelValues("orders", "synced")))

	before = testutil.ToFloat64(retries.WithLabelValues("fetch"))
	IncRetry("fetch")
	assert.Equal(t, before+1, testutil.ToFloat64(retries.WithLabelValues("fetch")))

	hits := testutil.ToFloat64(detailCache.WithLabelValues("hit"))
	misses := testutil.ToFloat64(detailCache.WithLabelValues("miss"))
	AddCacheLookups(3, 2)
	assert.Equal(t, hits+3, testutil.ToFloat64(detailCache.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(detailCache.WithLabelValues("miss")))

	before = testutil.ToFloat64(upstreamRequests.WithLabelValues("get_all_tasks", "ok"))
	IncUpstream("get_all_tasks", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(upstreamRequests.WithLabelValues("get_all_tasks", "ok")))
}
