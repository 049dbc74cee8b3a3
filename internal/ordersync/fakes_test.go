package ordersync

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"dispatchsync/internal/config"
	"dispatchsync/internal/database"
	"dispatchsync/internal/models"
	"dispatchsync/internal/upstream"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testLogger = zerolog.New(io.Discard)

func testConfig() config.SyncConfig {
	cfg := config.SyncConfig{
		Upstream: config.UpstreamConfig{BaseURL: "http://dispatch.test", APIKey: "key"},
	}
	cfg.ApplyDefaults()
	cfg.RequestDelay = 0
	cfg.ChunkDelay = 0
	cfg.JobTypes = []int{int(models.JobTypeDelivery)}
	return cfg
}

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(":memory:", &testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func day(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rawTasks(fromID, n int) []models.RawTask {
	out := make([]models.RawTask, n)
	for i := range out {
		id := fromID + i
		out[i] = models.RawTask{
			"job_id":            float64(id),
			"order_id":          fmt.Sprintf("ORD-%d", id),
			"job_type":          float64(1),
			"job_status":        float64(2),
			"customer_username": "Customer",
			"job_address":       "1 Main St",
			"creation_datetime": "2025-03-01 09:00:00",
		}
	}
	return out
}

// fakeUpstream serves canned listing pages and details, recording every call.
type fakeUpstream struct {
	mu          sync.Mutex
	list        func(req upstream.ListRequest) ([]models.RawTask, error)
	details     func(ids []int64) ([]upstream.JobDetail, error)
	listCalls   []upstream.ListRequest
	detailCalls [][]int64
}

func (f *fakeUpstream) ListTasks(ctx context.Context, req upstream.ListRequest) ([]models.RawTask, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, req)
	f.mu.Unlock()
	if f.list == nil {
		return nil, nil
	}
	return f.list(req)
}

func (f *fakeUpstream) GetJobDetails(ctx context.Context, ids []int64) ([]upstream.JobDetail, error) {
	f.mu.Lock()
	f.detailCalls = append(f.detailCalls, append([]int64(nil), ids...))
	f.mu.Unlock()
	if f.details == nil {
		return nil, nil
	}
	return f.details(ids)
}

func (f *fakeUpstream) offsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.listCalls))
	for i, c := range f.listCalls {
		out[i] = c.Offset
	}
	return out
}

// pagedListing returns total records for the given job type in pages.
func pagedListing(total int) func(req upstream.ListRequest) ([]models.RawTask, error) {
	all := rawTasks(1, total)
	return func(req upstream.ListRequest) ([]models.RawTask, error) {
		if req.Offset >= len(all) {
			return nil, nil
		}
		end := req.Offset + req.Limit
		if end > len(all) {
			end = len(all)
		}
		return all[req.Offset:end], nil
	}
}

func codDetails(value string) func(ids []int64) ([]upstream.JobDetail, error) {
	return func(ids []int64) ([]upstream.JobDetail, error) {
		out := make([]upstream.JobDetail, len(ids))
		for i, id := range ids {
			out[i] = upstream.JobDetail{
				JobID:        upstream.JobID(id),
				CustomFields: []upstream.CustomField{{Label: "COD_Amount", Data: value}},
			}
		}
		return out, nil
	}
}

// fakeTaskStore lets tests inject write failures.
type fakeTaskStore struct {
	mu       sync.Mutex
	upsert   func(call int, tasks []models.Task) error
	calls    int
	written  []models.Task
	enriched []models.EnrichmentUpdate
}

func (s *fakeTaskStore) UpsertTasks(ctx context.Context, tasks []models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.upsert != nil {
		if err := s.upsert(s.calls, tasks); err != nil {
			return err
		}
	}
	s.written = append(s.written, tasks...)
	return nil
}

func (s *fakeTaskStore) UpdateEnrichment(ctx context.Context, updates []models.EnrichmentUpdate, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.enriched = append(s.enriched, updates...)
	return nil
}

func (s *fakeTaskStore) ExistingJobIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	return map[int64]bool{}, nil
}

type fakeFailures struct {
	recorded []models.SyncFailure
}

func (f *fakeFailures) CreateSyncFailure(ctx context.Context, failure *models.SyncFailure) error {
	f.recorded = append(f.recorded, *failure)
	return nil
}
