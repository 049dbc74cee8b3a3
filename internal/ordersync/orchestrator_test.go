package ordersync

import (
	"context"
	"sync"
	"testing"
	"time"

	"dispatchsync/internal/config"
	"dispatchsync/internal/database"
	"dispatchsync/internal/events"
	"dispatchsync/internal/models"
	"dispatchsync/internal/repository"
	"dispatchsync/internal/upstream"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var syncNow = time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)

func newTestOrchestrator(t *testing.T, db *database.DB, client *fakeUpstream, bus *events.EventBus) *Orchestrator {
	t.Helper()
	deps := Deps{
		Client:   client,
		Tasks:    db,
		Failures: db,
		Status:   db,
		Cache:    repository.NewMemoryDetailCache(),
		Logger:   &testLogger,
	}
	if bus != nil {
		deps.Events = bus
	}
	o := NewOrchestrator(testConfig(), deps)
	o.now = func() time.Time { return syncNow }
	o.tracker.now = o.now
	o.upserter.retrier.Sleep = noSleep
	o.upserter.sleep = noSleep
	return o
}

func oneDay(d string) FullSyncOptions {
	from, to := day(d), day(d)
	return FullSyncOptions{From: &from, To: &to}
}

func TestFullSync_PaginatesAndPersists(t *testing.T) {
	db := setupDB(t)
	client := &fakeUpstream{list: pagedListing(240), details: codDetails("12.50")}
	o := newTestOrchestrator(t, db, client, nil)
	ctx := context.Background()

	summary, err := o.FullSync(ctx, oneDay("2025-03-01"))
	require.NoError(t, err)
	assert.Equal(t, models.SyncModeFull, summary.Mode)
	assert.Equal(t, 1, summary.Batches)
	assert.Equal(t, 240, summary.Fetched)
	assert.Equal(t, 240, summary.Synced)
	assert.Zero(t, summary.Failed)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, []int{0, 200}, client.offsets())

	n, err := db.CountTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 240, n)

	task, err := db.GetTask(ctx, 17)
	require.NoError(t, err)
	require.True(t, task.CODAmount.Valid)
	assert.True(t, task.CODAmount.Decimal.Equal(decimal.RequireFromString("12.5")))

	st, err := o.Status(ctx, models.SyncTypeOrders)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateCompleted, st.Status)
	assert.Equal(t, 1, st.CompletedBatches)
	assert.Equal(t, 240, st.SyncedRecords)
	require.NotNil(t, st.LastSuccessfulSync)
	assert.True(t, st.LastSuccessfulSync.Equal(syncNow))
	assert.Nil(t, st.LeaseOwner)

	t.Run("second sync is idempotent", func(t *testing.T) {
		_, err := o.FullSync(ctx, oneDay("2025-03-01"))
		require.NoError(t, err)
		n, err := db.CountTasks(ctx)
		require.NoError(t, err)
		assert.Equal(t, 240, n)
	})
}

func TestFullSync_PreservesTimestamps(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	completed := time.Date(2025, 3, 1, 17, 0, 0, 0, time.UTC)
	tags := "from-webhook"

	require.NoError(t, db.UpsertTasks(ctx, []models.Task{{
		JobID:             1,
		JobStatus:         models.JobStatusSuccessful,
		CompletedDatetime: &completed,
		Tags:              &tags,
		Source:            models.SourceWebhook,
	}}))

	client := &fakeUpstream{list: pagedListing(1)}
	o := newTestOrchestrator(t, db, client, nil)

	_, err := o.FullSync(ctx, oneDay("2025-03-01"))
	require.NoError(t, err)

	task, err := db.GetTask(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, task.CompletedDatetime)
	assert.True(t, task.CompletedDatetime.Equal(completed))
	require.NotNil(t, task.CreationDatetime)
	assert.Equal(t, "from-webhook", *task.Tags)
	assert.Equal(t, models.SourceWebhook, task.Source)
	assert.Equal(t, "ORD-1", task.OrderID)
}

func TestFullSync_MultipleBatchesAndEvents(t *testing.T) {
	db := setupDB(t)
	client := &fakeUpstream{list: func(req upstream.ListRequest) ([]models.RawTask, error) {
		if req.StartDate == "2025-03-02" {
			return rawTasks(100, 3), nil
		}
		return rawTasks(1, 2), nil
	}}

	bus := events.NewEventBus()
	var (
		mu   sync.Mutex
		seen []string
	)
	for _, et := range []string{events.EventSyncStarted, events.EventSyncBatchCompleted, events.EventSyncCompleted} {
		bus.Subscribe(et, func(e *events.Event) error {
			mu.Lock()
			seen = append(seen, e.Type)
			mu.Unlock()
			return nil
		})
	}

	o := newTestOrchestrator(t, db, client, bus)
	from, to := day("2025-03-01"), day("2025-03-03")
	summary, err := o.FullSync(context.Background(), FullSyncOptions{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Batches)
	assert.Equal(t, 7, summary.Fetched)
	// the 03-01 and 03-03 windows return the same two jobs
	n, err := db.CountTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, []string{
		events.EventSyncStarted,
		events.EventSyncBatchCompleted,
		events.EventSyncBatchCompleted,
		events.EventSyncBatchCompleted,
		events.EventSyncCompleted,
	}, seen)
}

func TestFullSync_ResumeFromBatch(t *testing.T) {
	db := setupDB(t)
	client := &fakeUpstream{list: pagedListing(1)}
	o := newTestOrchestrator(t, db, client, nil)

	from, to := day("2025-03-01"), day("2025-03-04")
	summary, err := o.FullSync(context.Background(), FullSyncOptions{From: &from, To: &to, ResumeFromBatch: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Batches)
	require.Len(t, client.listCalls, 2)
	assert.Equal(t, "2025-03-03", client.listCalls[0].StartDate)
}

func TestFullSync_ConfigError(t *testing.T) {
	db := setupDB(t)
	client := &fakeUpstream{}
	o := newTestOrchestrator(t, db, client, nil)
	o.cfg.Upstream.APIKey = ""

	_, err := o.FullSync(context.Background(), FullSyncOptions{})
	assert.ErrorIs(t, err, config.ErrConfig)
	_, err = o.IncrementalSync(context.Background())
	assert.ErrorIs(t, err, config.ErrConfig)
	_, err = o.TagSync(context.Background(), TagSyncOptions{})
	assert.ErrorIs(t, err, config.ErrConfig)

	assert.Empty(t, client.listCalls)
	_, err = db.GetSyncStatus(context.Background(), models.SyncTypeOrders)
	assert.True(t, database.IsNotFound(err), "no lease work before config is valid")
}

func TestFullSync_AlreadyRunning(t *testing.T) {
	db := setupDB(t)
	client := &fakeUpstream{}
	o := newTestOrchestrator(t, db, client, nil)
	ctx := context.Background()

	ok, err := db.AcquireSyncLease(ctx, models.SyncTypeOrders, "other", time.Now(), time.Now().Add(time.Hour), false)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = o.FullSync(ctx, oneDay("2025-03-01"))
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.Empty(t, client.listCalls)

	opts := oneDay("2025-03-01")
	opts.Force = true
	_, err = o.FullSync(ctx, opts)
	assert.NoError(t, err)
}

func TestFullSync_CancelledMarksFailed(t *testing.T) {
	db := setupDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeUpstream{list: func(req upstream.ListRequest) ([]models.RawTask, error) {
		cancel()
		return nil, context.Canceled
	}}
	o := newTestOrchestrator(t, db, client, nil)

	_, err := o.FullSync(ctx, oneDay("2025-03-01"))
	assert.ErrorIs(t, err, context.Canceled)

	st, err := db.GetSyncStatus(context.Background(), models.SyncTypeOrders)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateFailed, st.Status)
	assert.Nil(t, st.LeaseOwner)
}

func TestFullSync_UpstreamErrorsDoNotAbort(t *testing.T) {
	db := setupDB(t)
	client := &fakeUpstream{list: func(req upstream.ListRequest) ([]models.RawTask, error) {
		if req.StartDate == "2025-03-01" {
			return nil, &upstream.StatusError{Endpoint: "get_all_tasks", Code: 500}
		}
		return rawTasks(1, 1), nil
	}}
	o := newTestOrchestrator(t, db, client, nil)

	from, to := day("2025-03-01"), day("2025-03-02")
	summary, err := o.FullSync(context.Background(), FullSyncOptions{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Synced)

	st, err := db.GetSyncStatus(context.Background(), models.SyncTypeOrders)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateCompleted, st.Status)
	assert.Equal(t, 1, st.ErrorCount)
}

func markSucceeded(t *testing.T, db *database.DB, at time.Time) {
	t.Helper()
	ctx := context.Background()
	ok, err := db.AcquireSyncLease(ctx, models.SyncTypeOrders, "seed", at, at.Add(time.Minute), false)
	require.NoError(t, err)
	require.True(t, ok)
	st, err := db.GetSyncStatus(ctx, models.SyncTypeOrders)
	require.NoError(t, err)
	st.Status = models.SyncStateCompleted
	st.LastSuccessfulSync = &at
	st.LeaseOwner = nil
	st.LeaseExpiresAt = nil
	saved, err := db.SaveSyncStatus(ctx, st, "seed")
	require.NoError(t, err)
	require.True(t, saved)
}

func TestIncrementalSync(t *testing.T) {
	db := setupDB(t)
	markSucceeded(t, db, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	client := &fakeUpstream{list: pagedListing(3)}
	o := newTestOrchestrator(t, db, client, nil)

	summary, err := o.IncrementalSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SyncModeIncremental, summary.Mode)
	assert.Equal(t, 1, summary.Batches)
	assert.Equal(t, 3, summary.Synced)

	require.Len(t, client.listCalls, 1)
	assert.Equal(t, "2025-03-09", client.listCalls[0].StartDate)
	assert.Equal(t, "2025-03-12", client.listCalls[0].EndDate)

	st, err := db.GetSyncStatus(context.Background(), models.SyncTypeOrders)
	require.NoError(t, err)
	assert.True(t, st.LastSuccessfulSync.Equal(syncNow))
}

func TestIncrementalSync_FallsBackToFull(t *testing.T) {
	db := setupDB(t)
	client := &fakeUpstream{}
	o := newTestOrchestrator(t, db, client, nil)

	summary, err := o.IncrementalSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SyncModeFull, summary.Mode)
	assert.Equal(t, 182, summary.Batches)
	assert.Equal(t, "2024-09-12", client.listCalls[0].StartDate)
}

func TestTagSync_UpdatesOnlyCachedTasks(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertTasks(ctx, []models.Task{{JobID: 1, OrderID: "keep"}, {JobID: 2}}))

	vip := "vip"
	client := &fakeUpstream{
		list: pagedListing(3),
		details: func(ids []int64) ([]upstream.JobDetail, error) {
			out := make([]upstream.JobDetail, 0, len(ids))
			for _, id := range ids {
				d := upstream.JobDetail{JobID: upstream.JobID(id)}
				if id == 1 {
					d.Tags = &vip
					d.CustomFields = []upstream.CustomField{{Label: "COD", Data: "9.99"}}
				}
				out = append(out, d)
			}
			return out, nil
		},
	}
	o := newTestOrchestrator(t, db, client, nil)

	from, to := day("2025-03-01"), day("2025-03-01")
	summary, err := o.TagSync(ctx, TagSyncOptions{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, models.SyncTypeOrderTags, summary.SyncType)
	assert.Equal(t, 1, summary.Synced)

	require.Len(t, client.detailCalls, 1)
	assert.ElementsMatch(t, []int64{1, 2}, client.detailCalls[0], "only cached ids are enriched")

	n, err := db.CountTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "tag sync never inserts")

	task, err := db.GetTask(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "vip", *task.Tags)
	assert.True(t, task.CODAmount.Decimal.Equal(decimal.RequireFromString("9.99")))
	assert.Equal(t, "keep", task.OrderID, "column-scoped update")

	st, err := o.Status(ctx, models.SyncTypeOrderTags)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateCompleted, st.Status)
}

func TestReset(t *testing.T) {
	db := setupDB(t)
	o := newTestOrchestrator(t, db, &fakeUpstream{}, nil)
	ctx := context.Background()

	ok, err := db.AcquireSyncLease(ctx, models.SyncTypeOrders, "stuck", time.Now(), time.Now().Add(time.Hour), false)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, o.Reset(ctx, models.SyncTypeOrders))
	st, err := o.Status(ctx, models.SyncTypeOrders)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateIdle, st.Status)
}
