package database

import (
	"context"
	"testing"
	"time"

	"dispatchsync/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrTime(t time.Time) *time.Time { return &t }

func ptrString(s string) *string { return &s }

func sampleTask(jobID int64) models.Task {
	return models.Task{
		JobID:     jobID,
		OrderID:   "ORD-1",
		JobType:   models.JobTypeDelivery,
		JobStatus: models.JobStatusStarted,
		OrderFees: decimal.RequireFromString("3.25"),
		Customer:  models.Contact{Name: "Jane", Phone: "+100"},
		Delivery:  models.Contact{Address: "1 Main St"},
		FleetID:   7,
		FleetName: "driver",
		RawData:   `{"job_id":1}`,
		Source:    models.SourceAPISync,
	}
}

func TestUpsertTasks_InsertAndRead(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := sampleTask(1)
	task.CODAmount = decimal.NewNullDecimal(decimal.RequireFromString("12.50"))
	task.Tags = ptrString("vip")
	task.CreationDatetime = ptrTime(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))

	require.NoError(t, db.UpsertTasks(ctx, []models.Task{task}))

	got, err := db.GetTask(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", got.OrderID)
	assert.Equal(t, models.JobTypeDelivery, got.JobType)
	assert.Equal(t, models.JobStatusStarted, got.JobStatus)
	assert.True(t, got.CODAmount.Valid)
	assert.True(t, got.CODAmount.Decimal.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, got.OrderFees.Equal(decimal.RequireFromString("3.25")))
	require.NotNil(t, got.Tags)
	assert.Equal(t, "vip", *got.Tags)
	require.NotNil(t, got.CreationDatetime)
	assert.True(t, got.CreationDatetime.Equal(*task.CreationDatetime))
	assert.Nil(t, got.CompletedDatetime)
	assert.Equal(t, "1 Main St", got.Delivery.Address)
	assert.False(t, got.LastSyncedAt.IsZero())
}

func TestUpsertTasks_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	batch := []models.Task{sampleTask(1), sampleTask(2), sampleTask(3)}
	require.NoError(t, db.UpsertTasks(ctx, batch))
	require.NoError(t, db.UpsertTasks(ctx, batch))

	n, err := db.CountTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestUpsertTasks_PreservesTimestampsAndEnrichment(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	completed := time.Date(2025, 1, 2, 17, 30, 0, 0, time.UTC)

	// written earlier by a webhook
	first := sampleTask(42)
	first.Source = models.SourceWebhook
	first.JobStatus = models.JobStatusSuccessful
	first.CompletedDatetime = ptrTime(completed)
	first.CODAmount = decimal.NewNullDecimal(decimal.NewFromInt(20))
	first.Tags = ptrString("fragile")
	require.NoError(t, db.UpsertTasks(ctx, []models.Task{first}))

	// a later bulk payload without completion time or enrichment
	second := sampleTask(42)
	second.JobStatus = models.JobStatusSuccessful
	second.FleetName = "renamed"
	require.NoError(t, db.UpsertTasks(ctx, []models.Task{second}))

	got, err := db.GetTask(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedDatetime)
	assert.True(t, got.CompletedDatetime.Equal(completed))
	assert.Equal(t, "renamed", got.FleetName)
	assert.True(t, got.CODAmount.Valid)
	assert.True(t, got.CODAmount.Decimal.Equal(decimal.NewFromInt(20)))
	require.NotNil(t, got.Tags)
	assert.Equal(t, "fragile", *got.Tags)
	assert.Equal(t, models.SourceWebhook, got.Source)
}

func TestUpsertTasks_Source(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	manual := sampleTask(7)
	manual.Source = models.SourceManual
	require.NoError(t, db.UpsertTasks(ctx, []models.Task{manual}))
	got, err := db.GetTask(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.SourceManual, got.Source)

	bad := sampleTask(8)
	bad.Source = "import"
	assert.Error(t, db.UpsertTasks(ctx, []models.Task{bad}))
	_, err = db.GetTask(ctx, 8)
	assert.True(t, IsNotFound(err))
}

func TestUpsertTasks_NewTimestampWins(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := sampleTask(5)
	first.StartedDatetime = ptrTime(time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, db.UpsertTasks(ctx, []models.Task{first}))

	second := sampleTask(5)
	later := time.Date(2025, 1, 1, 8, 30, 0, 0, time.UTC)
	second.StartedDatetime = ptrTime(later)
	require.NoError(t, db.UpsertTasks(ctx, []models.Task{second}))

	got, err := db.GetTask(ctx, 5)
	require.NoError(t, err)
	assert.True(t, got.StartedDatetime.Equal(later))
}

func TestUpdateEnrichment_ColumnScoped(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := sampleTask(9)
	task.CompletedDatetime = ptrTime(time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, db.UpsertTasks(ctx, []models.Task{task}))

	updates := []models.EnrichmentUpdate{
		{JobID: 9, Enrichment: models.Enrichment{
			Tags:      ptrString("priority"),
			CODAmount: decimal.NewNullDecimal(decimal.RequireFromString("7.75")),
		}},
		{JobID: 404, Enrichment: models.Enrichment{Tags: ptrString("ghost")}},
	}
	require.NoError(t, db.UpdateEnrichment(ctx, updates, time.Now().UTC()))

	got, err := db.GetTask(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "priority", *got.Tags)
	assert.True(t, got.CODAmount.Decimal.Equal(decimal.RequireFromString("7.75")))
	assert.Equal(t, "driver", got.FleetName)
	assert.NotNil(t, got.CompletedDatetime)

	// null enrichment keeps the stored values
	require.NoError(t, db.UpdateEnrichment(ctx, []models.EnrichmentUpdate{{JobID: 9}}, time.Now().UTC()))
	got, err = db.GetTask(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "priority", *got.Tags)

	n, err := db.CountTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "enrichment never inserts rows")
}

func TestExistingJobIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertTasks(ctx, []models.Task{sampleTask(1), sampleTask(3)}))

	found, err := db.ExistingJobIDs(ctx, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{1: true, 3: true}, found)

	empty, err := db.ExistingJobIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetTask_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.GetTask(context.Background(), 1)
	assert.True(t, IsNotFound(err))
}
