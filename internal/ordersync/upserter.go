package ordersync

import (
	"context"
	"strconv"
	"strings"
	"time"

	"dispatchsync/internal/config"
	"dispatchsync/internal/database"
	"dispatchsync/internal/domain"
	"dispatchsync/internal/metrics"
	"dispatchsync/internal/models"
	"dispatchsync/internal/retry"

	"github.com/rs/zerolog"
)

// RunInfo identifies the run a write belongs to, for failure records.
type RunInfo struct {
	SyncType string
	RunID    string
}

// WriteResult counts records written and records in failed chunks.
// Errors is the number of failed chunks.
type WriteResult struct {
	Inserted int
	Failed   int
	Errors   int
}

// Upserter writes tasks in fixed-size chunks, retrying transient store errors.
type Upserter struct {
	store    domain.TaskStore
	failures domain.FailureRecorder
	cfg      config.SyncConfig
	retrier  retry.Retrier
	sleep    retry.Sleeper
	now      func() time.Time
	logger   zerolog.Logger
}

func NewUpserter(store domain.TaskStore, failures domain.FailureRecorder, cfg config.SyncConfig, logger zerolog.Logger) *Upserter {
	u := &Upserter{
		store:    store,
		failures: failures,
		cfg:      cfg,
		sleep:    retry.SleepContext,
		now:      time.Now,
		logger:   logger,
	}
	u.retrier = retry.Retrier{
		Policy: retry.Policy{
			MaxAttempts:   cfg.StoreRetry.MaxAttempts,
			InitialDelay:  cfg.StoreRetry.InitialDelay,
			MaxDelay:      cfg.StoreRetry.MaxDelay,
			BackoffFactor: cfg.StoreRetry.BackoffFactor,
		},
		Transient: database.IsTransient,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			metrics.IncRetry("store")
			u.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Retrying store write")
		},
	}
	return u
}

// UpsertTasks writes tasks keyed on job id. Only context cancellation is
// returned as an error.
func (u *Upserter) UpsertTasks(ctx context.Context, run RunInfo, tasks []models.Task) (WriteResult, error) {
	return forEachChunk(ctx, u, run, tasks, func(t models.Task) int64 { return t.JobID },
		func(ctx context.Context, chunk []models.Task) error {
			return u.store.UpsertTasks(ctx, chunk)
		})
}

// UpdateEnrichment writes only tags and COD for existing rows.
func (u *Upserter) UpdateEnrichment(ctx context.Context, run RunInfo, updates []models.EnrichmentUpdate) (WriteResult, error) {
	return forEachChunk(ctx, u, run, updates, func(e models.EnrichmentUpdate) int64 { return e.JobID },
		func(ctx context.Context, chunk []models.EnrichmentUpdate) error {
			return u.store.UpdateEnrichment(ctx, chunk, u.now().UTC())
		})
}

func forEachChunk[T any](
	ctx context.Context,
	u *Upserter,
	run RunInfo,
	items []T,
	idOf func(T) int64,
	write func(context.Context, []T) error,
) (WriteResult, error) {
	var res WriteResult
	size := u.cfg.ChunkSize
	if size <= 0 {
		size = models.DefaultChunkSize
	}

	for start := 0; start < len(items); start += size {
		if start > 0 {
			if err := u.sleep(ctx, u.cfg.ChunkDelay); err != nil {
				return res, err
			}
		}
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		err := u.retrier.Do(ctx, func(ctx context.Context) error {
			return write(ctx, chunk)
		})
		if err == nil {
			res.Inserted += len(chunk)
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}

		res.Failed += len(chunk)
		res.Errors++
		ids := make([]int64, len(chunk))
		for i, it := range chunk {
			ids[i] = idOf(it)
		}
		u.logger.Error().Err(err).Str("sync_type", run.SyncType).Int("chunk_size", len(chunk)).Msg("Chunk write failed")
		u.recordFailure(ctx, run, ids, err)
	}
	return res, nil
}

func (u *Upserter) recordFailure(ctx context.Context, run RunInfo, ids []int64, cause error) {
	if u.failures == nil {
		return
	}
	f := &models.SyncFailure{
		SyncType:  run.SyncType,
		RunID:     run.RunID,
		JobIDs:    joinIDs(ids),
		LastError: cause.Error(),
	}
	if err := u.failures.CreateSyncFailure(ctx, f); err != nil {
		u.logger.Warn().Err(err).Msg("Failed to record sync failure")
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
