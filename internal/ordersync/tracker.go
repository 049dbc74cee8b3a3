package ordersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dispatchsync/internal/domain"
	"dispatchsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrSyncInProgress is returned by Begin while another owner holds an unexpired lease.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrLeaseLost means another run took the lease over; the current run must stop.
	ErrLeaseLost = errors.New("sync lease lost")
)

// Tracker persists sync progress in the status store under a lease.
type Tracker struct {
	store  domain.StatusStore
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func NewTracker(store domain.StatusStore, leaseTTL time.Duration, logger zerolog.Logger) *Tracker {
	if leaseTTL <= 0 {
		leaseTTL = 15 * time.Minute
	}
	return &Tracker{
		store:  store,
		ttl:    leaseTTL,
		now:    time.Now,
		logger: logger,
	}
}

// BeginOptions configures a new run.
type BeginOptions struct {
	Force        bool
	From         time.Time
	To           time.Time
	TotalBatches int
	// Resume continues after the stored completedBatches when the previous,
	// unfinished run covered the same range.
	Resume bool
}

// Run is a leased, in-progress sync.
type Run struct {
	SyncType   string
	Owner      string
	ResumeFrom int

	status  models.SyncStatus
	tracker *Tracker
}

// BatchProgress is what one batch contributes to the run counters.
type BatchProgress struct {
	Batch   models.DateBatch
	Fetched int
	Synced  int
	Failed  int
	Errors  int
	Err     error
}

// Begin takes the lease for syncType and resets the progress row.
func (t *Tracker) Begin(ctx context.Context, syncType string, opts BeginOptions) (*Run, error) {
	owner := uuid.NewString()
	now := t.now().UTC()

	ok, err := t.store.AcquireSyncLease(ctx, syncType, owner, now, now.Add(t.ttl), opts.Force)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSyncInProgress
	}

	prev, err := t.store.GetSyncStatus(ctx, syncType)
	if err != nil {
		err = fmt.Errorf("load sync status: %w", err)
		t.abandon(ctx, syncType, owner, err)
		return nil, err
	}

	run := &Run{SyncType: syncType, Owner: owner, tracker: t}
	st := *prev

	if opts.Resume && canResume(prev, opts) {
		run.ResumeFrom = prev.CompletedBatches
		t.logger.Info().
			Str("sync_type", syncType).
			Int("completed_batches", prev.CompletedBatches).
			Int("total_batches", prev.TotalBatches).
			Msg("Resuming previous sync")
	} else {
		st.CompletedBatches = 0
		st.TotalRecords = 0
		st.SyncedRecords = 0
		st.FailedRecords = 0
		st.ErrorCount = 0
		st.LastError = nil
		st.CurrentBatchStart = nil
		st.CurrentBatchEnd = nil
	}

	from, to := opts.From, opts.To
	st.Status = models.SyncStateInProgress
	st.StartedAt = &now
	st.CompletedAt = nil
	st.TotalBatches = opts.TotalBatches
	st.SyncFromDate = &from
	st.SyncToDate = &to
	st.LeaseOwner = &owner
	expires := now.Add(t.ttl)
	st.LeaseExpiresAt = &expires
	run.status = st

	if err := run.save(ctx); err != nil {
		if !errors.Is(err, ErrLeaseLost) {
			t.abandon(ctx, syncType, owner, err)
		}
		return nil, err
	}
	return run, nil
}

// abandon drops a lease taken by a Begin that could not complete.
func (t *Tracker) abandon(ctx context.Context, syncType, owner string, cause error) {
	if _, err := t.store.ReleaseSyncLease(context.WithoutCancel(ctx), syncType, owner, cause.Error()); err != nil {
		t.logger.Error().Err(err).Str("sync_type", syncType).Msg("Failed to release sync lease")
	}
}

func canResume(prev *models.SyncStatus, opts BeginOptions) bool {
	if prev.Status == models.SyncStateCompleted || prev.Status == models.SyncStateIdle {
		return false
	}
	if prev.SyncFromDate == nil || prev.SyncToDate == nil {
		return false
	}
	return prev.SyncFromDate.Equal(opts.From) &&
		prev.SyncToDate.Equal(opts.To) &&
		prev.TotalBatches == opts.TotalBatches &&
		prev.CompletedBatches > 0 &&
		prev.CompletedBatches < opts.TotalBatches
}

// Status returns a copy of the run's current row.
func (r *Run) Status() models.SyncStatus {
	return r.status
}

// Checkpoint adds p to the counters, moves the batch pointer and renews the lease.
func (r *Run) Checkpoint(ctx context.Context, p BatchProgress) error {
	start, end := p.Batch.Start, p.Batch.End
	r.status.CompletedBatches++
	r.status.TotalRecords += p.Fetched
	r.status.SyncedRecords += p.Synced
	r.status.FailedRecords += p.Failed
	r.status.ErrorCount += p.Errors
	r.status.CurrentBatchStart = &start
	r.status.CurrentBatchEnd = &end
	if p.Err != nil {
		msg := p.Err.Error()
		r.status.LastError = &msg
	}
	expires := r.tracker.now().UTC().Add(r.tracker.ttl)
	r.status.LeaseExpiresAt = &expires
	return r.save(ctx)
}

// Finish marks the run completed and releases the lease.
func (r *Run) Finish(ctx context.Context) error {
	now := r.tracker.now().UTC()
	r.status.Status = models.SyncStateCompleted
	r.status.CompletedAt = &now
	r.status.LastSuccessfulSync = &now
	return r.release(ctx)
}

// Fail marks the run failed with cause and releases the lease.
func (r *Run) Fail(ctx context.Context, cause error) error {
	now := r.tracker.now().UTC()
	msg := cause.Error()
	r.status.Status = models.SyncStateFailed
	r.status.CompletedAt = &now
	r.status.LastError = &msg
	r.status.ErrorCount++
	return r.release(ctx)
}

// release writes the final row even when ctx is already cancelled.
func (r *Run) release(ctx context.Context) error {
	r.status.LeaseOwner = nil
	r.status.LeaseExpiresAt = nil
	return r.save(context.WithoutCancel(ctx))
}

func (r *Run) save(ctx context.Context) error {
	ok, err := r.tracker.store.SaveSyncStatus(ctx, &r.status, r.Owner)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

// Status returns the stored row for syncType, seeding it if needed.
func (t *Tracker) Status(ctx context.Context, syncType string) (*models.SyncStatus, error) {
	if err := t.store.EnsureSyncStatus(ctx, syncType); err != nil {
		return nil, err
	}
	return t.store.GetSyncStatus(ctx, syncType)
}

// Reset returns a stuck row to idle and drops its lease.
func (t *Tracker) Reset(ctx context.Context, syncType string) error {
	if err := t.store.EnsureSyncStatus(ctx, syncType); err != nil {
		return err
	}
	if err := t.store.ResetSyncStatus(ctx, syncType); err != nil {
		return err
	}
	t.logger.Warn().Str("sync_type", syncType).Msg("Sync status reset")
	return nil
}
