package ordersync

import (
	"context"
	"errors"
	"time"

	"dispatchsync/internal/config"
	"dispatchsync/internal/domain"
	"dispatchsync/internal/events"
	"dispatchsync/internal/metrics"
	"dispatchsync/internal/models"

	"github.com/rs/zerolog"
)

// UpstreamClient is the part of the dispatch API the pipeline needs.
type UpstreamClient interface {
	TaskLister
	DetailFetcher
}

// Deps are the collaborators of an Orchestrator. Cache and Events may be nil.
type Deps struct {
	Client   UpstreamClient
	Tasks    domain.TaskStore
	Failures domain.FailureRecorder
	Status   domain.StatusStore
	Cache    domain.DetailCache
	Events   domain.EventPublisher
	Logger   *zerolog.Logger
}

// FullSyncOptions bounds a full sync. Nil dates mean retention floor and today.
type FullSyncOptions struct {
	From   *time.Time
	To     *time.Time
	Force  bool
	Resume bool
	// ResumeFromBatch skips the first n planned batches.
	ResumeFromBatch int
}

// TagSyncOptions bounds a tag-only sync.
type TagSyncOptions struct {
	From  *time.Time
	To    *time.Time
	Force bool
}

// Orchestrator runs the full, incremental and tag-only workflows.
type Orchestrator struct {
	cfg         config.SyncConfig
	pager       *Pager
	enricher    *Enricher
	transformer Transformer
	upserter    *Upserter
	tracker     *Tracker
	tasks       domain.TaskStore
	events      domain.EventPublisher
	now         func() time.Time
	logger      zerolog.Logger
}

func NewOrchestrator(cfg config.SyncConfig, deps Deps) *Orchestrator {
	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = deps.Logger.With().Str("component", "ordersync").Logger()
	}

	limiter := NewLimiter(cfg.RequestDelay)
	return &Orchestrator{
		cfg:         cfg,
		pager:       NewPager(deps.Client, cfg, limiter, logger.With().Str("stage", "pager").Logger()),
		enricher:    NewEnricher(deps.Client, deps.Cache, cfg, limiter, logger.With().Str("stage", "enricher").Logger()),
		transformer: NewTransformer(),
		upserter:    NewUpserter(deps.Tasks, deps.Failures, cfg, logger.With().Str("stage", "upserter").Logger()),
		tracker:     NewTracker(deps.Status, cfg.LeaseTTL, logger.With().Str("stage", "tracker").Logger()),
		tasks:       deps.Tasks,
		events:      deps.Events,
		now:         time.Now,
		logger:      logger,
	}
}

// Status returns the stored progress row of syncType.
func (o *Orchestrator) Status(ctx context.Context, syncType string) (*models.SyncStatus, error) {
	return o.tracker.Status(ctx, syncType)
}

// Reset clears a stuck progress row.
func (o *Orchestrator) Reset(ctx context.Context, syncType string) error {
	return o.tracker.Reset(ctx, syncType)
}

// FullSync pulls every task in the range, oldest window first.
func (o *Orchestrator) FullSync(ctx context.Context, opts FullSyncOptions) (models.SyncSummary, error) {
	summary := models.SyncSummary{SyncType: models.SyncTypeOrders, Mode: models.SyncModeFull}
	if err := o.cfg.Validate(); err != nil {
		return summary, err
	}

	batches := PlanBatches(PlanRequest{
		From:            opts.From,
		To:              opts.To,
		Now:             o.now(),
		WindowDays:      o.cfg.WindowDays,
		RetentionMonths: o.cfg.RetentionMonths,
	})
	return o.execute(ctx, summary, batches, BeginOptions{Force: opts.Force, Resume: opts.Resume}, opts.ResumeFromBatch, o.syncOrdersBatch)
}

// IncrementalSync re-pulls from one day before the last successful sync up to
// today as a single window. Without a previous success it runs a full sync.
func (o *Orchestrator) IncrementalSync(ctx context.Context) (models.SyncSummary, error) {
	summary := models.SyncSummary{SyncType: models.SyncTypeOrders, Mode: models.SyncModeIncremental}
	if err := o.cfg.Validate(); err != nil {
		return summary, err
	}

	status, err := o.tracker.Status(ctx, models.SyncTypeOrders)
	if err != nil {
		return summary, err
	}
	if status.LastSuccessfulSync == nil {
		o.logger.Info().Msg("No previous successful sync, running full sync")
		return o.FullSync(ctx, FullSyncOptions{})
	}

	now := o.now()
	batch, ok := IncrementalWindow(*status.LastSuccessfulSync, now, o.cfg.RetentionMonths)
	if !ok {
		return summary, nil
	}
	return o.execute(ctx, summary, []models.DateBatch{batch}, BeginOptions{}, 0, o.syncOrdersBatch)
}

// IncrementalWindow is [lastSuccess-1d, today], clipped to the retention floor.
func IncrementalWindow(lastSuccess, now time.Time, retentionMonths int) (models.DateBatch, bool) {
	start := civilDay(lastSuccess).AddDate(0, 0, -1)
	if floor := RetentionFloor(now, retentionMonths); start.Before(floor) {
		start = floor
	}
	end := civilDay(now)
	if start.After(end) {
		return models.DateBatch{}, false
	}
	return models.DateBatch{Start: start, End: end}, true
}

// TagSync refreshes tags and COD for tasks already in the cache.
func (o *Orchestrator) TagSync(ctx context.Context, opts TagSyncOptions) (models.SyncSummary, error) {
	summary := models.SyncSummary{SyncType: models.SyncTypeOrderTags, Mode: models.SyncModeTags}
	if err := o.cfg.Validate(); err != nil {
		return summary, err
	}

	batches := PlanBatches(PlanRequest{
		From:            opts.From,
		To:              opts.To,
		Now:             o.now(),
		WindowDays:      o.cfg.WindowDays,
		RetentionMonths: o.cfg.RetentionMonths,
	})
	return o.execute(ctx, summary, batches, BeginOptions{Force: opts.Force}, 0, o.syncTagsBatch)
}

type batchFunc func(ctx context.Context, run RunInfo, batch models.DateBatch) (BatchProgress, error)

func (o *Orchestrator) execute(
	ctx context.Context,
	summary models.SyncSummary,
	batches []models.DateBatch,
	begin BeginOptions,
	skip int,
	fn batchFunc,
) (models.SyncSummary, error) {
	started := o.now()
	log := o.logger.With().Str("sync_type", summary.SyncType).Str("mode", string(summary.Mode)).Logger()

	if len(batches) == 0 {
		log.Info().Msg("Nothing to sync")
		return summary, nil
	}

	begin.From = batches[0].Start
	begin.To = batches[len(batches)-1].End
	begin.TotalBatches = len(batches)

	run, err := o.tracker.Begin(ctx, summary.SyncType, begin)
	if err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			log.Warn().Msg("Sync already running, skipping")
		}
		return summary, err
	}
	summary.RunID = run.Owner
	info := RunInfo{SyncType: summary.SyncType, RunID: run.Owner}

	from := run.ResumeFrom
	if skip > from {
		from = skip
	}
	if from > len(batches) {
		from = len(batches)
	}

	log.Info().
		Str("run_id", run.Owner).
		Int("batches", len(batches)).
		Int("start_batch", from).
		Str("range", begin.From.Format(models.DateLayout)+".."+begin.To.Format(models.DateLayout)).
		Msg("Sync started")
	o.publish(events.EventSyncStarted, summary, run, "", nil)

	finish := func(result string, err error) (models.SyncSummary, error) {
		summary.Duration = o.now().Sub(started)
		metrics.ObserveSyncRun(string(summary.Mode), result, summary.Duration)
		return summary, err
	}

	for i := from; i < len(batches); i++ {
		batch := batches[i]
		if err := ctx.Err(); err != nil {
			return finish("failed", o.fail(ctx, log, summary, run, err))
		}

		batchStarted := o.now()
		progress, err := fn(ctx, info, batch)
		progress.Batch = batch
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return finish("failed", o.fail(ctx, log, summary, run, ctxErr))
			}
			log.Error().Err(err).Str("batch", batch.String()).Msg("Batch failed")
			progress.Errors++
			progress.Err = err
		}

		summary.Batches++
		summary.Fetched += progress.Fetched
		summary.Synced += progress.Synced
		summary.Failed += progress.Failed
		summary.Errors += progress.Errors
		metrics.ObserveBatch(summary.SyncType, o.now().Sub(batchStarted))
		metrics.AddRecords(summary.SyncType, "fetched", progress.Fetched)
		metrics.AddRecords(summary.SyncType, "synced", progress.Synced)
		metrics.AddRecords(summary.SyncType, "failed", progress.Failed)

		if err := run.Checkpoint(ctx, progress); err != nil {
			if errors.Is(err, ErrLeaseLost) {
				log.Warn().Str("run_id", run.Owner).Msg("Lease lost, stopping without touching status")
				return finish("lease_lost", err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return finish("failed", o.fail(ctx, log, summary, run, ctxErr))
			}
			log.Error().Err(err).Msg("Failed to checkpoint sync status")
			summary.Errors++
		}

		log.Info().
			Str("batch", batch.String()).
			Int("fetched", progress.Fetched).
			Int("synced", progress.Synced).
			Int("failed", progress.Failed).
			Msg("Batch completed")
		o.publish(events.EventSyncBatchCompleted, summary, run, batch.String(), nil)
	}

	if err := run.Finish(ctx); err != nil {
		if errors.Is(err, ErrLeaseLost) {
			return finish("lease_lost", err)
		}
		return finish("failed", err)
	}

	summary.Duration = o.now().Sub(started)
	log.Info().
		Int("batches", summary.Batches).
		Int("fetched", summary.Fetched).
		Int("synced", summary.Synced).
		Int("failed", summary.Failed).
		Int("errors", summary.Errors).
		Dur("duration", summary.Duration).
		Msg("Sync completed")
	o.publish(events.EventSyncCompleted, summary, run, "", nil)
	return finish("completed", nil)
}

func (o *Orchestrator) fail(ctx context.Context, log zerolog.Logger, summary models.SyncSummary, run *Run, cause error) error {
	log.Error().Err(cause).Msg("Sync failed")
	if err := run.Fail(ctx, cause); err != nil && !errors.Is(err, ErrLeaseLost) {
		log.Error().Err(err).Msg("Failed to mark sync failed")
	}
	o.publish(events.EventSyncFailed, summary, run, "", cause)
	return cause
}

func (o *Orchestrator) publish(eventType string, summary models.SyncSummary, run *Run, batch string, cause error) {
	if o.events == nil {
		return
	}
	st := run.Status()
	payload := events.SyncEventPayload{
		SyncType:         summary.SyncType,
		Mode:             string(summary.Mode),
		RunID:            run.Owner,
		Batch:            batch,
		CompletedBatches: st.CompletedBatches,
		TotalBatches:     st.TotalBatches,
		Fetched:          summary.Fetched,
		Synced:           summary.Synced,
		Failed:           summary.Failed,
		At:               o.now().UTC(),
	}
	if cause != nil {
		payload.Error = cause.Error()
	}
	if err := o.events.PublishJSON(eventType, payload); err != nil {
		o.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

func (o *Orchestrator) syncOrdersBatch(ctx context.Context, run RunInfo, batch models.DateBatch) (BatchProgress, error) {
	var progress BatchProgress

	page, err := o.pager.FetchWindow(ctx, batch)
	progress.Fetched = len(page.Records)
	progress.Errors += page.Errors
	if err != nil {
		return progress, err
	}

	now := o.now()
	byID := make(map[int64]int, len(page.Records))
	tasks := make([]models.Task, 0, len(page.Records))
	for _, raw := range page.Records {
		task, err := o.transformer.Transform(raw, now)
		if err != nil {
			progress.Failed++
			o.logger.Debug().Err(err).Str("batch", batch.String()).Msg("Skipping record")
			continue
		}
		// a job seen twice in one window keeps its latest payload
		if i, dup := byID[task.JobID]; dup {
			tasks[i] = task
			continue
		}
		byID[task.JobID] = len(tasks)
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return progress, nil
	}

	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.JobID
	}
	details, stats, err := o.enricher.Enrich(ctx, ids, true)
	progress.Errors += stats.FailedBatches
	if err != nil {
		return progress, err
	}
	for i := range tasks {
		d := details[tasks[i].JobID]
		if d.Tags != nil {
			tasks[i].Tags = d.Tags
		}
		if d.CODAmount.Valid {
			tasks[i].CODAmount = d.CODAmount
		}
	}

	res, err := o.upserter.UpsertTasks(ctx, run, tasks)
	progress.Synced = res.Inserted
	progress.Failed += res.Failed
	progress.Errors += res.Errors
	return progress, err
}

func (o *Orchestrator) syncTagsBatch(ctx context.Context, run RunInfo, batch models.DateBatch) (BatchProgress, error) {
	var progress BatchProgress

	page, err := o.pager.FetchWindow(ctx, batch)
	progress.Fetched = len(page.Records)
	progress.Errors += page.Errors
	if err != nil {
		return progress, err
	}

	ids := make([]int64, 0, len(page.Records))
	for _, raw := range page.Records {
		if id := o.transformer.JobID(raw); id > 0 {
			ids = append(ids, id)
		}
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return progress, nil
	}

	existing, err := o.tasks.ExistingJobIDs(ctx, ids)
	if err != nil {
		return progress, err
	}
	known := ids[:0]
	for _, id := range ids {
		if existing[id] {
			known = append(known, id)
		}
	}
	if len(known) == 0 {
		return progress, nil
	}

	details, stats, err := o.enricher.Enrich(ctx, known, false)
	progress.Errors += stats.FailedBatches
	if err != nil {
		return progress, err
	}

	updates := make([]models.EnrichmentUpdate, 0, len(known))
	for _, id := range known {
		d := details[id]
		if d.Tags == nil && !d.CODAmount.Valid {
			continue
		}
		updates = append(updates, models.EnrichmentUpdate{JobID: id, Enrichment: d})
	}

	res, err := o.upserter.UpdateEnrichment(ctx, run, updates)
	progress.Synced = res.Inserted
	progress.Failed += res.Failed
	progress.Errors += res.Errors
	return progress, err
}
