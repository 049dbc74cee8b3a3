package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dispatchsync/internal/models"
	"dispatchsync/internal/ordersync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// IncrementalRunner runs one incremental order sync.
type IncrementalRunner interface {
	IncrementalSync(ctx context.Context) (models.SyncSummary, error)
}

// BackupRunner takes one cache snapshot.
type BackupRunner interface {
	Run(ctx context.Context) error
}

// Scheduler fires recurring jobs from cron expressions. Overlapping firings of
// the same job are skipped.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

func New(logger *zerolog.Logger) *Scheduler {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "scheduler").Logger()
	}
	cl := cronLogger{logger: l}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		ctx:    ctx,
		cancel: cancel,
		logger: l,
	}
}

// AddIncrementalSync registers runner on schedule. An empty schedule is a no-op.
func (s *Scheduler) AddIncrementalSync(schedule string, runner IncrementalRunner) error {
	if schedule == "" {
		return nil
	}
	_, err := s.cron.AddFunc(schedule, func() { s.runIncremental(runner) })
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}
	s.logger.Info().Str("schedule", schedule).Msg("Incremental sync scheduled")
	return nil
}

// AddBackup registers runner on schedule. An empty schedule is a no-op.
func (s *Scheduler) AddBackup(schedule string, runner BackupRunner) error {
	if schedule == "" {
		return nil
	}
	_, err := s.cron.AddFunc(schedule, func() { s.runBackup(runner) })
	if err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", schedule, err)
	}
	s.logger.Info().Str("schedule", schedule).Msg("Backup scheduled")
	return nil
}

func (s *Scheduler) runIncremental(runner IncrementalRunner) {
	start := time.Now()
	summary, err := runner.IncrementalSync(s.ctx)
	switch {
	case errors.Is(err, ordersync.ErrSyncInProgress):
		s.logger.Info().Msg("Scheduled sync skipped, another run holds the lease")
	case err != nil:
		s.logger.Error().Err(err).Msg("Scheduled incremental sync failed")
	default:
		s.logger.Info().
			Str("run_id", summary.RunID).
			Str("mode", string(summary.Mode)).
			Int("synced", summary.Synced).
			Int("failed", summary.Failed).
			Dur("duration", time.Since(start)).
			Msg("Scheduled incremental sync finished")
	}
}

func (s *Scheduler) runBackup(runner BackupRunner) {
	if err := runner.Run(s.ctx); err != nil {
		s.logger.Error().Err(err).Msg("Scheduled backup failed")
	}
}

// Jobs reports how many jobs are registered.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
