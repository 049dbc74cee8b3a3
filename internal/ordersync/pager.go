package ordersync

import (
	"context"
	"errors"
	"time"

	"dispatchsync/internal/config"
	"dispatchsync/internal/models"
	"dispatchsync/internal/upstream"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TaskLister is the listing half of the upstream client.
type TaskLister interface {
	ListTasks(ctx context.Context, req upstream.ListRequest) ([]models.RawTask, error)
}

// NewLimiter spaces upstream requests at least delay apart. A zero delay disables throttling.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// PageResult is everything one date window produced across all job types.
type PageResult struct {
	Records []models.RawTask
	Pages   int
	Errors  int
}

// Pager walks the listing endpoint for one window, one job type at a time.
type Pager struct {
	client  TaskLister
	cfg     config.SyncConfig
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewPager(client TaskLister, cfg config.SyncConfig, limiter *rate.Limiter, logger zerolog.Logger) *Pager {
	if limiter == nil {
		limiter = NewLimiter(cfg.RequestDelay)
	}
	return &Pager{
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}
}

// FetchWindow collects every record of batch. Only context cancellation is
// returned as an error; upstream failures are logged and counted.
func (p *Pager) FetchWindow(ctx context.Context, batch models.DateBatch) (PageResult, error) {
	var res PageResult
	for _, jobType := range p.cfg.JobTypes {
		if err := p.fetchJobType(ctx, batch, jobType, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (p *Pager) fetchJobType(ctx context.Context, batch models.DateBatch, jobType int, res *PageResult) error {
	log := p.logger.With().Str("batch", batch.String()).Int("job_type", jobType).Logger()

	offset := 0
	for page := 0; page < p.cfg.MaxPages; page++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		rows, err := p.client.ListTasks(ctx, upstream.ListRequest{
			JobType:     jobType,
			JobStatuses: p.cfg.JobStatuses,
			StartDate:   batch.StartDate(),
			EndDate:     batch.EndDate(),
			Offset:      offset,
			Limit:       p.cfg.PageSize,
		})
		// the offset moves by a full page whatever came back
		offset += p.cfg.PageSize
		res.Pages++

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, upstream.ErrMalformed) {
				log.Warn().Err(err).Int("offset", offset-p.cfg.PageSize).Msg("Malformed page, treating as empty")
				return nil
			}
			res.Errors++
			log.Error().Err(err).Int("offset", offset-p.cfg.PageSize).Msg("Failed to fetch page")
			return nil
		}

		res.Records = append(res.Records, rows...)
		if len(rows) < p.cfg.PageSize {
			return nil
		}
	}

	log.Warn().Int("max_pages", p.cfg.MaxPages).Msg("Page ceiling reached, window may be incomplete")
	return nil
}
