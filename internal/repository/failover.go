package repository

import (
	"context"
	"sync/atomic"
	"time"

	"dispatchsync/internal/domain"
	"dispatchsync/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverDetailCache serves from primary until it errors, then from fallback,
// probing primary again once per recoveryInterval.
type FailoverDetailCache struct {
	primary   domain.DetailCache
	fallback  domain.DetailCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverDetailCache(primary, fallback domain.DetailCache, logger *zerolog.Logger) *FailoverDetailCache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverDetailCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverDetailCache) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary detail cache failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverDetailCache) shouldProbe() bool {
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverDetailCache) GetDetails(ctx context.Context, jobIDs []int64) (map[int64]models.Enrichment, error) {
	if !r.isDown.Load() || r.shouldProbe() {
		found, err := r.primary.GetDetails(ctx, jobIDs)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary detail cache recovered")
			}
			return found, nil
		}
		r.markDown(err)
	}

	return r.fallback.GetDetails(ctx, jobIDs)
}

func (r *FailoverDetailCache) SetDetails(ctx context.Context, details map[int64]models.Enrichment, ttl time.Duration) error {
	if !r.isDown.Load() {
		err := r.primary.SetDetails(ctx, details, ttl)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.SetDetails(ctx, details, ttl)
}
