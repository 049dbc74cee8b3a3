package ordersync

import (
	"context"
	"fmt"
	"strings"

	"dispatchsync/internal/config"
	"dispatchsync/internal/domain"
	"dispatchsync/internal/metrics"
	"dispatchsync/internal/models"
	"dispatchsync/internal/upstream"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// DetailFetcher is the detail half of the upstream client.
type DetailFetcher interface {
	GetJobDetails(ctx context.Context, jobIDs []int64) ([]upstream.JobDetail, error)
}

// EnrichStats counts what one Enrich call did.
type EnrichStats struct {
	Requested     int
	CacheHits     int
	Fetched       int
	FailedBatches int
}

// Enricher pulls detail-only fields (COD amount, tags) per job id.
type Enricher struct {
	client  DetailFetcher
	cache   domain.DetailCache
	cfg     config.SyncConfig
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewEnricher(client DetailFetcher, cache domain.DetailCache, cfg config.SyncConfig, limiter *rate.Limiter, logger zerolog.Logger) *Enricher {
	if limiter == nil {
		limiter = NewLimiter(cfg.RequestDelay)
	}
	return &Enricher{
		client:  client,
		cache:   cache,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}
}

// Enrich returns an entry for every distinct id; ids whose details could not
// be fetched map to an empty Enrichment. With useCache false the cache is not
// read but is still refreshed with what was fetched.
func (e *Enricher) Enrich(ctx context.Context, jobIDs []int64, useCache bool) (map[int64]models.Enrichment, EnrichStats, error) {
	ids := uniqueIDs(jobIDs)
	out := make(map[int64]models.Enrichment, len(ids))
	stats := EnrichStats{Requested: len(ids)}
	for _, id := range ids {
		out[id] = models.Enrichment{}
	}

	missing := ids
	if useCache && e.cache != nil && len(ids) > 0 {
		cached, err := e.cache.GetDetails(ctx, ids)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Detail cache read failed")
		} else {
			missing = make([]int64, 0, len(ids))
			for _, id := range ids {
				if d, ok := cached[id]; ok {
					out[id] = d
					stats.CacheHits++
					continue
				}
				missing = append(missing, id)
			}
		}
		metrics.AddCacheLookups(stats.CacheHits, len(missing))
	}

	fetched := make(map[int64]models.Enrichment, len(missing))
	size := e.cfg.DetailBatchSize
	if size <= 0 {
		size = models.DefaultDetailBatchSize
	}
	for start := 0; start < len(missing); start += size {
		end := start + size
		if end > len(missing) {
			end = len(missing)
		}
		sub := missing[start:end]

		if err := e.limiter.Wait(ctx); err != nil {
			return out, stats, err
		}
		details, err := e.client.GetJobDetails(ctx, sub)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, stats, ctxErr
			}
			stats.FailedBatches++
			e.logger.Error().Err(err).Int("jobs", len(sub)).Msg("Failed to fetch job details")
			continue
		}

		for _, d := range details {
			id := int64(d.JobID)
			if _, wanted := out[id]; !wanted {
				continue
			}
			enr := models.Enrichment{
				Tags:      normalizeTags(d.Tags),
				CODAmount: ExtractCOD(d.CustomFields, e.cfg.CODLabels),
			}
			out[id] = enr
			fetched[id] = enr
			stats.Fetched++
		}
	}

	if e.cache != nil && len(fetched) > 0 {
		if err := e.cache.SetDetails(ctx, fetched, e.cfg.DetailCacheTTL); err != nil {
			e.logger.Warn().Err(err).Msg("Detail cache write failed")
		}
	}
	return out, stats, nil
}

// ExtractCOD returns the value of the first custom field whose label or
// display name matches one of labels (case-insensitive). A missing or
// unparseable value is null.
func ExtractCOD(fields []upstream.CustomField, labels []string) decimal.NullDecimal {
	for _, f := range fields {
		if !matchesLabel(f, labels) {
			continue
		}
		d, ok := parseDecimal(f.Data)
		if !ok {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(d)
	}
	return decimal.NullDecimal{}
}

func matchesLabel(f upstream.CustomField, labels []string) bool {
	label := strings.TrimSpace(f.Label)
	display := strings.TrimSpace(f.DisplayName)
	for _, l := range labels {
		if strings.EqualFold(label, l) || strings.EqualFold(display, l) {
			return true
		}
	}
	return false
}

func parseDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case nil:
		return decimal.Decimal{}, false
	case float64:
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		d, err := decimal.NewFromString(strings.TrimSpace(fmt.Sprint(val)))
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	}
}

func normalizeTags(tags *string) *string {
	if tags == nil {
		return nil
	}
	t := strings.TrimSpace(*tags)
	if t == "" {
		return nil
	}
	t = truncateRunes(t, maxTagsLen)
	return &t
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
