package domain

import (
	"context"
	"time"

	"dispatchsync/internal/models"
)

// TaskStore is the write side of the task cache.
type TaskStore interface {
	UpsertTasks(ctx context.Context, tasks []models.Task) error
	UpdateEnrichment(ctx context.Context, updates []models.EnrichmentUpdate, syncedAt time.Time) error
	ExistingJobIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
}

// FailureRecorder keeps failed chunks for later inspection.
type FailureRecorder interface {
	CreateSyncFailure(ctx context.Context, f *models.SyncFailure) error
}

// StatusStore persists one SyncStatus row per sync type, guarded by a lease.
type StatusStore interface {
	EnsureSyncStatus(ctx context.Context, syncType string) error
	GetSyncStatus(ctx context.Context, syncType string) (*models.SyncStatus, error)
	AcquireSyncLease(ctx context.Context, syncType, owner string, now, expiresAt time.Time, force bool) (bool, error)
	SaveSyncStatus(ctx context.Context, s *models.SyncStatus, owner string) (bool, error)
	ReleaseSyncLease(ctx context.Context, syncType, owner, cause string) (bool, error)
	ResetSyncStatus(ctx context.Context, syncType string) error
}

// DetailCache holds recently fetched enrichment keyed by job id.
// Get returns only the ids it has; a miss is not an error.
type DetailCache interface {
	GetDetails(ctx context.Context, jobIDs []int64) (map[int64]models.Enrichment, error)
	SetDetails(ctx context.Context, details map[int64]models.Enrichment, ttl time.Duration) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
