package models

import "time"

// SyncState is the lifecycle state of a sync type.
type SyncState string

const (
	SyncStateIdle       SyncState = "idle"
	SyncStateInProgress SyncState = "in_progress"
	SyncStateCompleted  SyncState = "completed"
	SyncStateFailed     SyncState = "failed"
)

// SyncStatus is the persisted progress row for one sync type.
type SyncStatus struct {
	SyncType           string     `json:"sync_type"`
	Status             SyncState  `json:"status"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	LastSuccessfulSync *time.Time `json:"last_successful_sync,omitempty"`

	TotalBatches     int `json:"total_batches"`
	CompletedBatches int `json:"completed_batches"`
	TotalRecords     int `json:"total_records"`
	SyncedRecords    int `json:"synced_records"`
	FailedRecords    int `json:"failed_records"`

	SyncFromDate      *time.Time `json:"sync_from_date,omitempty"`
	SyncToDate        *time.Time `json:"sync_to_date,omitempty"`
	CurrentBatchStart *time.Time `json:"current_batch_start,omitempty"`
	CurrentBatchEnd   *time.Time `json:"current_batch_end,omitempty"`

	LastError  *string `json:"last_error,omitempty"`
	ErrorCount int     `json:"error_count"`

	LeaseOwner     *string    `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DateBatch is one inclusive window of civil dates (UTC midnight).
type DateBatch struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

// StartDate formats Start the way the dispatch API expects.
func (b DateBatch) StartDate() string { return b.Start.Format(DateLayout) }

// EndDate formats End the way the dispatch API expects.
func (b DateBatch) EndDate() string { return b.End.Format(DateLayout) }

func (b DateBatch) String() string { return b.StartDate() + ".." + b.EndDate() }

// SyncMode names the workflow that produced a summary.
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
	SyncModeTags        SyncMode = "tags"
)

// SyncSummary is returned by every sync entry point.
type SyncSummary struct {
	SyncType string        `json:"sync_type"`
	Mode     SyncMode      `json:"mode"`
	RunID    string        `json:"run_id"`
	Batches  int           `json:"batches"`
	Fetched  int           `json:"fetched"`
	Synced   int           `json:"synced"`
	Failed   int           `json:"failed"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}
