package models

import "time"

// SyncFailure records a store chunk that could not be written during a sync run.
type SyncFailure struct {
	ID        int64     `json:"id"`
	SyncType  string    `json:"sync_type"`
	RunID     string    `json:"run_id"`
	JobIDs    string    `json:"job_ids"`
	LastError string    `json:"last_error"`
	CreatedAt time.Time `json:"created_at"`
}
