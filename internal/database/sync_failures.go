package database

import (
	"context"
	"fmt"
	"time"

	"dispatchsync/internal/models"
)

func (db *DB) CreateSyncFailure(ctx context.Context, f *models.SyncFailure) error {
	query := `INSERT INTO sync_failures (sync_type, run_id, job_ids, last_error, created_at)
              VALUES (?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query, f.SyncType, f.RunID, f.JobIDs, f.LastError, now)
	if err != nil {
		return fmt.Errorf("failed to create sync failure: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	f.ID = id
	f.CreatedAt = now

	return nil
}

// ListSyncFailures returns the newest failures for syncType (all types when empty).
func (db *DB) ListSyncFailures(ctx context.Context, syncType string, limit int) ([]models.SyncFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, sync_type, run_id, job_ids, last_error, created_at
              FROM sync_failures
              WHERE (? = '' OR sync_type = ?)
              ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, syncType, syncType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync failures: %w", err)
	}
	defer rows.Close()

	var failures []models.SyncFailure
	for rows.Next() {
		var f models.SyncFailure
		if err := rows.Scan(&f.ID, &f.SyncType, &f.RunID, &f.JobIDs, &f.LastError, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
