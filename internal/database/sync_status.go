package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dispatchsync/internal/models"
)

const selectSyncStatusColumns = `
    sync_type, status, started_at, completed_at, last_successful_sync,
    total_batches, completed_batches, total_records, synced_records, failed_records,
    sync_from_date, sync_to_date, current_batch_start, current_batch_end,
    last_error, error_count, lease_owner, lease_expires_at, updated_at
`

// EnsureSyncStatus seeds an idle row for syncType if none exists.
func (db *DB) EnsureSyncStatus(ctx context.Context, syncType string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sync_status (sync_type, status, updated_at) VALUES (?, ?, ?)`,
		syncType, string(models.SyncStateIdle), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to seed sync status: %w", err)
	}
	return nil
}

// GetSyncStatus returns the row for syncType or sql.ErrNoRows.
func (db *DB) GetSyncStatus(ctx context.Context, syncType string) (*models.SyncStatus, error) {
	row := db.QueryRowContext(ctx, `SELECT `+selectSyncStatusColumns+` FROM sync_status WHERE sync_type = ?`, syncType)

	var (
		s          models.SyncStatus
		state      string
		leaseUntil sql.NullInt64
		updatedAt  sql.NullTime
	)
	err := row.Scan(
		&s.SyncType, &state, &s.StartedAt, &s.CompletedAt, &s.LastSuccessfulSync,
		&s.TotalBatches, &s.CompletedBatches, &s.TotalRecords, &s.SyncedRecords, &s.FailedRecords,
		&s.SyncFromDate, &s.SyncToDate, &s.CurrentBatchStart, &s.CurrentBatchEnd,
		&s.LastError, &s.ErrorCount, &s.LeaseOwner, &leaseUntil, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = models.SyncState(state)
	if leaseUntil.Valid {
		t := time.UnixMilli(leaseUntil.Int64).UTC()
		s.LeaseExpiresAt = &t
	}
	if updatedAt.Valid {
		s.UpdatedAt = updatedAt.Time
	}
	return &s, nil
}

// AcquireSyncLease moves syncType to in_progress under owner when no other
// unexpired lease is held, or unconditionally when force is set. The check and
// the write are a single statement.
func (db *DB) AcquireSyncLease(ctx context.Context, syncType, owner string, now, expiresAt time.Time, force bool) (bool, error) {
	if err := db.EnsureSyncStatus(ctx, syncType); err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, `
        UPDATE sync_status SET
            status = ?, lease_owner = ?, lease_expires_at = ?, updated_at = ?
        WHERE sync_type = ?
          AND (? OR status != ? OR lease_owner IS NULL OR lease_expires_at IS NULL OR lease_expires_at <= ?)
    `,
		string(models.SyncStateInProgress), owner, expiresAt.UnixMilli(), now.UTC(),
		syncType,
		force, string(models.SyncStateInProgress), now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// SaveSyncStatus writes the full row, including lease fields, as long as owner
// still holds the lease. It reports false when the lease was taken over.
func (db *DB) SaveSyncStatus(ctx context.Context, s *models.SyncStatus, owner string) (bool, error) {
	var leaseUntil sql.NullInt64
	if s.LeaseExpiresAt != nil {
		leaseUntil = sql.NullInt64{Int64: s.LeaseExpiresAt.UnixMilli(), Valid: true}
	}
	s.UpdatedAt = time.Now().UTC()

	res, err := db.ExecContext(ctx, `
        UPDATE sync_status SET
            status = ?, started_at = ?, completed_at = ?, last_successful_sync = ?,
            total_batches = ?, completed_batches = ?, total_records = ?, synced_records = ?, failed_records = ?,
            sync_from_date = ?, sync_to_date = ?, current_batch_start = ?, current_batch_end = ?,
            last_error = ?, error_count = ?, lease_owner = ?, lease_expires_at = ?, updated_at = ?
        WHERE sync_type = ? AND lease_owner = ?
    `,
		string(s.Status), s.StartedAt, s.CompletedAt, s.LastSuccessfulSync,
		s.TotalBatches, s.CompletedBatches, s.TotalRecords, s.SyncedRecords, s.FailedRecords,
		s.SyncFromDate, s.SyncToDate, s.CurrentBatchStart, s.CurrentBatchEnd,
		s.LastError, s.ErrorCount, s.LeaseOwner, leaseUntil, s.UpdatedAt,
		s.SyncType, owner,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save sync status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// ReleaseSyncLease marks the row failed with cause and drops the lease, but
// only while owner still holds it.
func (db *DB) ReleaseSyncLease(ctx context.Context, syncType, owner, cause string) (bool, error) {
	res, err := db.ExecContext(ctx, `
        UPDATE sync_status SET
            status = ?, last_error = ?, lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
        WHERE sync_type = ? AND lease_owner = ?
    `, string(models.SyncStateFailed), cause, time.Now().UTC(), syncType, owner)
	if err != nil {
		return false, fmt.Errorf("failed to release sync lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// ResetSyncStatus clears a stuck run: status back to idle, lease dropped.
// Progress counters and lastSuccessfulSync are kept.
func (db *DB) ResetSyncStatus(ctx context.Context, syncType string) error {
	res, err := db.ExecContext(ctx, `
        UPDATE sync_status SET status = ?, lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
        WHERE sync_type = ?
    `, string(models.SyncStateIdle), time.Now().UTC(), syncType)
	if err != nil {
		return fmt.Errorf("failed to reset sync status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
