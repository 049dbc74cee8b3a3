package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dispatchsync/internal/models"
)

// Lifecycle timestamps and enrichment columns are COALESCEd so that a payload
// without them never clears a value written earlier (e.g. by a webhook).
// source is insert-only.
const upsertTaskQuery = `
    INSERT INTO tasks (
        job_id, order_id, job_type, job_status, cod_amount, order_fees,
        customer_name, customer_phone, customer_email, customer_address,
        pickup_name, pickup_phone, pickup_address, pickup_latitude, pickup_longitude,
        delivery_name, delivery_phone, delivery_address, delivery_latitude, delivery_longitude,
        fleet_id, fleet_name, tags,
        creation_datetime, started_datetime, acknowledged_datetime, completed_datetime,
        raw_data, source, last_synced_at, created_at, updated_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(job_id) DO UPDATE SET
        order_id = excluded.order_id,
        job_type = excluded.job_type,
        job_status = excluded.job_status,
        cod_amount = COALESCE(excluded.cod_amount, tasks.cod_amount),
        order_fees = excluded.order_fees,
        customer_name = excluded.customer_name,
        customer_phone = excluded.customer_phone,
        customer_email = excluded.customer_email,
        customer_address = excluded.customer_address,
        pickup_name = excluded.pickup_name,
        pickup_phone = excluded.pickup_phone,
        pickup_address = excluded.pickup_address,
        pickup_latitude = excluded.pickup_latitude,
        pickup_longitude = excluded.pickup_longitude,
        delivery_name = excluded.delivery_name,
        delivery_phone = excluded.delivery_phone,
        delivery_address = excluded.delivery_address,
        delivery_latitude = excluded.delivery_latitude,
        delivery_longitude = excluded.delivery_longitude,
        fleet_id = excluded.fleet_id,
        fleet_name = excluded.fleet_name,
        tags = COALESCE(excluded.tags, tasks.tags),
        creation_datetime = COALESCE(excluded.creation_datetime, tasks.creation_datetime),
        started_datetime = COALESCE(excluded.started_datetime, tasks.started_datetime),
        acknowledged_datetime = COALESCE(excluded.acknowledged_datetime, tasks.acknowledged_datetime),
        completed_datetime = COALESCE(excluded.completed_datetime, tasks.completed_datetime),
        raw_data = excluded.raw_data,
        last_synced_at = excluded.last_synced_at,
        updated_at = excluded.updated_at
`

const selectTaskColumns = `
    job_id, order_id, job_type, job_status, cod_amount, order_fees,
    customer_name, customer_phone, customer_email, customer_address,
    pickup_name, pickup_phone, pickup_address, pickup_latitude, pickup_longitude,
    delivery_name, delivery_phone, delivery_address, delivery_latitude, delivery_longitude,
    fleet_id, fleet_name, tags,
    creation_datetime, started_datetime, acknowledged_datetime, completed_datetime,
    raw_data, source, last_synced_at
`

// UpsertTasks writes all tasks in one transaction keyed on job_id.
func (db *DB) UpsertTasks(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertTaskQuery)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range tasks {
		t := &tasks[i]
		source := t.Source
		if source == "" {
			source = models.SourceAPISync
		}
		if !models.ValidSource(source) {
			return fmt.Errorf("task %d: invalid source %q", t.JobID, source)
		}
		syncedAt := t.LastSyncedAt
		if syncedAt.IsZero() {
			syncedAt = now
		}
		raw := t.RawData
		if raw == "" {
			raw = "{}"
		}

		_, err := stmt.ExecContext(ctx,
			t.JobID, t.OrderID, int(t.JobType), int(t.JobStatus), t.CODAmount, t.OrderFees,
			t.Customer.Name, t.Customer.Phone, t.Customer.Email, t.Customer.Address,
			t.Pickup.Name, t.Pickup.Phone, t.Pickup.Address, t.Pickup.Latitude, t.Pickup.Longitude,
			t.Delivery.Name, t.Delivery.Phone, t.Delivery.Address, t.Delivery.Latitude, t.Delivery.Longitude,
			t.FleetID, t.FleetName, t.Tags,
			t.CreationDatetime, t.StartedDatetime, t.AcknowledgedDatetime, t.CompletedDatetime,
			raw, source, syncedAt, now, now,
		)
		if err != nil {
			return fmt.Errorf("upsert job %d: %w", t.JobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// UpdateEnrichment touches only tags and cod_amount. Null values keep the stored ones.
func (db *DB) UpdateEnrichment(ctx context.Context, updates []models.EnrichmentUpdate, syncedAt time.Time) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrichment update: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        UPDATE tasks SET
            tags = COALESCE(?, tags),
            cod_amount = COALESCE(?, cod_amount),
            last_synced_at = ?,
            updated_at = ?
        WHERE job_id = ?
    `)
	if err != nil {
		return fmt.Errorf("prepare enrichment update: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.Tags, u.CODAmount, syncedAt, now, u.JobID); err != nil {
			return fmt.Errorf("update enrichment job %d: %w", u.JobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrichment update: %w", err)
	}
	return nil
}

// GetTask returns a cached task by job id.
func (db *DB) GetTask(ctx context.Context, jobID int64) (*models.Task, error) {
	row := db.QueryRowContext(ctx, `SELECT `+selectTaskColumns+` FROM tasks WHERE job_id = ?`, jobID)

	var (
		t                 models.Task
		jobType, jobState int
	)
	err := row.Scan(
		&t.JobID, &t.OrderID, &jobType, &jobState, &t.CODAmount, &t.OrderFees,
		&t.Customer.Name, &t.Customer.Phone, &t.Customer.Email, &t.Customer.Address,
		&t.Pickup.Name, &t.Pickup.Phone, &t.Pickup.Address, &t.Pickup.Latitude, &t.Pickup.Longitude,
		&t.Delivery.Name, &t.Delivery.Phone, &t.Delivery.Address, &t.Delivery.Latitude, &t.Delivery.Longitude,
		&t.FleetID, &t.FleetName, &t.Tags,
		&t.CreationDatetime, &t.StartedDatetime, &t.AcknowledgedDatetime, &t.CompletedDatetime,
		&t.RawData, &t.Source, &t.LastSyncedAt,
	)
	if err != nil {
		return nil, err
	}
	t.JobType = models.JobType(jobType)
	t.JobStatus = models.JobStatus(jobState)
	return &t, nil
}

// CountTasks returns the number of cached tasks.
func (db *DB) CountTasks(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	return n, err
}

// ExistingJobIDs returns the subset of ids already present in the cache.
func (db *DB) ExistingJobIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	found := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx, `SELECT job_id FROM tasks WHERE job_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing job ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		found[id] = true
	}
	return found, rows.Err()
}
