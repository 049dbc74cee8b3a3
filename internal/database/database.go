package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the SQLite-backed task cache and sync state store.
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "database").Logger()
	}
	l.Info().Str("path", path).Msg("database initialized")

	return &DB{DB: db, logger: l}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// money columns hold exact decimal strings
		`CREATE TABLE IF NOT EXISTS tasks (
            job_id INTEGER PRIMARY KEY,
            order_id TEXT NOT NULL DEFAULT '',
            job_type INTEGER NOT NULL,
            job_status INTEGER NOT NULL,
            cod_amount TEXT,
            order_fees TEXT NOT NULL DEFAULT '0',
            customer_name TEXT NOT NULL DEFAULT '',
            customer_phone TEXT NOT NULL DEFAULT '',
            customer_email TEXT NOT NULL DEFAULT '',
            customer_address TEXT NOT NULL DEFAULT '',
            pickup_name TEXT NOT NULL DEFAULT '',
            pickup_phone TEXT NOT NULL DEFAULT '',
            pickup_address TEXT NOT NULL DEFAULT '',
            pickup_latitude TEXT NOT NULL DEFAULT '',
            pickup_longitude TEXT NOT NULL DEFAULT '',
            delivery_name TEXT NOT NULL DEFAULT '',
            delivery_phone TEXT NOT NULL DEFAULT '',
            delivery_address TEXT NOT NULL DEFAULT '',
            delivery_latitude TEXT NOT NULL DEFAULT '',
            delivery_longitude TEXT NOT NULL DEFAULT '',
            fleet_id INTEGER NOT NULL DEFAULT 0,
            fleet_name TEXT NOT NULL DEFAULT '',
            tags TEXT,
            creation_datetime DATETIME,
            started_datetime DATETIME,
            acknowledged_datetime DATETIME,
            completed_datetime DATETIME,
            raw_data TEXT NOT NULL DEFAULT '{}',
            source TEXT NOT NULL DEFAULT 'api_sync',
            last_synced_at DATETIME NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS sync_status (
            sync_type TEXT PRIMARY KEY,
            status TEXT NOT NULL DEFAULT 'idle',
            started_at DATETIME,
            completed_at DATETIME,
            last_successful_sync DATETIME,
            total_batches INTEGER NOT NULL DEFAULT 0,
            completed_batches INTEGER NOT NULL DEFAULT 0,
            total_records INTEGER NOT NULL DEFAULT 0,
            synced_records INTEGER NOT NULL DEFAULT 0,
            failed_records INTEGER NOT NULL DEFAULT 0,
            sync_from_date DATETIME,
            sync_to_date DATETIME,
            current_batch_start DATETIME,
            current_batch_end DATETIME,
            last_error TEXT,
            error_count INTEGER NOT NULL DEFAULT 0,
            lease_owner TEXT,
            lease_expires_at INTEGER,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS sync_failures (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            sync_type TEXT NOT NULL,
            run_id TEXT NOT NULL,
            job_ids TEXT NOT NULL,
            last_error TEXT NOT NULL,
            created_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_tasks_job_status ON tasks(job_status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_creation ON tasks(creation_datetime)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_fleet ON tasks(fleet_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_failures_type ON sync_failures(sync_type, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// IsTransient reports whether a store error is worth retrying: lock contention
// and timeouts are, constraint or schema errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "timeout")
}
