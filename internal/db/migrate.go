// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		api_key TEXT UNIQUE,
		is_admin INTEGER NOT NULL DEFAULT 0,
		credits INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_seen TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS usage_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER,
		username TEXT,
		action TEXT NOT NULL,
		detail TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS processing_failures (
		track_id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		error_message TEXT,
		failure_count INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS error_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		error_type TEXT NOT NULL,
		source TEXT,
		error_message TEXT,
		stack_trace TEXT,
		track_id TEXT,
		request_method TEXT,
		request_path TEXT,
		user_id INTEGER,
		username TEXT,
		resolved INTEGER NOT NULL DEFAULT 0,
		resolved_at TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		source TEXT,
		message TEXT NOT NULL,
		details TEXT,
		track_id TEXT,
		user_id INTEGER,
		username TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS system_status (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		component TEXT NOT NULL,
		status TEXT NOT NULL,
		details TEXT,
		last_checked TEXT NOT NULL,
		checked_by TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_created ON usage_logs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_error_log_created ON error_log(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_app_logs_created ON app_logs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_system_status_component ON system_status(component, last_checked)`,
}

// Columns added after the initial release. Probed individually so an old
// database upgrades in place.
var lateColumns = []struct {
	table, column, decl string
}{
	{"users", "api_key", "TEXT"},
	{"users", "last_seen", "TEXT"},
	{"error_log", "request_method", "TEXT"},
	{"error_log", "request_path", "TEXT"},
	{"error_log", "resolved", "INTEGER NOT NULL DEFAULT 0"},
	{"error_log", "resolved_at", "TEXT"},
	{"usage_logs", "detail", "TEXT"},
}

// Migrate applies the schema idempotently: tables and indexes via
// IF NOT EXISTS, late columns via probe-and-ALTER.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return wrap("migrate", err)
		}
	}
	for _, col := range lateColumns {
		ok, err := d.hasColumn(ctx, col.table, col.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", col.table, col.column, col.decl)
		if _, err := d.sql.ExecContext(ctx, alter); err != nil {
			return wrap("migrate: "+alter, err)
		}
		d.logger.Info().Str("table", col.table).Str("column", col.column).Msg("added missing column")
	}
	return nil
}

func (d *DB) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := d.sql.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, wrap("table_info "+table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  any
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return false, wrap("scan table_info", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, wrap("table_info "+table, rows.Err())
}
