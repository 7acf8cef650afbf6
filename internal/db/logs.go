// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"database/sql"
)

// Usage log actions recorded by the request handlers.
const (
	ActionSearch     = "search"
	ActionDownload   = "download"
	ActionPlay       = "play"
	ActionRandomPlay = "random_play"
)

// UsageLog is one user-visible action.
type UsageLog struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Detail    string `json:"detail"`
	CreatedAt string `json:"created_at"`
}

// InsertUsageLog appends one usage row.
func (d *DB) InsertUsageLog(ctx context.Context, userID int64, username, action, detail string) error {
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO usage_logs (user_id, username, action, detail, created_at) VALUES (?, ?, ?, ?, ?)",
		userID, username, action, detail, nowUTC())
	return wrap("insert usage log", err)
}

// ListUsageLogs pages through usage rows, newest first.
func (d *DB) ListUsageLogs(ctx context.Context, limit, offset int) ([]UsageLog, int, error) {
	var total int
	if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM usage_logs").Scan(&total); err != nil {
		return nil, 0, wrap("count usage logs", err)
	}

	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, COALESCE(user_id, 0), COALESCE(username, ''), action, COALESCE(detail, ''), created_at
		FROM usage_logs ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, wrap("list usage logs", err)
	}
	defer rows.Close()

	var out []UsageLog
	for rows.Next() {
		var u UsageLog
		if err := rows.Scan(&u.ID, &u.UserID, &u.Username, &u.Action, &u.Detail, &u.CreatedAt); err != nil {
			return nil, 0, wrap("scan usage log", err)
		}
		out = append(out, u)
	}
	return out, total, wrap("list usage logs", rows.Err())
}

// Error origins recorded in error_log.
const (
	ErrorTypePipeline = "pipeline"
	ErrorTypeAPI      = "api"
)

// ErrorEntry is one row in error_log. Pipeline failures carry a track id;
// API failures carry the request method/path.
type ErrorEntry struct {
	ID            int64  `json:"id"`
	ErrorType     string `json:"error_type"` // ErrorTypePipeline or ErrorTypeAPI
	Source        string `json:"source"`
	ErrorMessage  string `json:"error_message"`
	StackTrace    string `json:"stack_trace,omitempty"`
	TrackID       string `json:"track_id,omitempty"`
	RequestMethod string `json:"request_method,omitempty"`
	RequestPath   string `json:"request_path,omitempty"`
	UserID        int64  `json:"user_id,omitempty"`
	Username      string `json:"username,omitempty"`
	Resolved      bool   `json:"resolved"`
	ResolvedAt    string `json:"resolved_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// InsertErrorLog appends one error row.
func (d *DB) InsertErrorLog(ctx context.Context, e ErrorEntry) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO error_log (error_type, source, error_message, stack_trace, track_id,
			request_method, request_path, user_id, username, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		e.ErrorType, e.Source, e.ErrorMessage, e.StackTrace, nullable(e.TrackID),
		nullable(e.RequestMethod), nullable(e.RequestPath), nullableID(e.UserID),
		nullable(e.Username), nowUTC())
	return wrap("insert error log", err)
}

// ListErrorLogs pages through error rows, newest first. When unresolvedOnly
// is set, resolved rows are filtered out.
func (d *DB) ListErrorLogs(ctx context.Context, limit, offset int, unresolvedOnly bool) ([]ErrorEntry, error) {
	query := `
		SELECT id, error_type, COALESCE(source, ''), COALESCE(error_message, ''),
			COALESCE(stack_trace, ''), COALESCE(track_id, ''), COALESCE(request_method, ''),
			COALESCE(request_path, ''), COALESCE(user_id, 0), COALESCE(username, ''),
			resolved, COALESCE(resolved_at, ''), created_at
		FROM error_log`
	if unresolvedOnly {
		query += " WHERE resolved = 0"
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"

	rows, err := d.sql.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, wrap("list error logs", err)
	}
	defer rows.Close()

	var out []ErrorEntry
	for rows.Next() {
		var e ErrorEntry
		if err := rows.Scan(&e.ID, &e.ErrorType, &e.Source, &e.ErrorMessage, &e.StackTrace,
			&e.TrackID, &e.RequestMethod, &e.RequestPath, &e.UserID, &e.Username,
			&e.Resolved, &e.ResolvedAt, &e.CreatedAt); err != nil {
			return nil, wrap("scan error log", err)
		}
		out = append(out, e)
	}
	return out, wrap("list error logs", rows.Err())
}

// ResolveError marks an error row handled. The boolean reports whether the
// row existed.
func (d *DB) ResolveError(ctx context.Context, id int64) (bool, error) {
	res, err := d.sql.ExecContext(ctx,
		"UPDATE error_log SET resolved = 1, resolved_at = ? WHERE id = ?", nowUTC(), id)
	if err != nil {
		return false, wrap("resolve error", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrap("resolve error", err)
	}
	return affected > 0, nil
}

// AppLog levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// InsertAppLog appends one application milestone row.
func (d *DB) InsertAppLog(ctx context.Context, level, source, message, details, trackID string) error {
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO app_logs (level, source, message, details, track_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		level, source, message, nullable(details), nullable(trackID), nowUTC())
	return wrap("insert app log", err)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
