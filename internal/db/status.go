// SPDX-License-Identifier: MIT

package db

import "context"

// Component health states persisted by the scheduled checks.
const (
	StatusOK      = "OK"
	StatusWarning = "WARNING"
	StatusError   = "ERROR"
)

// ComponentStatus is one system_status row.
type ComponentStatus struct {
	ID          int64  `json:"id"`
	Component   string `json:"component"`
	Status      string `json:"status"`
	Details     string `json:"details"`
	LastChecked string `json:"last_checked"`
	CheckedBy   string `json:"checked_by,omitempty"`
}

// InsertSystemStatus appends one check result. History is kept; readers use
// LatestSystemStatus for the current view.
func (d *DB) InsertSystemStatus(ctx context.Context, component, status, details, checkedBy string) error {
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO system_status (component, status, details, last_checked, checked_by) VALUES (?, ?, ?, ?, ?)",
		component, status, details, nowUTC(), nullable(checkedBy))
	return wrap("insert system status", err)
}

// LatestSystemStatus returns the most recent row per component.
func (d *DB) LatestSystemStatus(ctx context.Context) ([]ComponentStatus, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT s.id, s.component, s.status, COALESCE(s.details, ''), s.last_checked, COALESCE(s.checked_by, '')
		FROM system_status s
		JOIN (SELECT component, MAX(id) AS max_id FROM system_status GROUP BY component) latest
			ON s.id = latest.max_id
		ORDER BY s.component`)
	if err != nil {
		return nil, wrap("latest system status", err)
	}
	defer rows.Close()

	var out []ComponentStatus
	for rows.Next() {
		var c ComponentStatus
		if err := rows.Scan(&c.ID, &c.Component, &c.Status, &c.Details, &c.LastChecked, &c.CheckedBy); err != nil {
			return nil, wrap("scan system status", err)
		}
		out = append(out, c)
	}
	return out, wrap("latest system status", rows.Err())
}

// SystemStatusHistory returns recent rows for one component, newest first.
func (d *DB) SystemStatusHistory(ctx context.Context, component string, limit int) ([]ComponentStatus, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, component, status, COALESCE(details, ''), last_checked, COALESCE(checked_by, '')
		FROM system_status WHERE component = ? ORDER BY id DESC LIMIT ?`, component, limit)
	if err != nil {
		return nil, wrap("system status history", err)
	}
	defer rows.Close()

	var out []ComponentStatus
	for rows.Next() {
		var c ComponentStatus
		if err := rows.Scan(&c.ID, &c.Component, &c.Status, &c.Details, &c.LastChecked, &c.CheckedBy); err != nil {
			return nil, wrap("scan system status", err)
		}
		out = append(out, c)
	}
	return out, wrap("system status history", rows.Err())
}
