// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"database/sql"
	"errors"
)

// Failure is the persistent record of the most recent pipeline failure per
// track. failure_count grows on every re-failure.
type Failure struct {
	TrackID      string `json:"track_id"`
	Stage        string `json:"stage"`
	ErrorMessage string `json:"error_message"`
	FailureCount int    `json:"failure_count"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// RecordFailure inserts the failure row or, when the track failed before,
// overwrites stage/message and increments failure_count.
func (d *DB) RecordFailure(ctx context.Context, trackID, stage, message string) error {
	now := nowUTC()
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO processing_failures (track_id, stage, error_message, failure_count, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			stage = excluded.stage,
			error_message = excluded.error_message,
			failure_count = processing_failures.failure_count + 1,
			updated_at = excluded.updated_at`,
		trackID, stage, message, now, now)
	return wrap("record failure", err)
}

// FailureByTrack returns the failure row for a track, or nil when none exists.
func (d *DB) FailureByTrack(ctx context.Context, trackID string) (*Failure, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT track_id, stage, COALESCE(error_message, ''), failure_count, created_at, updated_at
		FROM processing_failures WHERE track_id = ?`, trackID)

	var f Failure
	err := row.Scan(&f.TrackID, &f.Stage, &f.ErrorMessage, &f.FailureCount, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("scan failure", err)
	}
	return &f, nil
}

// ListFailures returns all failure rows, most recently updated first.
func (d *DB) ListFailures(ctx context.Context) ([]Failure, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT track_id, stage, COALESCE(error_message, ''), failure_count, created_at, updated_at
		FROM processing_failures ORDER BY updated_at DESC`)
	if err != nil {
		return nil, wrap("list failures", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.TrackID, &f.Stage, &f.ErrorMessage, &f.FailureCount, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, wrap("scan failure", err)
		}
		out = append(out, f)
	}
	return out, wrap("list failures", rows.Err())
}

// DeleteFailure removes the failure row, part of the admin track delete.
func (d *DB) DeleteFailure(ctx context.Context, trackID string) error {
	_, err := d.sql.ExecContext(ctx,
		"DELETE FROM processing_failures WHERE track_id = ?", trackID)
	return wrap("delete failure", err)
}
