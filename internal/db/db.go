// SPDX-License-Identifier: MIT

// Package db wraps the embedded SQLite store holding users, usage logs,
// processing failures and operational logs.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go driver

	"github.com/stemsync/stemsync/internal/log"
)

// ErrDatabase is the sentinel for storage-layer failures; callers match it
// with errors.Is.
var ErrDatabase = errors.New("db: storage layer unavailable")

// DBError wraps ErrDatabase with the failing operation.
type DBError struct {
	Op  string
	Err error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("db: %s: %v", e.Op, e.Err)
}

func (e *DBError) Unwrap() error { return ErrDatabase }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DBError{Op: op, Err: err}
}

// Config defines SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns pool settings suitable for WAL-mode readers with
// serialized writers.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25,
	}
}

// DB is the handle shared by request handlers and pipeline workers.
type DB struct {
	sql    *sql.DB
	path   string
	logger zerolog.Logger
}

// Open initializes the SQLite pool with mandatory PRAGMAs. WAL mode and
// busy_timeout are set in the DSN so they apply to every pooled connection.
func Open(dbPath string, cfg Config) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrap("open", err)
	}

	handle.SetMaxOpenConns(cfg.MaxOpenConns)
	handle.SetMaxIdleConns(cfg.MaxOpenConns)
	handle.SetConnMaxLifetime(1 * time.Hour)

	if err := handle.Ping(); err != nil {
		_ = handle.Close()
		return nil, wrap("ping", err)
	}

	return &DB{
		sql:    handle,
		path:   dbPath,
		logger: log.WithComponent("db"),
	}, nil
}

// Close releases the underlying pool.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Ping verifies connectivity; used by health checks.
func (d *DB) Ping(ctx context.Context) error {
	return wrap("ping", d.sql.PingContext(ctx))
}

// Path returns the on-disk database location.
func (d *DB) Path() string { return d.path }

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
