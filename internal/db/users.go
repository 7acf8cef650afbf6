// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// User carries the fields the pipeline and handlers need; session handling
// lives outside this service.
type User struct {
	ID       int64
	Username string
	APIKey   string
	IsAdmin  bool
	Credits  int
}

// ErrUserNotFound reports a lookup miss distinct from transport failures.
var ErrUserNotFound = errors.New("db: user not found")

const userColumns = "id, username, COALESCE(api_key, ''), is_admin, credits"

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.APIKey, &u.IsAdmin, &u.Credits)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, wrap("scan user", err)
	}
	return &u, nil
}

// UserByAPIKey resolves a bearer token to a user row.
func (d *DB) UserByAPIKey(ctx context.Context, key string) (*User, error) {
	if key == "" {
		return nil, ErrUserNotFound
	}
	row := d.sql.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE api_key = ?", key)
	return scanUser(row)
}

// UserByUsername resolves a username to a user row.
func (d *DB) UserByUsername(ctx context.Context, username string) (*User, error) {
	row := d.sql.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ?", username)
	return scanUser(row)
}

// UserByID resolves a user id to a user row.
func (d *DB) UserByID(ctx context.Context, id int64) (*User, error) {
	row := d.sql.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

// EnsureAdmin creates the bootstrap admin row when absent and returns it.
// The admin authenticates via the configured credentials, not the API key,
// but a key is still minted so outbound links can be authorized.
func (d *DB) EnsureAdmin(ctx context.Context, username string) (*User, error) {
	u, err := d.UserByUsername(ctx, username)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	key := uuid.NewString()
	_, err = d.sql.ExecContext(ctx,
		"INSERT INTO users (username, api_key, is_admin, credits, created_at) VALUES (?, ?, 1, 0, ?)",
		username, key, nowUTC())
	if err != nil {
		return nil, wrap("insert admin", err)
	}
	d.logger.Info().Str("username", username).Msg("created admin user")
	return d.UserByUsername(ctx, username)
}

// CreateUser provisions a non-admin account with a fresh API key and a
// starting credit balance.
func (d *DB) CreateUser(ctx context.Context, username string, credits int) (*User, error) {
	key := uuid.NewString()
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO users (username, api_key, is_admin, credits, created_at) VALUES (?, ?, 0, ?, ?)",
		username, key, credits, nowUTC())
	if err != nil {
		return nil, wrap("insert user", err)
	}
	return d.UserByUsername(ctx, username)
}

// DeductCredits atomically subtracts n credits when the balance allows it.
// The boolean reports whether the deduction happened.
func (d *DB) DeductCredits(ctx context.Context, userID int64, n int) (bool, error) {
	res, err := d.sql.ExecContext(ctx,
		"UPDATE users SET credits = credits - ? WHERE id = ? AND credits >= ?",
		n, userID, n)
	if err != nil {
		return false, wrap("deduct credits", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrap("deduct credits", err)
	}
	return affected == 1, nil
}

// AddCredits grants credits to an account.
func (d *DB) AddCredits(ctx context.Context, userID int64, n int) error {
	_, err := d.sql.ExecContext(ctx,
		"UPDATE users SET credits = credits + ? WHERE id = ?", n, userID)
	return wrap("add credits", err)
}

// TouchUser stamps last_seen.
func (d *DB) TouchUser(ctx context.Context, userID int64) error {
	_, err := d.sql.ExecContext(ctx,
		"UPDATE users SET last_seen = ? WHERE id = ?", nowUTC(), userID)
	return wrap("touch user", err)
}
