// SPDX-License-Identifier: MIT

package deezer

import (
	"errors"
	"fmt"
)

// ErrSource marks any failure of the upstream audio source. Wrapped by
// SourceError so callers can branch on the class and still log specifics.
var ErrSource = errors.New("deezer: audio source request failed")

// ErrTrackNotFound is returned when the source has no such track.
var ErrTrackNotFound = errors.New("deezer: track not found")

// SourceError carries the failing operation and, for HTTP-level failures,
// the status and a truncated body.
type SourceError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *SourceError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("deezer: %s: status %d: %s", e.Op, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("deezer: %s: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("deezer: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("deezer: %s", e.Op)
	}
}

func (e *SourceError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrSource
}

func srcErr(op string, err error) error {
	return &SourceError{Op: op, Err: fmt.Errorf("%w: %w", ErrSource, err)}
}

func httpErr(op string, status int, body string) error {
	const maxBody = 200
	if len(body) > maxBody {
		body = body[:maxBody] + "..."
	}
	return &SourceError{Op: op, Status: status, Body: body, Err: ErrSource}
}
