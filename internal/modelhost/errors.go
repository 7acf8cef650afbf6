// SPDX-License-Identifier: MIT

package modelhost

import (
	"errors"
	"fmt"
)

// ErrModel marks any failure of the remote model host: transport, timeout,
// a failed prediction, or schema-invalid output.
var ErrModel = errors.New("modelhost: model run failed")

// ModelError carries the failing operation plus HTTP specifics when the
// failure happened at the transport level.
type ModelError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *ModelError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("modelhost: %s: status %d: %s", e.Op, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("modelhost: %s: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("modelhost: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("modelhost: %s", e.Op)
	}
}

func (e *ModelError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrModel
}

func modelErr(op string, err error) error {
	return &ModelError{Op: op, Err: fmt.Errorf("%w: %w", ErrModel, err)}
}

func modelHTTPErr(op string, status int, body string) error {
	const maxBody = 200
	if len(body) > maxBody {
		body = body[:maxBody] + "..."
	}
	return &ModelError{Op: op, Status: status, Body: body, Err: ErrModel}
}
