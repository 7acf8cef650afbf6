// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldTrackID   = "track_id"
	FieldUserID    = "user_id"
	FieldUsername  = "username"

	// Pipeline fields
	FieldComponent = "component"
	FieldStage     = "stage"
	FieldProgress  = "progress"
	FieldDetail    = "detail"
	FieldArtifact  = "artifact"

	// Path / URL fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"
)
