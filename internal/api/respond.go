// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/stemsync/stemsync/internal/db"
	"github.com/stemsync/stemsync/internal/deezer"
	"github.com/stemsync/stemsync/internal/dispatch"
	"github.com/stemsync/stemsync/internal/log"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps an error to its HTTP status. Expected rejections become client
// errors with the sentinel's message; anything else is a 500 with a generic
// body, the detail goes to the error log.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dispatch.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, dispatch.ErrAlreadyProcessing):
		writeError(w, http.StatusConflict, "track is already being processed")
	case errors.Is(err, dispatch.ErrUnknownStage):
		writeError(w, http.StatusBadRequest, "unknown reprocess stage")
	case errors.Is(err, deezer.ErrTrackNotFound):
		writeError(w, http.StatusNotFound, "track not found")
	default:
		s.recordAPIError(r, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// recordAPIError persists an unexpected handler failure. A fresh context is
// used so the row survives a canceled request.
func (s *Server) recordAPIError(r *http.Request, err error) {
	logger := log.WithContext(r.Context(), s.logger)
	logger.Error().Err(err).
		Str("method", r.Method).
		Str(log.FieldPath, r.URL.Path).
		Msg("request failed")

	entry := db.ErrorEntry{
		ErrorType:     db.ErrorTypeAPI,
		Source:        r.URL.Path,
		ErrorMessage:  err.Error(),
		StackTrace:    string(debug.Stack()),
		RequestMethod: r.Method,
		RequestPath:   r.URL.Path,
	}
	if user := userFrom(r.Context()); user != nil {
		entry.UserID = user.ID
		entry.Username = user.Username
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if dbErr := s.db.InsertErrorLog(ctx, entry); dbErr != nil {
		s.logger.Warn().Err(dbErr).Msg("error log write failed")
	}
}
