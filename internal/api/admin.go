// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stemsync/stemsync/internal/db"
	"github.com/stemsync/stemsync/internal/log"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := s.db.ListFailures(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"failures": failures,
		"count":    len(failures),
	})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	unresolvedOnly := r.URL.Query().Get("unresolved") == "true"

	entries, err := s.db.ListErrorLogs(r.Context(), limit, offset, unresolvedOnly)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"errors": entries,
		"count":  len(entries),
	})
}

func (s *Server) handleResolveError(w http.ResponseWriter, r *http.Request) {
	errorID, err := strconv.ParseInt(chi.URLParam(r, "errorID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid error id")
		return
	}

	ok, err := s.db.ResolveError(r.Context(), errorID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "error entry not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": errorID})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	logs, total, err := s.db.ListUsageLogs(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":        logs,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
		"total_pages": (total + limit - 1) / limit,
	})
}

// pagination reads limit/offset with sane bounds.
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"queue": s.registry.All()})
}

// unfinishedTrack names a track directory that is missing artifacts, with
// the list of what a reprocess would have to produce.
type unfinishedTrack struct {
	TrackID string   `json:"track_id"`
	Missing []string `json:"missing"`
}

func (s *Server) handleUnfinished(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.AllTrackIDs()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	unfinished := make([]unfinishedTrack, 0)
	for _, id := range ids {
		if missing := s.store.MissingArtifacts(id); len(missing) > 0 {
			unfinished = append(unfinished, unfinishedTrack{TrackID: id, Missing: missing})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"unfinished": unfinished,
		"count":      len(unfinished),
	})
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")

	stage := "all"
	var req struct {
		Stage string `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Stage != "" {
		stage = req.Stage
	} else if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := s.dispatcher.Reprocess(r.Context(), trackID, stage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleDeleteTrack(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")

	if entry, ok := s.registry.Get(trackID); ok && !entry.Status.Terminal() {
		writeError(w, http.StatusConflict, "track is already being processed")
		return
	}

	if err := s.store.Delete(trackID); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.db.DeleteFailure(r.Context(), trackID); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldTrackID, trackID).Msg("failure row delete failed")
	}
	s.registry.Remove(trackID)

	s.logger.Info().Str(log.FieldTrackID, trackID).Msg("track deleted")
	writeJSON(w, http.StatusOK, map[string]string{"deleted": trackID})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Credits  int    `json:"credits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "missing username")
		return
	}
	if req.Credits < 0 {
		writeError(w, http.StatusBadRequest, "credits must not be negative")
		return
	}

	if _, err := s.db.UserByUsername(r.Context(), req.Username); err == nil {
		writeError(w, http.StatusConflict, "username already exists")
		return
	} else if !errors.Is(err, db.ErrUserNotFound) {
		s.fail(w, r, err)
		return
	}

	user, err := s.db.CreateUser(r.Context(), req.Username, req.Credits)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info().Str(log.FieldUsername, user.Username).Msg("user created")
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"api_key":  user.APIKey,
		"credits":  user.Credits,
	})
}

func (s *Server) handleGrantCredits(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		Amount int `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	if _, err := s.db.UserByID(r.Context(), userID); err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.fail(w, r, err)
		return
	}
	if err := s.db.AddCredits(r.Context(), userID, req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}

	user, err := s.db.UserByID(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      user.ID,
		"credits": user.Credits,
	})
}

// handleVerifyDB runs a SQLite integrity check against the live database
// file. The quick mode suffices for routine use; "full" walks every page.
func (s *Server) handleVerifyDB(w http.ResponseWriter, r *http.Request) {
	mode := "quick"
	if r.URL.Query().Get("mode") == "full" {
		mode = "full"
	}

	issues, err := db.VerifyIntegrity(s.db.Path(), mode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if issues == nil {
		issues = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    mode,
		"healthy": len(issues) == 0,
		"issues":  issues,
	})
}

func (s *Server) handleHealthList(w http.ResponseWriter, r *http.Request) {
	components, err := s.db.LatestSystemStatus(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"components": components})
}

func (s *Server) handleHealthHistory(w http.ResponseWriter, r *http.Request) {
	component := strings.TrimSpace(r.URL.Query().Get("component"))
	if component == "" {
		writeError(w, http.StatusBadRequest, "missing component")
		return
	}
	limit, _ := pagination(r)

	history, err := s.db.SystemStatusHistory(r.Context(), component, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"component": component,
		"history":   history,
		"count":     len(history),
	})
}

func (s *Server) handleHealthRun(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeError(w, http.StatusServiceUnavailable, "health checks not configured")
		return
	}
	user := userFrom(r.Context())
	checks := s.health.RunAll(r.Context(), user.Username)
	writeJSON(w, http.StatusOK, map[string]any{"checks": checks})
}
