// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stemsync/stemsync/internal/db"
	"github.com/stemsync/stemsync/internal/log"
	"github.com/stemsync/stemsync/internal/metrics"
	"github.com/stemsync/stemsync/internal/status"
	"github.com/stemsync/stemsync/internal/store"
	"github.com/stemsync/stemsync/internal/version"
)

// playChargeSeconds is the playback length after which a play costs one
// credit. Shorter plays are previews.
const playChargeSeconds = 15

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing search term")
		return
	}

	results, err := s.source.Search(r.Context(), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.logUsage(r, db.ActionSearch, query)
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleAddTrack(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")

	outcome, err := s.dispatcher.Add(r.Context(), trackID, userFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.logUsage(r, db.ActionDownload, trackID)
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleTrackStatus(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")

	if entry, ok := s.registry.Get(trackID); ok {
		writeJSON(w, http.StatusOK, entry)
		return
	}
	// Completed before this process started: the registry is empty but the
	// artifacts are authoritative.
	if s.store.IsComplete(trackID) {
		writeJSON(w, http.StatusOK, status.TrackStatus{
			TrackID:  trackID,
			Status:   status.StateComplete,
			Progress: 100,
		})
		return
	}
	writeError(w, http.StatusNotFound, "track not found")
}

func (s *Server) handleStatusAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tracks": s.registry.All()})
}

func (s *Server) handleTrackMetadata(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")

	if s.store.Exists(trackID, store.KeyMetadata) {
		var meta store.Metadata
		if err := s.store.LoadJSON(trackID, store.KeyMetadata, &meta); err != nil {
			s.fail(w, r, err)
			return
		}
		meta.DeezerData = nil
		writeJSON(w, http.StatusOK, meta)
		return
	}

	// Not downloaded yet: answer from the source without persisting.
	info, err := s.source.GetInfo(r.Context(), trackID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, store.Metadata{
		ID:              info.ID,
		Title:           info.Title,
		Artist:          info.Artist,
		Album:           info.Album,
		DurationSeconds: info.DurationSeconds,
		ImgURL:          info.CoverURL,
	})
}

// libraryEntry is one row in the library listing.
type libraryEntry struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	ImgURL          string `json:"img_url,omitempty"`
	Ready           bool   `json:"ready"`
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.AllTrackIDs()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	entries := make([]libraryEntry, 0, len(ids))
	for _, id := range ids {
		if !s.store.Exists(id, store.KeyMetadata) {
			continue
		}
		var meta store.Metadata
		if err := s.store.LoadJSON(id, store.KeyMetadata, &meta); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldTrackID, id).Msg("unreadable metadata, skipping")
			continue
		}
		entries = append(entries, libraryEntry{
			ID:              id,
			Title:           meta.Title,
			Artist:          meta.Artist,
			DurationSeconds: meta.DurationSeconds,
			ImgURL:          meta.ImgURL,
			Ready:           s.store.IsComplete(id),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Title) < strings.ToLower(entries[j].Title)
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"tracks": entries,
		"count":  len(entries),
	})
}

func (s *Server) handleRandomTrack(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.AllTrackIDs()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// Repeated ?exclude= params let the client avoid replaying recent picks.
	excluded := make(map[string]struct{})
	for _, id := range r.URL.Query()["exclude"] {
		excluded[id] = struct{}{}
	}

	candidates := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, skip := excluded[id]; skip {
			continue
		}
		if s.store.IsComplete(id) {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		writeError(w, http.StatusNotFound, "no completed tracks available")
		return
	}

	trackID := candidates[rand.IntN(len(candidates))]
	var meta store.Metadata
	if err := s.store.LoadJSON(trackID, store.KeyMetadata, &meta); err != nil {
		s.fail(w, r, err)
		return
	}
	meta.DeezerData = nil

	s.logUsage(r, db.ActionRandomPlay, trackID)
	writeJSON(w, http.StatusOK, map[string]any{
		"track_id": trackID,
		"metadata": meta,
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")
	if !s.store.Exists(trackID, store.KeyMetadata) {
		writeError(w, http.StatusNotFound, "track not found")
		return
	}

	var req struct {
		SecondsPlayed float64 `json:"seconds_played"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SecondsPlayed < playChargeSeconds {
		writeJSON(w, http.StatusOK, map[string]any{"charged": false})
		return
	}

	user := userFrom(r.Context())
	if user != nil && !user.IsAdmin {
		ok, err := s.db.DeductCredits(r.Context(), user.ID, 1)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !ok {
			writeError(w, http.StatusPaymentRequired, "insufficient credits")
			return
		}
		metrics.CreditsSpent.WithLabelValues("play").Add(1)
	}

	s.logUsage(r, db.ActionPlay, trackID)
	writeJSON(w, http.StatusOK, map[string]any{"charged": true})
}
