// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsync/stemsync/internal/db"
	"github.com/stemsync/stemsync/internal/dispatch"
	"github.com/stemsync/stemsync/internal/health"
	"github.com/stemsync/stemsync/internal/status"
	"github.com/stemsync/stemsync/internal/store"
)

func TestAdminFailuresListing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.RecordFailure(ctx, "42", "splitting", "separator timed out"))
	require.NoError(t, h.db.RecordFailure(ctx, "42", "splitting", "separator timed out again"))

	resp := h.request(http.MethodGet, "/api/admin/failures", h.adminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Failures []db.Failure `json:"failures"`
		Count    int          `json:"count"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, 2, body.Failures[0].FailureCount)
	assert.Equal(t, "separator timed out again", body.Failures[0].ErrorMessage)
}

func TestAdminErrorsListing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.InsertErrorLog(context.Background(), db.ErrorEntry{
		ErrorType:    db.ErrorTypePipeline,
		Source:       "lyrics",
		ErrorMessage: "aligner unreachable",
		TrackID:      "42",
	}))

	resp := h.request(http.MethodGet, "/api/admin/errors?unresolved=true", h.adminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Errors []db.ErrorEntry `json:"errors"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "42", body.Errors[0].TrackID)
}

func TestAdminUsagePagination(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, h.db.InsertUsageLog(ctx, h.userID, "casey", db.ActionSearch, fmt.Sprintf("query-%d", i)))
	}

	resp := h.request(http.MethodGet, "/api/admin/usage?limit=3&offset=3", h.adminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Logs       []db.UsageLog `json:"logs"`
		Total      int           `json:"total"`
		Limit      int           `json:"limit"`
		TotalPages int           `json:"total_pages"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, 7, body.Total)
	assert.Equal(t, 3, body.Limit)
	assert.Equal(t, 3, body.TotalPages)
	require.Len(t, body.Logs, 3)
	// Newest first; offset 3 skips queries 6, 5, 4.
	assert.Equal(t, "query-3", body.Logs[0].Detail)
}

func TestAdminQueueSnapshot(t *testing.T) {
	h := newHarness(t)
	h.registry.Set("42", status.StateLyrics, 65, "")

	resp := h.request(http.MethodGet, "/api/admin/queue", h.adminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Queue map[string]status.TrackStatus `json:"queue"`
	}
	decodeBody(t, resp, &body)
	require.Contains(t, body.Queue, "42")
	assert.Equal(t, status.StateLyrics, body.Queue["42"].Status)
}

func TestAdminUnfinishedTracks(t *testing.T) {
	h := newHarness(t)
	h.seedComplete("100", "Complete Song")
	// Partial: metadata only.
	require.NoError(t, h.store.SaveJSON("101", store.KeyMetadata, store.Metadata{ID: "101", Title: "WIP"}))

	resp := h.request(http.MethodGet, "/api/admin/unfinished", h.adminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Unfinished []unfinishedTrack `json:"unfinished"`
		Count      int               `json:"count"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "101", body.Unfinished[0].TrackID)
	assert.Contains(t, body.Unfinished[0].Missing, store.KeyLyrics)
}

func TestAdminReprocessDefaultsToAll(t *testing.T) {
	h := newHarness(t)

	resp := h.request(http.MethodPost, "/api/admin/tracks/42/reprocess", h.adminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.Len(t, h.dispatcher.reprocessed, 1)
	assert.Equal(t, [2]string{"42", "all"}, h.dispatcher.reprocessed[0])
}

func TestAdminReprocessStageSelection(t *testing.T) {
	h := newHarness(t)

	resp := h.request(http.MethodPost, "/api/admin/tracks/42/reprocess", h.adminKey, `{"stage":"lyrics"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.Len(t, h.dispatcher.reprocessed, 1)
	assert.Equal(t, [2]string{"42", "lyrics"}, h.dispatcher.reprocessed[0])
}

func TestAdminReprocessUnknownStage(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.err = dispatch.ErrUnknownStage

	resp := h.request(http.MethodPost, "/api/admin/tracks/42/reprocess", h.adminKey, `{"stage":"bogus"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminDeleteTrack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedComplete("42", "Doomed")
	require.NoError(t, h.db.RecordFailure(ctx, "42", "lyrics", "old failure"))
	h.registry.Set("42", status.StateComplete, 100, "")

	resp := h.request(http.MethodDelete, "/api/admin/tracks/42", h.adminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.False(t, h.store.Exists("42", store.KeyMetadata))
	failure, err := h.db.FailureByTrack(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, failure)
	_, ok := h.registry.Get("42")
	assert.False(t, ok)
}

func TestAdminDeleteRefusesLiveTrack(t *testing.T) {
	h := newHarness(t)
	h.seedComplete("42", "Busy")
	h.registry.Set("42", status.StateSplitting, 35, "")

	resp := h.request(http.MethodDelete, "/api/admin/tracks/42", h.adminKey, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.True(t, h.store.Exists("42", store.KeyMetadata))
}

func TestAdminCreateUserAndGrantCredits(t *testing.T) {
	h := newHarness(t)

	resp := h.request(http.MethodPost, "/api/admin/users", h.adminKey, `{"username":"newbie","credits":10}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID      int64  `json:"id"`
		APIKey  string `json:"api_key"`
		Credits int    `json:"credits"`
	}
	decodeBody(t, resp, &created)
	assert.NotEmpty(t, created.APIKey)
	assert.Equal(t, 10, created.Credits)

	// The fresh key authenticates.
	resp = h.request(http.MethodGet, "/api/status", created.APIKey, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = h.request(http.MethodPost, fmt.Sprintf("/api/admin/users/%d/credits", created.ID), h.adminKey, `{"amount":5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var granted struct {
		Credits int `json:"credits"`
	}
	decodeBody(t, resp, &granted)
	assert.Equal(t, 15, granted.Credits)
}

func TestAdminCreateUserDuplicate(t *testing.T) {
	h := newHarness(t)

	resp := h.request(http.MethodPost, "/api/admin/users", h.adminKey, `{"username":"casey","credits":5}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAdminGrantCreditsUnknownUser(t *testing.T) {
	h := newHarness(t)

	resp := h.request(http.MethodPost, "/api/admin/users/9999/credits", h.adminKey, `{"amount":5}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminHealthEndpoints(t *testing.T) {
	h := newHarness(t)
	h.health.checks = []health.Check{
		{Component: health.ComponentDatabase, Status: db.StatusOK, Details: "database reachable"},
	}
	require.NoError(t, h.db.InsertSystemStatus(context.Background(),
		health.ComponentQueue, db.StatusOK, "0 tracks processing", "scheduler"))

	resp := h.request(http.MethodPost, "/api/admin/health/run", h.adminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run struct {
		Checks []health.Check `json:"checks"`
	}
	decodeBody(t, resp, &run)
	require.Len(t, run.Checks, 1)
	assert.Equal(t, health.ComponentDatabase, run.Checks[0].Component)

	resp = h.request(http.MethodGet, "/api/admin/health", h.adminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Components []db.ComponentStatus `json:"components"`
	}
	decodeBody(t, resp, &list)
	require.Len(t, list.Components, 1)
	assert.Equal(t, health.ComponentQueue, list.Components[0].Component)
}

func TestAdminVerifyDatabase(t *testing.T) {
	h := newHarness(t)

	resp := h.request(http.MethodPost, "/api/admin/db/verify", h.adminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Mode    string   `json:"mode"`
		Healthy bool     `json:"healthy"`
		Issues  []string `json:"issues"`
	}
	decodeBody(t, resp, &out)
	assert.Equal(t, "quick", out.Mode)
	assert.True(t, out.Healthy)
	assert.Empty(t, out.Issues)

	resp = h.request(http.MethodPost, "/api/admin/db/verify?mode=full", h.adminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &out)
	assert.Equal(t, "full", out.Mode)
	assert.True(t, out.Healthy)
}

func TestAdminResolveError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.InsertErrorLog(ctx, db.ErrorEntry{
		ErrorType:    db.ErrorTypePipeline,
		Source:       "splitting",
		ErrorMessage: "separator timeout",
		TrackID:      "42",
	}))
	entries, err := h.db.ListErrorLogs(ctx, 10, 0, true)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	resp := h.request(http.MethodPost,
		fmt.Sprintf("/api/admin/errors/%d/resolve", entries[0].ID), h.adminKey, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	open, err := h.db.ListErrorLogs(ctx, 10, 0, true)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestAdminResolveErrorUnknownIs404(t *testing.T) {
	h := newHarness(t)

	resp := h.request(http.MethodPost, "/api/admin/errors/9999/resolve", h.adminKey, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.request(http.MethodPost, "/api/admin/errors/abc/resolve", h.adminKey, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminHealthHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.InsertSystemStatus(ctx, health.ComponentDatabase, db.StatusOK, "database reachable", "scheduler"))
	require.NoError(t, h.db.InsertSystemStatus(ctx, health.ComponentDatabase, db.StatusError, "locked", "scheduler"))
	require.NoError(t, h.db.InsertSystemStatus(ctx, health.ComponentQueue, db.StatusOK, "0 tracks processing", "scheduler"))

	resp := h.request(http.MethodGet, "/api/admin/health/history?component=database", h.adminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Component string               `json:"component"`
		History   []db.ComponentStatus `json:"history"`
		Count     int                  `json:"count"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, health.ComponentDatabase, body.Component)
	require.Len(t, body.History, 2)
	// Newest first.
	assert.Equal(t, db.StatusError, body.History[0].Status)

	resp = h.request(http.MethodGet, "/api/admin/health/history", h.adminKey, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
