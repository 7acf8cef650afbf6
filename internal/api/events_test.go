// SPDX-License-Identifier: MIT

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsync/stemsync/internal/status"
)

// readEvent scans the stream until the next data line. The request context
// deadline bounds the wait.
func readEvent(t *testing.T, r *bufio.Reader) status.TrackStatus {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			var update status.TrackStatus
			require.NoError(t, json.Unmarshal([]byte(data), &update))
			return update
		}
	}
}

func (h *harness) openEventStream(t *testing.T, ctx context.Context, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.ts.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+h.userKey)

	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestEventsSnapshotThenLive(t *testing.T) {
	h := newHarness(t)
	h.registry.Set("42", status.StateSplitting, 35, "separating stems")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := h.openEventStream(t, ctx, "/api/events?track_id=42")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	snapshot := readEvent(t, reader)
	assert.Equal(t, "42", snapshot.TrackID)
	assert.Equal(t, status.StateSplitting, snapshot.Status)

	h.feed.Publish(status.TrackStatus{TrackID: "42", Status: status.StateLyrics, Progress: 65})
	live := readEvent(t, reader)
	assert.Equal(t, status.StateLyrics, live.Status)
	assert.Equal(t, 65, live.Progress)
}

func TestEventsFilterExcludesOtherTracks(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := h.openEventStream(t, ctx, "/api/events?track_id=42")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reader := bufio.NewReader(resp.Body)

	h.feed.Publish(status.TrackStatus{TrackID: "7", Status: status.StateDownloading, Progress: 15})
	h.feed.Publish(status.TrackStatus{TrackID: "42", Status: status.StateMetadata, Progress: 5})

	got := readEvent(t, reader)
	assert.Equal(t, "42", got.TrackID)
}

func TestEventsRequireAuth(t *testing.T) {
	h := newHarness(t)

	resp := h.request(http.MethodGet, "/api/events", "", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
