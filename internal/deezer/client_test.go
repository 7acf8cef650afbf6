// SPDX-License-Identifier: MIT

package deezer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsync/stemsync/internal/config"
)

func testConfig(base string) config.SourceConfig {
	return config.SourceConfig{
		APIURL:          base,
		Token:           "test-token",
		SearchTimeout:   2 * time.Second,
		InfoTimeout:     2 * time.Second,
		DownloadTimeout: 2 * time.Second,
		CacheTTL:        5 * time.Minute,
	}
}

func TestSearchDeduplicatesResults(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "daft punk", r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": 1, "title": "One More Time", "artist": map[string]any{"name": "Daft Punk"}},
				{"id": 2, "title": "one more time", "artist": map[string]any{"name": "DAFT PUNK"}},
				{"id": 3, "title": "Aerodynamic", "artist": map[string]any{"name": "Daft Punk"}},
			},
		})
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	got, err := c.Search(context.Background(), "daft punk")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "One More Time", got[0].Title)
	assert.Equal(t, "3", got[1].ID)
}

func TestSearchUsesCache(t *testing.T) {
	var calls atomic.Int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": 7, "title": "Song", "artist": map[string]any{"name": "Artist"}},
			},
		})
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	_, err := c.Search(context.Background(), "Some Query")
	require.NoError(t, err)
	// Same query, different case and whitespace: still one upstream call.
	_, err = c.Search(context.Background(), "  some query ")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearchCacheExpires(t *testing.T) {
	var calls atomic.Int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	base := time.Now()
	c.cache.now = func() time.Time { return base }

	_, err := c.Search(context.Background(), "q")
	require.NoError(t, err)

	c.cache.now = func() time.Time { return base.Add(6 * time.Minute) }
	_, err = c.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetInfoKeepsRawBlob(t *testing.T) {
	payload := map[string]any{
		"id":       42,
		"title":    "Vertigo",
		"duration": 221,
		"artist":   map[string]any{"name": "Band"},
		"album":    map[string]any{"title": "Album", "cover_medium": "http://img/42.jpg"},
		"media":    map[string]any{"token": "opaque-dl-token"},
	}
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/track/42", r.URL.Path)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	info, err := c.GetInfo(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", info.ID)
	assert.Equal(t, "Vertigo", info.Title)
	assert.Equal(t, "Band", info.Artist)
	assert.Equal(t, 221, info.DurationSeconds)

	// The blob is the untouched upstream payload, media token included.
	var blob map[string]any
	require.NoError(t, json.Unmarshal(info.Blob, &blob))
	media, ok := blob["media"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "opaque-dl-token", media["token"])
}

func TestGetInfoNotFound(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	_, err := c.GetInfo(context.Background(), "999")
	assert.ErrorIs(t, err, ErrTrackNotFound)
}

func TestDownloadStreamsBody(t *testing.T) {
	audio := []byte("ID3\x04mp3-bytes-here")
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/download", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"token":"opaque"}`, string(body))
		_, _ = w.Write(audio)
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	rc, err := c.Download(context.Background(), json.RawMessage(`{"token":"opaque"}`))
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, audio, got)
}

func TestDownloadRejectsEmptyBlob(t *testing.T) {
	c := New(testConfig("http://unreachable.invalid"))
	_, err := c.Download(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSource)
}

func TestErrorsCarryStatusAndClass(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	_, err := c.Search(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSource)

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
	assert.Contains(t, se.Body, "upstream exploded")
}

func TestPing(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	require.NoError(t, New(testConfig(ok.URL)).Ping(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	assert.Error(t, New(testConfig(down.URL)).Ping(context.Background()))
}
