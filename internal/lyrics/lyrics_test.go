// SPDX-License-Identifier: MIT

package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsync/stemsync/internal/config"
)

func testConfig() config.LyricsConfig {
	return config.LyricsConfig{
		SearchTimeout:     5 * time.Second,
		GenerativeTimeout: 5 * time.Second,
	}
}

func TestFetchSearchHit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/search", r.URL.Path)
		assert.Equal(t, "Bohemian Rhapsody Queen", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"plainLyrics": ""},
			{"plainLyrics": "Is this the real life\n\nIs this just fantasy\n"}
		]`)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.SearchURL = srv.URL
	c := New(cfg)

	lines, err := c.Fetch(context.Background(), "Bohemian Rhapsody", "Queen")
	require.NoError(t, err)
	assert.Equal(t, []string{"Is this the real life", "Is this just fantasy"}, lines)
}

func TestFetchSearchMissNoScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.SearchURL = srv.URL
	c := New(cfg)

	lines, err := c.Fetch(context.Background(), "Unknown", "Nobody")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestFetchScrapeFallback(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// Plain search finds nothing.
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	// Scrape API resolves the song page.
	mux.HandleFunc("/scrape/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer scrape-token", r.Header.Get("Authorization"))
		resp := map[string]any{
			"response": map[string]any{
				"hits": []map[string]any{
					{"result": map[string]any{"url": srv.URL + "/songs/42"}},
				},
			},
		}
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	})
	// The page itself.
	mux.HandleFunc("/songs/42", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>
			<div data-lyrics-container="true">[Verse 1]<br>First line<br>Second line</div>
			<div data-lyrics-container="true">[Chorus]<br>Chorus lineYou might also like<br>Last line42Embed</div>
		</body></html>`)
	})

	cfg := testConfig()
	cfg.SearchURL = srv.URL
	cfg.ScrapeURL = srv.URL + "/scrape"
	cfg.ScrapeToken = "scrape-token"
	c := New(cfg)

	lines, err := c.Fetch(context.Background(), "Some Song", "Some Artist")
	require.NoError(t, err)
	assert.Equal(t, []string{"First line", "Second line", "Chorus line", "Last line"}, lines)
}

func TestFetchScrapeNoHits(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/scrape/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{"hits":[]}}`)
	})

	cfg := testConfig()
	cfg.SearchURL = srv.URL
	cfg.ScrapeURL = srv.URL + "/scrape"
	cfg.ScrapeToken = "scrape-token"
	c := New(cfg)

	lines, err := c.Fetch(context.Background(), "Some Song", "Some Artist")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestFetchSearchErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.SearchURL = srv.URL
	c := New(cfg)

	lines, err := c.Fetch(context.Background(), "Some Song", "Some Artist")
	require.Error(t, err)
	assert.Empty(t, lines)
	assert.Contains(t, err.Error(), "502")
}

func TestCleanScraped(t *testing.T) {
	raw := "[Intro]\n  First line  \n\n[Verse 1]\nSecond line\nYou might also like\nThird line7Embed"
	assert.Equal(t, []string{"First line", "Second line", "Third line"}, cleanScraped(raw))
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitLines(" a \n\n b \n"))
	assert.Empty(t, splitLines("  \n \n"))
}
