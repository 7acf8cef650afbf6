// SPDX-License-Identifier: MIT

// Package deezer talks to the audio source service: track search, metadata
// lookup, and the original audio download. The download payload format is
// the source's business; we store it verbatim and hand it back.
package deezer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsync/stemsync/internal/config"
	"github.com/stemsync/stemsync/internal/log"
)

// SearchResult is one track candidate, already deduplicated.
type SearchResult struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album,omitempty"`
	CoverURL string `json:"cover_url,omitempty"`
}

// Info is the full track metadata. Blob is the source's raw payload,
// persisted opaquely so Download can be replayed after a restart.
type Info struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Artist          string          `json:"artist"`
	Album           string          `json:"album,omitempty"`
	DurationSeconds int             `json:"duration_seconds,omitempty"`
	CoverURL        string          `json:"cover_url,omitempty"`
	Blob            json.RawMessage `json:"-"`
}

// Client is the audio source HTTP client. Safe for concurrent use.
type Client struct {
	base            string
	token           string
	http            *http.Client
	searchTimeout   time.Duration
	infoTimeout     time.Duration
	downloadTimeout time.Duration
	cache           *searchCache
	logger          zerolog.Logger
}

func New(cfg config.SourceConfig) *Client {
	return &Client{
		base:            strings.TrimRight(cfg.APIURL, "/"),
		token:           cfg.Token,
		http:            &http.Client{},
		searchTimeout:   cfg.SearchTimeout,
		infoTimeout:     cfg.InfoTimeout,
		downloadTimeout: cfg.DownloadTimeout,
		cache:           newSearchCache(cfg.CacheTTL),
		logger:          log.WithComponent("deezer"),
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return srcErr(op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return srcErr(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrTrackNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return httpErr(op, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return srcErr(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// wire shapes of the source API.
type wireTrack struct {
	ID       json.Number `json:"id"`
	Title    string      `json:"title"`
	Duration int         `json:"duration"`
	Artist   struct {
		Name string `json:"name"`
	} `json:"artist"`
	Album struct {
		Title string `json:"title"`
		Cover string `json:"cover_medium"`
	} `json:"album"`
}

// Search queries the source for tracks. Results are deduplicated by
// case-insensitive (title, artist) and cached for the configured TTL.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, srcErr("search", fmt.Errorf("empty query"))
	}
	if hit, ok := c.cache.get(query); ok {
		return hit, nil
	}

	var payload struct {
		Data []wireTrack `json:"data"`
	}
	path := "/search?q=" + url.QueryEscape(query)
	if err := c.getJSON(ctx, "search", path, c.searchTimeout, &payload); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(payload.Data))
	results := make([]SearchResult, 0, len(payload.Data))
	for _, tr := range payload.Data {
		key := strings.ToLower(tr.Title) + "\x00" + strings.ToLower(tr.Artist.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		results = append(results, SearchResult{
			ID:       tr.ID.String(),
			Title:    tr.Title,
			Artist:   tr.Artist.Name,
			Album:    tr.Album.Title,
			CoverURL: tr.Album.Cover,
		})
	}
	c.cache.put(query, results)
	c.logger.Debug().Str("query", query).Int("results", len(results)).Msg("search completed")
	return results, nil
}

// GetInfo fetches full metadata for a track, including the opaque download
// payload.
func (c *Client) GetInfo(ctx context.Context, trackID string) (*Info, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "get_info", "/track/"+url.PathEscape(trackID), c.infoTimeout, &raw); err != nil {
		return nil, err
	}
	var tr wireTrack
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, srcErr("get_info", fmt.Errorf("decode track: %w", err))
	}
	return &Info{
		ID:              tr.ID.String(),
		Title:           tr.Title,
		Artist:          tr.Artist.Name,
		Album:           tr.Album.Title,
		DurationSeconds: tr.Duration,
		CoverURL:        tr.Album.Cover,
		Blob:            raw,
	}, nil
}

// Download streams the original audio for the given opaque payload. The
// caller owns the returned reader; closing it releases the request and its
// deadline.
func (c *Client) Download(ctx context.Context, blob json.RawMessage) (io.ReadCloser, error) {
	if len(blob) == 0 {
		return nil, srcErr("download", fmt.Errorf("empty download payload"))
	}
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)

	req, err := c.newRequest(ctx, http.MethodPost, "/download", strings.NewReader(string(blob)))
	if err != nil {
		cancel()
		return nil, srcErr("download", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, srcErr("download", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("download: %w", ErrTrackNotFound)
		}
		return nil, httpErr("download", resp.StatusCode, string(body))
	}
	return &cancelReadCloser{rc: resp.Body, cancel: cancel}, nil
}

// Ping probes the source for the health check. Anything the server answers
// counts as reachable; 5xx does not.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.searchTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return srcErr("ping", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return srcErr("ping", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
	if resp.StatusCode >= http.StatusInternalServerError {
		return httpErr("ping", resp.StatusCode, "")
	}
	return nil
}

// cancelReadCloser ties the request deadline to the body's lifetime.
type cancelReadCloser struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Read(p []byte) (int, error) { return c.rc.Read(p) }

func (c *cancelReadCloser) Close() error {
	err := c.rc.Close()
	c.cancel()
	return err
}
