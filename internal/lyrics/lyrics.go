// SPDX-License-Identifier: MIT

// Package lyrics resolves reference lyric lines for a track. Resolution
// order: the plain lyrics search API first, then the scrape source, and
// finally (explicitly invoked by the pipeline) a generative provider that
// reconstructs lines from the ASR transcript and the isolated vocals.
package lyrics

import (
	"context"
	"encoding/json"
	"errors"
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

// ErrReferenceUnavailable marks a track whose reference lyrics could not be
// resolved from any source. The pipeline fails a track with this error only
// when the transcript is empty as well.
var ErrReferenceUnavailable = errors.New("lyrics: reference lyrics unavailable")

// ErrGenerativeDisabled is returned by FetchGenerative and Ping when no
// generative provider credentials are configured.
var ErrGenerativeDisabled = errors.New("lyrics: generative provider not configured")

// Client fetches reference lyrics. Safe for concurrent use.
type Client struct {
	searchURL   string
	scrapeURL   string
	scrapeToken string

	orBase  string
	orKey   string
	orModel string
	referer string

	http              *http.Client
	searchTimeout     time.Duration
	generativeTimeout time.Duration
	logger            zerolog.Logger
}

func New(cfg config.LyricsConfig) *Client {
	return &Client{
		searchURL:         strings.TrimRight(cfg.SearchURL, "/"),
		scrapeURL:         strings.TrimRight(cfg.ScrapeURL, "/"),
		scrapeToken:       cfg.ScrapeToken,
		orBase:            strings.TrimRight(cfg.OpenRouterURL, "/"),
		orKey:             cfg.OpenRouterKey,
		orModel:           cfg.OpenRouterModel,
		referer:           cfg.Referer,
		http:              &http.Client{},
		searchTimeout:     cfg.SearchTimeout,
		generativeTimeout: cfg.GenerativeTimeout,
		logger:            log.WithComponent("lyrics"),
	}
}

// Fetch resolves reference lines for a track: search API first, scrape
// fallback second. A (nil, nil) return means no source had the song; an
// error means every attempted source failed.
func (c *Client) Fetch(ctx context.Context, title, artist string) ([]string, error) {
	lines, err := c.fetchSearch(ctx, title, artist)
	if err != nil {
		c.logger.Warn().Err(err).Str("title", title).Str("artist", artist).
			Msg("lyrics search failed")
	}
	if len(lines) > 0 {
		return lines, nil
	}

	if c.scrapeURL == "" || c.scrapeToken == "" {
		return nil, err
	}
	scraped, serr := c.fetchScrape(ctx, title, artist)
	if serr != nil {
		c.logger.Warn().Err(serr).Str("title", title).Str("artist", artist).
			Msg("lyrics scrape failed")
		if err == nil {
			err = serr
		}
		return nil, err
	}
	return scraped, nil
}

// fetchSearch queries the plain lyrics search API. The response is a list
// of candidates; the first one carrying plain lyrics wins.
func (c *Client) fetchSearch(ctx context.Context, title, artist string) ([]string, error) {
	if c.searchURL == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.searchTimeout)
	defer cancel()

	q := url.Values{"q": {title + " " + artist}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL+"/api/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var results []struct {
		PlainLyrics string `json:"plainLyrics"`
	}
	if err := c.doJSON(req, &results); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	for _, r := range results {
		if lines := splitLines(r.PlainLyrics); len(lines) > 0 {
			return lines, nil
		}
	}
	return nil, nil
}

// splitLines breaks a lyrics blob into trimmed, non-empty lines.
func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// doJSON executes a request and decodes a JSON response body into out.
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
