// SPDX-License-Identifier: MIT

package lyrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Lyrics pages block obvious bots; a browser user agent keeps the scrape
// working.
const scrapeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

var (
	embedSuffixRe   = regexp.MustCompile(`\d*Embed$`)
	sectionHeaderRe = regexp.MustCompile(`^\[.*\]$`)
)

// fetchScrape searches the scrape source's API for the song page, fetches
// it, and extracts the lyric lines from the page markup.
func (c *Client) fetchScrape(ctx context.Context, title, artist string) ([]string, error) {
	pageURL, err := c.scrapeSearch(ctx, title, artist)
	if err != nil {
		return nil, err
	}
	if pageURL == "" {
		return nil, nil
	}
	return c.scrapePage(ctx, pageURL)
}

func (c *Client) scrapeSearch(ctx context.Context, title, artist string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.searchTimeout)
	defer cancel()

	q := url.Values{"q": {title + " " + artist}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.scrapeURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("scrape search: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.scrapeToken)
	req.Header.Set("Accept", "application/json")

	var payload struct {
		Response struct {
			Hits []struct {
				Result struct {
					URL string `json:"url"`
				} `json:"result"`
			} `json:"hits"`
		} `json:"response"`
	}
	if err := c.doJSON(req, &payload); err != nil {
		return "", fmt.Errorf("scrape search: %w", err)
	}
	if len(payload.Response.Hits) == 0 {
		return "", nil
	}
	return payload.Response.Hits[0].Result.URL, nil
}

func (c *Client) scrapePage(ctx context.Context, pageURL string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.searchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("scrape page: %w", err)
	}
	req.Header.Set("User-Agent", scrapeUserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape page: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("scrape page: parse html: %w", err)
	}

	containers := doc.Find("div[data-lyrics-container='true']")
	if containers.Length() == 0 {
		return nil, nil
	}

	var parts []string
	containers.Each(func(_ int, sel *goquery.Selection) {
		// <br> carries the line structure; the text nodes alone run
		// together without it.
		sel.Find("br").Each(func(_ int, br *goquery.Selection) {
			br.ReplaceWithHtml("\n")
		})
		parts = append(parts, sel.Text())
	})

	return cleanScraped(strings.Join(parts, "\n")), nil
}

// cleanScraped strips the page chrome that rides along with scraped lyrics:
// the trailing "123Embed" marker, injected suggestions, and section headers
// like [Chorus].
func cleanScraped(raw string) []string {
	text := strings.TrimSpace(raw)
	text = embedSuffixRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "You might also like", "")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || sectionHeaderRe.MatchString(line) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
