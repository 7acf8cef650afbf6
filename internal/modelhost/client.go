// SPDX-License-Identifier: MIT

// Package modelhost runs the separator and aligner models on a remote
// prediction API: upload the audio, create a prediction, poll it to a
// terminal state, parse the output.
package modelhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/stemsync/stemsync/internal/config"
	"github.com/stemsync/stemsync/internal/log"
	"github.com/stemsync/stemsync/internal/metrics"
)

// Client is the model host HTTP client. Safe for concurrent use; polling is
// rate-limited across all in-flight predictions so parallel pipelines do
// not hammer the API.
type Client struct {
	base             string
	token            string
	http             *http.Client
	separatorVersion string
	alignerVersion   string
	separatorTimeout time.Duration
	alignerTimeout   time.Duration
	poll             *rate.Limiter
	logger           zerolog.Logger
}

func New(cfg config.ModelHostConfig) *Client {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Client{
		base:             strings.TrimRight(cfg.APIURL, "/"),
		token:            cfg.Token,
		http:             &http.Client{},
		separatorVersion: cfg.SeparatorVersion,
		alignerVersion:   cfg.AlignerVersion,
		separatorTimeout: cfg.SeparatorTimeout,
		alignerTimeout:   cfg.AlignerTimeout,
		poll:             rate.NewLimiter(rate.Every(interval), 1),
		logger:           log.WithComponent("modelhost"),
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
	return req, nil
}

// Upload pushes a local file to the host's file storage and returns the URL
// models can read it from.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", modelErr("upload", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("content", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/files", pr)
	if err != nil {
		return "", modelErr("upload", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", modelErr("upload", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", modelHTTPErr("upload", resp.StatusCode, string(body))
	}

	var out struct {
		URLs struct {
			Get string `json:"get"`
		} `json:"urls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", modelErr("upload", fmt.Errorf("decode response: %w", err))
	}
	if out.URLs.Get == "" {
		return "", modelErr("upload", fmt.Errorf("no file URL in response"))
	}
	return out.URLs.Get, nil
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// runPrediction creates a prediction and polls it until it terminates,
// within the given budget.
func (c *Client) runPrediction(ctx context.Context, op, version string, input map[string]any, budget time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	reqBody, err := json.Marshal(map[string]any{"version": version, "input": input})
	if err != nil {
		return nil, modelErr(op, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/predictions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, modelErr(op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, modelErr(op, err)
	}
	p, err := decodePrediction(op, resp)
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, modelErr(op, fmt.Errorf("prediction created without id"))
	}
	c.logger.Debug().Str("op", op).Str("prediction", p.ID).Msg("prediction created")

	for {
		switch p.Status {
		case "succeeded":
			return p.Output, nil
		case "failed", "canceled":
			return nil, modelErr(op, fmt.Errorf("prediction %s %s: %s", p.ID, p.Status, p.Error))
		}
		if err := c.poll.Wait(ctx); err != nil {
			return nil, modelErr(op, err)
		}
		req, err := c.newRequest(ctx, http.MethodGet, "/predictions/"+p.ID, nil)
		if err != nil {
			return nil, modelErr(op, err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, modelErr(op, err)
		}
		p, err = decodePrediction(op, resp)
		if err != nil {
			return nil, err
		}
	}
}

func decodePrediction(op string, resp *http.Response) (prediction, error) {
	defer resp.Body.Close()
	var p prediction
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return p, modelHTTPErr(op, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return p, modelErr(op, fmt.Errorf("decode prediction: %w", err))
	}
	return p, nil
}

// Fetch streams a model output file (a stem URL from the separator). The
// separator budget bounds the transfer; closing the reader releases it.
func (c *Client) Fetch(ctx context.Context, fileURL string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, c.separatorTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		cancel()
		return nil, modelErr("fetch", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, modelErr("fetch", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, modelHTTPErr("fetch", resp.StatusCode, string(body))
	}
	return &cancelReadCloser{rc: resp.Body, cancel: cancel}, nil
}

// Ping probes the predictions endpoint for the health check.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/predictions", nil)
	if err != nil {
		return modelErr("ping", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return modelErr("ping", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
	if resp.StatusCode >= http.StatusInternalServerError {
		return modelHTTPErr("ping", resp.StatusCode, "")
	}
	return nil
}

func observeModelCall(model string, err error) {
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	metrics.ModelCalls.WithLabelValues(model, outcome).Inc()
}

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
