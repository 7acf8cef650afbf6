// SPDX-License-Identifier: MIT

package modelhost

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsync/stemsync/internal/config"
)

func testConfig(base string) config.ModelHostConfig {
	return config.ModelHostConfig{
		APIURL:           base,
		Token:            "test-token",
		SeparatorVersion: "sep-v1",
		AlignerVersion:   "align-v1",
		SeparatorTimeout: 5 * time.Second,
		AlignerTimeout:   5 * time.Second,
		PollInterval:     5 * time.Millisecond,
	}
}

func TestParseSeparatorOutputMapping(t *testing.T) {
	out, err := ParseSeparatorOutput(json.RawMessage(`{"vocals":"http://v","no_vocals":"http://nv"}`))
	require.NoError(t, err)
	assert.Equal(t, SeparatorMapping, out.Kind)
	assert.Equal(t, "http://v", out.Vocals)
	assert.Equal(t, "http://nv", out.NoVocals)
}

func TestParseSeparatorOutputMappingOtherFallback(t *testing.T) {
	out, err := ParseSeparatorOutput(json.RawMessage(`{"vocals":"http://v","other":"http://inst"}`))
	require.NoError(t, err)
	assert.Equal(t, "http://inst", out.NoVocals)
}

func TestParseSeparatorOutputPair(t *testing.T) {
	out, err := ParseSeparatorOutput(json.RawMessage(`["http://v","http://nv"]`))
	require.NoError(t, err)
	assert.Equal(t, SeparatorPair, out.Kind)
	assert.Equal(t, "http://v", out.Vocals)
	assert.Equal(t, "http://nv", out.NoVocals)
}

func TestParseSeparatorOutputVocalsOnlyList(t *testing.T) {
	out, err := ParseSeparatorOutput(json.RawMessage(`["http://v"]`))
	require.NoError(t, err)
	assert.Equal(t, "http://v", out.Vocals)
	assert.Empty(t, out.NoVocals)
}

func TestParseSeparatorOutputSingle(t *testing.T) {
	out, err := ParseSeparatorOutput(json.RawMessage(`"http://v"`))
	require.NoError(t, err)
	assert.Equal(t, SeparatorSingle, out.Kind)
	assert.Equal(t, "http://v", out.Vocals)
	assert.Empty(t, out.NoVocals)
}

func TestParseSeparatorOutputRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"mapping without vocals": `{"drums":"http://d"}`,
		"empty list":             `[]`,
		"empty url":              `""`,
		"unknown shape":          `123`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSeparatorOutput(json.RawMessage(raw))
			require.ErrorIs(t, err, ErrModel)
		})
	}
}

func TestRunSeparatorPollsToCompletion(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /predictions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		var req struct {
			Version string         `json:"version"`
			Input   map[string]any `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sep-v1", req.Version)
		assert.Equal(t, "http://files/song", req.Input["audio"])
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "p1", "status": "starting"})
	})
	mux.HandleFunc("GET /predictions/p1", func(w http.ResponseWriter, _ *http.Request) {
		out := map[string]any{"id": "p1", "status": "processing"}
		if polls.Add(1) >= 2 {
			out["status"] = "succeeded"
			out["output"] = map[string]string{"vocals": "http://v", "no_vocals": "http://nv"}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	s := httptest.NewServer(mux)
	defer s.Close()

	c := New(testConfig(s.URL))
	out, err := c.RunSeparator(context.Background(), "http://files/song")
	require.NoError(t, err)
	assert.Equal(t, "http://v", out.Vocals)
	assert.Equal(t, "http://nv", out.NoVocals)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestRunSeparatorPredictionFailed(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "p2", "status": "failed", "error": "CUDA out of memory",
		})
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	_, err := c.RunSeparator(context.Background(), "http://files/song")
	require.ErrorIs(t, err, ErrModel)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestRunPredictionHTTPError(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"invalid version"}`, http.StatusUnprocessableEntity)
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	_, err := c.RunSeparator(context.Background(), "http://files/song")
	require.Error(t, err)
	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, http.StatusUnprocessableEntity, me.Status)
	assert.Contains(t, me.Body, "invalid version")
}

func TestRunAlignerSendsTextPrior(t *testing.T) {
	var gotInput map[string]any
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Version string         `json:"version"`
			Input   map[string]any `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotInput = req.Input
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "a1", "status": "succeeded",
			"output": map[string]any{
				"segments": []map[string]any{
					{
						"start": 1.0, "end": 4.0, "speaker": "SPEAKER_00",
						"words": []map[string]any{
							{"word": "hello", "start": 1.0, "end": 1.5},
							{"word": "world"},
						},
					},
				},
			},
		})
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	tr, err := c.RunAligner(context.Background(), "http://files/vocals", AlignerOptions{
		Diarize:   true,
		TextPrior: []string{"hello world", "second line"},
	})
	require.NoError(t, err)

	assert.Equal(t, "http://files/vocals", gotInput["audio"])
	assert.Equal(t, true, gotInput["diarize"])
	assert.Equal(t, "hello world\nsecond line", gotInput["initial_prompt"])

	require.Len(t, tr.Segments, 1)
	require.Len(t, tr.Segments[0].Words, 2)
	// Normalize inherits missing word bounds and speaker from the segment.
	assert.Equal(t, 1.0, tr.Segments[0].Words[1].Start)
	assert.Equal(t, 4.0, tr.Segments[0].Words[1].End)
	assert.Equal(t, "SPEAKER_00", tr.Segments[0].Words[1].Speaker)
}

func TestRunAlignerOmitsPromptWithoutPrior(t *testing.T) {
	var gotInput map[string]any
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input map[string]any `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotInput = req.Input
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "a2", "status": "succeeded",
			"output": map[string]any{"segments": []map[string]any{}},
		})
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	_, err := c.RunAligner(context.Background(), "http://files/vocals", AlignerOptions{})
	require.NoError(t, err)
	assert.NotContains(t, gotInput, "initial_prompt")
	assert.Equal(t, false, gotInput["diarize"])
}

func TestRunAlignerRejectsBadSchema(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "a3", "status": "succeeded",
			"output": map[string]any{"segments": "not a list"},
		})
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	_, err := c.RunAligner(context.Background(), "http://files/vocals", AlignerOptions{})
	require.ErrorIs(t, err, ErrModel)
}

func TestUploadReturnsFileURL(t *testing.T) {
	var gotName string
	var gotBody []byte
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files", r.URL.Path)
		f, hdr, err := r.FormFile("content")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		gotName = hdr.Filename
		gotBody, err = io.ReadAll(f)
		assert.NoError(t, err)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"urls": map[string]string{"get": "http://files/abc123"},
		})
	}))
	defer s.Close()

	path := filepath.Join(t.TempDir(), "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio-bytes"), 0o600))

	c := New(testConfig(s.URL))
	url, err := c.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "http://files/abc123", url)
	assert.Equal(t, "song.mp3", gotName)
	assert.Equal(t, []byte("audio-bytes"), gotBody)
}

func TestUploadMissingFile(t *testing.T) {
	c := New(testConfig("http://unused"))
	_, err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.mp3"))
	require.ErrorIs(t, err, ErrModel)
}

func TestFetchStreamsBody(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("stem-bytes"))
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	rc, err := c.Fetch(context.Background(), s.URL+"/out/vocals.mp3")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, []byte("stem-bytes"), body)
}

func TestFetchPropagatesHTTPError(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer s.Close()

	c := New(testConfig(s.URL))
	_, err := c.Fetch(context.Background(), s.URL+"/out/vocals.mp3")
	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, http.StatusNotFound, me.Status)
}

func TestPing(t *testing.T) {
	status := atomic.Int32{}
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer s.Close()

	c := New(testConfig(s.URL))

	status.Store(http.StatusOK)
	require.NoError(t, c.Ping(context.Background()))

	// Auth or routing quirks are still a live host.
	status.Store(http.StatusUnauthorized)
	require.NoError(t, c.Ping(context.Background()))

	status.Store(http.StatusInternalServerError)
	err := c.Ping(context.Background())
	require.Error(t, err)
	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, http.StatusInternalServerError, me.Status)
}

func TestRunPredictionRespectsContext(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Never terminates; the caller's context has to cut it off.
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "p9", "status": "processing"})
	}))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := New(testConfig(s.URL))
	_, err := c.RunSeparator(ctx, "http://files/song")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrModel))
}
