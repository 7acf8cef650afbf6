// SPDX-License-Identifier: MIT

package lyrics

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const generativeMaxTokens = 2048

// GenerativeInput carries everything the provider can use to reconstruct
// lyric lines. Both fields are optional; at least one must be set.
type GenerativeInput struct {
	// RawText is the flattened ASR transcript.
	RawText string
	// VocalsPath, when set and readable, attaches the isolated vocals as
	// base64 audio so the model can verify against the actual singing.
	VocalsPath string
}

type orMessage struct {
	Role string `json:"role"`
	// Content is either a plain string or a []orContentPart. The provider
	// accepts both forms.
	Content any `json:"content"`
}

type orContentPart struct {
	Type       string        `json:"type"`
	Text       string        `json:"text,omitempty"`
	InputAudio *orInputAudio `json:"input_audio,omitempty"`
}

type orInputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type orRequest struct {
	Model     string      `json:"model"`
	Messages  []orMessage `json:"messages"`
	MaxTokens int         `json:"max_tokens"`
}

type orResponse struct {
	Error   json.RawMessage `json:"error,omitempty"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// FetchGenerative asks the generative provider for cleaned-up lyric lines.
// When the vocals file is readable it first tries a hybrid request with the
// audio attached, then retries text-only; text-only failures are final.
func (c *Client) FetchGenerative(ctx context.Context, in GenerativeInput) ([]string, error) {
	if c.orKey == "" || c.orModel == "" {
		return nil, ErrGenerativeDisabled
	}
	if in.RawText == "" && in.VocalsPath == "" {
		return nil, nil
	}

	withAudio := false
	if in.VocalsPath != "" {
		if _, err := os.Stat(in.VocalsPath); err == nil {
			withAudio = true
		}
	}
	prompt := buildPrompt(in.RawText, withAudio)

	if withAudio {
		lines, err := c.generate(ctx, hybridContent(prompt, in.VocalsPath))
		if err == nil && len(lines) > 0 {
			c.logger.Info().Int("lines", len(lines)).Str("attempt", "audio").
				Msg("generative lyrics produced")
			return lines, nil
		}
		c.logger.Warn().Err(err).Msg("generative audio attempt failed, retrying text-only")
	}

	lines, err := c.generate(ctx, func() (any, error) { return prompt, nil })
	if err != nil {
		return nil, fmt.Errorf("generative: %w", err)
	}
	if len(lines) == 0 {
		return nil, nil
	}
	c.logger.Info().Int("lines", len(lines)).Str("attempt", "text_only").
		Msg("generative lyrics produced")
	return lines, nil
}

// buildPrompt assembles the instruction shared by both attempts.
func buildPrompt(rawText string, withAudio bool) string {
	parts := []string{"You are a lyrics transcription assistant."}
	if rawText != "" {
		parts = append(parts,
			"Below is a rough automatic speech recognition (ASR) transcript of the "+
				"song's vocals. It may contain errors, wrong words, or broken punctuation.\n\n"+
				"ASR transcript:\n"+rawText)
	}
	if withAudio {
		parts = append(parts,
			"I have also attached the isolated vocals audio track. "+
				"Use it to verify and correct the transcript.")
	}
	parts = append(parts,
		"Output the correct, cleaned-up song lyrics formatted as one lyric line per "+
			"text line. Do NOT include timestamps, line numbers, or section labels like "+
			"[Chorus] - just the lyric lines themselves. "+
			"If a line repeats (e.g. a chorus), include it each time it is sung.")
	return strings.Join(parts, "\n\n")
}

// hybridContent builds the multi-part message with the vocals attached.
// Reading and encoding the file is deferred so a read failure surfaces as a
// retriable attempt error.
func hybridContent(prompt, vocalsPath string) func() (any, error) {
	return func() (any, error) {
		audio, err := os.ReadFile(vocalsPath)
		if err != nil {
			return nil, fmt.Errorf("read vocals: %w", err)
		}
		return []orContentPart{
			{Type: "text", Text: prompt},
			{Type: "input_audio", InputAudio: &orInputAudio{
				Data:   base64.StdEncoding.EncodeToString(audio),
				Format: "mp3",
			}},
		}, nil
	}
}

func (c *Client) generate(ctx context.Context, content func() (any, error)) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.generativeTimeout)
	defer cancel()

	body, err := content()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(orRequest{
		Model:     c.orModel,
		Messages:  []orMessage{{Role: "user", Content: body}},
		MaxTokens: generativeMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.orBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setGenerativeHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	var out orResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	if len(out.Error) > 0 {
		return nil, fmt.Errorf("provider error: %s", out.Error)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	return splitLines(out.Choices[0].Message.Content), nil
}

// Ping verifies the generative provider accepts our credentials. Used by
// the health checker.
func (c *Client) Ping(ctx context.Context) error {
	if c.orKey == "" || c.orModel == "" {
		return ErrGenerativeDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, c.searchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.orBase+"/models", nil)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	c.setGenerativeHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setGenerativeHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.orKey)
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
		req.Header.Set("X-Title", "StemSync")
	}
}
