// SPDX-License-Identifier: MIT

package modelhost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stemsync/stemsync/internal/align"
)

// AlignerOptions tunes a transcription run. TextPrior biases the model
// toward the reference lyrics when they are known.
type AlignerOptions struct {
	Diarize   bool
	TextPrior []string
}

// RunAligner transcribes the vocal stem into a word-timed transcript.
func (c *Client) RunAligner(ctx context.Context, audioURL string, opts AlignerOptions) (tr *align.Transcript, err error) {
	defer func() { observeModelCall("aligner", err) }()

	input := map[string]any{
		"audio":   audioURL,
		"diarize": opts.Diarize,
	}
	if len(opts.TextPrior) > 0 {
		input["initial_prompt"] = strings.Join(opts.TextPrior, "\n")
	}

	raw, err := c.runPrediction(ctx, "aligner", c.alignerVersion, input, c.alignerTimeout)
	if err != nil {
		return nil, err
	}

	tr = &align.Transcript{}
	if err := json.Unmarshal(raw, tr); err != nil {
		return nil, modelErr("aligner", fmt.Errorf("output does not match transcript schema: %w", err))
	}
	tr.Normalize()
	c.logger.Debug().
		Int("segments", len(tr.Segments)).
		Int("words", tr.WordCount()).
		Bool("diarized", opts.Diarize).
		Msg("aligner finished")
	return tr, nil
}
