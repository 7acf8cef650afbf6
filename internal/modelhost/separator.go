// SPDX-License-Identifier: MIT

package modelhost

import (
	"context"
	"encoding/json"
	"fmt"
)

// SeparatorKind discriminates the output shapes separator models ship:
// a stem-name mapping, a [vocals, instrumental] pair, or a bare vocals URL.
type SeparatorKind int

const (
	SeparatorMapping SeparatorKind = iota
	SeparatorPair
	SeparatorSingle
)

func (k SeparatorKind) String() string {
	switch k {
	case SeparatorMapping:
		return "mapping"
	case SeparatorPair:
		return "pair"
	case SeparatorSingle:
		return "single"
	default:
		return fmt.Sprintf("SeparatorKind(%d)", int(k))
	}
}

// SeparatorOutput is the parsed result of a separation run. Vocals is always
// set; NoVocals is empty when the model produced no instrumental stem.
type SeparatorOutput struct {
	Kind     SeparatorKind
	Vocals   string
	NoVocals string
}

// ParseSeparatorOutput normalizes the three known output shapes. Anything
// else is schema-invalid and fails the run.
func ParseSeparatorOutput(raw json.RawMessage) (SeparatorOutput, error) {
	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil {
		vocals := asMap["vocals"]
		if vocals == "" {
			return SeparatorOutput{}, modelErr("separator", fmt.Errorf("output mapping has no vocals stem"))
		}
		noVocals := asMap["no_vocals"]
		if noVocals == "" {
			noVocals = asMap["other"]
		}
		return SeparatorOutput{Kind: SeparatorMapping, Vocals: vocals, NoVocals: noVocals}, nil
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		if len(asList) == 0 || asList[0] == "" {
			return SeparatorOutput{}, modelErr("separator", fmt.Errorf("output list is empty"))
		}
		out := SeparatorOutput{Kind: SeparatorPair, Vocals: asList[0]}
		if len(asList) > 1 {
			out.NoVocals = asList[1]
		}
		return out, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return SeparatorOutput{}, modelErr("separator", fmt.Errorf("output URL is empty"))
		}
		return SeparatorOutput{Kind: SeparatorSingle, Vocals: asString}, nil
	}

	return SeparatorOutput{}, modelErr("separator", fmt.Errorf("unrecognized output shape: %.100s", string(raw)))
}

// RunSeparator splits a track into vocal and instrumental stems.
func (c *Client) RunSeparator(ctx context.Context, audioURL string) (out SeparatorOutput, err error) {
	defer func() { observeModelCall("separator", err) }()

	raw, err := c.runPrediction(ctx, "separator", c.separatorVersion,
		map[string]any{"audio": audioURL}, c.separatorTimeout)
	if err != nil {
		return SeparatorOutput{}, err
	}
	out, err = ParseSeparatorOutput(raw)
	if err != nil {
		return SeparatorOutput{}, err
	}
	c.logger.Debug().
		Stringer("shape", out.Kind).
		Bool("has_instrumental", out.NoVocals != "").
		Msg("separator finished")
	return out, nil
}
