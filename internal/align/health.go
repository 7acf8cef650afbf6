// SPDX-License-Identifier: MIT

package align

import (
	"strings"
	"unicode/utf8"
)

// Health-gate thresholds. Character-level breakage shows up as a flood of
// one-letter tokens; a transcript that shares almost no text with the
// reference is hallucination or the wrong track.
const (
	healthMinTokens  = 10
	healthRatioFloor = 0.30
)

// Healthy reports whether a transcript is usable ASR output. The second
// return value names the reason when it is not.
func Healthy(t *Transcript, refLines []string) (bool, string) {
	var tokens []string
	short := 0
	for _, seg := range t.Segments {
		for _, w := range seg.Words {
			tok := strings.TrimSpace(w.Word)
			if tok == "" {
				continue
			}
			tokens = append(tokens, tok)
			if utf8.RuneCountInString(tok) <= 1 {
				short++
			}
		}
	}
	if len(tokens) > healthMinTokens && short*2 > len(tokens) {
		return false, "character-level breakage"
	}
	if len(refLines) > 0 {
		asr := strings.ToLower(strings.Join(tokens, " "))
		ref := strings.ToLower(strings.Join(refLines, " "))
		if Ratio(asr, ref) < healthRatioFloor {
			return false, "transcript does not resemble reference"
		}
	}
	return true, ""
}
