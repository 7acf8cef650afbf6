// SPDX-License-Identifier: MIT

// Package align corrects noisy word-level ASR output against clean reference
// lyric lines: global alignment, selective rewrite, compound-fragment
// removal, and reference-guided karaoke line splitting. Every entry point is
// a pure function of its inputs.
package align

import (
	"encoding/json"
	"math"
)

// Word is one timed ASR word. Start/End default to the containing segment's
// bounds when the model omitted them (see Transcript.Normalize).
type Word struct {
	Word    string   `json:"word"`
	Start   float64  `json:"start"`
	End     float64  `json:"end"`
	Score   *float64 `json:"score,omitempty"`
	Speaker string   `json:"speaker,omitempty"`
}

type wireWord struct {
	Word    string   `json:"word"`
	Start   *float64 `json:"start"`
	End     *float64 `json:"end"`
	Score   *float64 `json:"score"`
	Speaker string   `json:"speaker"`
}

// UnmarshalJSON marks absent word bounds with NaN so Normalize can inherit
// the segment bounds.
func (w *Word) UnmarshalJSON(b []byte) error {
	var v wireWord
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	w.Word = v.Word
	w.Speaker = v.Speaker
	w.Score = v.Score
	w.Start = math.NaN()
	w.End = math.NaN()
	if v.Start != nil {
		w.Start = *v.Start
	}
	if v.End != nil {
		w.End = *v.End
	}
	return nil
}

// Segment is one ASR utterance with its words.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
	Text    string  `json:"text,omitempty"`
	Words   []Word  `json:"words"`
}

// Transcript is the RawLyrics schema: normalized ASR output.
type Transcript struct {
	Segments []Segment `json:"segments"`
}

// Normalize fills missing word bounds from the containing segment and missing
// word speakers from the segment speaker. Must run after unmarshalling and
// before any timing math.
func (t *Transcript) Normalize() {
	for si := range t.Segments {
		seg := &t.Segments[si]
		for wi := range seg.Words {
			w := &seg.Words[wi]
			if math.IsNaN(w.Start) {
				w.Start = seg.Start
			}
			if math.IsNaN(w.End) {
				w.End = seg.End
			}
			if w.Speaker == "" {
				w.Speaker = seg.Speaker
			}
		}
	}
}

// WordCount returns the number of words across all segments.
func (t *Transcript) WordCount() int {
	n := 0
	for _, seg := range t.Segments {
		n += len(seg.Words)
	}
	return n
}

// AvgScore is the mean ASR confidence across scored words, nil when the
// model reported none.
func (t *Transcript) AvgScore() *float64 {
	var sum float64
	n := 0
	for _, seg := range t.Segments {
		for _, w := range seg.Words {
			if w.Score != nil {
				sum += *w.Score
				n++
			}
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// Clone deep-copies the transcript so callers can rewrite without touching
// the input.
func (t *Transcript) Clone() *Transcript {
	out := &Transcript{Segments: make([]Segment, len(t.Segments))}
	for i, seg := range t.Segments {
		cp := seg
		cp.Words = make([]Word, len(seg.Words))
		copy(cp.Words, seg.Words)
		out.Segments[i] = cp
	}
	return out
}

// Lyrics source values.
const (
	SourceReference = "reference"
	SourceHeuristic = "heuristic"
)

// RefStats records how the reference correction went.
type RefStats struct {
	Quality    float64 `json:"quality"`
	TotalWords int     `json:"total_words"`
	Applied    bool    `json:"applied"`
	Reason     string  `json:"reason,omitempty"`
}

// Reasons recorded in RefStats when the correction is skipped.
const (
	ReasonLowQuality  = "low_quality"
	ReasonNoReference = "no_reference"
)

// Lyrics is the karaoke asset: timed segments, or untimed plain lines when
// the ASR produced no words but reference lyrics exist.
type Lyrics struct {
	Segments      []Segment `json:"segments"`
	Untimed       bool      `json:"untimed,omitempty"`
	PlainLyrics   []string  `json:"plain_lyrics,omitempty"`
	LyricsSource  string    `json:"lyrics_source"`
	AvgConfidence *float64  `json:"avg_confidence,omitempty"`
	RefStats      *RefStats `json:"ref_stats,omitempty"`
}

// UntimedLyrics builds the fallback asset carrying only reference lines.
func UntimedLyrics(refLines []string) *Lyrics {
	lines := make([]string, len(refLines))
	copy(lines, refLines)
	return &Lyrics{
		Segments:     []Segment{},
		Untimed:      true,
		PlainLyrics:  lines,
		LyricsSource: SourceReference,
	}
}

// ReferenceLyrics is the persisted plain-text reference: one entry per sung
// line, repeats included, never timed.
type ReferenceLyrics struct {
	Lines []string `json:"lines"`
}
