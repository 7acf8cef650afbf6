// SPDX-License-Identifier: MIT

package align

// qualityFloor is the minimum alignment quality for the correction to apply.
// Below it the transcript is returned untouched and only the stats record
// what happened.
const qualityFloor = 0.4

// Correction is the outcome of reconciling a transcript with reference
// lyrics: a (possibly rewritten) copy, the karaoke line breaks expressed as
// flattened word indices, and the quality record.
type Correction struct {
	Transcript *Transcript
	Breaks     []int
	Stats      *RefStats
}

// Correct aligns the transcript against reference lyric lines and applies
// the reference spellings where the alignment is trustworthy. The input is
// never mutated. With no reference, or with an alignment below the quality
// floor, the copy comes back unchanged.
func Correct(t *Transcript, refLines []string) *Correction {
	out := t.Clone()
	stats := &RefStats{TotalWords: out.WordCount()}
	if len(refLines) == 0 {
		stats.Reason = ReasonNoReference
		return &Correction{Transcript: out, Stats: stats}
	}

	refs := TokenizeReference(refLines)
	rawWords, idx := flatten(out)
	norms := make([]string, len(rawWords))
	for i, w := range rawWords {
		norms[i] = normalizeToken(w)
	}
	refNorms := make([]string, len(refs))
	for i, r := range refs {
		refNorms[i] = r.Norm
	}

	pairs := alignTokens(norms, refNorms)
	stats.Quality = alignmentQuality(pairs, len(norms), len(refNorms))
	if stats.Quality < qualityFloor {
		stats.Reason = ReasonLowQuality
		return &Correction{Transcript: out, Stats: stats}
	}

	stats.Applied = true
	rewriteWords(out, refs, pairs, idx, rawWords)
	breaks := lineBreaks(pairs, refs)
	breaks = removeFragments(out, refs, pairs, idx, norms, breaks)
	return &Correction{Transcript: out, Breaks: breaks, Stats: stats}
}

// Compose turns a correction into the karaoke asset. Line breaks drive the
// reference-guided split; without them the ASR's own segmentation is the
// best structure available.
func Compose(c *Correction) *Lyrics {
	lyr := &Lyrics{RefStats: c.Stats}
	if c.Stats != nil && c.Stats.Applied && len(c.Breaks) > 0 {
		lyr.LyricsSource = SourceReference
		lyr.Segments = splitReference(c.Transcript, c.Breaks)
	} else {
		lyr.LyricsSource = SourceHeuristic
		lyr.Segments = splitHeuristic(c.Transcript)
	}
	return lyr
}

// Process runs the full correction and karaoke split for one track,
// returning the rewritten transcript alongside the display asset.
func Process(raw *Transcript, refLines []string) (*Transcript, *Lyrics) {
	c := Correct(raw, refLines)
	lyr := Compose(c)
	lyr.AvgConfidence = raw.AvgScore()
	return c.Transcript, lyr
}
