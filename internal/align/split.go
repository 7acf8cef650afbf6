// SPDX-License-Identifier: MIT

package align

import "math"

// Karaoke display limits. Reference-guided lines follow the lyric sheet and
// get a generous safety cap; heuristic lines come from raw ASR segments and
// are kept short enough to read.
const (
	refMaxWords  = 20
	heurMaxWords = 8
	minSegWords  = 2
	mergeGapMax  = 0.5
)

// splitReference cuts the flattened word stream at the derived line breaks,
// then applies the shared cleanup passes.
func splitReference(t *Transcript, breaks []int) []Segment {
	words := flattenWords(t)
	if len(words) == 0 {
		return []Segment{}
	}
	groups := cutAt(words, breaks)
	groups = splitSpeakers(groups)
	groups = capLength(groups, refMaxWords)
	groups = mergeTiny(groups)
	return buildSegments(groups)
}

// splitHeuristic keeps the ASR's own segmentation as the starting point.
func splitHeuristic(t *Transcript) []Segment {
	var groups [][]Word
	for _, seg := range t.Segments {
		if len(seg.Words) == 0 {
			continue
		}
		ws := make([]Word, len(seg.Words))
		copy(ws, seg.Words)
		groups = append(groups, ws)
	}
	groups = splitSpeakers(groups)
	groups = capLength(groups, heurMaxWords)
	groups = mergeTiny(groups)
	return buildSegments(groups)
}

func cutAt(words []Word, breaks []int) [][]Word {
	var out [][]Word
	prev := 0
	for _, b := range breaks {
		if b <= prev || b >= len(words) {
			continue
		}
		out = append(out, words[prev:b])
		prev = b
	}
	return append(out, words[prev:])
}

// splitSpeakers cuts every group at each speaker transition so no segment
// mixes voices.
func splitSpeakers(groups [][]Word) [][]Word {
	var out [][]Word
	for _, g := range groups {
		start := 0
		for i := 1; i < len(g); i++ {
			if g[i].Speaker != g[i-1].Speaker {
				out = append(out, g[start:i])
				start = i
			}
		}
		out = append(out, g[start:])
	}
	return out
}

// capLength recursively splits oversized groups at the largest inter-word
// silence found in the middle third, keeping cuts away from the edges.
func capLength(groups [][]Word, maxWords int) [][]Word {
	var out [][]Word
	for _, g := range groups {
		out = append(out, splitLong(g, maxWords)...)
	}
	return out
}

func splitLong(ws []Word, maxWords int) [][]Word {
	if len(ws) <= maxWords {
		return [][]Word{ws}
	}
	cut := bestGapCut(ws)
	return append(splitLong(ws[:cut], maxWords), splitLong(ws[cut:], maxWords)...)
}

// bestGapCut returns the boundary (index of the first word of the second
// half) after the largest gap in the middle third. Ties go to the earliest
// candidate.
func bestGapCut(ws []Word) int {
	n := len(ws)
	lo, hi := n/3, 2*n/3
	if hi <= lo {
		hi = lo + 1
	}
	best, bestGap := lo, math.Inf(-1)
	for i := lo; i < hi && i < n-1; i++ {
		if gap := ws[i+1].Start - ws[i].End; gap > bestGap {
			bestGap = gap
			best = i
		}
	}
	return best + 1
}

// mergeTiny folds one-word groups into an adjacent same-speaker group when
// the silence between them is under mergeGapMax, preferring the previous
// group. Runs to fixed point.
func mergeTiny(groups [][]Word) [][]Word {
	for {
		merged := false
		for i := 0; i < len(groups); i++ {
			if len(groups[i]) >= minSegWords {
				continue
			}
			if i > 0 && canMerge(groups[i-1], groups[i]) {
				groups[i-1] = concatWords(groups[i-1], groups[i])
				groups = append(groups[:i], groups[i+1:]...)
				merged = true
				break
			}
			if i < len(groups)-1 && canMerge(groups[i], groups[i+1]) {
				groups[i] = concatWords(groups[i], groups[i+1])
				groups = append(groups[:i+1], groups[i+2:]...)
				merged = true
				break
			}
		}
		if !merged {
			return groups
		}
	}
}

func canMerge(a, b []Word) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if majoritySpeaker(a) != majoritySpeaker(b) {
		return false
	}
	gap := b[0].Start - a[len(a)-1].End
	return gap < mergeGapMax
}

// concatWords joins two groups into freshly allocated backing storage; the
// inputs may be slices of the same flattened array.
func concatWords(a, b []Word) []Word {
	out := make([]Word, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// majoritySpeaker picks the most frequent speaker label, first-seen order
// breaking ties.
func majoritySpeaker(ws []Word) string {
	counts := make(map[string]int)
	var order []string
	for _, w := range ws {
		if counts[w.Speaker] == 0 {
			order = append(order, w.Speaker)
		}
		counts[w.Speaker]++
	}
	best, bestN := "", -1
	for _, sp := range order {
		if counts[sp] > bestN {
			best, bestN = sp, counts[sp]
		}
	}
	return best
}

func buildSegments(groups [][]Word) []Segment {
	segs := make([]Segment, 0, len(groups))
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		start, end := wordSpan(g)
		ws := make([]Word, len(g))
		copy(ws, g)
		segs = append(segs, Segment{
			Start:   start,
			End:     end,
			Speaker: majoritySpeaker(g),
			Text:    joinWords(g),
			Words:   ws,
		})
	}
	return segs
}
