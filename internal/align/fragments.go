// SPDX-License-Identifier: MIT

package align

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Compound-fragment thresholds. German ASR loves splitting long compounds
// into hallucinated smaller words ("Gleitsichtbrille" -> "Kleid Schicht
// Brille"); when the unaligned run concatenated onto the aligned word
// reconstructs the long token, the run is noise and gets removed.
const (
	fragTargetMinLen = 8
	fragMinGrowth    = 3
	fragRatioMin     = 0.55
)

// removeFragments deletes runs of unaligned ASR words that are really
// fragments of an adjacent aligned compound. Returns the line-break indices
// shifted to account for the removed positions.
func removeFragments(t *Transcript, refs []RefToken, pairs []Pair, idx []wordRef, norms []string, breaks []int) []int {
	removed := make(map[int]bool)
	var run []int
	for _, p := range pairs {
		switch {
		case p.ASR >= 0 && p.Ref < 0:
			run = append(run, p.ASR)
		case p.ASR >= 0 && p.Ref >= 0:
			if len(run) > 0 && isFragmentRun(norms, refs, run, p) {
				for _, fi := range run {
					removed[fi] = true
				}
			}
			run = run[:0]
		default:
			// A reference-only gap breaks adjacency.
			run = run[:0]
		}
	}
	if len(removed) == 0 {
		return breaks
	}
	deleteWords(t, idx, removed)
	return shiftBreaks(breaks, removed, t.WordCount())
}

// isFragmentRun decides whether the unaligned run reconstructs the longer
// side of the aligned pair when concatenated with the shorter side.
func isFragmentRun(norms []string, refs []RefToken, run []int, p Pair) bool {
	asrNorm := norms[p.ASR]
	refNorm := refs[p.Ref].Norm
	target, root := refNorm, asrNorm
	if utf8.RuneCountInString(asrNorm) > utf8.RuneCountInString(refNorm) {
		target, root = asrNorm, refNorm
	}
	if utf8.RuneCountInString(target) < fragTargetMinLen {
		return false
	}
	var b strings.Builder
	for _, fi := range run {
		b.WriteString(norms[fi])
	}
	b.WriteString(root)
	concat := b.String()
	if utf8.RuneCountInString(concat) < utf8.RuneCountInString(root)+fragMinGrowth {
		return false
	}
	return Ratio(concat, target) >= fragRatioMin
}

// deleteWords removes the flagged flat indices, working back to front within
// each segment so earlier indices stay valid, then drops emptied segments
// and rebuilds segment text and bounds from the survivors.
func deleteWords(t *Transcript, idx []wordRef, removed map[int]bool) {
	perSeg := make(map[int][]int)
	for fi := range removed {
		r := idx[fi]
		perSeg[r.seg] = append(perSeg[r.seg], r.word)
	}
	for si, wis := range perSeg {
		sort.Sort(sort.Reverse(sort.IntSlice(wis)))
		seg := &t.Segments[si]
		for _, wi := range wis {
			seg.Words = append(seg.Words[:wi], seg.Words[wi+1:]...)
		}
	}
	kept := t.Segments[:0]
	for _, seg := range t.Segments {
		if len(seg.Words) == 0 {
			continue
		}
		seg.Text = joinWords(seg.Words)
		seg.Start, seg.End = wordSpan(seg.Words)
		kept = append(kept, seg)
	}
	t.Segments = kept
}

// shiftBreaks maps break indices from the pre-deletion word stream onto the
// post-deletion one, dropping breaks that collapse onto each other or fall
// off either end.
func shiftBreaks(breaks []int, removed map[int]bool, remaining int) []int {
	if len(breaks) == 0 {
		return breaks
	}
	rs := make([]int, 0, len(removed))
	for fi := range removed {
		rs = append(rs, fi)
	}
	sort.Ints(rs)
	var out []int
	last := -1
	for _, b := range breaks {
		nb := b - sort.SearchInts(rs, b)
		if nb <= 0 || nb >= remaining || nb == last {
			continue
		}
		out = append(out, nb)
		last = nb
	}
	return out
}
