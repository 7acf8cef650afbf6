// SPDX-License-Identifier: MIT

package align

// Rewrite policy. Confident pairs take the reference spelling outright;
// weaker pairs only do so when the surrounding alignment window vouches for
// them, so an isolated bad pair inside a solid line still gets fixed while
// a bad pair inside a bad region is left alone.
const (
	windowRadius  = 3
	windowMeanMin = 0.55
)

// rewriteWords replaces word texts with reference spellings where the
// alignment justifies it. Only Word.Word changes; start, end, speaker and
// score are untouched.
func rewriteWords(t *Transcript, refs []RefToken, pairs []Pair, idx []wordRef, rawWords []string) {
	for pi, p := range pairs {
		if p.ASR < 0 || p.Ref < 0 {
			continue
		}
		if p.Sim < simThreshold && !contextTrusted(pairs, pi) {
			continue
		}
		asrRaw := rawWords[p.ASR]
		refRaw := refs[p.Ref].Raw
		text := leadingCaseAdjusted(refRaw, asrRaw)
		if trailingPunct(refRaw) == "" {
			text += trailingPunct(asrRaw)
		}
		ref := idx[p.ASR]
		t.Segments[ref.seg].Words[ref.word].Word = text
	}
}

// contextTrusted reports whether the ±windowRadius neighborhood around pair
// pi is strong enough to trust a weak pair: mean similarity at least
// windowMeanMin and at least 60% of the window at or above simThreshold.
func contextTrusted(pairs []Pair, pi int) bool {
	lo := pi - windowRadius
	if lo < 0 {
		lo = 0
	}
	hi := pi + windowRadius
	if hi > len(pairs)-1 {
		hi = len(pairs) - 1
	}
	var sum float64
	good, n := 0, 0
	for i := lo; i <= hi; i++ {
		n++
		sum += pairs[i].Sim
		if pairs[i].Sim >= simThreshold {
			good++
		}
	}
	if n == 0 {
		return false
	}
	return sum/float64(n) >= windowMeanMin && good*10 >= n*6
}
