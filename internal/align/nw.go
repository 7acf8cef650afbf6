// SPDX-License-Identifier: MIT

package align

// Alignment scoring. A pair only counts as a real match at or above
// simThreshold; anything weaker scores as a mismatch so the optimizer
// prefers gaps over forcing bad pairs together.
const (
	simThreshold    = 0.6
	gapPenalty      = -0.5
	mismatchPenalty = -1.0
)

// Pair is one position of the global alignment: indices into the flattened
// ASR words and the reference tokens, -1 on a gapped side. Sim is the token
// similarity for aligned pairs and 0 for gaps.
type Pair struct {
	ASR int
	Ref int
	Sim float64
}

func pairScore(sim float64) float64 {
	if sim >= simThreshold {
		return 2 * sim
	}
	return mismatchPenalty
}

// alignTokens runs Needleman-Wunsch over the normalized token sequences and
// returns the traceback in left-to-right order. Ties resolve diagonal
// first, then ASR gap, then reference gap.
func alignTokens(asr, ref []string) []Pair {
	n, m := len(asr), len(ref)

	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, m)
		for j := range sim[i] {
			sim[i][j] = simNorm(asr[i], ref[j])
		}
	}

	f := make([][]float64, n+1)
	for i := range f {
		f[i] = make([]float64, m+1)
	}
	for i := 1; i <= n; i++ {
		f[i][0] = float64(i) * gapPenalty
	}
	for j := 1; j <= m; j++ {
		f[0][j] = float64(j) * gapPenalty
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			best := f[i-1][j-1] + pairScore(sim[i-1][j-1])
			if up := f[i-1][j] + gapPenalty; up > best {
				best = up
			}
			if left := f[i][j-1] + gapPenalty; left > best {
				best = left
			}
			f[i][j] = best
		}
	}

	pairs := make([]Pair, 0, n+m)
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && f[i][j] == f[i-1][j-1]+pairScore(sim[i-1][j-1]):
			pairs = append(pairs, Pair{ASR: i - 1, Ref: j - 1, Sim: sim[i-1][j-1]})
			i--
			j--
		case i > 0 && f[i][j] == f[i-1][j]+gapPenalty:
			pairs = append(pairs, Pair{ASR: i - 1, Ref: -1})
			i--
		default:
			pairs = append(pairs, Pair{ASR: -1, Ref: j - 1})
			j--
		}
	}
	for lo, hi := 0, len(pairs)-1; lo < hi; lo, hi = lo+1, hi-1 {
		pairs[lo], pairs[hi] = pairs[hi], pairs[lo]
	}
	return pairs
}

// alignmentQuality is the share of confidently aligned pairs over the longer
// of the two sequences.
func alignmentQuality(pairs []Pair, n, m int) float64 {
	longer := n
	if m > longer {
		longer = m
	}
	if longer == 0 {
		return 0
	}
	good := 0
	for _, p := range pairs {
		if p.ASR >= 0 && p.Ref >= 0 && p.Sim >= simThreshold {
			good++
		}
	}
	return float64(good) / float64(longer)
}
