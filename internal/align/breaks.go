// SPDX-License-Identifier: MIT

package align

// lineBreaks derives karaoke line starts from the alignment: walking the
// confidently aligned pairs in order, every transition to a new reference
// line marks the ASR word that opens it. The first line never emits a
// break.
func lineBreaks(pairs []Pair, refs []RefToken) []int {
	var breaks []int
	prev := -1
	for _, p := range pairs {
		if p.ASR < 0 || p.Ref < 0 || p.Sim < simThreshold {
			continue
		}
		line := refs[p.Ref].Line
		if prev >= 0 && line != prev {
			breaks = append(breaks, p.ASR)
		}
		prev = line
	}
	return breaks
}
