// SPDX-License-Identifier: MIT

package align

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// asciiPunct is the punctuation set stripped from token edges during
// normalization, matching Python's string.punctuation.
const asciiPunct = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

func isASCIIPunct(r rune) bool {
	return r < utf8.RuneSelf && strings.ContainsRune(asciiPunct, r)
}

// normalizeToken produces the matching form of a word: NFC form, edge
// punctuation stripped, lowercased. Interior punctuation (apostrophes,
// hyphens) survives.
func normalizeToken(s string) string {
	s = norm.NFC.String(s)
	s = strings.TrimFunc(s, isASCIIPunct)
	return strings.ToLower(s)
}

// trailingPunct returns the run of ASCII punctuation at the end of s.
func trailingPunct(s string) string {
	rs := []rune(s)
	i := len(rs)
	for i > 0 && isASCIIPunct(rs[i-1]) {
		i--
	}
	return string(rs[i:])
}

// Similarity scores two raw tokens: 0 when either normalizes to nothing,
// 1 when the normalized forms are equal, otherwise their Ratcliff/Obershelp
// ratio.
func Similarity(a, b string) float64 {
	return simNorm(normalizeToken(a), normalizeToken(b))
}

func simNorm(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return Ratio(a, b)
}

// RefToken is one whitespace-separated reference word, kept in both its
// matching form and its original spelling, tagged with its line index.
type RefToken struct {
	Norm string
	Raw  string
	Line int
}

// TokenizeReference splits reference lines into match tokens. Blank lines
// contribute no tokens but keep the line numbering stable.
func TokenizeReference(lines []string) []RefToken {
	var toks []RefToken
	for li, line := range lines {
		for _, f := range strings.Fields(line) {
			toks = append(toks, RefToken{Norm: normalizeToken(f), Raw: f, Line: li})
		}
	}
	return toks
}

// wordRef addresses a flattened word inside its transcript.
type wordRef struct {
	seg, word int
}

// flatten returns the transcript's raw word texts in order plus the index
// map back into segments, so rewrites can land on the right Word.
func flatten(t *Transcript) ([]string, []wordRef) {
	n := t.WordCount()
	words := make([]string, 0, n)
	idx := make([]wordRef, 0, n)
	for si := range t.Segments {
		for wi := range t.Segments[si].Words {
			words = append(words, t.Segments[si].Words[wi].Word)
			idx = append(idx, wordRef{seg: si, word: wi})
		}
	}
	return words, idx
}

// flattenWords returns copies of all words in transcript order.
func flattenWords(t *Transcript) []Word {
	out := make([]Word, 0, t.WordCount())
	for _, seg := range t.Segments {
		out = append(out, seg.Words...)
	}
	return out
}

func joinWords(ws []Word) string {
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = strings.TrimSpace(w.Word)
	}
	return strings.Join(parts, " ")
}

// wordSpan returns the earliest start and latest end across the words.
func wordSpan(ws []Word) (start, end float64) {
	start, end = ws[0].Start, ws[0].End
	for _, w := range ws[1:] {
		if w.Start < start {
			start = w.Start
		}
		if w.End > end {
			end = w.End
		}
	}
	return start, end
}

// leadingCaseAdjusted downcases the first letter of text when the ASR heard
// a lowercase word but the reference spells it title-case, which is usually
// just line-initial capitalization. Acronyms (second letter also upper) are
// left alone.
func leadingCaseAdjusted(text, asrRaw string) string {
	tr := []rune(text)
	ar := []rune(asrRaw)
	if len(tr) == 0 || len(ar) == 0 {
		return text
	}
	if !unicode.IsUpper(tr[0]) || !unicode.IsLower(ar[0]) {
		return text
	}
	if len(tr) > 1 && unicode.IsUpper(tr[1]) {
		return text
	}
	tr[0] = unicode.ToLower(tr[0])
	return string(tr)
}
