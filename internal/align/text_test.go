// SPDX-License-Identifier: MIT

package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeToken(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hello,", "hello"},
		{"(world)", "world"},
		{"don't", "don't"},
		{"...!?", ""},
		{"Größer.", "größer"},
		{"UPPER", "upper"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeToken(tc.in), "input %q", tc.in)
	}
}

func TestSimilarity(t *testing.T) {
	// Equal after normalization beats the character ratio.
	assert.Equal(t, 1.0, Similarity("Hello,", "hello"))
	// Empty sides score zero, even against each other.
	assert.Equal(t, 0.0, Similarity("...", "hello"))
	assert.Equal(t, 0.0, Similarity("...", "!!!"))
	assert.InDelta(t, 12.0/22.0, Similarity("Brille", "Gleitsichtbrille"), 1e-12)
}

func TestTokenizeReference(t *testing.T) {
	toks := TokenizeReference([]string{"Hello world", "", "Goodbye world"})
	require.Len(t, toks, 4)
	assert.Equal(t, RefToken{Norm: "hello", Raw: "Hello", Line: 0}, toks[0])
	assert.Equal(t, RefToken{Norm: "world", Raw: "world", Line: 0}, toks[1])
	// The blank line holds its index so breaks land on the right line.
	assert.Equal(t, 2, toks[2].Line)
	assert.Equal(t, "goodbye", toks[2].Norm)
}

func TestTrailingPunct(t *testing.T) {
	assert.Equal(t, ",", trailingPunct("hello,"))
	assert.Equal(t, "!?", trailingPunct("what!?"))
	assert.Equal(t, "", trailingPunct("plain"))
	assert.Equal(t, "", trailingPunct(""))
}

func TestLeadingCaseAdjusted(t *testing.T) {
	// Line-initial capitalization the singer never sang gets downcased.
	assert.Equal(t, "hello", leadingCaseAdjusted("Hello", "helo"))
	// The ASR heard a capital: keep the reference as-is.
	assert.Equal(t, "Hello", leadingCaseAdjusted("Hello", "Helo"))
	// Acronyms stay.
	assert.Equal(t, "DJ", leadingCaseAdjusted("DJ", "dj"))
	assert.Equal(t, "ähnlich", leadingCaseAdjusted("Ähnlich", "ähnlich"))
}
