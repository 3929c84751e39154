package lang

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestNormalizeDropsStopwordsAndStrips(t *testing.T) {
	p := Get("english")
	tokens := p.Normalize("The Quick Brown Fox")
	assert.Assert(t, len(tokens) > 0)
	for _, tok := range tokens {
		assert.Assert(t, tok != "the")
	}
}

func TestSpanishFoldsEnye(t *testing.T) {
	p := Get("spanish")
	tokens := p.Normalize("año pequeño")
	for _, tok := range tokens {
		assert.Assert(t, !containsRune(tok, 'ñ'))
	}
}

func TestUnknownLanguageDefaultsToEnglish(t *testing.T) {
	p := Get("klingon")
	assert.Equal(t, p.Name(), "english")
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
