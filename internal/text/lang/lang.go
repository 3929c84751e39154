// Package lang holds the per-language text normalization profiles used
// by the text index (and, for file names/titles): stopword sets and a
// light suffix-stripping stemmer for {spanish, english}.
package lang

import "strings"

// Profile is a normalization pipeline bound to one language: lowercase,
// diacritic-strip (with Spanish's extra ñ→n fold and Spanish
// stopwords), tokenize, drop stopwords, optionally stem.
type Profile struct {
	name      string
	stopwords map[string]bool
	stem      func(string) string
}

var profiles = map[string]*Profile{
	"spanish": {
		name:      "spanish",
		stopwords: toSet(spanishStopwords),
		stem:      stemSpanish,
	},
	"english": {
		name:      "english",
		stopwords: toSet(englishStopwords),
		stem:      stemEnglish,
	},
}

// Get returns the named profile, defaulting to english for any name the
// dialect doesn't recognize.
func Get(name string) *Profile {
	if p, ok := profiles[strings.ToLower(name)]; ok {
		return p
	}
	return profiles["english"]
}

func (p *Profile) Name() string { return p.name }

// fold normalizes a single token: diacritic strip (+ ñ→n for Spanish),
// already assumed lowercase and already tokenized. The caller
// (Normalize) checks stopwords on the folded token, before stemming,
// so stems never corrupt a stopword comparison.
func (p *Profile) fold(tok string) string {
	tok = stripDiacritics(tok)
	if p.name == "spanish" {
		tok = strings.ReplaceAll(tok, "ñ", "n")
	}
	return tok
}

// Stem applies the profile's suffix-stripping stemmer.
func (p *Profile) Stem(tok string) string { return p.stem(tok) }

func (p *Profile) IsStopword(tok string) bool { return p.stopwords[tok] }

// Normalize runs the full normalization pipeline over raw text:
// lowercase, diacritic strip, tokenize on non-alphanumerics, drop
// stopwords, stem.
func (p *Profile) Normalize(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range lower {
		if isAlnum(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		folded := p.fold(tok)
		if folded == "" || p.IsStopword(folded) {
			continue
		}
		out = append(out, p.Stem(folded))
	}
	return out
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || isDiacriticLetter(r)
}

func isDiacriticLetter(r rune) bool {
	_, ok := diacriticFold[r]
	return ok || (r >= 'à' && r <= 'ÿ') || r == 'ñ'
}

// stripDiacritics folds accented Latin letters to their base form as a
// direct table rather than pulling in unicode/norm for two languages.
var diacriticFold = map[rune]rune{
	'á': 'a', 'à': 'a', 'ä': 'a', 'â': 'a', 'ã': 'a',
	'é': 'e', 'è': 'e', 'ë': 'e', 'ê': 'e',
	'í': 'i', 'ì': 'i', 'ï': 'i', 'î': 'i',
	'ó': 'o', 'ò': 'o', 'ö': 'o', 'ô': 'o', 'õ': 'o',
	'ú': 'u', 'ù': 'u', 'ü': 'u', 'û': 'u',
	'ç': 'c',
}

func stripDiacritics(tok string) string {
	var b strings.Builder
	for _, r := range tok {
		if f, ok := diacriticFold[r]; ok {
			b.WriteRune(f)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

var spanishStopwords = []string{
	"el", "la", "de", "que", "y", "a", "en", "un", "es", "se",
	"no", "te", "lo", "le", "da", "su", "por", "son", "con",
	"para", "al", "del", "los", "las", "una", "como", "todo",
	"pero", "mas", "me", "ya", "muy", "fue", "este", "esta",
	"entre", "sin", "sobre", "tambien", "hasta", "donde", "quien",
	"desde", "nos", "durante", "o", "u",
}

var englishStopwords = []string{
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to",
	"for", "of", "with", "by", "is", "are", "was", "were", "be",
	"been", "being", "this", "that", "these", "those", "it", "as",
	"from", "has", "have", "had", "not", "so", "if", "then",
}

// stemEnglish is a simplified Porter-style suffix stripper: it folds
// the common inflectional endings without the full Porter step chain
// (no double-consonant/vowel-consonant-vowel measure rules), adequate
// for the cosine-ranking use case where near-miss stems still cluster.
func stemEnglish(tok string) string {
	suffixes := []string{"ational", "ization", "iveness", "fulness", "ousness",
		"ingly", "edly", "ising", "izing", "ation", "ement", "ing", "edly",
		"ed", "ies", "es", "ly", "s"}
	for _, suf := range suffixes {
		if len(tok) > len(suf)+2 && strings.HasSuffix(tok, suf) {
			return tok[:len(tok)-len(suf)]
		}
	}
	return tok
}

// stemSpanish is a simplified Snowball-style suffix stripper for the
// common nominal/verbal endings.
func stemSpanish(tok string) string {
	suffixes := []string{"amente", "imiento", "amiento", "aciones", "adores",
		"adora", "antes", "ancia", "ico", "ica", "oso", "osa", "ando",
		"iendo", "aron", "ieron", "aba", "ian", "ar", "er", "ir", "os",
		"as", "es", "o", "a", "e", "s"}
	for _, suf := range suffixes {
		if len(tok) > len(suf)+2 && strings.HasSuffix(tok, suf) {
			return tok[:len(tok)-len(suf)]
		}
	}
	return tok
}
