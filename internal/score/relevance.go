package score

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball"

	"github.com/terralab/landcrawler/internal/land"
)

// snowballLangs maps ISO 639-1 codes to snowball stemmer names. Languages
// outside this map are scored on raw lowercased tokens.
var snowballLangs = map[string]string{
	"en": "english",
	"fr": "french",
	"es": "spanish",
	"ru": "russian",
	"sv": "swedish",
	"no": "norwegian",
	"hu": "hungarian",
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// StemTokens stems each token with the snowball stemmer for lang (ISO
// 639-1). Tokens the stemmer cannot handle pass through unchanged.
func StemTokens(tokens []string, lang string) []string {
	name, ok := snowballLangs[strings.ToLower(lang)]
	if !ok {
		return tokens
	}
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		stemmed, err := snowball.Stem(tok, name, false)
		if err != nil || stemmed == "" {
			out[i] = tok
			continue
		}
		out[i] = stemmed
	}
	return out
}

// Relevance scores title and body against a land's weighted lexicon.
//
// Each lexicon term contributes weight x occurrences, with title occurrences
// multiplied by snap.TitleMultiplier (10x by default) and body occurrences by
// snap.BodyMultiplier. Multi-word terms match as consecutive stemmed n-grams.
// An empty lexicon yields 0 for any input; callers must surface that
// dictionary starvation before a batch runs.
func Relevance(lexicon land.Lexicon, title, body, lang string, snap Snapshot) float64 {
	if lexicon.Empty() {
		return 0
	}
	if lang == "" {
		lang = snap.Languages[0]
	}

	titleStems := StemTokens(Tokenize(title), lang)
	bodyStems := StemTokens(Tokenize(body), lang)

	var total float64
	for _, term := range lexicon.Terms {
		termLang := term.Lang
		if termLang == "" {
			termLang = lang
		}
		needle := StemTokens(Tokenize(term.Term), termLang)
		if len(needle) == 0 {
			continue
		}
		titleHits := countNgram(titleStems, needle)
		bodyHits := countNgram(bodyStems, needle)
		total += term.Weight * (float64(titleHits)*snap.TitleMultiplier +
			float64(bodyHits)*snap.BodyMultiplier)
	}
	return total
}

// countNgram counts occurrences of needle as a consecutive subsequence of
// haystack. Overlapping matches are not double-counted.
func countNgram(haystack, needle []string) int {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return 0
	}
	count := 0
	for i := 0; i+len(needle) <= len(haystack); {
		if matchAt(haystack, needle, i) {
			count++
			i += len(needle)
			continue
		}
		i++
	}
	return count
}

func matchAt(haystack, needle []string, at int) bool {
	for j := range needle {
		if haystack[at+j] != needle[j] {
			return false
		}
	}
	return true
}
