package score

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terralab/landcrawler/internal/land"
)

func testSnapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := NewSnapshot(DefaultSnapshot())
	require.NoError(t, err)
	return snap
}

func TestRelevance_EmptyLexiconAlwaysZero(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	got := Relevance(land.Lexicon{}, "Climate change accelerates", "Long body about climate and change.", "en", snap)
	require.Zero(t, got)
}

func TestRelevance_TitleWeighsMoreThanBody(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	lex := land.Lexicon{Terms: []land.LexiconTerm{{Term: "climate", Weight: 1, Lang: "en"}}}

	inTitle := Relevance(lex, "climate report", "nothing else here", "en", snap)
	inBody := Relevance(lex, "report", "climate is discussed here", "en", snap)

	require.Equal(t, snap.TitleMultiplier, inTitle)
	require.Equal(t, snap.BodyMultiplier, inBody)
	require.Greater(t, inTitle, inBody)
}

func TestRelevance_StemmingMatchesInflections(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	lex := land.Lexicon{Terms: []land.LexiconTerm{{Term: "running", Weight: 2, Lang: "en"}}}

	// "runs" and "running" stem to the same root as the lexicon term.
	got := Relevance(lex, "", "she runs daily and enjoys running", "en", snap)
	require.Equal(t, 4.0, got) // 2 occurrences x weight 2 x body multiplier 1
}

func TestRelevance_AccumulatesWeightTimesOccurrences(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	lex := land.Lexicon{Terms: []land.LexiconTerm{
		{Term: "soil", Weight: 1.5, Lang: "en"},
		{Term: "erosion", Weight: 3, Lang: "en"},
	}}

	got := Relevance(lex, "soil erosion", "soil soil erosion", "en", snap)
	// title: soil 1x10x1.5 + erosion 1x10x3 = 45; body: soil 2x1.5 + erosion 1x3 = 6.
	require.InDelta(t, 51.0, got, 1e-9)
}

func TestRelevance_MultiWordTermMatchesAsPhrase(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	lex := land.Lexicon{Terms: []land.LexiconTerm{{Term: "machine learning", Weight: 1, Lang: "en"}}}

	phrase := Relevance(lex, "", "applied machine learning methods", "en", snap)
	scattered := Relevance(lex, "", "the machine helps with learning", "en", snap)

	require.Equal(t, 1.0, phrase)
	require.Zero(t, scattered)
}

func TestRelevance_UnknownLanguageFallsBackToRawTokens(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	lex := land.Lexicon{Terms: []land.LexiconTerm{{Term: "桜", Weight: 1, Lang: "ja"}}}

	got := Relevance(lex, "", "春の桜", "ja", snap)
	require.Equal(t, 1.0, got)
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	got := Tokenize("Hello, World! 42 c'est-à-dire")
	require.Equal(t, []string{"hello", "world", "42", "c", "est", "à", "dire"}, got)
}
