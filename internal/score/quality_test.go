package score

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/terralab/landcrawler/internal/land"
)

var scoreNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// richUnit builds the unit of quality scenario A: 1500 words, healthy
// text-to-markup ratio, matching language, relevance 4.0, status 200,
// positive gate verdict, processed.
func richUnit() land.CrawlUnit {
	content := strings.TrimSpace(strings.Repeat("word ", 1500))
	published := scoreNow.AddDate(0, -6, 0)
	processed := scoreNow
	return land.CrawlUnit{
		HTTPStatus:  200,
		ContentType: "text/html; charset=utf-8",
		Content:     content,
		RawSize:     len(content) * 3, // ratio ~0.33
		Relevance:   4.0,
		GateVerdict: land.VerdictYes,
		ProcessedAt: &processed,
		Metadata: land.PageMetadata{
			Title:       "A thorough field report",
			Description: "A description comfortably over twenty characters.",
			Keywords:    []string{"field", "report"},
			Canonical:   "https://example.com/report",
			Lang:        "en",
			PublishedAt: &published,
		},
	}
}

func TestQuality_ScenarioA_RichUnitIsExcellent(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	res := Quality(richUnit(), snap, scoreNow)

	require.GreaterOrEqual(t, res.Score, 0.8)
	require.Equal(t, CategoryExcellent, res.Category)
	require.Equal(t, 1.0, res.Breakdown.Access)
	require.Equal(t, 1.0, res.Breakdown.Structure)
	require.Equal(t, 1.0, res.Breakdown.Richness)
	require.Equal(t, 1.0, res.Breakdown.Integrity)
}

func TestQuality_ScenarioB_NotFoundScoresLow(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	processed := scoreNow
	unit := land.CrawlUnit{
		HTTPStatus:  404,
		ProcessedAt: &processed,
	}
	res := Quality(unit, snap, scoreNow)

	require.Equal(t, 0.0, res.Breakdown.Access)
	require.Contains(t, res.Flags, FlagHTTPError)
	require.Less(t, res.Score, 0.4)

	// The overall score must equal the sum of the four remaining weighted
	// blocks only; access contributes nothing.
	w := snap.Weights
	rest := w.Structure*res.Breakdown.Structure +
		w.Richness*res.Breakdown.Richness +
		w.Coherence*res.Breakdown.Coherence +
		w.Integrity*res.Breakdown.Integrity
	require.InDelta(t, rest, res.Score, 1e-9)
}

func TestQuality_BoundsHoldForExtremeInputs(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	processed := scoreNow
	units := []land.CrawlUnit{
		{},
		{HTTPStatus: land.StatusTransportError},
		{HTTPStatus: 500, ProcessedAt: &processed},
		richUnit(),
		{
			HTTPStatus:  200,
			Content:     strings.Repeat("x ", 100000),
			RawSize:     1,
			Relevance:   1e9,
			GateVerdict: land.VerdictYes,
			ProcessedAt: &processed,
			Metadata: land.PageMetadata{
				Title:       "t",
				Description: strings.Repeat("d", 200),
				Keywords:    []string{"k"},
				Canonical:   "https://example.com",
				Lang:        "en",
			},
		},
	}
	for _, u := range units {
		res := Quality(u, snap, scoreNow)
		require.GreaterOrEqual(t, res.Score, 0.0)
		require.LessOrEqual(t, res.Score, 1.0)
		for _, block := range []float64{
			res.Breakdown.Access, res.Breakdown.Structure, res.Breakdown.Richness,
			res.Breakdown.Coherence, res.Breakdown.Integrity,
		} {
			require.GreaterOrEqual(t, block, 0.0)
			require.LessOrEqual(t, block, 1.0)
		}
	}
}

func TestQuality_RedirectHalvesAccess(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	res := Quality(land.CrawlUnit{HTTPStatus: 301}, snap, scoreNow)
	require.Equal(t, 0.5, res.Breakdown.Access)
	require.Contains(t, res.Flags, FlagRedirect)
}

func TestQuality_NonDocumentContentTypeZeroesAccess(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	res := Quality(land.CrawlUnit{HTTPStatus: 200, ContentType: "application/pdf"}, snap, scoreNow)
	require.Equal(t, 0.0, res.Breakdown.Access)
	require.Contains(t, res.Flags, FlagNonDocument)
}

func TestQuality_StructureFlagsNameEveryAbsence(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	res := Quality(land.CrawlUnit{HTTPStatus: 200}, snap, scoreNow)
	require.Equal(t, 0.0, res.Breakdown.Structure)
	for _, f := range []string{FlagMissingTitle, FlagMissingDescription, FlagMissingKeywords, FlagMissingCanonical} {
		require.Contains(t, res.Flags, f)
	}
}

func TestQuality_ShortDescriptionGetsNoCreditButOwnFlag(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	unit := land.CrawlUnit{
		HTTPStatus: 200,
		Metadata:   land.PageMetadata{Title: "t", Description: "too short"},
	}
	res := Quality(unit, snap, scoreNow)
	require.InDelta(t, 0.4, res.Breakdown.Structure, 1e-9)
	require.Contains(t, res.Flags, FlagShortDescription)
	require.NotContains(t, res.Flags, FlagMissingDescription)
}

func TestQuality_LanguageMismatchZeroesLanguageComponent(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	match := richUnit()
	mismatch := richUnit()
	mismatch.Metadata.Lang = "de"
	undetected := richUnit()
	undetected.Metadata.Lang = ""

	sMatch := Quality(match, snap, scoreNow).Breakdown.Coherence
	sMismatch := Quality(mismatch, snap, scoreNow).Breakdown.Coherence
	sUndetected := Quality(undetected, snap, scoreNow).Breakdown.Coherence

	require.InDelta(t, 0.4, sMatch-sMismatch, 1e-9)
	require.InDelta(t, 0.2, sMatch-sUndetected, 1e-9)
}

func TestQuality_RelevanceSaturates(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	atSat := richUnit()
	atSat.Relevance = snap.RelevanceSaturation
	beyond := richUnit()
	beyond.Relevance = snap.RelevanceSaturation * 50

	require.Equal(t,
		Quality(atSat, snap, scoreNow).Breakdown.Coherence,
		Quality(beyond, snap, scoreNow).Breakdown.Coherence)
}

func TestQuality_ContentAgeDecay(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	ages := []struct {
		published time.Time
		want      float64
	}{
		{scoreNow.AddDate(0, -3, 0), 1.0},
		{scoreNow.AddDate(-1, -6, 0), 0.9},
		{scoreNow.AddDate(-3, 0, 0), 0.7},
		{scoreNow.AddDate(-8, 0, 0), 0.5},
	}
	base := richUnit()
	for _, tc := range ages {
		u := base
		published := tc.published
		u.Metadata.PublishedAt = &published
		res := Quality(u, snap, scoreNow)
		// Isolate the age component: coherence = 0.4*lang + 0.4*rel + 0.2*age.
		age := (res.Breakdown.Coherence - 0.4*1.0 - 0.4*(u.Relevance/snap.RelevanceSaturation)) / 0.2
		require.InDelta(t, tc.want, age, 1e-9)
	}
}

func TestQuality_IntegrityComposition(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	processed := scoreNow

	full := land.CrawlUnit{
		HTTPStatus:  200,
		Content:     strings.Repeat("x", snap.MinContentLength),
		GateVerdict: land.VerdictYes,
		ProcessedAt: &processed,
	}
	require.Equal(t, 1.0, Quality(full, snap, scoreNow).Breakdown.Integrity)

	rejected := full
	rejected.GateVerdict = land.VerdictNo
	res := Quality(rejected, snap, scoreNow)
	require.InDelta(t, 0.6, res.Breakdown.Integrity, 1e-9)
	require.Contains(t, res.Flags, FlagGateRejected)

	unprocessed := full
	unprocessed.ProcessedAt = nil
	require.InDelta(t, 0.8, Quality(unprocessed, snap, scoreNow).Breakdown.Integrity, 1e-9)
}

func TestQuality_IsDeterministic(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t)
	u := richUnit()
	a := Quality(u, snap, scoreNow)
	b := Quality(u, snap, scoreNow)
	require.Equal(t, a, b)
}

func TestNewSnapshot_RejectsBadWeights(t *testing.T) {
	t.Parallel()

	s := DefaultSnapshot()
	s.Weights.Access = 0.5
	_, err := NewSnapshot(s)
	require.Error(t, err)

	s = DefaultSnapshot()
	s.RelevanceSaturation = 0
	_, err = NewSnapshot(s)
	require.Error(t, err)
}

func TestCategorizeBands(t *testing.T) {
	t.Parallel()

	require.Equal(t, CategoryExcellent, Categorize(0.8))
	require.Equal(t, CategoryGood, Categorize(0.79))
	require.Equal(t, CategoryFair, Categorize(0.45))
	require.Equal(t, CategoryPoor, Categorize(0.25))
	require.Equal(t, CategoryBad, Categorize(0.05))
}
