package score

import (
	"strings"
	"time"

	"github.com/terralab/landcrawler/internal/land"
)

// Quality flag names retained on the unit for observability.
const (
	FlagNeverFetched       = "never_fetched"
	FlagUnreachable        = "unreachable"
	FlagRedirect           = "redirect"
	FlagHTTPError          = "http_error"
	FlagNonDocument        = "non_document_content"
	FlagMissingTitle       = "missing_title"
	FlagMissingDescription = "missing_description"
	FlagShortDescription   = "short_description"
	FlagMissingKeywords    = "missing_keywords"
	FlagMissingCanonical   = "missing_canonical"
	FlagNoContent          = "no_content"
	FlagWordsVeryShort     = "words_very_short"
	FlagWordsShort         = "words_short"
	FlagWordsLong          = "words_long"
	FlagWordsVeryLong      = "words_very_long"
	FlagBoilerplateHeavy   = "boilerplate_heavy"
	FlagMarkupHeavy        = "markup_heavy"
	FlagRatioUnknown       = "markup_ratio_unknown"
	FlagReadingVeryShort   = "reading_very_short"
	FlagReadingShort       = "reading_short"
	FlagReadingLong        = "reading_long"
	FlagReadingVeryLong    = "reading_very_long"
	FlagLanguageMismatch   = "language_mismatch"
	FlagLanguageUndetected = "language_undetected"
	FlagUndated            = "undated"
	FlagStaleContent       = "stale_content"
	FlagGateRejected       = "gate_rejected"
	FlagContentBelowMin    = "content_below_minimum"
	FlagPipelineIncomplete = "pipeline_incomplete"
)

// Quality category labels.
const (
	CategoryExcellent = "excellent"
	CategoryGood      = "good"
	CategoryFair      = "fair"
	CategoryPoor      = "poor"
	CategoryBad       = "bad"
)

// readingWordsPerMinute is the assumed reading speed for the reading-time band.
const readingWordsPerMinute = 200

// Quality aggregates the five weighted heuristic blocks into a 0-1 score
// with explainable flags. It is a pure function of the unit, the snapshot
// and the supplied reference time, so re-scoring stored state reproduces the
// same result.
func Quality(u land.CrawlUnit, snap Snapshot, now time.Time) land.QualityResult {
	var flags []string

	access, f := accessBlock(u)
	flags = append(flags, f...)

	structure, f := structureBlock(u.Metadata)
	flags = append(flags, f...)

	richness, f := richnessBlock(u, snap)
	flags = append(flags, f...)

	coherence, f := coherenceBlock(u, snap, now)
	flags = append(flags, f...)

	integrity, f := integrityBlock(u, snap)
	flags = append(flags, f...)

	w := snap.Weights
	total := w.Access*access +
		w.Structure*structure +
		w.Richness*richness +
		w.Coherence*coherence +
		w.Integrity*integrity
	total = clamp01(total)

	return land.QualityResult{
		Score:    total,
		Category: Categorize(total),
		Flags:    flags,
		Breakdown: land.QualityBreakdown{
			Access:    access,
			Structure: structure,
			Richness:  richness,
			Coherence: coherence,
			Integrity: integrity,
		},
	}
}

// Categorize maps a score onto its named band.
func Categorize(score float64) string {
	switch {
	case score >= 0.8:
		return CategoryExcellent
	case score >= 0.6:
		return CategoryGood
	case score >= 0.4:
		return CategoryFair
	case score >= 0.2:
		return CategoryPoor
	default:
		return CategoryBad
	}
}

func accessBlock(u land.CrawlUnit) (float64, []string) {
	switch {
	case u.HTTPStatus == land.StatusNotFetched:
		return 0, []string{FlagNeverFetched}
	case u.HTTPStatus == land.StatusTransportError:
		return 0, []string{FlagUnreachable}
	case u.HTTPStatus >= 200 && u.HTTPStatus < 300:
		if u.ContentType != "" && !isDocumentContentType(u.ContentType) {
			return 0, []string{FlagNonDocument}
		}
		return 1.0, nil
	case u.HTTPStatus >= 300 && u.HTTPStatus < 400:
		return 0.5, []string{FlagRedirect}
	default:
		return 0, []string{FlagHTTPError}
	}
}

func isDocumentContentType(ct string) bool {
	ct = strings.ToLower(ct)
	for _, ok := range []string{"text/html", "application/xhtml", "text/plain", "application/xml", "text/xml"} {
		if strings.Contains(ct, ok) {
			return true
		}
	}
	return false
}

func structureBlock(meta land.PageMetadata) (float64, []string) {
	var score float64
	var flags []string

	if strings.TrimSpace(meta.Title) != "" {
		score += 0.4
	} else {
		flags = append(flags, FlagMissingTitle)
	}

	desc := strings.TrimSpace(meta.Description)
	switch {
	case desc == "":
		flags = append(flags, FlagMissingDescription)
	case len(desc) <= 20:
		flags = append(flags, FlagShortDescription)
	default:
		score += 0.3
	}

	if len(meta.Keywords) > 0 {
		score += 0.15
	} else {
		flags = append(flags, FlagMissingKeywords)
	}

	if meta.Canonical != "" {
		score += 0.15
	} else {
		flags = append(flags, FlagMissingCanonical)
	}

	return score, flags
}

func richnessBlock(u land.CrawlUnit, snap Snapshot) (float64, []string) {
	var flags []string

	words := len(strings.Fields(u.Content))
	wc, f := wordCountScore(words, snap.TargetWordCount)
	flags = append(flags, f...)

	ratio, f := markupRatioScore(u)
	flags = append(flags, f...)

	rt, f := readingTimeScore(words)
	flags = append(flags, f...)

	return 0.5*wc + 0.3*ratio + 0.2*rt, flags
}

// wordCountScore follows a curve peaking near the target length.
func wordCountScore(words, target int) (float64, []string) {
	switch {
	case words == 0:
		return 0, []string{FlagNoContent}
	case words < target/8:
		return 0.2, []string{FlagWordsVeryShort}
	case words < target/2:
		return 0.6, []string{FlagWordsShort}
	case words <= 2*target:
		return 1.0, nil
	case words <= 4*target:
		return 0.7, []string{FlagWordsLong}
	default:
		return 0.4, []string{FlagWordsVeryLong}
	}
}

// markupRatioScore penalizes boilerplate-heavy documents where little of the
// fetched bytes survive extraction. RawSize is captured at fetch time; when
// it is unknown (consolidation of a unit whose body was never archived) the
// component stays neutral.
func markupRatioScore(u land.CrawlUnit) (float64, []string) {
	if u.RawSize <= 0 {
		return 0.5, []string{FlagRatioUnknown}
	}
	ratio := float64(len(u.Content)) / float64(u.RawSize)
	switch {
	case ratio < 0.05:
		return 0.1, []string{FlagBoilerplateHeavy}
	case ratio < 0.15:
		return 0.5, []string{FlagMarkupHeavy}
	case ratio <= 0.7:
		return 1.0, nil
	default:
		return 0.8, nil
	}
}

func readingTimeScore(words int) (float64, []string) {
	seconds := float64(words) / readingWordsPerMinute * 60
	switch {
	case seconds < 15:
		return 0.2, []string{FlagReadingVeryShort}
	case seconds < 30:
		return 0.5, []string{FlagReadingShort}
	case seconds <= 15*60:
		return 1.0, nil
	case seconds <= 25*60:
		return 0.7, []string{FlagReadingLong}
	default:
		return 0.4, []string{FlagReadingVeryLong}
	}
}

func coherenceBlock(u land.CrawlUnit, snap Snapshot, now time.Time) (float64, []string) {
	var flags []string

	langScore := 0.5
	switch {
	case u.Metadata.Lang == "":
		flags = append(flags, FlagLanguageUndetected)
	case languageMatches(u.Metadata.Lang, snap.Languages):
		langScore = 1.0
	default:
		langScore = 0.0
		flags = append(flags, FlagLanguageMismatch)
	}

	rel := u.Relevance / snap.RelevanceSaturation
	if rel > 1.0 {
		rel = 1.0
	}
	if rel < 0 {
		rel = 0
	}

	age, f := contentAgeScore(u.Metadata, now)
	flags = append(flags, f...)

	return 0.4*langScore + 0.4*rel + 0.2*age, flags
}

func languageMatches(lang string, accepted []string) bool {
	lang = strings.ToLower(lang)
	for _, a := range accepted {
		if strings.EqualFold(a, lang) {
			return true
		}
	}
	return false
}

func contentAgeScore(meta land.PageMetadata, now time.Time) (float64, []string) {
	date := meta.PublishedAt
	if date == nil {
		date = meta.ModifiedAt
	}
	if date == nil {
		return 0.7, []string{FlagUndated}
	}
	age := now.Sub(*date)
	year := 365 * 24 * time.Hour
	switch {
	case age <= year:
		return 1.0, nil
	case age <= 2*year:
		return 0.9, nil
	case age <= 5*year:
		return 0.7, nil
	default:
		return 0.5, []string{FlagStaleContent}
	}
}

func integrityBlock(u land.CrawlUnit, snap Snapshot) (float64, []string) {
	var score float64
	var flags []string

	switch u.GateVerdict {
	case land.VerdictYes:
		score += 0.4
	case land.VerdictNo:
		flags = append(flags, FlagGateRejected)
	}

	if len(u.Content) >= snap.MinContentLength {
		score += 0.4
	} else {
		flags = append(flags, FlagContentBelowMin)
	}

	if u.Processed() {
		score += 0.2
	} else {
		flags = append(flags, FlagPipelineIncomplete)
	}

	return clamp01(score), flags
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
