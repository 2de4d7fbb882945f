// Package land defines core types shared across the crawl pipeline.
package land

import (
	"time"

	"github.com/google/uuid"
)

// HTTP status sentinels stored on a unit when no real status code exists.
// A unit that was never fetched keeps StatusNotFetched; a fetch that failed
// before any response (timeout, DNS, TLS, refused connection) records
// StatusTransportError so http_status is never left unset after an attempt.
const (
	StatusNotFetched     = 0
	StatusTransportError = -1
)

// ExtractionSource labels which fallback tier produced a unit's content.
type ExtractionSource string

// Extraction source values persisted on crawl units and domains.
const (
	SourceNone       ExtractionSource = ""
	SourcePrimary    ExtractionSource = "primary"
	SourceArchive    ExtractionSource = "archive"
	SourceStructured ExtractionSource = "structured"
	SourceBasic      ExtractionSource = "basic"
	SourceAllFailed  ExtractionSource = "all_failed"
)

// Verdict is the outcome of the optional relevance gate.
type Verdict string

// Gate verdict values. VerdictNone means the gate was disabled, skipped,
// or failed after its bounded retries; it never zeroes the numeric score.
const (
	VerdictNone Verdict = ""
	VerdictYes  Verdict = "yes"
	VerdictNo   Verdict = "no"
)

// Land scopes a crawl: seed URLs, a weighted term lexicon, target languages.
type Land struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Languages   []string  `json:"languages"`
	StartURLs   []string  `json:"start_urls,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// LexiconTerm is one weighted, stemmed term of a land's lexicon.
type LexiconTerm struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
	Lang   string  `json:"lang"`
}

// Lexicon is the per-land weighted term set used for relevance scoring.
type Lexicon struct {
	LandID uuid.UUID     `json:"land_id"`
	Terms  []LexiconTerm `json:"terms"`
}

// Empty reports dictionary starvation: a valid but degenerate lexicon that
// forces relevance to 0 for every unit. Callers must surface this before a
// batch runs rather than let it silently zero a whole corpus.
func (l Lexicon) Empty() bool {
	return len(l.Terms) == 0
}

// PageMetadata holds fields pulled from the document independently of which
// extraction strategy produced the body text. Missing fields stay zero-valued
// and feed quality structure flags.
type PageMetadata struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Keywords    []string   `json:"keywords,omitempty"`
	Canonical   string     `json:"canonical,omitempty"`
	Lang        string     `json:"lang,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ModifiedAt  *time.Time `json:"modified_at,omitempty"`
}

// QualityBreakdown carries the five named sub-scores behind a quality score.
type QualityBreakdown struct {
	Access    float64 `json:"access"`
	Structure float64 `json:"structure"`
	Richness  float64 `json:"richness"`
	Coherence float64 `json:"coherence"`
	Integrity float64 `json:"integrity"`
}

// QualityResult is the explainable output of the quality scorer.
type QualityResult struct {
	Score     float64          `json:"score"`
	Category  string           `json:"category"`
	Flags     []string         `json:"flags,omitempty"`
	Breakdown QualityBreakdown `json:"breakdown"`
}

// CrawlUnit is one URL within a land, with its lifecycle timestamps,
// extracted content and derived scores.
type CrawlUnit struct {
	ID       uuid.UUID `json:"id"`
	LandID   uuid.UUID `json:"land_id"`
	DomainID uuid.UUID `json:"domain_id"`
	URL      string    `json:"url"` // normalized
	Depth    int       `json:"depth"`

	DiscoveredAt       time.Time  `json:"discovered_at"`
	FetchedAt          *time.Time `json:"fetched_at,omitempty"`
	ProcessedAt        *time.Time `json:"processed_at,omitempty"`
	ContentExtractedAt *time.Time `json:"content_extracted_at,omitempty"`
	ContentUpdatedAt   *time.Time `json:"content_updated_at,omitempty"`

	HTTPStatus   int    `json:"http_status"`
	ContentType  string `json:"content_type,omitempty"`
	FinalURL     string `json:"final_url,omitempty"`
	RawBodyURI   string `json:"raw_body_uri,omitempty"`
	RawSize      int    `json:"raw_size,omitempty"`
	ContentHash  string `json:"content_hash,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	ETag         string `json:"etag,omitempty"`

	Content     string           `json:"content,omitempty"`
	ContentHTML string           `json:"content_html,omitempty"`
	Metadata    PageMetadata     `json:"metadata"`
	Relevance   float64          `json:"relevance"`
	Quality     QualityResult    `json:"quality"`
	Extraction  ExtractionSource `json:"extraction_source"`
	GateVerdict Verdict          `json:"gate_verdict,omitempty"`
}

// Processed reports whether the unit reached its terminal attempted state.
func (u CrawlUnit) Processed() bool {
	return u.ProcessedAt != nil
}

// Link is a directed edge between two crawl units. Re-processing a source
// regenerates the same edge set; upserts keyed on (source, target) keep the
// graph idempotent.
type Link struct {
	SourceID   uuid.UUID `json:"source_id"`
	TargetID   uuid.UUID `json:"target_id"`
	AnchorText string    `json:"anchor_text,omitempty"`
	NoFollow   bool      `json:"nofollow,omitempty"`
}

// MediaType classifies a media reference by what embeds it.
type MediaType string

// Media types recognized by the link/media extractor.
const (
	MediaImage MediaType = "img"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// MediaRef records that a media URL exists on a unit. Deep inspection
// (dimensions, colors, perceptual hashes) is delegated to the media analyzer.
type MediaRef struct {
	UnitID uuid.UUID  `json:"unit_id"`
	URL    string     `json:"url"`
	Type   MediaType  `json:"type"`
	Info   *MediaInfo `json:"info,omitempty"`
}

// Domain aggregates crawl units by host. The domain fallback crawler fills
// its metadata independently of page-level units.
type Domain struct {
	ID          uuid.UUID        `json:"id"`
	Name        string           `json:"name"` // lowercased host
	FetchedAt   *time.Time       `json:"fetched_at,omitempty"`
	HTTPStatus  int              `json:"http_status"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Keywords    []string         `json:"keywords,omitempty"`
	Extraction  ExtractionSource `json:"extraction_source"`
}

// QueueItem is one unit of pipeline work moving through a queue.
type QueueItem struct {
	UnitID      uuid.UUID `json:"unit_id"`
	LandID      uuid.UUID `json:"land_id"`
	Consolidate bool      `json:"consolidate,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// OutcomeStatus summarizes what happened to one unit in a batch.
type OutcomeStatus string

// Outcome statuses reported by the pipeline entry points.
const (
	OutcomeProcessed    OutcomeStatus = "processed"
	OutcomeFetchFailed  OutcomeStatus = "fetch_failed"
	OutcomeNoContent    OutcomeStatus = "no_content"
	OutcomeConsolidated OutcomeStatus = "consolidated"
)

// Outcome is returned by process/consolidate entry points for the scheduler.
type Outcome struct {
	UnitID     uuid.UUID        `json:"unit_id"`
	Status     OutcomeStatus    `json:"status"`
	HTTPStatus int              `json:"http_status"`
	Extraction ExtractionSource `json:"extraction_source"`
	Relevance  float64          `json:"relevance"`
	Quality    float64          `json:"quality"`
	Links      int              `json:"links"`
	Media      int              `json:"media"`
}
