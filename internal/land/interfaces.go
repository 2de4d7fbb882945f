package land

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// FetchErrorKind buckets transport failures for retry-policy decisions made
// by callers. The fetcher itself never retries.
type FetchErrorKind string

// Fetch error kinds.
const (
	FetchErrTimeout     FetchErrorKind = "timeout"
	FetchErrDNS         FetchErrorKind = "dns"
	FetchErrTLS         FetchErrorKind = "tls"
	FetchErrConnRefused FetchErrorKind = "connection_refused"
	FetchErrBlocked     FetchErrorKind = "robots_blocked"
	FetchErrOther       FetchErrorKind = "other"
)

// FetchError is the only error type a Fetcher returns.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return string(e.Kind) + ": " + e.URL
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

// Unwrap exposes the underlying transport error.
func (e *FetchError) Unwrap() error { return e.Err }

// FetchRequest captures everything needed to fetch one URL.
type FetchRequest struct {
	URL     string
	Timeout time.Duration
	Headers http.Header // optional conditional headers (If-Modified-Since, If-None-Match)
}

// FetchResult is what a Fetcher returns on any response, 2xx or not.
type FetchResult struct {
	StatusCode   int
	Headers      http.Header
	FinalURL     string // after redirects
	Body         []byte
	ContentType  string
	LastModified string
	ETag         string
	Duration     time.Duration
}

// Fetcher performs one HTTP(S) request. Every failure is reported as a
// *FetchError; nothing escapes its boundary.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}

// UnitStore persists crawl units and the link/media graph. Upserts are keyed
// on normalized identity so concurrent discovery of the same target stays
// idempotent.
type UnitStore interface {
	GetLand(ctx context.Context, landID uuid.UUID) (Land, error)
	GetLexicon(ctx context.Context, landID uuid.UUID) (Lexicon, error)

	// UpsertUnit inserts the unit keyed on (land_id, url) or returns the
	// existing row, keeping the smaller depth. The returned unit carries the
	// authoritative ID.
	UpsertUnit(ctx context.Context, unit CrawlUnit) (CrawlUnit, error)
	SaveUnit(ctx context.Context, unit CrawlUnit) error
	GetUnit(ctx context.Context, unitID uuid.UUID) (CrawlUnit, error)

	// NextCandidates returns units with processed_at unset, ordered by
	// ascending depth then ascending discovery time.
	NextCandidates(ctx context.Context, landID uuid.UUID, limit int) ([]CrawlUnit, error)

	// MarkForRecrawl clears processed_at on units whose http_status matches
	// the filter, making them selectable again. Returns the number touched.
	MarkForRecrawl(ctx context.Context, landID uuid.UUID, statuses []int) (int64, error)

	UpsertLink(ctx context.Context, link Link) error
	UpsertMediaRef(ctx context.Context, ref MediaRef) error
	ListLinks(ctx context.Context, sourceID uuid.UUID) ([]Link, error)
	ListMediaRefs(ctx context.Context, unitID uuid.UUID) ([]MediaRef, error)

	UpsertDomain(ctx context.Context, domain Domain) (Domain, error)
}

// RelevanceGate is the optional yes/no topical classifier. Implementations
// apply their own bounded retry policy; an unrecovered failure returns
// VerdictNone and a non-nil error the caller records as a warning only.
type RelevanceGate interface {
	Classify(ctx context.Context, topic string, excerpt string) (Verdict, error)
}

// MediaAnalyzer performs the heavy media inspection this pipeline delegates.
// The graph builder calls it, when configured, for each media ref it writes;
// a failed inspection leaves the ref identity-only.
type MediaAnalyzer interface {
	Inspect(ctx context.Context, mediaURL string) (MediaInfo, error)
}

// MediaInfo is the analyzer's report for one media URL.
type MediaInfo struct {
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	Format         string            `json:"format,omitempty"`
	DominantColors []string          `json:"dominant_colors,omitempty"`
	PerceptualHash string            `json:"perceptual_hash,omitempty"`
	EXIF           map[string]string `json:"exif,omitempty"`
}

// BlobStore writes raw fetched bodies and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes per-unit completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for content addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unit/domain IDs.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
