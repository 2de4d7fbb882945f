// Package pipeline implements the per-unit crawl processing loop: fetch,
// extract, score, persist.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terralab/landcrawler/internal/extract"
	"github.com/terralab/landcrawler/internal/graph"
	"github.com/terralab/landcrawler/internal/land"
	"github.com/terralab/landcrawler/internal/meta"
	"github.com/terralab/landcrawler/internal/metrics"
	"github.com/terralab/landcrawler/internal/politeness"
	"github.com/terralab/landcrawler/internal/score"
)

// maxGateExcerpt caps what the relevance gate sees per unit.
const maxGateExcerpt = 4000

// Config controls Worker behavior.
type Config struct {
	BlobPrefix   string
	Topic        string
	FetchTimeout time.Duration
}

// Queue is the worker-facing side of a work queue.
type Queue interface {
	Enqueue(ctx context.Context, item land.QueueItem) error
	Dequeue(ctx context.Context) (land.QueueItem, error)
}

// Worker consumes queue items and executes the crawl pipeline for one unit
// at a time.
type Worker struct {
	queue     Queue
	store     land.UnitStore
	fetcher   land.Fetcher
	chain     *extract.Chain
	graph     *graph.Builder
	gate      land.RelevanceGate
	blobs     land.BlobStore
	publisher land.Publisher
	hasher    land.Hasher
	clock     land.Clock
	limiter   *politeness.Limiter
	snap      score.Snapshot
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. The gate, blob store, publisher and limiter may
// be nil, which disables the corresponding step.
func New(
	queue Queue,
	store land.UnitStore,
	fetcher land.Fetcher,
	chain *extract.Chain,
	builder *graph.Builder,
	gate land.RelevanceGate,
	blobs land.BlobStore,
	publisher land.Publisher,
	hasher land.Hasher,
	clock land.Clock,
	limiter *politeness.Limiter,
	snap score.Snapshot,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		store:     store,
		fetcher:   fetcher,
		chain:     chain,
		graph:     builder,
		gate:      gate,
		blobs:     blobs,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		limiter:   limiter,
		snap:      snap,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.handleItem(ctx, item)
	}
}

func (w *Worker) handleItem(ctx context.Context, item land.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	var err error
	if item.Consolidate {
		_, err = w.ConsolidateUnit(ctx, item.UnitID)
	} else {
		_, err = w.ProcessUnit(ctx, item.UnitID)
	}
	if err != nil {
		w.logger.Error("unit handling failed",
			zap.String("unit_id", item.UnitID.String()),
			zap.Bool("consolidate", item.Consolidate),
			zap.Error(err))
	}
}

// ProcessUnit runs the full pipeline for one unit: fetch, extract through the
// fallback chain, score, persist, publish. A failed fetch or empty extraction
// is an outcome, not an error; errors are reserved for infrastructure
// failures the caller may retry.
func (w *Worker) ProcessUnit(ctx context.Context, unitID uuid.UUID) (land.Outcome, error) {
	started := w.clock.Now()

	unit, err := w.store.GetUnit(ctx, unitID)
	if err != nil {
		return land.Outcome{}, fmt.Errorf("load unit: %w", err)
	}
	landRec, err := w.store.GetLand(ctx, unit.LandID)
	if err != nil {
		return land.Outcome{}, fmt.Errorf("load land: %w", err)
	}
	lexicon, err := w.store.GetLexicon(ctx, unit.LandID)
	if err != nil {
		return land.Outcome{}, fmt.Errorf("load lexicon: %w", err)
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, unit.URL); err != nil {
			return land.Outcome{}, err
		}
	}

	result, fetchErr := w.fetcher.Fetch(ctx, land.FetchRequest{
		URL:     unit.URL,
		Timeout: w.cfg.FetchTimeout,
		Headers: conditionalHeaders(unit),
	})
	fetchedAt := w.clock.Now()
	unit.FetchedAt = &fetchedAt

	if fetchErr != nil {
		unit.HTTPStatus = land.StatusTransportError
		metrics.ObserveFetchStatus(unit.HTTPStatus)
		w.logger.Warn("fetch failed",
			zap.String("unit_id", unit.ID.String()),
			zap.String("url", unit.URL),
			zap.Error(fetchErr))
		return w.finishUnit(ctx, unit, land.OutcomeFetchFailed, started, 0, 0)
	}
	metrics.ObserveFetchStatus(result.StatusCode)

	unit.HTTPStatus = result.StatusCode
	unit.ContentType = result.ContentType
	unit.FinalURL = result.FinalURL
	unit.LastModified = result.LastModified
	unit.ETag = result.ETag
	unit.RawSize = len(result.Body)

	if len(result.Body) > 0 {
		w.archiveBody(ctx, &unit, result)
	}

	// A 304 means the stored content is still current: replay scoring from
	// what we already have instead of discarding it.
	if result.StatusCode == http.StatusNotModified && unit.Content != "" {
		unit.HTTPStatus = http.StatusOK
		return w.rescoreStored(ctx, unit, lexicon, started, land.OutcomeProcessed)
	}

	if len(result.Body) == 0 || !isDocument(result.ContentType) {
		unit.Extraction = land.SourceNone
		return w.finishUnit(ctx, unit, land.OutcomeNoContent, started, 0, 0)
	}

	chainRes := w.chain.Run(ctx, result.Body, pageURL(unit))
	metrics.ObserveExtraction(string(chainRes.Source))
	unit.Extraction = chainRes.Source
	if !chainRes.Succeeded() {
		unit.Content = ""
		unit.ContentHTML = ""
		return w.finishUnit(ctx, unit, land.OutcomeNoContent, started, 0, 0)
	}

	extractedAt := w.clock.Now()
	unit.ContentExtractedAt = &extractedAt
	unit.ContentUpdatedAt = &extractedAt
	unit.Content = chainRes.Content.Text
	unit.ContentHTML = chainRes.Content.HTML
	unit.Metadata = meta.Extract(result.Body, pageURL(unit), unit.Content)
	if unit.Metadata.Title == "" {
		unit.Metadata.Title = chainRes.Content.Title
	}

	unit.Relevance = score.Relevance(lexicon, unit.Metadata.Title, unit.Content, unit.Metadata.Lang, w.snap)
	w.applyGate(ctx, &unit, landRec)

	links, media := 0, 0
	if w.graph != nil {
		links, media, err = w.graph.Build(ctx, unit, chainRes.Content.Links, chainRes.Content.Media)
		if err != nil {
			// Upserts are idempotent; a partial graph heals on the next pass.
			w.logger.Warn("graph build incomplete",
				zap.String("unit_id", unit.ID.String()), zap.Error(err))
		}
	}

	return w.finishUnit(ctx, unit, land.OutcomeProcessed, started, links, media)
}

// ConsolidateUnit recomputes relevance, quality and the link/media graph from
// the stored state of a unit, without refetching. Running it twice in a row
// yields the same row.
func (w *Worker) ConsolidateUnit(ctx context.Context, unitID uuid.UUID) (land.Outcome, error) {
	started := w.clock.Now()

	unit, err := w.store.GetUnit(ctx, unitID)
	if err != nil {
		return land.Outcome{}, fmt.Errorf("load unit: %w", err)
	}
	lexicon, err := w.store.GetLexicon(ctx, unit.LandID)
	if err != nil {
		return land.Outcome{}, fmt.Errorf("load lexicon: %w", err)
	}
	return w.rescoreStored(ctx, unit, lexicon, started, land.OutcomeConsolidated)
}

// rescoreStored replays scoring and graph extraction from persisted content.
func (w *Worker) rescoreStored(
	ctx context.Context,
	unit land.CrawlUnit,
	lexicon land.Lexicon,
	started time.Time,
	outcome land.OutcomeStatus,
) (land.Outcome, error) {
	if unit.Content != "" {
		unit.Relevance = score.Relevance(lexicon, unit.Metadata.Title, unit.Content, unit.Metadata.Lang, w.snap)
		if unit.GateVerdict == land.VerdictNo {
			unit.Relevance = 0
		}
	}

	links, media := 0, 0
	if unit.ContentHTML != "" && w.graph != nil {
		links, media = w.rebuildGraph(ctx, unit)
	}

	now := w.clock.Now()
	unit.ContentUpdatedAt = &now
	return w.finishUnit(ctx, unit, outcome, started, links, media)
}

func (w *Worker) rebuildGraph(ctx context.Context, unit land.CrawlUnit) (int, int) {
	base, err := url.Parse(pageURL(unit))
	if err != nil {
		w.logger.Warn("unparseable unit url", zap.String("url", unit.URL), zap.Error(err))
		return 0, 0
	}
	links, media, err := graph.ParseRefs(unit.ContentHTML, base)
	if err != nil {
		w.logger.Warn("reparse stored content failed",
			zap.String("unit_id", unit.ID.String()), zap.Error(err))
		return 0, 0
	}
	linkCount, mediaCount, err := w.graph.Build(ctx, unit, links, media)
	if err != nil {
		w.logger.Warn("graph rebuild incomplete",
			zap.String("unit_id", unit.ID.String()), zap.Error(err))
	}
	return linkCount, mediaCount
}

// applyGate asks the topical classifier about the unit's content. A "no"
// zeroes the lexical score; a gate failure keeps it and is logged as a
// warning only.
func (w *Worker) applyGate(ctx context.Context, unit *land.CrawlUnit, landRec land.Land) {
	if w.gate == nil || unit.Content == "" {
		return
	}
	excerpt := unit.Content
	if len(excerpt) > maxGateExcerpt {
		excerpt = excerpt[:maxGateExcerpt]
	}
	verdict, err := w.gate.Classify(ctx, landRec.Name, excerpt)
	if err != nil {
		w.logger.Warn("gate classification failed, keeping lexical score",
			zap.String("unit_id", unit.ID.String()), zap.Error(err))
	}
	unit.GateVerdict = verdict
	metrics.ObserveGateVerdict(string(verdict))
	if verdict == land.VerdictNo {
		unit.Relevance = 0
	}
}

func (w *Worker) archiveBody(ctx context.Context, unit *land.CrawlUnit, result land.FetchResult) {
	hash, err := w.hasher.Hash(result.Body)
	if err != nil {
		w.logger.Warn("hash body failed", zap.String("unit_id", unit.ID.String()), zap.Error(err))
		return
	}
	unit.ContentHash = hash
	if w.blobs == nil {
		return
	}
	uri, err := w.blobs.PutObject(ctx, w.blobPath(*unit, hash), result.ContentType, result.Body)
	if err != nil {
		w.logger.Warn("archive raw body failed",
			zap.String("unit_id", unit.ID.String()), zap.Error(err))
		return
	}
	unit.RawBodyURI = uri
}

// finishUnit stamps the terminal state, recomputes quality, persists the unit
// and publishes its outcome.
func (w *Worker) finishUnit(
	ctx context.Context,
	unit land.CrawlUnit,
	outcome land.OutcomeStatus,
	started time.Time,
	links, media int,
) (land.Outcome, error) {
	now := w.clock.Now()
	if unit.ProcessedAt == nil {
		unit.ProcessedAt = &now
	}
	unit.Quality = score.Quality(unit, w.snap, now)

	if err := w.store.SaveUnit(ctx, unit); err != nil {
		return land.Outcome{}, fmt.Errorf("save unit: %w", err)
	}

	out := land.Outcome{
		UnitID:     unit.ID,
		Status:     outcome,
		HTTPStatus: unit.HTTPStatus,
		Extraction: unit.Extraction,
		Relevance:  unit.Relevance,
		Quality:    unit.Quality.Score,
		Links:      links,
		Media:      media,
	}
	w.publishOutcome(ctx, out)
	metrics.ObserveUnit(string(outcome), w.clock.Now().Sub(started))

	w.logger.Info("unit finished",
		zap.String("unit_id", unit.ID.String()),
		zap.String("url", unit.URL),
		zap.String("outcome", string(outcome)),
		zap.Int("http_status", unit.HTTPStatus),
		zap.String("extraction", string(unit.Extraction)),
		zap.Float64("relevance", unit.Relevance),
		zap.Float64("quality", unit.Quality.Score),
	)
	return out, nil
}

func (w *Worker) publishOutcome(ctx context.Context, out land.Outcome) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, out); err != nil {
		w.logger.Warn("publish outcome failed",
			zap.String("unit_id", out.UnitID.String()), zap.Error(err))
	}
}

func (w *Worker) blobPath(unit land.CrawlUnit, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.html", unit.LandID, unit.ID, hash)
	}
	return fmt.Sprintf("%s/%s/%s/%s.html", prefix, unit.LandID, unit.ID, hash)
}

// pageURL prefers the post-redirect URL so relative references resolve
// against where the document actually lives.
func pageURL(unit land.CrawlUnit) string {
	if unit.FinalURL != "" {
		return unit.FinalURL
	}
	return unit.URL
}

// conditionalHeaders builds If-Modified-Since / If-None-Match from what the
// previous fetch recorded.
func conditionalHeaders(unit land.CrawlUnit) http.Header {
	if unit.LastModified == "" && unit.ETag == "" {
		return nil
	}
	h := http.Header{}
	if unit.LastModified != "" {
		h.Set("If-Modified-Since", unit.LastModified)
	}
	if unit.ETag != "" {
		h.Set("If-None-Match", unit.ETag)
	}
	return h
}

// isDocument reports whether the content type is worth running through the
// extraction chain.
func isDocument(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") ||
		strings.Contains(ct, "application/xhtml") ||
		strings.Contains(ct, "text/plain")
}
