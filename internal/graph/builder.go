package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/terralab/landcrawler/internal/land"
)

// Builder turns parsed references into persisted graph rows. All writes go
// through upserts keyed on normalized identity, so two sources discovering
// the same target concurrently converge on one CrawlUnit, and re-processing
// a source regenerates the same edge set without duplicates.
type Builder struct {
	store    land.UnitStore
	ids      land.IDGenerator
	clock    land.Clock
	analyzer land.MediaAnalyzer
	logger   *zap.Logger
}

// NewBuilder constructs a Builder. analyzer may be nil, in which case media
// refs are persisted with identity only.
func NewBuilder(store land.UnitStore, ids land.IDGenerator, clock land.Clock, analyzer land.MediaAnalyzer, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{store: store, ids: ids, clock: clock, analyzer: analyzer, logger: logger}
}

// Build upserts target units at depth source.Depth+1, link edges from the
// source, and media refs on the source. It returns the number of link edges
// and media refs written.
func (b *Builder) Build(
	ctx context.Context,
	source land.CrawlUnit,
	links []DiscoveredLink,
	media []MediaCandidate,
) (int, int, error) {
	linkCount := 0
	for _, l := range links {
		if l.URL == source.URL {
			continue
		}
		target, err := b.upsertTarget(ctx, source, l.URL)
		if err != nil {
			return linkCount, 0, fmt.Errorf("upsert target %s: %w", l.URL, err)
		}
		edge := land.Link{
			SourceID:   source.ID,
			TargetID:   target.ID,
			AnchorText: l.Anchor,
			NoFollow:   l.NoFollow,
		}
		if err := b.store.UpsertLink(ctx, edge); err != nil {
			return linkCount, 0, fmt.Errorf("upsert link %s -> %s: %w", source.URL, l.URL, err)
		}
		linkCount++
	}

	mediaCount := 0
	for _, m := range media {
		ref := land.MediaRef{UnitID: source.ID, URL: m.URL, Type: m.Type}
		ref.Info = b.inspectMedia(ctx, m.URL)
		if err := b.store.UpsertMediaRef(ctx, ref); err != nil {
			return linkCount, mediaCount, fmt.Errorf("upsert media %s: %w", m.URL, err)
		}
		mediaCount++
	}

	b.logger.Debug("graph updated",
		zap.String("source", source.URL),
		zap.Int("links", linkCount),
		zap.Int("media", mediaCount),
	)
	return linkCount, mediaCount, nil
}

// inspectMedia asks the configured analyzer about a media URL. Inspection is
// best effort: a failure is logged and the ref stays identity-only.
func (b *Builder) inspectMedia(ctx context.Context, mediaURL string) *land.MediaInfo {
	if b.analyzer == nil {
		return nil
	}
	info, err := b.analyzer.Inspect(ctx, mediaURL)
	if err != nil {
		b.logger.Warn("media inspection failed",
			zap.String("url", mediaURL),
			zap.Error(err),
		)
		return nil
	}
	return &info
}

func (b *Builder) upsertTarget(ctx context.Context, source land.CrawlUnit, targetURL string) (land.CrawlUnit, error) {
	id, err := b.ids.NewID()
	if err != nil {
		return land.CrawlUnit{}, fmt.Errorf("new unit id: %w", err)
	}
	domainID, err := b.ids.NewID()
	if err != nil {
		return land.CrawlUnit{}, fmt.Errorf("new domain id: %w", err)
	}
	domain, err := b.store.UpsertDomain(ctx, land.Domain{ID: domainID, Name: land.HostOf(targetURL)})
	if err != nil {
		return land.CrawlUnit{}, fmt.Errorf("upsert domain: %w", err)
	}
	candidate := land.CrawlUnit{
		ID:           id,
		LandID:       source.LandID,
		DomainID:     domain.ID,
		URL:          targetURL,
		Depth:        source.Depth + 1,
		DiscoveredAt: b.clock.Now(),
	}
	return b.store.UpsertUnit(ctx, candidate)
}
