// Package domain fills per-host metadata independently of page-level units.
// A host whose homepage is gone can still be described from an archived copy.
package domain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/terralab/landcrawler/internal/extract"
	"github.com/terralab/landcrawler/internal/land"
	"github.com/terralab/landcrawler/internal/meta"
)

// Crawler resolves domain metadata through the same fallback shape the page
// pipeline uses: direct fetch, archived snapshot, bare floor.
type Crawler struct {
	store   land.UnitStore
	fetcher land.Fetcher
	archive *extract.ArchiveClient
	ids     land.IDGenerator
	clock   land.Clock
	timeout time.Duration
	logger  *zap.Logger
}

// NewCrawler constructs a Crawler. The archive client may be nil, which
// disables the snapshot tier.
func NewCrawler(
	store land.UnitStore,
	fetcher land.Fetcher,
	archive *extract.ArchiveClient,
	ids land.IDGenerator,
	clock land.Clock,
	timeout time.Duration,
	logger *zap.Logger,
) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		store:   store,
		fetcher: fetcher,
		archive: archive,
		ids:     ids,
		clock:   clock,
		timeout: timeout,
		logger:  logger,
	}
}

// Refresh fetches the homepage of a host, extracts its metadata through the
// fallback tiers and upserts the domain row. It always persists something:
// the floor tier records the bare host when both fetch tiers fail.
func (c *Crawler) Refresh(ctx context.Context, name string) (land.Domain, error) {
	if name == "" {
		return land.Domain{}, fmt.Errorf("domain name is required")
	}
	id, err := c.ids.NewID()
	if err != nil {
		return land.Domain{}, fmt.Errorf("new domain id: %w", err)
	}

	homepage := "https://" + name + "/"
	now := c.clock.Now()
	row := land.Domain{ID: id, Name: name, FetchedAt: &now}

	if done := c.tryDirect(ctx, homepage, &row); !done {
		if done := c.tryArchive(ctx, homepage, &row); !done {
			// Floor: the host is unreachable and unarchived; record the bare
			// name so the row exists and the failure is visible.
			row.Title = name
			row.Extraction = land.SourceBasic
		}
	}

	saved, err := c.store.UpsertDomain(ctx, row)
	if err != nil {
		return land.Domain{}, fmt.Errorf("upsert domain: %w", err)
	}
	return saved, nil
}

func (c *Crawler) tryDirect(ctx context.Context, homepage string, row *land.Domain) bool {
	result, err := c.fetcher.Fetch(ctx, land.FetchRequest{URL: homepage, Timeout: c.timeout})
	if err != nil {
		c.logger.Debug("direct domain fetch failed",
			zap.String("domain", row.Name), zap.Error(err))
		row.HTTPStatus = land.StatusTransportError
		return false
	}
	row.HTTPStatus = result.StatusCode
	if result.StatusCode < 200 || result.StatusCode >= 300 || len(result.Body) == 0 {
		return false
	}
	applyMetadata(row, result.Body, homepage, land.SourcePrimary)
	return true
}

func (c *Crawler) tryArchive(ctx context.Context, homepage string, row *land.Domain) bool {
	if c.archive == nil {
		return false
	}
	snapshotURL, err := c.archive.NearestSnapshot(ctx, homepage)
	if err != nil {
		c.logger.Debug("no archived copy of domain homepage",
			zap.String("domain", row.Name), zap.Error(err))
		return false
	}
	body, err := c.archive.FetchSnapshot(ctx, snapshotURL)
	if err != nil {
		c.logger.Debug("archived homepage fetch failed",
			zap.String("domain", row.Name), zap.Error(err))
		return false
	}
	applyMetadata(row, body, homepage, land.SourceArchive)
	return true
}

func applyMetadata(row *land.Domain, body []byte, homepage string, source land.ExtractionSource) {
	m := meta.Extract(body, homepage, "")
	row.Title = m.Title
	row.Description = m.Description
	row.Keywords = m.Keywords
	row.Extraction = source
	if row.Title == "" {
		row.Title = row.Name
	}
}
