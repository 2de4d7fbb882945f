// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terralab/landcrawler/internal/land"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// UnitStore persists crawl units and the link/media graph in Postgres.
type UnitStore struct {
	pool querier
}

// NewUnitStore creates a Postgres-backed UnitStore using the provided config.
func NewUnitStore(ctx context.Context, cfg Config) (*UnitStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &UnitStore{pool: pool}, nil
}

// NewUnitStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewUnitStoreWithPool(pool querier) (*UnitStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &UnitStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *UnitStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetLand fetches a land by ID.
func (s *UnitStore) GetLand(ctx context.Context, landID uuid.UUID) (land.Land, error) {
	const query = `
SELECT id, name, description, languages, start_urls, created_at
FROM lands WHERE id = $1`

	var l land.Land
	err := s.pool.QueryRow(ctx, query, landID).Scan(
		&l.ID, &l.Name, &l.Description, &l.Languages, &l.StartURLs, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return land.Land{}, land.ErrLandNotFound
	}
	if err != nil {
		return land.Land{}, fmt.Errorf("select land: %w", err)
	}
	return l, nil
}

// GetLexicon fetches a land's weighted terms. A land without terms yields an
// empty lexicon, which callers must treat as dictionary starvation.
func (s *UnitStore) GetLexicon(ctx context.Context, landID uuid.UUID) (land.Lexicon, error) {
	const query = `
SELECT term, weight, lang
FROM lexicon_terms WHERE land_id = $1
ORDER BY term`

	rows, err := s.pool.Query(ctx, query, landID)
	if err != nil {
		return land.Lexicon{}, fmt.Errorf("select lexicon: %w", err)
	}
	defer rows.Close()

	lex := land.Lexicon{LandID: landID}
	for rows.Next() {
		var term land.LexiconTerm
		if err := rows.Scan(&term.Term, &term.Weight, &term.Lang); err != nil {
			return land.Lexicon{}, fmt.Errorf("scan lexicon term: %w", err)
		}
		lex.Terms = append(lex.Terms, term)
	}
	if err := rows.Err(); err != nil {
		return land.Lexicon{}, fmt.Errorf("iterate lexicon terms: %w", err)
	}
	return lex, nil
}

// UpsertUnit inserts the unit keyed on (land_id, url) or returns the existing
// row, keeping the smaller depth. The returned unit carries the authoritative
// ID.
func (s *UnitStore) UpsertUnit(ctx context.Context, unit land.CrawlUnit) (land.CrawlUnit, error) {
	const query = `
INSERT INTO units (id, land_id, domain_id, url, depth, discovered_at, http_status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (land_id, url) DO UPDATE
	SET depth = LEAST(units.depth, EXCLUDED.depth)
RETURNING id, domain_id, depth, discovered_at`

	err := s.pool.QueryRow(ctx, query,
		unit.ID, unit.LandID, unit.DomainID, unit.URL,
		unit.Depth, unit.DiscoveredAt, unit.HTTPStatus,
	).Scan(&unit.ID, &unit.DomainID, &unit.Depth, &unit.DiscoveredAt)
	if err != nil {
		return land.CrawlUnit{}, fmt.Errorf("upsert unit: %w", err)
	}
	return unit, nil
}

// SaveUnit replaces the stored unit by ID.
func (s *UnitStore) SaveUnit(ctx context.Context, unit land.CrawlUnit) error {
	metadataJSON, err := json.Marshal(unit.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	qualityJSON, err := json.Marshal(unit.Quality)
	if err != nil {
		return fmt.Errorf("marshal quality: %w", err)
	}

	const query = `
UPDATE units SET
	domain_id = $2,
	depth = $3,
	fetched_at = $4,
	processed_at = $5,
	content_extracted_at = $6,
	content_updated_at = $7,
	http_status = $8,
	content_type = $9,
	final_url = $10,
	raw_body_uri = $11,
	raw_size = $12,
	content_hash = $13,
	last_modified = $14,
	etag = $15,
	content = $16,
	content_html = $17,
	metadata = $18,
	relevance = $19,
	quality = $20,
	extraction_source = $21,
	gate_verdict = $22
WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		unit.ID, unit.DomainID, unit.Depth,
		unit.FetchedAt, unit.ProcessedAt, unit.ContentExtractedAt, unit.ContentUpdatedAt,
		unit.HTTPStatus, unit.ContentType, unit.FinalURL, unit.RawBodyURI, unit.RawSize,
		unit.ContentHash, unit.LastModified, unit.ETag,
		unit.Content, unit.ContentHTML, metadataJSON,
		unit.Relevance, qualityJSON, unit.Extraction, unit.GateVerdict,
	)
	if err != nil {
		return fmt.Errorf("update unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unit %s not found", unit.ID)
	}
	return nil
}

const unitColumns = `
	id, land_id, domain_id, url, depth,
	discovered_at, fetched_at, processed_at, content_extracted_at, content_updated_at,
	http_status, content_type, final_url, raw_body_uri, raw_size,
	content_hash, last_modified, etag,
	content, content_html, metadata, relevance, quality, extraction_source, gate_verdict`

// GetUnit fetches a unit by ID.
func (s *UnitStore) GetUnit(ctx context.Context, unitID uuid.UUID) (land.CrawlUnit, error) {
	query := `SELECT` + unitColumns + ` FROM units WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, unitID)
	unit, err := scanUnit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return land.CrawlUnit{}, land.ErrUnitNotFound
	}
	if err != nil {
		return land.CrawlUnit{}, fmt.Errorf("select unit: %w", err)
	}
	return unit, nil
}

// NextCandidates returns unprocessed units ordered by ascending depth then
// ascending discovery time.
func (s *UnitStore) NextCandidates(ctx context.Context, landID uuid.UUID, limit int) ([]land.CrawlUnit, error) {
	query := `SELECT` + unitColumns + `
FROM units
WHERE land_id = $1 AND processed_at IS NULL
ORDER BY depth ASC, discovered_at ASC
LIMIT $2`

	rows, err := s.pool.Query(ctx, query, landID, limit)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()

	var out []land.CrawlUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// MarkForRecrawl clears processed_at on units whose http_status matches the
// filter. Returns the number touched.
func (s *UnitStore) MarkForRecrawl(ctx context.Context, landID uuid.UUID, statuses []int) (int64, error) {
	const query = `
UPDATE units SET processed_at = NULL
WHERE land_id = $1 AND processed_at IS NOT NULL AND http_status = ANY($2)`

	tag, err := s.pool.Exec(ctx, query, landID, statuses)
	if err != nil {
		return 0, fmt.Errorf("mark for recrawl: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertLink stores a directed edge keyed on (source, target).
func (s *UnitStore) UpsertLink(ctx context.Context, link land.Link) error {
	const query = `
INSERT INTO links (source_id, target_id, anchor_text, nofollow)
VALUES ($1, $2, $3, $4)
ON CONFLICT (source_id, target_id) DO UPDATE
	SET anchor_text = EXCLUDED.anchor_text, nofollow = EXCLUDED.nofollow`

	if _, err := s.pool.Exec(ctx, query,
		link.SourceID, link.TargetID, link.AnchorText, link.NoFollow); err != nil {
		return fmt.Errorf("upsert link: %w", err)
	}
	return nil
}

// UpsertMediaRef stores a media reference keyed on (unit, url). A ref without
// analyzer info keeps any info an earlier write attached.
func (s *UnitStore) UpsertMediaRef(ctx context.Context, ref land.MediaRef) error {
	const query = `
INSERT INTO media_refs (unit_id, url, media_type, info)
VALUES ($1, $2, $3, $4)
ON CONFLICT (unit_id, url) DO UPDATE
	SET media_type = EXCLUDED.media_type,
	    info = COALESCE(EXCLUDED.info, media_refs.info)`

	var infoJSON []byte
	if ref.Info != nil {
		var err error
		infoJSON, err = json.Marshal(ref.Info)
		if err != nil {
			return fmt.Errorf("marshal media info: %w", err)
		}
	}
	if _, err := s.pool.Exec(ctx, query, ref.UnitID, ref.URL, ref.Type, infoJSON); err != nil {
		return fmt.Errorf("upsert media ref: %w", err)
	}
	return nil
}

// ListLinks returns all outgoing edges of a source unit.
func (s *UnitStore) ListLinks(ctx context.Context, sourceID uuid.UUID) ([]land.Link, error) {
	const query = `
SELECT source_id, target_id, anchor_text, nofollow
FROM links WHERE source_id = $1
ORDER BY target_id`

	rows, err := s.pool.Query(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("select links: %w", err)
	}
	defer rows.Close()

	var out []land.Link
	for rows.Next() {
		var l land.Link
		if err := rows.Scan(&l.SourceID, &l.TargetID, &l.AnchorText, &l.NoFollow); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return out, nil
}

// ListMediaRefs returns all media references of a unit.
func (s *UnitStore) ListMediaRefs(ctx context.Context, unitID uuid.UUID) ([]land.MediaRef, error) {
	const query = `
SELECT unit_id, url, media_type, info
FROM media_refs WHERE unit_id = $1
ORDER BY url`

	rows, err := s.pool.Query(ctx, query, unitID)
	if err != nil {
		return nil, fmt.Errorf("select media refs: %w", err)
	}
	defer rows.Close()

	var out []land.MediaRef
	for rows.Next() {
		var m land.MediaRef
		var infoJSON []byte
		if err := rows.Scan(&m.UnitID, &m.URL, &m.Type, &infoJSON); err != nil {
			return nil, fmt.Errorf("scan media ref: %w", err)
		}
		if len(infoJSON) > 0 {
			m.Info = &land.MediaInfo{}
			if err := json.Unmarshal(infoJSON, m.Info); err != nil {
				return nil, fmt.Errorf("unmarshal media info: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media refs: %w", err)
	}
	return out, nil
}

// UpsertDomain inserts the domain keyed on its lowercased name or returns the
// existing row. An incoming row carrying fetch results refreshes the stored
// metadata under the existing ID.
func (s *UnitStore) UpsertDomain(ctx context.Context, domain land.Domain) (land.Domain, error) {
	const query = `
INSERT INTO domains (id, name, fetched_at, http_status, title, description, keywords, extraction_source)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (name) DO UPDATE SET
	fetched_at = COALESCE(EXCLUDED.fetched_at, domains.fetched_at),
	http_status = CASE WHEN EXCLUDED.fetched_at IS NOT NULL THEN EXCLUDED.http_status ELSE domains.http_status END,
	title = CASE WHEN EXCLUDED.fetched_at IS NOT NULL THEN EXCLUDED.title ELSE domains.title END,
	description = CASE WHEN EXCLUDED.fetched_at IS NOT NULL THEN EXCLUDED.description ELSE domains.description END,
	keywords = CASE WHEN EXCLUDED.fetched_at IS NOT NULL THEN EXCLUDED.keywords ELSE domains.keywords END,
	extraction_source = CASE WHEN EXCLUDED.fetched_at IS NOT NULL THEN EXCLUDED.extraction_source ELSE domains.extraction_source END
RETURNING id, name, fetched_at, http_status, title, description, keywords, extraction_source`

	var out land.Domain
	err := s.pool.QueryRow(ctx, query,
		domain.ID, domain.Name, domain.FetchedAt, domain.HTTPStatus,
		domain.Title, domain.Description, domain.Keywords, domain.Extraction,
	).Scan(&out.ID, &out.Name, &out.FetchedAt, &out.HTTPStatus,
		&out.Title, &out.Description, &out.Keywords, &out.Extraction)
	if err != nil {
		return land.Domain{}, fmt.Errorf("upsert domain: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (land.CrawlUnit, error) {
	var (
		u            land.CrawlUnit
		metadataJSON []byte
		qualityJSON  []byte
	)
	err := row.Scan(
		&u.ID, &u.LandID, &u.DomainID, &u.URL, &u.Depth,
		&u.DiscoveredAt, &u.FetchedAt, &u.ProcessedAt, &u.ContentExtractedAt, &u.ContentUpdatedAt,
		&u.HTTPStatus, &u.ContentType, &u.FinalURL, &u.RawBodyURI, &u.RawSize,
		&u.ContentHash, &u.LastModified, &u.ETag,
		&u.Content, &u.ContentHTML, &metadataJSON, &u.Relevance, &qualityJSON,
		&u.Extraction, &u.GateVerdict,
	)
	if err != nil {
		return land.CrawlUnit{}, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &u.Metadata); err != nil {
			return land.CrawlUnit{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(qualityJSON) > 0 {
		if err := json.Unmarshal(qualityJSON, &u.Quality); err != nil {
			return land.CrawlUnit{}, fmt.Errorf("unmarshal quality: %w", err)
		}
	}
	return u, nil
}
