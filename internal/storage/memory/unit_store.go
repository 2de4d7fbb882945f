package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/terralab/landcrawler/internal/land"
)

// Missing-row errors are the shared land sentinels so callers can
// errors.Is against them regardless of backend.
var (
	ErrLandNotFound = land.ErrLandNotFound
	ErrUnitNotFound = land.ErrUnitNotFound
)

type unitKey struct {
	landID uuid.UUID
	url    string
}

type linkKey struct {
	sourceID uuid.UUID
	targetID uuid.UUID
}

type mediaKey struct {
	unitID uuid.UUID
	url    string
}

// UnitStore provides an in-memory land.UnitStore for development/testing.
type UnitStore struct {
	mu       sync.RWMutex
	lands    map[uuid.UUID]land.Land
	lexicons map[uuid.UUID]land.Lexicon
	units    map[uuid.UUID]land.CrawlUnit
	byURL    map[unitKey]uuid.UUID
	links    map[linkKey]land.Link
	media    map[mediaKey]land.MediaRef
	domains  map[string]land.Domain
}

// NewUnitStore constructs a UnitStore.
func NewUnitStore() *UnitStore {
	return &UnitStore{
		lands:    make(map[uuid.UUID]land.Land),
		lexicons: make(map[uuid.UUID]land.Lexicon),
		units:    make(map[uuid.UUID]land.CrawlUnit),
		byURL:    make(map[unitKey]uuid.UUID),
		links:    make(map[linkKey]land.Link),
		media:    make(map[mediaKey]land.MediaRef),
		domains:  make(map[string]land.Domain),
	}
}

// AddLand registers a land. Memory deployments seed lands directly.
func (s *UnitStore) AddLand(l land.Land) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lands[l.ID] = l
}

// SetLexicon registers a land's lexicon.
func (s *UnitStore) SetLexicon(lex land.Lexicon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lexicons[lex.LandID] = lex
}

// GetLand fetches a land by ID.
func (s *UnitStore) GetLand(_ context.Context, landID uuid.UUID) (land.Land, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lands[landID]
	if !ok {
		return land.Land{}, ErrLandNotFound
	}
	return l, nil
}

// GetLexicon fetches a land's lexicon. A land without one gets an empty
// lexicon, which callers must treat as dictionary starvation.
func (s *UnitStore) GetLexicon(_ context.Context, landID uuid.UUID) (land.Lexicon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.lands[landID]; !ok {
		return land.Lexicon{}, ErrLandNotFound
	}
	lex, ok := s.lexicons[landID]
	if !ok {
		return land.Lexicon{LandID: landID}, nil
	}
	return lex, nil
}

// UpsertUnit inserts the unit keyed on (land_id, url) or returns the existing
// row, keeping the smaller depth. The returned unit carries the authoritative
// ID.
func (s *UnitStore) UpsertUnit(_ context.Context, unit land.CrawlUnit) (land.CrawlUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := unitKey{landID: unit.LandID, url: unit.URL}
	if existingID, ok := s.byURL[key]; ok {
		existing := s.units[existingID]
		if unit.Depth < existing.Depth {
			existing.Depth = unit.Depth
			s.units[existingID] = existing
		}
		return existing, nil
	}

	s.units[unit.ID] = unit
	s.byURL[key] = unit.ID
	return unit, nil
}

// SaveUnit replaces the stored unit by ID.
func (s *UnitStore) SaveUnit(_ context.Context, unit land.CrawlUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[unit.ID]; !ok {
		return ErrUnitNotFound
	}
	s.units[unit.ID] = unit
	return nil
}

// GetUnit fetches a unit by ID.
func (s *UnitStore) GetUnit(_ context.Context, unitID uuid.UUID) (land.CrawlUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[unitID]
	if !ok {
		return land.CrawlUnit{}, ErrUnitNotFound
	}
	return u, nil
}

// NextCandidates returns unprocessed units ordered by ascending depth then
// ascending discovery time.
func (s *UnitStore) NextCandidates(_ context.Context, landID uuid.UUID, limit int) ([]land.CrawlUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []land.CrawlUnit
	for _, u := range s.units {
		if u.LandID == landID && u.ProcessedAt == nil {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkForRecrawl clears processed_at on units whose http_status matches the
// filter. Returns the number touched.
func (s *UnitStore) MarkForRecrawl(_ context.Context, landID uuid.UUID, statuses []int) (int64, error) {
	wanted := make(map[int]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var touched int64
	for id, u := range s.units {
		if u.LandID != landID || u.ProcessedAt == nil || !wanted[u.HTTPStatus] {
			continue
		}
		u.ProcessedAt = nil
		s.units[id] = u
		touched++
	}
	return touched, nil
}

// UpsertLink stores a directed edge keyed on (source, target).
func (s *UnitStore) UpsertLink(_ context.Context, link land.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[linkKey{sourceID: link.SourceID, targetID: link.TargetID}] = link
	return nil
}

// UpsertMediaRef stores a media reference keyed on (unit, url). A ref without
// analyzer info keeps any info an earlier write attached.
func (s *UnitStore) UpsertMediaRef(_ context.Context, ref land.MediaRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mediaKey{unitID: ref.UnitID, url: ref.URL}
	if ref.Info == nil {
		if existing, ok := s.media[key]; ok {
			ref.Info = existing.Info
		}
	}
	s.media[key] = ref
	return nil
}

// ListLinks returns all outgoing edges of a source unit.
func (s *UnitStore) ListLinks(_ context.Context, sourceID uuid.UUID) ([]land.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []land.Link
	for _, l := range s.links {
		if l.SourceID == sourceID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetID.String() < out[j].TargetID.String()
	})
	return out, nil
}

// ListMediaRefs returns all media references of a unit.
func (s *UnitStore) ListMediaRefs(_ context.Context, unitID uuid.UUID) ([]land.MediaRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []land.MediaRef
	for _, m := range s.media {
		if m.UnitID == unitID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].URL < out[j].URL
	})
	return out, nil
}

// UpsertDomain inserts the domain keyed on its lowercased name or returns the
// existing row. An incoming row carrying fetch results refreshes the stored
// metadata under the existing ID.
func (s *UnitStore) UpsertDomain(_ context.Context, domain land.Domain) (land.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.domains[domain.Name]
	if !ok {
		s.domains[domain.Name] = domain
		return domain, nil
	}
	if domain.FetchedAt != nil {
		domain.ID = existing.ID
		s.domains[domain.Name] = domain
		return domain, nil
	}
	return existing, nil
}
