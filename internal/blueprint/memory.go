package blueprint

import (
	"context"
	"sort"
	"sync"

	"github.com/voxleads/chimera/internal/mission"
)

// MemoryStore keeps blueprints in a map. Commits swap whole records so a
// reader never observes a partially written blueprint.
type MemoryStore struct {
	clock mission.Clock

	mu              sync.RWMutex
	blueprints      map[string]mission.Blueprint
	repairs         []mission.SelectorRepair
	mappingRequired map[string]struct{}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(clock mission.Clock) *MemoryStore {
	return &MemoryStore{
		clock:           clock,
		blueprints:      make(map[string]mission.Blueprint),
		mappingRequired: make(map[string]struct{}),
	}
}

// Get returns the authoritative blueprint for domain.
func (s *MemoryStore) Get(_ context.Context, domain string) (mission.Blueprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bp, ok := s.blueprints[domain]
	if !ok {
		return mission.Blueprint{}, mission.ErrNotFound
	}
	return cloneBlueprint(bp), nil
}

// Commit idempotently replaces the domain's blueprint and clears any
// mapping-required flag.
func (s *MemoryStore) Commit(_ context.Context, bp mission.Blueprint) error {
	bp.UpdatedAt = s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blueprints[bp.Domain] = cloneBlueprint(bp)
	delete(s.mappingRequired, bp.Domain)
	return nil
}

// RecordRepair appends to the audit log, swaps the repaired selector into
// the blueprint, and decays the domain's confidence.
func (s *MemoryStore) RecordRepair(_ context.Context, r mission.SelectorRepair) error {
	now := s.clock.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repairs = append(s.repairs, r)

	bp, ok := s.blueprints[r.Domain]
	if !ok {
		return nil
	}
	updated := cloneBlueprint(bp)
	updated.Selectors[r.Intent] = r.NewSelector
	updated.Confidence = Decay(updated.Confidence)
	updated.RepairCount++
	updated.LastRepairedAt = now
	updated.UpdatedAt = now
	s.blueprints[r.Domain] = updated
	return nil
}

// MarkMappingRequired flags a domain that has no usable blueprint.
func (s *MemoryStore) MarkMappingRequired(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blueprints[domain]; ok {
		return nil
	}
	s.mappingRequired[domain] = struct{}{}
	return nil
}

// MappingRequired lists flagged domains, sorted for stable output.
func (s *MemoryStore) MappingRequired(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	domains := make([]string, 0, len(s.mappingRequired))
	for d := range s.mappingRequired {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains, nil
}

// Repairs returns a copy of the audit log.
func (s *MemoryStore) Repairs() []mission.SelectorRepair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]mission.SelectorRepair(nil), s.repairs...)
}

func cloneBlueprint(bp mission.Blueprint) mission.Blueprint {
	selectors := make(map[string]string, len(bp.Selectors))
	for k, v := range bp.Selectors {
		selectors[k] = v
	}
	bp.Selectors = selectors
	return bp
}
