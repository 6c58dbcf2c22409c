// Package status persists per-mission status records with merge-patch
// semantics and a retention TTL that resets on every write.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/voxleads/chimera/internal/mission"
)

// MemoryStore keeps status records in a map. Used in tests and local runs.
type MemoryStore struct {
	clock     mission.Clock
	retention time.Duration

	mu      sync.Mutex
	records map[string]*memoryEntry
}

type memoryEntry struct {
	rec       mission.StatusRecord
	expiresAt time.Time
}

// NewMemoryStore constructs a MemoryStore with the default retention.
func NewMemoryStore(clock mission.Clock) *MemoryStore {
	return &MemoryStore{
		clock:     clock,
		retention: mission.StatusRetention,
		records:   make(map[string]*memoryEntry),
	}
}

// Create initializes the record for a freshly enqueued mission.
func (s *MemoryStore) Create(_ context.Context, m mission.Mission) error {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[m.ID] = &memoryEntry{
		rec: mission.StatusRecord{
			MissionID:  m.ID,
			Status:     mission.StatusQueued,
			Name:       m.Lead.Name,
			Location:   m.Lead.Location,
			LastUpdate: now,
		},
		expiresAt: now.Add(s.retention),
	}
	return nil
}

// Patch merges p into the record and resets its TTL.
func (s *MemoryStore) Patch(_ context.Context, missionID string, p mission.StatusPatch) error {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[missionID]
	if !ok || now.After(entry.expiresAt) {
		return mission.ErrNotFound
	}
	entry.rec.Apply(p, now)
	entry.expiresAt = now.Add(s.retention)
	return nil
}

// Get returns the record if it has not expired.
func (s *MemoryStore) Get(_ context.Context, missionID string) (mission.StatusRecord, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[missionID]
	if !ok || now.After(entry.expiresAt) {
		delete(s.records, missionID)
		return mission.StatusRecord{}, mission.ErrNotFound
	}
	return entry.rec, nil
}
