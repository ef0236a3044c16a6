package reportcache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists encoded reports. Entries are written under the organization
// generation read before computing, so an invalidation during a computation
// strands its result instead of serving it.
type Store interface {
	Generation(ctx context.Context, orgID uuid.UUID) (int64, error)
	Get(ctx context.Context, orgID uuid.UUID, gen int64, digest string) ([]byte, bool, error)
	Set(ctx context.Context, orgID uuid.UUID, gen int64, digest string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, orgID uuid.UUID) error
}

type memoryEntry struct {
	gen     int64
	value   []byte
	expires time.Time
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	gens  map[uuid.UUID]int64
	items map[uuid.UUID]map[string]memoryEntry
	now   func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		gens:  make(map[uuid.UUID]int64),
		items: make(map[uuid.UUID]map[string]memoryEntry),
		now:   time.Now,
	}
}

// Generation returns the organization's current generation.
func (s *MemoryStore) Generation(_ context.Context, orgID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[orgID], nil
}

// Get returns an unexpired entry written under gen.
func (s *MemoryStore) Get(_ context.Context, orgID uuid.UUID, gen int64, digest string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.items[orgID][digest]
	s.mu.RUnlock()
	if !ok || entry.gen != gen {
		return nil, false, nil
	}
	if s.now().After(entry.expires) {
		s.mu.Lock()
		if current, ok := s.items[orgID][digest]; ok && current.expires.Equal(entry.expires) {
			delete(s.items[orgID], digest)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value unless the organization moved past gen.
func (s *MemoryStore) Set(_ context.Context, orgID uuid.UUID, gen int64, digest string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[orgID] != gen {
		return nil
	}
	bucket, ok := s.items[orgID]
	if !ok {
		bucket = make(map[string]memoryEntry)
		s.items[orgID] = bucket
	}
	bucket[digest] = memoryEntry{gen: gen, value: value, expires: s.now().Add(ttl)}
	return nil
}

// Invalidate drops every entry of orgID.
func (s *MemoryStore) Invalidate(_ context.Context, orgID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[orgID]++
	delete(s.items, orgID)
	return nil
}

// Len counts live entries of orgID.
func (s *MemoryStore) Len(orgID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items[orgID])
}
