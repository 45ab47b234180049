package store

import (
	"context"
	"maps"
	"sync"

	"github.com/rs/zerolog"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a thread-safe, in-process Store. It lives for as long as the
// session that created it; nothing is evicted.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]Collection
	meta   map[string]Meta
	logger zerolog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		items:  make(map[string]Collection),
		meta:   make(map[string]Meta),
		logger: logger.With().Str("component", "MemoryStore").Logger(),
	}
}

// SetResource replaces the named collection. The store keeps its own copy of
// value, so later changes to the caller's map are not observed.
func (s *MemoryStore) SetResource(_ context.Context, resource string, value Collection) error {
	replacement := make(Collection, len(value))
	maps.Copy(replacement, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[resource] = replacement
	s.logger.Debug().Str("resource", resource).Int("items", len(replacement)).Msg("Resource replaced.")
	return nil
}

// SetItem inserts or overwrites one record.
func (s *MemoryStore) SetItem(_ context.Context, resource string, id ID, item Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.items[resource]
	if !ok {
		coll = make(Collection)
		s.items[resource] = coll
	}
	coll[id] = item
	return nil
}

// SetMeta replaces the metadata for a resource.
func (s *MemoryStore) SetMeta(_ context.Context, resource string, meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[resource] = meta
	return nil
}

// ReplacePage swaps the collection and metadata under a single lock.
func (s *MemoryStore) ReplacePage(_ context.Context, resource string, value Collection, meta Meta) error {
	replacement := make(Collection, len(value))
	maps.Copy(replacement, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[resource] = replacement
	s.meta[resource] = meta
	s.logger.Debug().Str("resource", resource).Int("items", len(replacement)).Msg("Page replaced.")
	return nil
}

// Item retrieves one record.
func (s *MemoryStore) Item(_ context.Context, resource string, id ID) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[resource][id]
	return item, ok, nil
}

// Collection returns a copy of the named collection; an unknown resource
// yields an empty collection.
func (s *MemoryStore) Collection(_ context.Context, resource string) (Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.items[resource]), nil
}

// Meta retrieves the metadata for a resource.
func (s *MemoryStore) Meta(_ context.Context, resource string) (Meta, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.meta[resource]
	return meta, ok, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
