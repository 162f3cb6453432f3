package sequence

import (
	"context"
	"sync"
	"time"

	"github.com/sipkd-core/sipkd/internal/shared"
)

type counterKey struct {
	category Category
	scope    string
}

// MemoryStore is a mutex-serialised in-process store. It backs tests and
// doubles as the single-writer fallback for stores without atomic increment.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[counterKey]*Counter
	voids    map[counterKey][]Void
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[counterKey]*Counter),
		voids:    make(map[counterKey][]Void),
	}
}

// Increment bumps and returns the counter under the store mutex.
func (s *MemoryStore) Increment(ctx context.Context, category Category, scope string) (int64, error) {
	if !category.Valid() {
		return 0, ErrUnknownCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey{category: category, scope: scope}
	c, ok := s.counters[key]
	if !ok {
		c = &Counter{Category: category, Scope: scope}
		s.counters[key] = c
	}
	c.LastIssued++
	c.UpdatedAt = time.Now()
	return c.LastIssued, nil
}

// Current returns a copy of the counter.
func (s *MemoryStore) Current(ctx context.Context, category Category, scope string) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[counterKey{category: category, scope: scope}]
	if !ok {
		return Counter{}, shared.ErrNotFound
	}
	return *c, nil
}

// RecordVoid stores the void in memory.
func (s *MemoryStore) RecordVoid(ctx context.Context, v Void) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.At.IsZero() {
		v.At = time.Now()
	}
	key := counterKey{category: v.Category, scope: v.Scope}
	s.voids[key] = append(s.voids[key], v)
	return nil
}

// ListVoids returns recorded voids.
func (s *MemoryStore) ListVoids(ctx context.Context, category Category, scope string) ([]Void, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey{category: category, scope: scope}
	return append([]Void(nil), s.voids[key]...), nil
}
