package quota

import (
	"context"
	"sync"
	"time"

	"github.com/skillsenselab/scribeflow/internal/domain"
)

type counterKey struct {
	owner string
	kind  domain.ResourceKind
}

// MemoryStore is an in-process CounterStore guarded by a mutex.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[counterKey]*domain.QuotaCounter
	claimed  map[string]struct{}
	defaults Defaults
	now      func() time.Time
}

// NewMemoryStore creates an in-memory counter store.
func NewMemoryStore(defaults Defaults) *MemoryStore {
	defaults.ApplyDefaults()
	return &MemoryStore{
		counters: make(map[counterKey]*domain.QuotaCounter),
		claimed:  make(map[string]struct{}),
		defaults: defaults,
		now:      time.Now,
	}
}

// getOrCreate must be called with the mutex held.
func (s *MemoryStore) getOrCreate(owner string, kind domain.ResourceKind) *domain.QuotaCounter {
	key := counterKey{owner: owner, kind: kind}
	if c, ok := s.counters[key]; ok {
		return c
	}
	c := &domain.QuotaCounter{
		OwnerID:  owner,
		Resource: kind,
		Limit:    s.defaults.LimitFor(kind),
		ResetAt:  s.now().UTC().Add(s.defaults.Period),
	}
	s.counters[key] = c
	return c
}

// Get returns the counter, creating it lazily.
func (s *MemoryStore) Get(_ context.Context, owner string, kind domain.ResourceKind) (domain.QuotaCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.getOrCreate(owner, kind), nil
}

// IncrementUsed atomically adds amount to used.
func (s *MemoryStore) IncrementUsed(_ context.Context, owner string, kind domain.ResourceKind, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(owner, kind).Used += amount
	return nil
}

// IncrementUsedOnce adds amount only the first time token is seen for
// owner/kind.
func (s *MemoryStore) IncrementUsedOnce(_ context.Context, owner string, kind domain.ResourceKind, amount int64, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := owner + "|" + string(kind) + "|" + token
	if _, ok := s.claimed[key]; ok {
		return false, nil
	}
	s.claimed[key] = struct{}{}
	s.getOrCreate(owner, kind).Used += amount
	return true, nil
}

// SetLimit adjusts the counter's limit.
func (s *MemoryStore) SetLimit(_ context.Context, owner string, kind domain.ResourceKind, limit int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(owner, kind).Limit = limit
	return nil
}

// Reset zeroes used and advances resetAt by one period.
func (s *MemoryStore) Reset(_ context.Context, owner string, kind domain.ResourceKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreate(owner, kind)
	c.Used = 0
	c.ResetAt = s.now().UTC().Add(s.defaults.Period)
	return nil
}
