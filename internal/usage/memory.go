package usage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation. It is safe for
// concurrent use and is primarily intended for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	counters map[string]*memCounter
	oneTime  map[string]bool
	now      func() time.Time
}

type memCounter struct {
	amount    int64
	expiresAt time.Time // zero for lifetime counters
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*memCounter),
		oneTime:  make(map[string]bool),
		now:      time.Now,
	}
}

func counterKey(account, policyID, periodKey string) string {
	return fmt.Sprintf("%s|%s|%s", account, policyID, periodKey)
}

// Usage returns the committed usage for the counter key.
func (s *MemoryStore) Usage(_ context.Context, account, policyID, periodKey string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.counters[counterKey(account, policyID, periodKey)]
	if !ok {
		return 0, nil
	}
	if !c.expiresAt.IsZero() && s.now().After(c.expiresAt) {
		return 0, nil
	}
	return c.amount, nil
}

// AddUsage atomically adds amount to the counter key.
func (s *MemoryStore) AddUsage(_ context.Context, account, policyID, periodKey string, amount int64, ttl time.Duration) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(account, policyID, periodKey)
	c, ok := s.counters[key]
	if !ok || (!c.expiresAt.IsZero() && s.now().After(c.expiresAt)) {
		c = &memCounter{}
		if ttl > 0 {
			c.expiresAt = s.now().Add(ttl)
		}
		s.counters[key] = c
	}
	c.amount += amount
	return nil
}

// OneTimeConsumed reports whether the account has consumed the policy.
func (s *MemoryStore) OneTimeConsumed(_ context.Context, account, policyID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.oneTime[account+"|"+policyID], nil
}

// ConsumeOneTime permanently records the consumption.
func (s *MemoryStore) ConsumeOneTime(_ context.Context, account, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oneTime[account+"|"+policyID] = true
	return nil
}

// Prune removes expired counters.
func (s *MemoryStore) Prune(_ context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.counters {
		if !c.expiresAt.IsZero() && c.expiresAt.Before(cutoff) {
			delete(s.counters, key)
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
