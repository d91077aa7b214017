package cancel

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps cancellation flags in process memory. It is used by
// tests and single-node deployments that run without Redis.
type MemoryStore struct {
	mu    sync.Mutex
	flags map[string]time.Time // thread id -> expiry
	ttl   time.Duration
}

// NewMemoryStore returns an in-memory flag store with the standard TTL.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags: make(map[string]time.Time),
		ttl:   FlagTTL,
	}
}

// Request marks the thread for cancellation.
func (s *MemoryStore) Request(ctx context.Context, threadID string) error {
	if threadID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[threadID] = time.Now().Add(s.ttl)
	s.prune()
	return nil
}

// IsCancelled reports whether a live flag exists for the thread.
func (s *MemoryStore) IsCancelled(ctx context.Context, threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.flags[threadID]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(s.flags, threadID)
		return false
	}
	return true
}

// Clear consumes the flag.
func (s *MemoryStore) Clear(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, threadID)
	return nil
}

// prune drops expired flags. Caller holds the lock.
func (s *MemoryStore) prune() {
	now := time.Now()
	for id, expiry := range s.flags {
		if now.After(expiry) {
			delete(s.flags, id)
		}
	}
}
