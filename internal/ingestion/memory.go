package ingestion

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	status Status
	expiry time.Time
}

// MemoryStore keeps job records in process memory. Used by tests and
// single-node deployments that run without Redis.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	ttl     time.Duration
}

// NewMemoryStore returns an in-memory job store with the standard TTL.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
		ttl:     StatusTTL,
	}
}

// SetStatus writes the record and refreshes its TTL.
func (s *MemoryStore) SetStatus(ctx context.Context, jobID string, status Status) error {
	if jobID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[jobID] = memoryRecord{
		status: status,
		expiry: time.Now().Add(s.ttl),
	}
	return nil
}

// GetStatus reads the record, returning (nil, nil) when absent or expired.
func (s *MemoryStore) GetStatus(ctx context.Context, jobID string) (*Status, error) {
	s.mu.RLock()
	rec, ok := s.records[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().After(rec.expiry) {
		s.mu.Lock()
		delete(s.records, jobID)
		s.mu.Unlock()
		return nil, nil
	}
	status := rec.status
	return &status, nil
}

// DeleteStatus removes the record.
func (s *MemoryStore) DeleteStatus(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, jobID)
	return nil
}
