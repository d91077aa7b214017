// Package threads resolves thread ownership, per-thread file listings and
// activity timestamps for the gateway.
//
// The gateway only depends on the Directory interface; the rest of the
// application (REST CRUD, uploads) shares the same backing tables.
package threads

import (
	"context"
	"sync"
)

// Directory is the narrow view of thread storage the gateway consumes.
type Directory interface {
	// Owns reports whether the user is the owner of the thread.
	Owns(ctx context.Context, userID, threadID string) (bool, error)

	// FilesForThread returns the file ids currently attached to a thread.
	FilesForThread(ctx context.Context, threadID string) ([]string, error)

	// TouchLastActive records thread activity. Called once per turn.
	TouchLastActive(ctx context.Context, threadID string) error
}

// Memory is an in-process Directory used by tests.
type Memory struct {
	mu      sync.Mutex
	owners  map[string]string   // thread id -> owner user id
	files   map[string][]string // thread id -> file ids
	touched map[string]int      // thread id -> touch count
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		owners:  make(map[string]string),
		files:   make(map[string][]string),
		touched: make(map[string]int),
	}
}

// AddThread registers a thread with its owner and initial files.
func (m *Memory) AddThread(threadID, ownerID string, fileIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[threadID] = ownerID
	m.files[threadID] = append([]string(nil), fileIDs...)
}

// TouchCount returns how many times a thread's activity was recorded.
func (m *Memory) TouchCount(threadID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touched[threadID]
}

func (m *Memory) Owns(ctx context.Context, userID, threadID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return userID != "" && m.owners[threadID] == userID, nil
}

func (m *Memory) FilesForThread(ctx context.Context, threadID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.files[threadID]...), nil
}

func (m *Memory) TouchLastActive(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[threadID]++
	return nil
}
