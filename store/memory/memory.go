// Package memory is the in-process ResumeStore. Snapshots die with the
// process, which makes it a no-op safety net — and the store tests use it
// as the reference implementation.
package memory

import (
	"sync"

	"github.com/coral-im/coral/session"
)

// Store is a thread-safe in-memory resume store.
type Store struct {
	mu        sync.RWMutex
	snapshots map[int]session.Resume
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{snapshots: make(map[int]session.Resume)}
}

// Save records the snapshot for one shard, replacing any previous one.
func (s *Store) Save(shardID int, r session.Resume) error {
	s.mu.Lock()
	s.snapshots[shardID] = r
	s.mu.Unlock()
	return nil
}

// Load retrieves the snapshot for one shard.
func (s *Store) Load(shardID int) (session.Resume, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.snapshots[shardID]
	return r, ok, nil
}

// Delete forgets a shard's snapshot.
func (s *Store) Delete(shardID int) error {
	s.mu.Lock()
	delete(s.snapshots, shardID)
	s.mu.Unlock()
	return nil
}

// Count returns the number of stored snapshots. Useful for tests.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}
