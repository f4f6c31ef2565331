// Package file is the file-backed ResumeStore. Snapshots survive process
// restarts, letting a redeployed client resume every shard instead of
// re-identifying the whole fleet. Not suitable for multi-process
// deployments — each process needs its own path.
package file

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/coral-im/coral/session"
)

// Store persists resume snapshots to a single JSON file, keyed by shard id.
type Store struct {
	mu        sync.RWMutex
	path      string
	snapshots map[int]session.Resume
}

// New creates a file-backed store at the given path.
// If the file exists, snapshots are loaded from it on startup.
// If it doesn't exist, it will be created on first save.
func New(path string) (*Store, error) {
	s := &Store{
		path:      path,
		snapshots: make(map[int]session.Resume),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load resume state from %s: %w", path, err)
	}
	return s, nil
}

// Save records the snapshot for one shard and flushes to disk.
func (s *Store) Save(shardID int, r session.Resume) error {
	s.mu.Lock()
	s.snapshots[shardID] = r
	err := s.flush()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to persist resume state: %w", err)
	}
	return nil
}

// Load retrieves the snapshot for one shard from memory.
func (s *Store) Load(shardID int) (session.Resume, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.snapshots[shardID]
	return r, ok, nil
}

// Delete forgets a shard's snapshot and flushes to disk.
func (s *Store) Delete(shardID int) error {
	s.mu.Lock()
	delete(s.snapshots, shardID)
	err := s.flush()
	s.mu.Unlock()
	return err
}

// Count returns the number of stored snapshots.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// load reads snapshots from the JSON file into memory.
// Called once at startup. If the file doesn't exist, returns nil — empty store.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil // fresh start, no file yet
	}
	if err != nil {
		return err
	}

	// JSON object keys are strings; shard ids are ints. Convert on load.
	var raw map[string]session.Resume
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, r := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("invalid shard id %q in resume file", k)
		}
		s.snapshots[id] = r
	}
	return nil
}

// flush writes the current in-memory state to the JSON file.
// Must be called with the write lock held.
func (s *Store) flush() error {
	raw := make(map[string]session.Resume, len(s.snapshots))
	for id, r := range s.snapshots {
		raw[strconv.Itoa(id)] = r
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	// write to a temp file then rename — atomic on most systems,
	// prevents a corrupt file if the process crashes mid-write
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
