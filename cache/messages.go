package cache

import (
	"sync"

	"github.com/coral-im/coral/discord"
)

// MessageStore is a bounded most-recent-messages cache with
// least-recently-inserted eviction. When full, the oldest entry is
// evicted to make room — bounding memory while keeping the recent window
// message-delete and message-update handlers actually need.
type MessageStore struct {
	mu    sync.Mutex
	limit int
	order []discord.Snowflake // insertion order, oldest first
	byID  map[discord.Snowflake]*discord.Message
}

// NewMessageStore creates a store holding at most limit messages.
func NewMessageStore(limit int) *MessageStore {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	return &MessageStore{
		limit: limit,
		order: make([]discord.Snowflake, 0, limit),
		byID:  make(map[discord.Snowflake]*discord.Message),
	}
}

// Insert adds a message, evicting the oldest entry when full.
// Re-inserting an existing id (a message edit) replaces the entry without
// refreshing its position — eviction order is insertion order, not use.
func (s *MessageStore) Insert(m *discord.Message) *discord.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[m.ID]; ok {
		s.byID[m.ID] = m
		return old
	}

	if len(s.order) >= s.limit {
		evict := s.order[0]
		s.order = s.order[1:] // evict oldest
		delete(s.byID, evict)
	}
	s.order = append(s.order, m.ID)
	s.byID[m.ID] = m
	return nil
}

// Get retrieves a message by id. Misses are normal — the window is
// bounded and deletes may refer to long-evicted messages.
func (s *MessageStore) Get(id discord.Snowflake) (*discord.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	return m, ok
}

// Remove deletes a message and returns what was cached, nil on a miss.
// The id lingers in the eviction order until it ages out; that slot
// simply evicts to nothing.
func (s *MessageStore) Remove(id discord.Snowflake) *discord.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.byID[id]
	delete(s.byID, id)
	return m
}

// Len returns the number of cached messages.
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Clear empties the store.
func (s *MessageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	s.byID = make(map[discord.Snowflake]*discord.Message)
}
