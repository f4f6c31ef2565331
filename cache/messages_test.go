package cache

import (
	"testing"

	"github.com/coral-im/coral/discord"
)

// TestMessageStoreBoundAndEviction checks the window never exceeds its
// limit and that the oldest entry is the one that goes.
func TestMessageStoreBoundAndEviction(t *testing.T) {
	s := NewMessageStore(3)

	for i := 1; i <= 5; i++ {
		s.Insert(&discord.Message{ID: discord.Snowflake(i)})
	}

	if s.Len() != 3 {
		t.Fatalf("expected the store to hold its limit of 3, got %d", s.Len())
	}
	for _, evicted := range []discord.Snowflake{1, 2} {
		if _, ok := s.Get(evicted); ok {
			t.Errorf("oldest message %d should have been evicted", evicted)
		}
	}
	for _, kept := range []discord.Snowflake{3, 4, 5} {
		if _, ok := s.Get(kept); !ok {
			t.Errorf("recent message %d should be cached", kept)
		}
	}
}

// TestMessageEditKeepsPosition checks that replacing an entry does not
// refresh its eviction slot.
func TestMessageEditKeepsPosition(t *testing.T) {
	s := NewMessageStore(2)
	s.Insert(&discord.Message{ID: 1, Content: "v1"})
	s.Insert(&discord.Message{ID: 2})

	old := s.Insert(&discord.Message{ID: 1, Content: "v2"})
	if old == nil || old.Content != "v1" {
		t.Fatal("edit should return the previous version")
	}

	// id 1 is still oldest, so the next insert evicts it
	s.Insert(&discord.Message{ID: 3})
	if _, ok := s.Get(1); ok {
		t.Error("edited message kept insertion order, should be evicted first")
	}
	if _, ok := s.Get(2); !ok {
		t.Error("message 2 should survive")
	}
}

// TestMessageRemove checks removal returns the cached entry and misses
// return nil.
func TestMessageRemove(t *testing.T) {
	s := NewMessageStore(10)
	s.Insert(&discord.Message{ID: 1, Content: "hi"})

	if got := s.Remove(1); got == nil || got.Content != "hi" {
		t.Error("remove should return the cached message")
	}
	if got := s.Remove(1); got != nil {
		t.Error("second remove should miss")
	}
	if got := s.Remove(99); got != nil {
		t.Error("removing an unknown id should miss, not fail")
	}
}
