package shard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coral-im/coral/discord"
)

func chunk(nonce string, index, count int, userIDs ...discord.Snowflake) *discord.GuildMembersChunk {
	ev := &discord.GuildMembersChunk{
		GuildID:    100,
		ChunkIndex: index,
		ChunkCount: count,
		Nonce:      nonce,
	}
	for _, id := range userIDs {
		ev.Members = append(ev.Members, &discord.Member{User: &discord.User{ID: id}})
	}
	return ev
}

// TestChunkAccumulationAcrossParts checks a three-part listing completes
// with the union of all parts.
func TestChunkAccumulationAcrossParts(t *testing.T) {
	c := NewChunkCoordinator()
	w, err := c.Register("n1", 100)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if !c.HandleChunk(chunk("n1", 0, 3, 1, 2)) {
		t.Error("first part should match the pending request")
	}
	c.HandleChunk(chunk("n1", 1, 3, 3))
	c.HandleChunk(chunk("n1", 2, 3, 4, 5))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	members, err := w.Wait(ctx)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if len(members) != 5 {
		t.Errorf("expected 5 members across 3 parts, got %d", len(members))
	}
	if c.Pending() != 0 {
		t.Errorf("completed request should be removed, %d still pending", c.Pending())
	}
}

// TestChunkDeduplicatesMembers checks a user repeated across parts is
// counted once.
func TestChunkDeduplicatesMembers(t *testing.T) {
	c := NewChunkCoordinator()
	w, _ := c.Register("n1", 100)

	c.HandleChunk(chunk("n1", 0, 2, 1, 2))
	c.HandleChunk(chunk("n1", 1, 2, 2, 3)) // user 2 again

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	members, err := w.Wait(ctx)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if len(members) != 3 {
		t.Errorf("expected 3 unique members, got %d", len(members))
	}
}

// TestChunkUnknownNonceIgnored checks late responses from a previous
// connection fall on the floor.
func TestChunkUnknownNonceIgnored(t *testing.T) {
	c := NewChunkCoordinator()
	if c.HandleChunk(chunk("stale", 0, 1, 1)) {
		t.Error("a chunk with no pending request should be ignored")
	}
}

// TestChunkDuplicateNonceRejected checks nonce reuse while pending.
func TestChunkDuplicateNonceRejected(t *testing.T) {
	c := NewChunkCoordinator()
	c.Register("n1", 100)
	if _, err := c.Register("n1", 101); !errors.Is(err, ErrDuplicateNonce) {
		t.Errorf("expected ErrDuplicateNonce, got %v", err)
	}
}

// TestAbandonAllWakesWaiters checks the reconnect path: every pending
// waiter observes an error instead of hanging.
func TestAbandonAllWakesWaiters(t *testing.T) {
	c := NewChunkCoordinator()
	w1, _ := c.Register("n1", 100)
	w2, _ := c.Register("n2", 101)
	c.HandleChunk(chunk("n1", 0, 5, 1)) // partially delivered

	c.AbandonAll(ErrChunksAbandoned)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, w := range []*ChunkWaiter{w1, w2} {
		if _, err := w.Wait(ctx); !errors.Is(err, ErrChunksAbandoned) {
			t.Errorf("expected ErrChunksAbandoned, got %v", err)
		}
	}
	if c.Pending() != 0 {
		t.Errorf("abandoned requests should be removed, %d still pending", c.Pending())
	}
}

// TestWaitHonoursContext checks a caller can stop waiting early.
func TestWaitHonoursContext(t *testing.T) {
	c := NewChunkCoordinator()
	w, _ := c.Register("n1", 100)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := w.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

// TestNewNonceIsUnique sanity-checks the correlation token generator.
func TestNewNonceIsUnique(t *testing.T) {
	a, err := newNonce()
	if err != nil {
		t.Fatalf("nonce generation failed: %v", err)
	}
	b, _ := newNonce()
	if a == b {
		t.Error("two nonces collided")
	}
	if len(a) != 32 {
		t.Errorf("expected a 32-character hex nonce, got %d characters", len(a))
	}
}
