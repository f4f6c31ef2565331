package shard

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/coral-im/coral/discord"
)

// ErrChunksAbandoned is delivered to chunk waiters whose shard
// reconnected before the listing completed. The request is gone on the
// server side too — waiters must re-request, never wait.
var ErrChunksAbandoned = errors.New("shard: member chunk request abandoned by reconnect")

// ErrDuplicateNonce means a chunk request reused a nonce that is still
// pending.
var ErrDuplicateNonce = errors.New("shard: duplicate chunk request nonce")

// ChunkCoordinator correlates asynchronous multi-part member-chunk
// responses with the request that triggered them, by nonce. One instance
// per shard; pending requests never survive a reconnect.
type ChunkCoordinator struct {
	mu      sync.Mutex
	pending map[string]*chunkRequest
}

type chunkRequest struct {
	guildID  discord.Snowflake
	expected int // 0 until the first response declares chunk_count
	received int
	members  []*discord.Member
	seen     map[discord.Snowflake]struct{} // dedup by user id across parts
	done     chan struct{}
	err      error
}

// ChunkWaiter is the caller's handle on one in-flight request.
type ChunkWaiter struct {
	req *chunkRequest
}

// Wait blocks until the listing completes, the request is abandoned, or
// the context is cancelled. The accumulated member list is readable
// exactly once the completion signal fires.
func (w *ChunkWaiter) Wait(ctx context.Context) ([]*discord.Member, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.req.done:
		if w.req.err != nil {
			return nil, w.req.err
		}
		return w.req.members, nil
	}
}

// NewChunkCoordinator creates an empty coordinator.
func NewChunkCoordinator() *ChunkCoordinator {
	return &ChunkCoordinator{pending: make(map[string]*chunkRequest)}
}

// Register records a pending request under its nonce and returns the
// waiter that will observe completion.
func (c *ChunkCoordinator) Register(nonce string, guildID discord.Snowflake) (*ChunkWaiter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[nonce]; exists {
		return nil, ErrDuplicateNonce
	}
	req := &chunkRequest{
		guildID: guildID,
		seen:    make(map[discord.Snowflake]struct{}),
		done:    make(chan struct{}),
	}
	c.pending[nonce] = req
	return &ChunkWaiter{req: req}, nil
}

// Unregister drops a pending request whose send failed, releasing the
// nonce without waking the waiter.
func (c *ChunkCoordinator) Unregister(nonce string) {
	c.mu.Lock()
	delete(c.pending, nonce)
	c.mu.Unlock()
}

// HandleChunk applies one GUILD_MEMBERS_CHUNK response. Responses whose
// nonce matches no pending request (requests from a previous connection,
// or requests made by other library users) are ignored. Returns whether
// the chunk belonged to a pending request.
func (c *ChunkCoordinator) HandleChunk(ev *discord.GuildMembersChunk) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.pending[ev.Nonce]
	if !ok {
		return false
	}

	for _, m := range ev.Members {
		if m.User == nil {
			continue
		}
		if _, dup := req.seen[m.User.ID]; dup {
			continue
		}
		req.seen[m.User.ID] = struct{}{}
		req.members = append(req.members, m)
	}

	// the first part declares how many parts the listing has
	if req.expected == 0 && ev.ChunkCount > 0 {
		req.expected = ev.ChunkCount
	}
	req.received++

	if req.expected > 0 && req.received >= req.expected {
		delete(c.pending, ev.Nonce)
		close(req.done)
	}
	return true
}

// AbandonAll fails every pending request with err. Called on reconnect
// and on shutdown — a waiter must observe an error, not hang forever.
func (c *ChunkCoordinator) AbandonAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for nonce, req := range c.pending {
		req.err = err
		close(req.done)
		delete(c.pending, nonce)
	}
}

// Pending returns the number of in-flight requests, for observability.
func (c *ChunkCoordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// newNonce creates a cryptographically random 32-character hex
// correlation token for callers that don't supply their own.
func newNonce() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
