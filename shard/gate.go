package shard

import "context"

// IdentifyGate is the bounded-concurrency admission control shared by
// every shard of one client. The service enforces a global identify rate
// limit and reports how many identifies may run concurrently; the gate
// makes shards queue for that budget. Resume operations bypass the gate
// entirely — they are not rate-limited the same way.
type IdentifyGate struct {
	slots chan struct{}
}

// NewIdentifyGate creates a gate admitting capacity concurrent
// identifies. Capacities below one are clamped to one.
func NewIdentifyGate(capacity int) *IdentifyGate {
	if capacity < 1 {
		capacity = 1
	}
	return &IdentifyGate{slots: make(chan struct{}, capacity)}
}

// Acquire suspends the caller until an identify slot is free or the
// context is cancelled.
func (g *IdentifyGate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot. Every successful Acquire must be paired with
// exactly one Release, whether the identify succeeded or failed — a
// leaked slot starves every other shard forever.
func (g *IdentifyGate) Release() {
	select {
	case <-g.slots:
	default:
		// release without acquire is a bug upstream, not worth crashing for
	}
}

// Capacity returns the number of concurrent identifies admitted.
func (g *IdentifyGate) Capacity() int {
	return cap(g.slots)
}
