package shard

import (
	"context"
	"testing"
	"time"
)

// TestGateAdmitsUpToCapacity checks the counting semantics: capacity
// acquires succeed immediately, one more queues until a release.
func TestGateAdmitsUpToCapacity(t *testing.T) {
	g := NewIdentifyGate(2)

	ctx := context.Background()
	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	// the third must block until a slot frees up
	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := g.Acquire(blocked); err == nil {
		t.Fatal("third acquire should block at capacity 2")
	}

	g.Release()
	ok, cancel2 := context.WithTimeout(ctx, time.Second)
	defer cancel2()
	if err := g.Acquire(ok); err != nil {
		t.Fatalf("acquire after release should succeed: %v", err)
	}
}

// TestGateClampsCapacity checks that nonsense capacities become one.
func TestGateClampsCapacity(t *testing.T) {
	for _, c := range []int{0, -5} {
		if got := NewIdentifyGate(c).Capacity(); got != 1 {
			t.Errorf("capacity %d should clamp to 1, got %d", c, got)
		}
	}
}

// TestGateAcquireHonoursCancellation checks a queued waiter can give up.
func TestGateAcquireHonoursCancellation(t *testing.T) {
	g := NewIdentifyGate(1)
	g.Acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Acquire(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never woke up")
	}
}

// TestGateToleratesUnpairedRelease checks a stray release does not grow
// capacity or panic.
func TestGateToleratesUnpairedRelease(t *testing.T) {
	g := NewIdentifyGate(1)
	g.Release() // nothing held

	ctx := context.Background()
	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := g.Acquire(blocked); err == nil {
		t.Error("stray release must not mint an extra slot")
	}
}
