package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// DefaultAckTimeout is how long one heartbeat waits for its
// acknowledgement before counting a miss.
const DefaultAckTimeout = 10 * time.Second

// DefaultMaxMisses is how many consecutive unacknowledged heartbeats are
// tolerated before the owning shard is told to reconnect.
const DefaultMaxMisses = 5

// ErrMissedAcks is returned by Run when the service stopped acknowledging
// heartbeats. The shard must reconnect; the session itself stays
// resumable.
var ErrMissedAcks = errors.New("heartbeat: too many missed acknowledgements")

// SendFunc delivers one heartbeat frame carrying the last known sequence.
type SendFunc func(ctx context.Context) error

// Heartbeat is the timer-driven liveness probe for one connection.
// A fresh instance is created every time hello arrives, because the
// interval may change across reconnects. It decides only *when* the shard
// must reconnect, never how.
type Heartbeat struct {
	interval   time.Duration
	ackTimeout time.Duration
	maxMisses  int
	jitter     func() float64 // in [0,1); replaceable in tests
	send       SendFunc
	acks       chan struct{}
}

// NewHeartbeat creates a controller for the given hello interval.
func NewHeartbeat(interval time.Duration, send SendFunc) *Heartbeat {
	return &Heartbeat{
		interval:   interval,
		ackTimeout: DefaultAckTimeout,
		maxMisses:  DefaultMaxMisses,
		jitter:     rand.Float64,
		send:       send,
		acks:       make(chan struct{}, 1),
	}
}

// Ack records an acknowledgement. Called from the read loop on every
// heartbeat-ack frame; never blocks.
func (h *Heartbeat) Ack() {
	select {
	case h.acks <- struct{}{}:
	default:
	}
}

// FirstInterval is the jittered wait before the very first heartbeat,
// uniform in [0, interval). The jitter spreads a mass reconnect of many
// shards so their heartbeats don't land on the service in lockstep.
func (h *Heartbeat) FirstInterval() time.Duration {
	return time.Duration(float64(h.interval) * h.jitter())
}

// Run drives the probe until the context is cancelled, a send fails, or
// too many acknowledgements are missed. Every wait after the first equals
// the hello interval exactly.
func (h *Heartbeat) Run(ctx context.Context) error {
	timer := time.NewTimer(h.FirstInterval())
	defer timer.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := h.send(ctx); err != nil {
			return fmt.Errorf("heartbeat send: %w", err)
		}

		ackTimer := time.NewTimer(h.ackTimeout)
		select {
		case <-ctx.Done():
			ackTimer.Stop()
			return ctx.Err()
		case <-h.acks:
			// any acknowledgement resets the retry budget
			misses = 0
			ackTimer.Stop()
		case <-ackTimer.C:
			misses++
			if misses >= h.maxMisses {
				return ErrMissedAcks
			}
		}

		timer.Reset(h.interval)
	}
}
