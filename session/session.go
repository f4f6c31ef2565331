// Package session holds the per-shard connection lifecycle: the state
// machine a shard moves through, the resume bookkeeping that survives
// reconnects, and the heartbeat controller that keeps a connection alive.
package session

import (
	"sync"
)

// State represents where a shard connection currently is in its lifecycle.
type State int

const (
	StateDisconnected State = iota // initial, no socket
	StateConnecting                // dialing
	StateAwaitingHello             // socket open, waiting for op hello
	StateIdentifying               // fresh session handshake in flight
	StateResuming                  // re-attaching to a prior session
	StateReady                     // fully live, dispatches flowing
	StateReconnecting              // recoverable failure, about to redial
	StateClosing                   // explicit shutdown, terminal
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// isValidTransition defines which state changes are legal.
// Closing is terminal — nothing can come after it.
func isValidTransition(from, to State) bool {
	allowed := map[State][]State{
		StateDisconnected:  {StateConnecting, StateClosing},
		StateConnecting:    {StateAwaitingHello, StateReconnecting, StateClosing},
		StateAwaitingHello: {StateIdentifying, StateResuming, StateReconnecting, StateClosing},
		StateIdentifying:   {StateReady, StateReconnecting, StateClosing},
		StateResuming:      {StateReady, StateReconnecting, StateClosing},
		StateReady:         {StateReconnecting, StateClosing},
		StateReconnecting:  {StateConnecting, StateClosing},
		StateClosing:       {}, // terminal, no exits
	}

	for _, valid := range allowed[from] {
		if to == valid {
			return true
		}
	}
	return false
}

// Resume is the portable snapshot of a session's identity — everything a
// later process (or a migrated shard) needs to re-attach without a fresh
// identify.
type Resume struct {
	SessionID        string `json:"session_id"`
	Sequence         uint64 `json:"sequence"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

// Session is the mutable per-shard record of sequence number, session
// identifier and resume URL. The read loop writes the sequence on every
// dispatch while the heartbeat loop reads it concurrently, so every
// access goes through the mutex.
type Session struct {
	mu         sync.Mutex
	state      State
	sequence   uint64
	seenSeq    bool
	id         string
	resumeURL  string
	reconnects int
}

// New creates an empty session in StateDisconnected.
func New() *Session {
	return &Session{state: StateDisconnected}
}

// Transition moves the session to a new state, enforcing the legality
// table. Returns false and leaves the state untouched on an illegal move.
func (s *Session) Transition(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !isValidTransition(s.state, next) {
		return false
	}
	s.state = next
	return true
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UpdateSequence records the sequence number of a dispatch. Sequences are
// strictly increasing per shard; a stale value (possible right after a
// resume replay race) is ignored rather than rewinding the resume point.
func (s *Session) UpdateSequence(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenSeq && seq <= s.sequence {
		return
	}
	s.sequence = seq
	s.seenSeq = true
}

// Sequence returns the last recorded dispatch sequence. ok is false when
// no dispatch has been seen yet — heartbeats then carry null.
func (s *Session) Sequence() (seq uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence, s.seenSeq
}

// MarkIdentified stores the identity from a READY dispatch. Later
// reconnect attempts resume against resumeURL instead of the discovery
// endpoint.
func (s *Session) MarkIdentified(id, resumeURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.resumeURL = resumeURL
}

// Resumable reports whether the session holds an identity to resume with.
func (s *Session) Resumable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id != ""
}

// ID returns the server-assigned session identifier, empty if none.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// ResumeURL returns the endpoint later resumes must dial, empty if none.
func (s *Session) ResumeURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeURL
}

// Snapshot exports the resume identity, for persistence or migration.
func (s *Session) Snapshot() Resume {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Resume{
		SessionID:        s.id,
		Sequence:         s.sequence,
		ResumeGatewayURL: s.resumeURL,
	}
}

// Restore pre-seeds the session from a persisted snapshot so the next
// connect attempt resumes instead of identifying. No-op for an empty
// snapshot.
func (s *Session) Restore(r Resume) {
	if r.SessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = r.SessionID
	s.resumeURL = r.ResumeGatewayURL
	s.sequence = r.Sequence
	s.seenSeq = r.Sequence > 0
}

// Clear wipes the resume identity. Called on non-resumable failures —
// the next connect attempt must identify from scratch.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	s.resumeURL = ""
	s.sequence = 0
	s.seenSeq = false
}

// RecordReconnect bumps the reconnect counter, for observability.
func (s *Session) RecordReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
}

// Reconnects returns how many times this session has reconnected.
func (s *Session) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}
