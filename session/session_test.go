package session

import "testing"

// TestNewSession checks that a fresh session starts disconnected with no
// identity and no sequence.
func TestNewSession(t *testing.T) {
	s := New()

	if s.State() != StateDisconnected {
		t.Errorf("expected StateDisconnected, got %v", s.State())
	}
	if s.Resumable() {
		t.Error("a fresh session must not be resumable")
	}
	if _, ok := s.Sequence(); ok {
		t.Error("a fresh session must report no sequence")
	}
}

// TestValidTransitions walks the happy path of a connection lifecycle.
func TestValidTransitions(t *testing.T) {
	s := New()

	steps := []State{
		StateConnecting,
		StateAwaitingHello,
		StateIdentifying,
		StateReady,
		StateReconnecting,
		StateConnecting,
		StateAwaitingHello,
		StateResuming,
		StateReady,
		StateClosing,
	}
	for _, next := range steps {
		if ok := s.Transition(next); !ok {
			t.Fatalf("%v -> %v should be valid", s.State(), next)
		}
	}
}

// TestInvalidTransitions makes sure illegal moves are rejected and leave
// the state untouched.
func TestInvalidTransitions(t *testing.T) {
	s := New()

	// disconnected → ready skips the whole handshake
	if ok := s.Transition(StateReady); ok {
		t.Error("disconnected -> ready should be invalid")
	}
	if s.State() != StateDisconnected {
		t.Errorf("rejected transition must not change state, got %v", s.State())
	}

	// closing is terminal
	s.Transition(StateClosing)
	if ok := s.Transition(StateConnecting); ok {
		t.Error("closing -> connecting should be invalid, closing is terminal")
	}
}

// TestSequenceIsMonotonic checks that stale sequence values never rewind
// the resume point.
func TestSequenceIsMonotonic(t *testing.T) {
	s := New()

	s.UpdateSequence(5)
	s.UpdateSequence(9)
	s.UpdateSequence(3) // stale, must be ignored

	seq, ok := s.Sequence()
	if !ok {
		t.Fatal("expected a recorded sequence")
	}
	if seq != 9 {
		t.Errorf("expected sequence 9, got %d", seq)
	}
}

// TestMarkIdentifiedMakesResumable checks the identity bookkeeping from
// a READY dispatch.
func TestMarkIdentifiedMakesResumable(t *testing.T) {
	s := New()
	s.MarkIdentified("sess-1", "wss://resume.example")

	if !s.Resumable() {
		t.Error("session with an id should be resumable")
	}
	if s.ID() != "sess-1" {
		t.Errorf("expected id sess-1, got %q", s.ID())
	}
	if s.ResumeURL() != "wss://resume.example" {
		t.Errorf("unexpected resume URL %q", s.ResumeURL())
	}
}

// TestSnapshotRestoreRoundTrip checks that a persisted snapshot re-seeds
// a fresh session well enough to resume.
func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New()
	s.MarkIdentified("sess-2", "wss://resume.example")
	s.UpdateSequence(42)

	snap := s.Snapshot()

	restored := New()
	restored.Restore(snap)

	if !restored.Resumable() {
		t.Fatal("restored session should be resumable")
	}
	if restored.ID() != "sess-2" {
		t.Errorf("expected id sess-2, got %q", restored.ID())
	}
	seq, ok := restored.Sequence()
	if !ok || seq != 42 {
		t.Errorf("expected restored sequence 42, got %d (ok=%t)", seq, ok)
	}
}

// TestRestoreIgnoresEmptySnapshot checks that an empty snapshot does not
// clobber anything.
func TestRestoreIgnoresEmptySnapshot(t *testing.T) {
	s := New()
	s.MarkIdentified("sess-3", "")
	s.Restore(Resume{})

	if s.ID() != "sess-3" {
		t.Error("empty snapshot must be a no-op")
	}
}

// TestClearWipesIdentity checks the non-resumable failure path: after
// Clear the next connect must identify from scratch.
func TestClearWipesIdentity(t *testing.T) {
	s := New()
	s.MarkIdentified("sess-4", "wss://resume.example")
	s.UpdateSequence(7)

	s.Clear()

	if s.Resumable() {
		t.Error("cleared session must not be resumable")
	}
	if _, ok := s.Sequence(); ok {
		t.Error("cleared session must report no sequence")
	}
}

// TestReconnectCounter checks the observability counter.
func TestReconnectCounter(t *testing.T) {
	s := New()
	s.RecordReconnect()
	s.RecordReconnect()

	if s.Reconnects() != 2 {
		t.Errorf("expected 2 reconnects, got %d", s.Reconnects())
	}
}
