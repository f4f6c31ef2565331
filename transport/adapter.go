package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrTransportClosed is returned when you try to send on a closed transport.
// Named errors like this let callers check the exact cause with errors.Is()
// instead of comparing raw strings.
var ErrTransportClosed = errors.New("transport closed")

// Message is one discrete protocol message, the unit produced by the frame
// codec and consumed by the shard connection. Op selects the control-plane
// meaning; dispatches (op 0) additionally carry an event name and a
// strictly increasing per-shard sequence number. Never persisted.
type Message struct {
	Op    int             `json:"op"`
	Event string          `json:"t"`
	Seq   *uint64         `json:"s"`
	Data  json.RawMessage `json:"d"`
}

// DisconnectReason tells the shard layer why a transport closed.
// This feeds directly into the reconnect decision — a remote close carries
// a code whose resumability decides whether the session survives.
type DisconnectReason int

const (
	ReasonUnknown       DisconnectReason = iota // catch-all, should be rare
	ReasonNetworkError                          // underlying connection failed
	ReasonRemoteClose                           // peer closed with a status code
	ReasonClosedClean                           // graceful shutdown by our side
	ReasonProtocolError                         // codec failure, buffered state is garbage
)

// DisconnectEvent is sent on the channel returned by Disconnected().
// Code is the websocket close status when Reason is ReasonRemoteClose,
// zero otherwise.
type DisconnectEvent struct {
	Reason DisconnectReason
	Code   int
	Err    error // nil on clean close, populated on errors
}

// Adapter is the contract one gateway socket must satisfy. The shard layer
// only ever talks to this interface — it never imports a concrete
// websocket implementation, which is also what makes the state machine
// testable with an in-memory fake.
type Adapter interface {
	// Send delivers one encoded control message to the service.
	// Safe for concurrent use; writes are serialized internally so two
	// logical frames never interleave.
	Send(ctx context.Context, payload []byte) error

	// Receive returns a channel that emits decoded protocol messages.
	// The channel is closed when the transport closes.
	Receive() <-chan Message

	// Disconnected returns a channel that emits exactly one DisconnectEvent
	// when the transport closes, for any reason.
	Disconnected() <-chan DisconnectEvent

	// Close shuts down the transport cleanly.
	// Safe to call multiple times — subsequent calls are no-ops.
	Close() error
}
