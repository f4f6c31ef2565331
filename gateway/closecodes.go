package gateway

import "fmt"

// CloseCode is a websocket close code sent by the service. The set below
// is fixed by the protocol; codes outside it (including ordinary 1000/1001
// closes) are treated as resumable.
type CloseCode int

const (
	CloseUnknownError         CloseCode = 4000
	CloseUnknownOpcode        CloseCode = 4001
	CloseDecodeError          CloseCode = 4002
	CloseNotAuthenticated     CloseCode = 4003
	CloseAuthenticationFailed CloseCode = 4004
	CloseAlreadyAuthenticated CloseCode = 4005
	CloseInvalidSeq           CloseCode = 4007
	CloseRateLimited          CloseCode = 4008
	CloseSessionTimedOut      CloseCode = 4009
	CloseInvalidShard         CloseCode = 4010
	CloseShardingRequired     CloseCode = 4011
	CloseInvalidAPIVersion    CloseCode = 4012
	CloseInvalidIntents       CloseCode = 4013
	CloseDisallowedIntents    CloseCode = 4014
)

// Resumable reports whether a session may survive a close with this code.
// The fatal set is closed-world; any code not listed here — including
// codes the protocol adds later — defaults to resumable, because retrying
// is always safer than discarding a live session by mistake.
func (c CloseCode) Resumable() bool {
	switch c {
	case CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents:
		return false
	}
	return true
}

func (c CloseCode) String() string {
	switch c {
	case CloseUnknownError:
		return "unknown error"
	case CloseUnknownOpcode:
		return "unknown opcode"
	case CloseDecodeError:
		return "decode error"
	case CloseNotAuthenticated:
		return "not authenticated"
	case CloseAuthenticationFailed:
		return "authentication failed"
	case CloseAlreadyAuthenticated:
		return "already authenticated"
	case CloseInvalidSeq:
		return "invalid sequence"
	case CloseRateLimited:
		return "rate limited"
	case CloseSessionTimedOut:
		return "session timed out"
	case CloseInvalidShard:
		return "invalid shard"
	case CloseShardingRequired:
		return "sharding required"
	case CloseInvalidAPIVersion:
		return "invalid API version"
	case CloseInvalidIntents:
		return "invalid intents"
	case CloseDisallowedIntents:
		return "disallowed intents"
	default:
		return fmt.Sprintf("close code %d", int(c))
	}
}

// FatalSessionError is returned when the service closes a connection with
// a non-resumable code. It stops the owning shard — retrying would only
// repeat the same rejection.
type FatalSessionError struct {
	Code CloseCode
}

func (e *FatalSessionError) Error() string {
	return fmt.Sprintf("gateway: fatal close: %s (%d)", e.Code, int(e.Code))
}
