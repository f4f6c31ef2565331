// Package gateway defines the protocol surface of the real-time event
// socket: opcodes, close codes and their resumability, the intents
// bitmask, and the payload shapes of every outbound control message.
//
// Everything here is a fixed compile-time table. The transport and shard
// layers consume these definitions; nothing in this package does I/O.
package gateway

// Op is a gateway opcode. Dispatch (0) carries events; everything else
// is control plane.
type Op int

const (
	OpDispatch            Op = 0  // service → client, carries event name + sequence
	OpHeartbeat           Op = 1  // bidirectional liveness probe
	OpIdentify            Op = 2  // client → service, fresh-session handshake
	OpPresenceUpdate      Op = 3  // client → service
	OpVoiceStateUpdate    Op = 4  // client → service
	OpResume              Op = 6  // client → service, re-attach to prior session
	OpReconnect           Op = 7  // service → client, please reconnect
	OpRequestGuildMembers Op = 8  // client → service, member chunking
	OpInvalidSession      Op = 9  // service → client, payload bool = resumable
	OpHello               Op = 10 // service → client, heartbeat interval
	OpHeartbeatACK        Op = 11 // service → client, liveness acknowledgement
)

func (o Op) String() string {
	switch o {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpPresenceUpdate:
		return "presence_update"
	case OpVoiceStateUpdate:
		return "voice_state_update"
	case OpResume:
		return "resume"
	case OpReconnect:
		return "reconnect"
	case OpRequestGuildMembers:
		return "request_guild_members"
	case OpInvalidSession:
		return "invalid_session"
	case OpHello:
		return "hello"
	case OpHeartbeatACK:
		return "heartbeat_ack"
	default:
		return "unknown"
	}
}
