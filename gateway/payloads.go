package gateway

import (
	"encoding/json"
	"runtime"

	"github.com/coral-im/coral/discord"
)

// Envelope is the outer shape of every client → service message.
// The d field is payload-specific; op selects its meaning.
type Envelope struct {
	Op Op  `json:"op"`
	D  any `json:"d"`
}

// Encode marshals an envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// IdentifyProperties describes the connecting client to the service.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// DefaultProperties fills in the library identity for identify payloads.
func DefaultProperties() IdentifyProperties {
	return IdentifyProperties{
		OS:      runtime.GOOS,
		Browser: "coral",
		Device:  "coral",
	}
}

// Identify is the fresh-session handshake payload (op 2).
// Shard is [id, count]; Intents selects the event categories delivered.
type Identify struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Shard          *[2]int            `json:"shard,omitempty"`
	Presence       *PresenceUpdate    `json:"presence,omitempty"`
	Intents        Intent             `json:"intents"`
}

// Resume re-attaches to a prior session (op 6), replaying every dispatch
// after Seq. It is not admission-controlled the way identify is.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       uint64 `json:"seq"`
}

// PresenceUpdate is the optional presence block of an identify, also
// sendable standalone as op 3.
type PresenceUpdate struct {
	Since      *int64             `json:"since"`
	Activities []discord.Activity `json:"activities"`
	Status     string             `json:"status"`
	AFK        bool               `json:"afk"`
}

// RequestGuildMembers asks for a guild's member list in chunks (op 8).
// Either Query (prefix match, empty = everyone) or UserIDs is set, never
// both. Nonce correlates the asynchronous chunk responses.
type RequestGuildMembers struct {
	GuildID   discord.Snowflake   `json:"guild_id"`
	Query     *string             `json:"query,omitempty"`
	Limit     int                 `json:"limit"`
	Presences bool                `json:"presences,omitempty"`
	UserIDs   []discord.Snowflake `json:"user_ids,omitempty"`
	Nonce     string              `json:"nonce,omitempty"`
}

// Hello is the d payload of op 10.
type Hello struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// HeartbeatEnvelope builds an op-1 message. The payload is the last seen
// dispatch sequence, or null when nothing has been dispatched yet.
func HeartbeatEnvelope(seq uint64, seen bool) Envelope {
	if !seen {
		return Envelope{Op: OpHeartbeat, D: nil}
	}
	return Envelope{Op: OpHeartbeat, D: seq}
}
