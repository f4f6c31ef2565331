package discord

import "time"

// User is the account-level identity. One User may appear as a Member in
// any number of guilds — the cache tracks that relationship and keeps a
// single authoritative User entry alive for as long as at least one guild
// references it.
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	GlobalName    string    `json:"global_name"`
	Avatar        string    `json:"avatar"`
	Bot           bool      `json:"bot"`
	System        bool      `json:"system"`
}

// Member is a User's presence inside one specific guild.
// Dispatch payloads for member events carry the guild id at the top level;
// we keep it on the struct so a Member is self-describing once decoded.
type Member struct {
	User     *User       `json:"user"`
	GuildID  Snowflake   `json:"guild_id"`
	Nick     string      `json:"nick"`
	Roles    []Snowflake `json:"roles"`
	JoinedAt time.Time   `json:"joined_at"`
	Deaf     bool        `json:"deaf"`
	Mute     bool        `json:"mute"`
	Pending  bool        `json:"pending"`
}

// Presence is the online status snapshot the gateway pushes for a member.
type Presence struct {
	User       *User      `json:"user"`
	GuildID    Snowflake  `json:"guild_id"`
	Status     string     `json:"status"`
	Activities []Activity `json:"activities"`
}

// Activity is one entry in a presence's activity list.
type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url,omitempty"`
}

// VoiceState records which voice channel a user currently occupies.
// A zero ChannelID means the user left voice entirely.
type VoiceState struct {
	GuildID   Snowflake `json:"guild_id"`
	ChannelID Snowflake `json:"channel_id"`
	UserID    Snowflake `json:"user_id"`
	SessionID string    `json:"session_id"`
	Deaf      bool      `json:"deaf"`
	Mute      bool      `json:"mute"`
	SelfDeaf  bool      `json:"self_deaf"`
	SelfMute  bool      `json:"self_mute"`
}
