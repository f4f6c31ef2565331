package discord

import "time"

// Dispatch payload shapes. Each struct mirrors the `d` field of one
// gateway dispatch. Event kinds whose payload is exactly an existing
// entity (CHANNEL_CREATE is a Channel, GUILD_MEMBER_ADD is a Member)
// decode straight into that entity and have no struct here.

// Ready is the first dispatch after a successful identify. It carries
// the session identity needed for later resumes.
type Ready struct {
	Version          int                `json:"v"`
	User             *User              `json:"user"`
	Guilds           []UnavailableGuild `json:"guilds"`
	SessionID        string             `json:"session_id"`
	ResumeGatewayURL string             `json:"resume_gateway_url"`
	Shard            [2]int             `json:"shard"`
}

// UnavailableGuild is the stub form a guild takes in READY and in
// GUILD_DELETE. Unavailable=true means an outage, not a removal.
type UnavailableGuild struct {
	ID          Snowflake `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

// GuildRoleCreate doubles as GUILD_ROLE_UPDATE — identical shape.
type GuildRoleCreate struct {
	GuildID Snowflake `json:"guild_id"`
	Role    *Role     `json:"role"`
}

type GuildRoleDelete struct {
	GuildID Snowflake `json:"guild_id"`
	RoleID  Snowflake `json:"role_id"`
}

type GuildMemberRemove struct {
	GuildID Snowflake `json:"guild_id"`
	User    *User     `json:"user"`
}

// GuildMembersChunk is one part of a multi-part member listing triggered
// by a request-guild-members command. Parts correlate by Nonce.
type GuildMembersChunk struct {
	GuildID    Snowflake   `json:"guild_id"`
	Members    []*Member   `json:"members"`
	ChunkIndex int         `json:"chunk_index"`
	ChunkCount int         `json:"chunk_count"`
	NotFound   []Snowflake `json:"not_found"`
	Nonce      string      `json:"nonce"`
}

// GuildEmojisUpdate carries the guild's full emoji list, never a delta.
type GuildEmojisUpdate struct {
	GuildID Snowflake `json:"guild_id"`
	Emojis  []*Emoji  `json:"emojis"`
}

// GuildStickersUpdate carries the guild's full sticker list, never a delta.
type GuildStickersUpdate struct {
	GuildID  Snowflake  `json:"guild_id"`
	Stickers []*Sticker `json:"stickers"`
}

// GuildBanAdd doubles as GUILD_BAN_REMOVE — identical shape.
type GuildBanAdd struct {
	GuildID Snowflake `json:"guild_id"`
	User    *User     `json:"user"`
}

// TypingStart fires for users the cache may have never seen; when the
// service attaches member data we treat it as a free member upsert.
type TypingStart struct {
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id"`
	UserID    Snowflake `json:"user_id"`
	Timestamp int64     `json:"timestamp"`
	Member    *Member   `json:"member"`
}

type MessageDelete struct {
	ID        Snowflake `json:"id"`
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id"`
}

type MessageDeleteBulk struct {
	IDs       []Snowflake `json:"ids"`
	ChannelID Snowflake   `json:"channel_id"`
	GuildID   Snowflake   `json:"guild_id"`
}

type ChannelPinsUpdate struct {
	GuildID          Snowflake  `json:"guild_id"`
	ChannelID        Snowflake  `json:"channel_id"`
	LastPinTimestamp *time.Time `json:"last_pin_timestamp"`
}

// ThreadDelete carries only the thread's identity, not a full channel.
type ThreadDelete struct {
	ID       Snowflake   `json:"id"`
	GuildID  Snowflake   `json:"guild_id"`
	ParentID Snowflake   `json:"parent_id"`
	Type     ChannelType `json:"type"`
}

type GuildScheduledEventDelete = ScheduledEvent
