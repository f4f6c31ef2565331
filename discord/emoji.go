package discord

import "time"

// Emoji is a guild-scoped custom emoji. The gateway never sends emoji
// deltas — expression updates always carry the guild's full list.
type Emoji struct {
	ID       Snowflake   `json:"id"`
	Name     string      `json:"name"`
	Roles    []Snowflake `json:"roles"`
	Animated bool        `json:"animated"`
	Managed  bool        `json:"managed"`
}

// Sticker is a guild-scoped custom sticker; same full-list update
// semantics as Emoji.
type Sticker struct {
	ID          Snowflake `json:"id"`
	GuildID     Snowflake `json:"guild_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Tags        string    `json:"tags"`
	FormatType  int       `json:"format_type"`
}

// ScheduledEvent is a guild's planned event (stage, voice or external).
type ScheduledEvent struct {
	ID          Snowflake  `json:"id"`
	GuildID     Snowflake  `json:"guild_id"`
	ChannelID   Snowflake  `json:"channel_id"`
	CreatorID   Snowflake  `json:"creator_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	StartTime   time.Time  `json:"scheduled_start_time"`
	EndTime     *time.Time `json:"scheduled_end_time"`
	Status      int        `json:"status"`
	EntityType  int        `json:"entity_type"`
	UserCount   int        `json:"user_count"`
}
