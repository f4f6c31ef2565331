package discord

import "time"

// Message is a chat message. The cache only retains a bounded window of
// recent messages, so lookups for older ones are expected to miss.
type Message struct {
	ID              Snowflake    `json:"id"`
	ChannelID       Snowflake    `json:"channel_id"`
	GuildID         Snowflake    `json:"guild_id"`
	Author          *User        `json:"author"`
	Member          *Member      `json:"member"`
	Content         string       `json:"content"`
	Timestamp       time.Time    `json:"timestamp"`
	EditedTimestamp *time.Time   `json:"edited_timestamp"`
	TTS             bool         `json:"tts"`
	Pinned          bool         `json:"pinned"`
	Attachments     []Attachment `json:"attachments"`
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID       Snowflake `json:"id"`
	Filename string    `json:"filename"`
	Size     int       `json:"size"`
	URL      string    `json:"url"`
}
