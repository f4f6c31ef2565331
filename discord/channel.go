package discord

import "time"

// ChannelType discriminates the channel union. Threads are channels too —
// types 10 through 12 — and live in the same top-level cache as regular
// channels while also being indexed under their guild's thread map.
type ChannelType int

const (
	ChannelGuildText          ChannelType = 0
	ChannelDM                 ChannelType = 1
	ChannelGuildVoice         ChannelType = 2
	ChannelGroupDM            ChannelType = 3
	ChannelGuildCategory      ChannelType = 4
	ChannelGuildAnnouncement  ChannelType = 5
	ChannelAnnouncementThread ChannelType = 10
	ChannelPublicThread       ChannelType = 11
	ChannelPrivateThread      ChannelType = 12
	ChannelGuildStageVoice    ChannelType = 13
	ChannelGuildForum         ChannelType = 15
)

// Channel covers every channel-like entity, threads included.
type Channel struct {
	ID             Snowflake       `json:"id"`
	Type           ChannelType     `json:"type"`
	GuildID        Snowflake       `json:"guild_id"`
	Name           string          `json:"name"`
	Topic          string          `json:"topic"`
	Position       int             `json:"position"`
	ParentID       Snowflake       `json:"parent_id"`
	LastMessageID  Snowflake       `json:"last_message_id"`
	OwnerID        Snowflake       `json:"owner_id"`
	NSFW           bool            `json:"nsfw"`
	ThreadMetadata *ThreadMetadata `json:"thread_metadata"`
}

// IsThread reports whether this channel is a thread of another channel.
func (c *Channel) IsThread() bool {
	switch c.Type {
	case ChannelAnnouncementThread, ChannelPublicThread, ChannelPrivateThread:
		return true
	}
	return false
}

// ThreadMetadata is only present on thread channels.
type ThreadMetadata struct {
	Archived         bool      `json:"archived"`
	ArchiveTimestamp time.Time `json:"archive_timestamp"`
	Locked           bool      `json:"locked"`
	Invitable        bool      `json:"invitable"`
}
