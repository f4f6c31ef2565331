package discord

import "encoding/json"

// Role is a guild permission role.
type Role struct {
	ID          Snowflake `json:"id"`
	Name        string    `json:"name"`
	Color       int       `json:"color"`
	Hoist       bool      `json:"hoist"`
	Position    int       `json:"position"`
	Permissions string    `json:"permissions"`
	Managed     bool      `json:"managed"`
	Mentionable bool      `json:"mentionable"`
}

// Guild is the root of the remote object graph visible to one shard.
//
// The wire shape carries nested collections as arrays (a GUILD_CREATE
// includes members, channels, threads and so on inline); locally we want
// keyed access, so the collections live in maps and decoding indexes them.
// Exactly one authoritative copy of a Guild exists in the cache at a time.
type Guild struct {
	ID                       Snowflake `json:"id"`
	Name                     string    `json:"name"`
	Icon                     string    `json:"icon"`
	OwnerID                  Snowflake `json:"owner_id"`
	AFKChannelID             Snowflake `json:"afk_channel_id"`
	AFKTimeout               int       `json:"afk_timeout"`
	Description              string    `json:"description"`
	MemberCount              int       `json:"member_count"`
	Large                    bool      `json:"large"`
	Unavailable              bool      `json:"unavailable"`
	PreferredLocale          string    `json:"preferred_locale"`
	VerificationLevel        int       `json:"verification_level"`
	DefaultMessageNotifyMode int       `json:"default_message_notifications"`

	// Nested collections, keyed by entity id (voice states by user id).
	// Not part of the JSON scalar set — populated by UnmarshalJSON from
	// the wire arrays, and carried forward from the previous cache entry
	// on guild updates because update payloads do not re-send them.
	Members         map[Snowflake]*Member         `json:"-"`
	Roles           map[Snowflake]*Role           `json:"-"`
	Channels        map[Snowflake]*Channel        `json:"-"`
	Threads         map[Snowflake]*Channel        `json:"-"`
	VoiceStates     map[Snowflake]*VoiceState     `json:"-"`
	Emojis          map[Snowflake]*Emoji          `json:"-"`
	Stickers        map[Snowflake]*Sticker        `json:"-"`
	ScheduledEvents map[Snowflake]*ScheduledEvent `json:"-"`
	Presences       map[Snowflake]*Presence       `json:"-"`
}

// guildWire mirrors the JSON payload exactly: scalars plus collection
// arrays. Kept private — callers only ever see the indexed Guild.
type guildWire struct {
	ID                       Snowflake `json:"id"`
	Name                     string    `json:"name"`
	Icon                     string    `json:"icon"`
	OwnerID                  Snowflake `json:"owner_id"`
	AFKChannelID             Snowflake `json:"afk_channel_id"`
	AFKTimeout               int       `json:"afk_timeout"`
	Description              string    `json:"description"`
	MemberCount              int       `json:"member_count"`
	Large                    bool      `json:"large"`
	Unavailable              bool      `json:"unavailable"`
	PreferredLocale          string    `json:"preferred_locale"`
	VerificationLevel        int       `json:"verification_level"`
	DefaultMessageNotifyMode int       `json:"default_message_notifications"`

	Members         []*Member         `json:"members"`
	Roles           []*Role           `json:"roles"`
	Channels        []*Channel        `json:"channels"`
	Threads         []*Channel        `json:"threads"`
	VoiceStates     []*VoiceState     `json:"voice_states"`
	Emojis          []*Emoji          `json:"emojis"`
	Stickers        []*Sticker        `json:"stickers"`
	ScheduledEvents []*ScheduledEvent `json:"guild_scheduled_events"`
	Presences       []*Presence       `json:"presences"`
}

// UnmarshalJSON decodes the wire shape and indexes every nested array
// into its map. Entities that arrive without a guild id (members inside
// a GUILD_CREATE omit it) are stamped with the owning guild's id so they
// are self-describing afterwards.
func (g *Guild) UnmarshalJSON(data []byte) error {
	var w guildWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*g = Guild{
		ID:                       w.ID,
		Name:                     w.Name,
		Icon:                     w.Icon,
		OwnerID:                  w.OwnerID,
		AFKChannelID:             w.AFKChannelID,
		AFKTimeout:               w.AFKTimeout,
		Description:              w.Description,
		MemberCount:              w.MemberCount,
		Large:                    w.Large,
		Unavailable:              w.Unavailable,
		PreferredLocale:          w.PreferredLocale,
		VerificationLevel:        w.VerificationLevel,
		DefaultMessageNotifyMode: w.DefaultMessageNotifyMode,
	}
	g.EnsureMaps()

	for _, m := range w.Members {
		if m.User == nil {
			continue
		}
		m.GuildID = g.ID
		g.Members[m.User.ID] = m
	}
	for _, r := range w.Roles {
		g.Roles[r.ID] = r
	}
	for _, c := range w.Channels {
		c.GuildID = g.ID
		g.Channels[c.ID] = c
	}
	for _, t := range w.Threads {
		t.GuildID = g.ID
		g.Threads[t.ID] = t
	}
	for _, v := range w.VoiceStates {
		v.GuildID = g.ID
		g.VoiceStates[v.UserID] = v
	}
	for _, e := range w.Emojis {
		g.Emojis[e.ID] = e
	}
	for _, s := range w.Stickers {
		s.GuildID = g.ID
		g.Stickers[s.ID] = s
	}
	for _, ev := range w.ScheduledEvents {
		g.ScheduledEvents[ev.ID] = ev
	}
	for _, p := range w.Presences {
		if p.User == nil {
			continue
		}
		p.GuildID = g.ID
		g.Presences[p.User.ID] = p
	}
	return nil
}

// EnsureMaps initialises any nil nested map. Decoding calls this, and the
// cache calls it again on entries it synthesises from partial payloads.
func (g *Guild) EnsureMaps() {
	if g.Members == nil {
		g.Members = make(map[Snowflake]*Member)
	}
	if g.Roles == nil {
		g.Roles = make(map[Snowflake]*Role)
	}
	if g.Channels == nil {
		g.Channels = make(map[Snowflake]*Channel)
	}
	if g.Threads == nil {
		g.Threads = make(map[Snowflake]*Channel)
	}
	if g.VoiceStates == nil {
		g.VoiceStates = make(map[Snowflake]*VoiceState)
	}
	if g.Emojis == nil {
		g.Emojis = make(map[Snowflake]*Emoji)
	}
	if g.Stickers == nil {
		g.Stickers = make(map[Snowflake]*Sticker)
	}
	if g.ScheduledEvents == nil {
		g.ScheduledEvents = make(map[Snowflake]*ScheduledEvent)
	}
	if g.Presences == nil {
		g.Presences = make(map[Snowflake]*Presence)
	}
}

// AdoptCollections copies every nested collection from prev into g.
// Guild update payloads re-send scalars only — without this the updated
// entry would silently drop its members, channels and expressions.
func (g *Guild) AdoptCollections(prev *Guild) {
	if prev == nil {
		g.EnsureMaps()
		return
	}
	g.Members = prev.Members
	g.Roles = prev.Roles
	g.Channels = prev.Channels
	g.Threads = prev.Threads
	g.VoiceStates = prev.VoiceStates
	g.Emojis = prev.Emojis
	g.Stickers = prev.Stickers
	g.ScheduledEvents = prev.ScheduledEvents
	g.Presences = prev.Presences
}
