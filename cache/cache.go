// Package cache is the process-wide entity store the dispatch layer
// mutates and the rest of the application reads.
//
// Consistency invariant: every guild's nested collections stay in sync
// with the corresponding flat top-level maps. Removing an entity from a
// guild removes it from the top level too — except users, which are
// refcounted by guild membership because one user may be a member of
// many guilds.
//
// Concurrency: flat maps are xsync maps, safe under interleaved writes
// from concurrent shards. Compound mutations that touch a guild's nested
// collections serialize on one coarse mutex; the service never sends
// contradictory concurrent updates for the same entity in practice, but
// the cache must not corrupt itself if it does.
package cache

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/coral-im/coral/discord"
)

// userEntry refcounts a user by the guilds that reference it. The user
// is evicted when its last guild membership disappears.
type userEntry struct {
	user   *discord.User
	guilds map[discord.Snowflake]struct{}
}

// Cache holds every cached entity kind. Create with New; the zero value
// is not usable.
type Cache struct {
	policy Policy

	guilds          *xsync.MapOf[discord.Snowflake, *discord.Guild]
	channels        *xsync.MapOf[discord.Snowflake, *discord.Channel]
	users           *xsync.MapOf[discord.Snowflake, *userEntry]
	emojis          *xsync.MapOf[discord.Snowflake, *discord.Emoji]
	stickers        *xsync.MapOf[discord.Snowflake, *discord.Sticker]
	scheduledEvents *xsync.MapOf[discord.Snowflake, *discord.ScheduledEvent]
	messages        *MessageStore

	// guildMu serializes compound read-modify-write of nested guild
	// collections across shards. Coarse, and sufficient — no mutation
	// path is hot enough to need finer granularity.
	guildMu sync.Mutex
}

// New creates an empty cache with the given policy.
func New(policy Policy) *Cache {
	return &Cache{
		policy:          policy,
		guilds:          xsync.NewMapOf[discord.Snowflake, *discord.Guild](),
		channels:        xsync.NewMapOf[discord.Snowflake, *discord.Channel](),
		users:           xsync.NewMapOf[discord.Snowflake, *userEntry](),
		emojis:          xsync.NewMapOf[discord.Snowflake, *discord.Emoji](),
		stickers:        xsync.NewMapOf[discord.Snowflake, *discord.Sticker](),
		scheduledEvents: xsync.NewMapOf[discord.Snowflake, *discord.ScheduledEvent](),
		messages:        NewMessageStore(policy.MessageLimit),
	}
}

// Clear resets the whole cache. Used on a non-resumable reconnect of the
// whole client, never per-shard.
func (c *Cache) Clear() {
	c.guilds.Clear()
	c.channels.Clear()
	c.users.Clear()
	c.emojis.Clear()
	c.stickers.Clear()
	c.scheduledEvents.Clear()
	c.messages.Clear()
}

// ---------------------------------------------------------------------
// Guilds
// ---------------------------------------------------------------------

// Guild looks up a cached guild.
func (c *Cache) Guild(id discord.Snowflake) (*discord.Guild, bool) {
	return c.guilds.Load(id)
}

// PutGuild stores a full guild (GUILD_CREATE) and indexes every nested
// entity into the flat top-level maps. Returns the previous entry, if any.
func (c *Cache) PutGuild(g *discord.Guild) *discord.Guild {
	if c.policy.Guilds == StrategyDiscard {
		return nil
	}
	g.EnsureMaps()
	c.applyMemberPolicy(g)

	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	old, _ := c.guilds.Load(g.ID)
	if old != nil {
		c.purgeReplaced(old, g)
	}
	c.guilds.Store(g.ID, g)

	for _, ch := range g.Channels {
		c.channels.Store(ch.ID, ch)
	}
	for _, th := range g.Threads {
		c.channels.Store(th.ID, th)
	}
	for _, e := range g.Emojis {
		c.emojis.Store(e.ID, e)
	}
	for _, s := range g.Stickers {
		c.stickers.Store(s.ID, s)
	}
	for _, ev := range g.ScheduledEvents {
		c.scheduledEvents.Store(ev.ID, ev)
	}
	for _, m := range g.Members {
		c.retainUser(m.User, g.ID)
	}
	return old
}

// UpdateGuild replaces a guild's scalar fields while carrying every
// nested collection over from the previous entry — the wire update
// payload does not re-send them. Returns (old, current).
func (c *Cache) UpdateGuild(g *discord.Guild) (*discord.Guild, *discord.Guild) {
	if c.policy.Guilds == StrategyDiscard {
		return nil, g
	}
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	old, _ := c.guilds.Load(g.ID)
	g.AdoptCollections(old)
	c.guilds.Store(g.ID, g)
	return old, g
}

// MarkGuildUnavailable flags a cached guild as unavailable (service
// outage, not a removal). Returns (old, current); both nil when the
// guild was never cached.
func (c *Cache) MarkGuildUnavailable(id discord.Snowflake) (*discord.Guild, *discord.Guild) {
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	old, ok := c.guilds.Load(id)
	if !ok {
		return nil, nil
	}
	cur := *old
	cur.Unavailable = true
	c.guilds.Store(id, &cur)
	return old, &cur
}

// DeleteGuild removes a guild and cascades: every nested channel, thread,
// emoji, sticker and scheduled event leaves the top-level maps, and every
// member releases its user refcount — a user with no remaining guilds is
// evicted entirely.
func (c *Cache) DeleteGuild(id discord.Snowflake) *discord.Guild {
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	old, ok := c.guilds.LoadAndDelete(id)
	if !ok {
		return nil
	}
	for chID := range old.Channels {
		c.channels.Delete(chID)
	}
	for thID := range old.Threads {
		c.channels.Delete(thID)
	}
	for eID := range old.Emojis {
		c.emojis.Delete(eID)
	}
	for sID := range old.Stickers {
		c.stickers.Delete(sID)
	}
	for evID := range old.ScheduledEvents {
		c.scheduledEvents.Delete(evID)
	}
	for uID := range old.Members {
		c.releaseUser(uID, id)
	}
	return old
}

// purgeReplaced drops the previous copy's nested entities that a re-sent
// full guild no longer carries. A guild re-create after an outage is a
// whole-state replacement: anything removed while the guild was down must
// leave the top-level maps and release its user refcount here, or it
// lingers forever. Caller holds guildMu.
func (c *Cache) purgeReplaced(old, g *discord.Guild) {
	for id := range old.Channels {
		if _, ok := g.Channels[id]; ok {
			continue
		}
		if _, ok := g.Threads[id]; ok {
			continue
		}
		c.channels.Delete(id)
	}
	for id := range old.Threads {
		if _, ok := g.Threads[id]; ok {
			continue
		}
		if _, ok := g.Channels[id]; ok {
			continue
		}
		c.channels.Delete(id)
	}
	for id := range old.Emojis {
		if _, ok := g.Emojis[id]; !ok {
			c.emojis.Delete(id)
		}
	}
	for id := range old.Stickers {
		if _, ok := g.Stickers[id]; !ok {
			c.stickers.Delete(id)
		}
	}
	for id := range old.ScheduledEvents {
		if _, ok := g.ScheduledEvents[id]; !ok {
			c.scheduledEvents.Delete(id)
		}
	}
	for uID := range old.Members {
		if _, ok := g.Members[uID]; !ok {
			c.releaseUser(uID, g.ID)
		}
	}
}

// applyMemberPolicy strips collections the policy discards from a freshly
// decoded guild, so they never enter the cache in the first place.
func (c *Cache) applyMemberPolicy(g *discord.Guild) {
	if c.policy.Members == StrategyDiscard {
		g.Members = make(map[discord.Snowflake]*discord.Member)
	}
	if c.policy.VoiceStates == StrategyDiscard {
		g.VoiceStates = make(map[discord.Snowflake]*discord.VoiceState)
	}
	if c.policy.Presences == StrategyDiscard {
		g.Presences = make(map[discord.Snowflake]*discord.Presence)
	}
}

// ---------------------------------------------------------------------
// Channels and threads
// ---------------------------------------------------------------------

// Channel looks up a cached channel or thread.
func (c *Cache) Channel(id discord.Snowflake) (*discord.Channel, bool) {
	return c.channels.Load(id)
}

// PutChannel stores a channel or thread, keeping the owning guild's
// nested map in sync. Returns the previous entry, if any.
func (c *Cache) PutChannel(ch *discord.Channel) *discord.Channel {
	if c.policy.Channels == StrategyDiscard {
		return nil
	}
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	old, _ := c.channels.Load(ch.ID)
	c.channels.Store(ch.ID, ch)

	if g, ok := c.guilds.Load(ch.GuildID); ok {
		if ch.IsThread() {
			g.Threads[ch.ID] = ch
		} else {
			g.Channels[ch.ID] = ch
		}
	}
	return old
}

// DeleteChannel removes a channel or thread from both levels.
func (c *Cache) DeleteChannel(id discord.Snowflake) *discord.Channel {
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	old, ok := c.channels.LoadAndDelete(id)
	if !ok {
		return nil
	}
	if g, gok := c.guilds.Load(old.GuildID); gok {
		delete(g.Channels, id)
		delete(g.Threads, id)
	}
	return old
}

// ---------------------------------------------------------------------
// Users and members
// ---------------------------------------------------------------------

// User looks up a cached user.
func (c *Cache) User(id discord.Snowflake) (*discord.User, bool) {
	e, ok := c.users.Load(id)
	if !ok {
		return nil, false
	}
	return e.user, true
}

// PutUser replaces a user's account-level fields, preserving its guild
// membership set. Returns the previous user, if any.
func (c *Cache) PutUser(u *discord.User) *discord.User {
	if c.policy.Users == StrategyDiscard {
		return nil
	}
	var old *discord.User
	c.users.Compute(u.ID, func(e *userEntry, loaded bool) (*userEntry, bool) {
		if !loaded {
			return &userEntry{user: u, guilds: make(map[discord.Snowflake]struct{})}, false
		}
		old = e.user
		e.user = u
		return e, false
	})
	return old
}

// retainUser records one guild's reference to a user, inserting the user
// on first sight.
func (c *Cache) retainUser(u *discord.User, guildID discord.Snowflake) {
	if u == nil || c.policy.Users == StrategyDiscard {
		return
	}
	c.users.Compute(u.ID, func(e *userEntry, loaded bool) (*userEntry, bool) {
		if !loaded {
			e = &userEntry{user: u, guilds: make(map[discord.Snowflake]struct{})}
		} else {
			e.user = u
		}
		e.guilds[guildID] = struct{}{}
		return e, false
	})
}

// releaseUser drops one guild's reference; the last reference evicts the
// user from the top-level map entirely.
func (c *Cache) releaseUser(userID, guildID discord.Snowflake) {
	c.users.Compute(userID, func(e *userEntry, loaded bool) (*userEntry, bool) {
		if !loaded {
			return nil, true
		}
		delete(e.guilds, guildID)
		return e, len(e.guilds) == 0
	})
}

// Member looks up one guild's member record for a user.
func (c *Cache) Member(guildID, userID discord.Snowflake) (*discord.Member, bool) {
	g, ok := c.guilds.Load(guildID)
	if !ok {
		return nil, false
	}
	c.guildMu.Lock()
	defer c.guildMu.Unlock()
	m, ok := g.Members[userID]
	return m, ok
}

// PutMember upserts a member into its guild and retains the underlying
// user. Members without embedded user data are ignored — there is
// nothing to key them by. Returns the previous member, if any.
func (c *Cache) PutMember(m *discord.Member) *discord.Member {
	if m.User == nil || c.policy.Members == StrategyDiscard {
		return nil
	}
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	c.retainUser(m.User, m.GuildID)
	g, ok := c.guilds.Load(m.GuildID)
	if !ok {
		return nil
	}
	old := g.Members[m.User.ID]
	g.Members[m.User.ID] = m
	return old
}

// DeleteMember removes a member from its guild and releases the user —
// if this was the member's last guild, the user leaves the top-level
// cache too.
func (c *Cache) DeleteMember(guildID, userID discord.Snowflake) *discord.Member {
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	c.releaseUser(userID, guildID)
	g, ok := c.guilds.Load(guildID)
	if !ok {
		return nil
	}
	old := g.Members[userID]
	delete(g.Members, userID)
	return old
}

// ---------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------

// Role looks up a role inside a guild. Roles are guild-scoped and have
// no top-level map.
func (c *Cache) Role(guildID, roleID discord.Snowflake) (*discord.Role, bool) {
	g, ok := c.guilds.Load(guildID)
	if !ok {
		return nil, false
	}
	c.guildMu.Lock()
	defer c.guildMu.Unlock()
	r, ok := g.Roles[roleID]
	return r, ok
}

// PutRole upserts a role into its guild. Returns the previous entry.
func (c *Cache) PutRole(guildID discord.Snowflake, r *discord.Role) *discord.Role {
	if c.policy.Roles == StrategyDiscard {
		return nil
	}
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	g, ok := c.guilds.Load(guildID)
	if !ok {
		return nil
	}
	old := g.Roles[r.ID]
	g.Roles[r.ID] = r
	return old
}

// DeleteRole removes a role from its guild.
func (c *Cache) DeleteRole(guildID, roleID discord.Snowflake) *discord.Role {
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	g, ok := c.guilds.Load(guildID)
	if !ok {
		return nil
	}
	old := g.Roles[roleID]
	delete(g.Roles, roleID)
	return old
}

// ---------------------------------------------------------------------
// Emojis and stickers — full-list replacement semantics
// ---------------------------------------------------------------------

// Emoji looks up a cached emoji.
func (c *Cache) Emoji(id discord.Snowflake) (*discord.Emoji, bool) {
	return c.emojis.Load(id)
}

// ReplaceGuildEmojis swaps a guild's emoji set for the given full list.
// The wire event never carries a delta, so stale entries must be cleared
// from both the guild and the top-level map before repopulating — or
// removed emojis leak forever.
func (c *Cache) ReplaceGuildEmojis(guildID discord.Snowflake, emojis []*discord.Emoji) []*discord.Emoji {
	if c.policy.Emojis == StrategyDiscard {
		return nil
	}
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	g, ok := c.guilds.Load(guildID)
	if !ok {
		// Uncached guild: keep the top-level map consistent anyway.
		old := make([]*discord.Emoji, 0)
		for _, e := range emojis {
			c.emojis.Store(e.ID, e)
		}
		return old
	}

	old := make([]*discord.Emoji, 0, len(g.Emojis))
	for id, e := range g.Emojis {
		old = append(old, e)
		c.emojis.Delete(id)
		delete(g.Emojis, id)
	}
	for _, e := range emojis {
		g.Emojis[e.ID] = e
		c.emojis.Store(e.ID, e)
	}
	return old
}

// Sticker looks up a cached sticker.
func (c *Cache) Sticker(id discord.Snowflake) (*discord.Sticker, bool) {
	return c.stickers.Load(id)
}

// ReplaceGuildStickers swaps a guild's sticker set for the given full
// list. Same replacement semantics as ReplaceGuildEmojis.
func (c *Cache) ReplaceGuildStickers(guildID discord.Snowflake, stickers []*discord.Sticker) []*discord.Sticker {
	if c.policy.Stickers == StrategyDiscard {
		return nil
	}
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	g, ok := c.guilds.Load(guildID)
	if !ok {
		for _, s := range stickers {
			c.stickers.Store(s.ID, s)
		}
		return nil
	}

	old := make([]*discord.Sticker, 0, len(g.Stickers))
	for id, s := range g.Stickers {
		old = append(old, s)
		c.stickers.Delete(id)
		delete(g.Stickers, id)
	}
	for _, s := range stickers {
		g.Stickers[s.ID] = s
		c.stickers.Store(s.ID, s)
	}
	return old
}

// ---------------------------------------------------------------------
// Scheduled events
// ---------------------------------------------------------------------

// ScheduledEvent looks up a cached scheduled event.
func (c *Cache) ScheduledEvent(id discord.Snowflake) (*discord.ScheduledEvent, bool) {
	return c.scheduledEvents.Load(id)
}

// PutScheduledEvent upserts a scheduled event at both levels.
func (c *Cache) PutScheduledEvent(ev *discord.ScheduledEvent) *discord.ScheduledEvent {
	if c.policy.ScheduledEvents == StrategyDiscard {
		return nil
	}
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	old, _ := c.scheduledEvents.Load(ev.ID)
	c.scheduledEvents.Store(ev.ID, ev)
	if g, ok := c.guilds.Load(ev.GuildID); ok {
		g.ScheduledEvents[ev.ID] = ev
	}
	return old
}

// DeleteScheduledEvent removes a scheduled event from both levels.
func (c *Cache) DeleteScheduledEvent(id discord.Snowflake) *discord.ScheduledEvent {
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	old, ok := c.scheduledEvents.LoadAndDelete(id)
	if !ok {
		return nil
	}
	if g, gok := c.guilds.Load(old.GuildID); gok {
		delete(g.ScheduledEvents, id)
	}
	return old
}

// ---------------------------------------------------------------------
// Voice states
// ---------------------------------------------------------------------

// VoiceState looks up a user's voice state inside a guild.
func (c *Cache) VoiceState(guildID, userID discord.Snowflake) (*discord.VoiceState, bool) {
	g, ok := c.guilds.Load(guildID)
	if !ok {
		return nil, false
	}
	c.guildMu.Lock()
	defer c.guildMu.Unlock()
	vs, ok := g.VoiceStates[userID]
	return vs, ok
}

// PutVoiceState upserts a voice state; a zero channel id means the user
// left voice and the entry is removed. Returns the previous state.
func (c *Cache) PutVoiceState(vs *discord.VoiceState) *discord.VoiceState {
	if c.policy.VoiceStates == StrategyDiscard {
		return nil
	}
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	g, ok := c.guilds.Load(vs.GuildID)
	if !ok {
		return nil
	}
	old := g.VoiceStates[vs.UserID]
	if vs.ChannelID.IsZero() {
		delete(g.VoiceStates, vs.UserID)
	} else {
		g.VoiceStates[vs.UserID] = vs
	}
	return old
}

// ---------------------------------------------------------------------
// Presences
// ---------------------------------------------------------------------

// Presence looks up a user's presence inside a guild.
func (c *Cache) Presence(guildID, userID discord.Snowflake) (*discord.Presence, bool) {
	g, ok := c.guilds.Load(guildID)
	if !ok {
		return nil, false
	}
	c.guildMu.Lock()
	defer c.guildMu.Unlock()
	p, ok := g.Presences[userID]
	return p, ok
}

// PutPresence upserts a presence into its guild. Presences without user
// data are ignored. Returns the previous entry, if any.
func (c *Cache) PutPresence(p *discord.Presence) *discord.Presence {
	if p.User == nil || c.policy.Presences == StrategyDiscard {
		return nil
	}
	c.guildMu.Lock()
	defer c.guildMu.Unlock()

	g, ok := c.guilds.Load(p.GuildID)
	if !ok {
		return nil
	}
	old := g.Presences[p.User.ID]
	g.Presences[p.User.ID] = p
	return old
}

// ---------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------

// Message looks up a recent message. Misses are expected — the window is
// bounded.
func (c *Cache) Message(id discord.Snowflake) (*discord.Message, bool) {
	if c.policy.Messages == StrategyDiscard {
		return nil, false
	}
	return c.messages.Get(id)
}

// PutMessage inserts a message into the bounded window.
func (c *Cache) PutMessage(m *discord.Message) *discord.Message {
	if c.policy.Messages == StrategyDiscard {
		return nil
	}
	return c.messages.Insert(m)
}

// RemoveMessage deletes a message, returning what was cached (nil on a
// miss; the caller synthesizes a placeholder from the id).
func (c *Cache) RemoveMessage(id discord.Snowflake) *discord.Message {
	if c.policy.Messages == StrategyDiscard {
		return nil
	}
	return c.messages.Remove(id)
}
