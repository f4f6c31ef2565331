package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/VictoriaMetrics/metrics"

	"github.com/coral-im/coral/cache"
	"github.com/coral-im/coral/discord"
)

// Router maps inbound event names to cache mutations. One Router is
// shared by every shard of a client; handler invocations for a single
// shard are serialized by that shard's dispatch queue, and the cache
// itself tolerates interleaving across shards.
type Router struct {
	cache *cache.Cache
	out   chan<- Event
	log   *slog.Logger
}

// NewRouter wires a router to the shared cache and the application event
// channel.
func NewRouter(c *cache.Cache, out chan<- Event, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{cache: c, out: out, log: log.With("component", "dispatch")}
}

// handlerFunc decodes one payload kind and applies it to the cache.
// name is the wire event name, passed through so shared handlers emit
// the event they were invoked as.
type handlerFunc func(r *Router, shard int, name string, data json.RawMessage) error

// handlers is the fixed dispatch table. READY and RESUMED are absent on
// purpose — they are control-plane and the shard connection consumes
// them before dispatch. Unlisted events are logged and dropped.
var handlers = map[string]handlerFunc{
	"GUILD_CREATE":                 guildCreate,
	"GUILD_UPDATE":                 guildUpdate,
	"GUILD_DELETE":                 guildDelete,
	"GUILD_ROLE_CREATE":            guildRoleUpsert,
	"GUILD_ROLE_UPDATE":            guildRoleUpsert,
	"GUILD_ROLE_DELETE":            guildRoleDelete,
	"CHANNEL_CREATE":               channelUpsert,
	"CHANNEL_UPDATE":               channelUpsert,
	"CHANNEL_DELETE":               channelDelete,
	"CHANNEL_PINS_UPDATE":          channelPinsUpdate,
	"THREAD_CREATE":                channelUpsert,
	"THREAD_UPDATE":                channelUpsert,
	"THREAD_DELETE":                threadDelete,
	"GUILD_MEMBER_ADD":             memberUpsert,
	"GUILD_MEMBER_UPDATE":          memberUpsert,
	"GUILD_MEMBER_REMOVE":          memberRemove,
	"GUILD_MEMBERS_CHUNK":          membersChunk,
	"GUILD_BAN_ADD":                banPassthrough,
	"GUILD_BAN_REMOVE":             banPassthrough,
	"GUILD_EMOJIS_UPDATE":          emojisUpdate,
	"GUILD_STICKERS_UPDATE":        stickersUpdate,
	"GUILD_SCHEDULED_EVENT_CREATE": scheduledEventUpsert,
	"GUILD_SCHEDULED_EVENT_UPDATE": scheduledEventUpsert,
	"GUILD_SCHEDULED_EVENT_DELETE": scheduledEventDelete,
	"MESSAGE_CREATE":               messageCreate,
	"MESSAGE_UPDATE":               messageUpdate,
	"MESSAGE_DELETE":               messageDelete,
	"MESSAGE_DELETE_BULK":          messageDeleteBulk,
	"TYPING_START":                 typingStart,
	"USER_UPDATE":                  userUpdate,
	"VOICE_STATE_UPDATE":           voiceStateUpdate,
	"PRESENCE_UPDATE":              presenceUpdate,
}

// Handles reports whether the router knows the event name.
func Handles(name string) bool {
	_, ok := handlers[name]
	return ok
}

// Dispatch runs the handler for one event. Handler failures are logged
// and reported via metrics but never propagate — a malformed payload
// must not stall the shard's dispatch queue.
func (r *Router) Dispatch(shard int, name string, data json.RawMessage) {
	h, ok := handlers[name]
	if !ok {
		r.log.Debug("unhandled event", "event", name, "shard", shard)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			metrics.GetOrCreateCounter(`coral_dispatch_panics_total`).Inc()
			r.log.Error("dispatch handler panicked", "event", name, "shard", shard, "panic", rec)
		}
	}()

	if err := h(r, shard, name, data); err != nil {
		metrics.GetOrCreateCounter(`coral_dispatch_errors_total`).Inc()
		r.log.Error("dispatch handler failed", "event", name, "shard", shard, "err", err)
		return
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`coral_dispatch_events_total{event=%q}`, name)).Inc()
}

// emit pushes one normalized tuple to the application event bus.
func (r *Router) emit(shard int, name string, old, new any) {
	r.out <- Event{Shard: shard, Name: name, Old: old, New: new}
}

func decode[T any](data json.RawMessage) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

// ---------------------------------------------------------------------
// Guild lifecycle
// ---------------------------------------------------------------------

func guildCreate(r *Router, shard int, name string, data json.RawMessage) error {
	g, err := decode[discord.Guild](data)
	if err != nil {
		return err
	}
	old := r.cache.PutGuild(g)
	r.emit(shard, name, oldOrNil(old), g)
	return nil
}

func guildUpdate(r *Router, shard int, name string, data json.RawMessage) error {
	g, err := decode[discord.Guild](data)
	if err != nil {
		return err
	}
	old, cur := r.cache.UpdateGuild(g)
	r.emit(shard, name, oldOrNil(old), cur)
	return nil
}

func guildDelete(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.UnavailableGuild](data)
	if err != nil {
		return err
	}
	if ev.Unavailable {
		// An outage, not a removal: the guild stays cached, flagged.
		old, cur := r.cache.MarkGuildUnavailable(ev.ID)
		if cur == nil {
			cur = &discord.Guild{ID: ev.ID, Unavailable: true}
		}
		r.emit(shard, "GUILD_UPDATE", oldOrNil(old), cur)
		return nil
	}
	old := r.cache.DeleteGuild(ev.ID)
	if old == nil {
		old = &discord.Guild{ID: ev.ID}
	}
	r.emit(shard, name, old, nil)
	return nil
}

// ---------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------

func guildRoleUpsert(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.GuildRoleCreate](data)
	if err != nil {
		return err
	}
	old := r.cache.PutRole(ev.GuildID, ev.Role)
	r.emit(shard, name, oldOrNil(old), ev.Role)
	return nil
}

func guildRoleDelete(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.GuildRoleDelete](data)
	if err != nil {
		return err
	}
	old := r.cache.DeleteRole(ev.GuildID, ev.RoleID)
	if old == nil {
		old = &discord.Role{ID: ev.RoleID}
	}
	r.emit(shard, name, old, nil)
	return nil
}

// ---------------------------------------------------------------------
// Channels and threads
// ---------------------------------------------------------------------

func channelUpsert(r *Router, shard int, name string, data json.RawMessage) error {
	ch, err := decode[discord.Channel](data)
	if err != nil {
		return err
	}
	old := r.cache.PutChannel(ch)
	r.emit(shard, name, oldOrNil(old), ch)
	return nil
}

func channelDelete(r *Router, shard int, name string, data json.RawMessage) error {
	ch, err := decode[discord.Channel](data)
	if err != nil {
		return err
	}
	old := r.cache.DeleteChannel(ch.ID)
	if old == nil {
		old = ch // wire payload is the full channel, better than a stub
	}
	r.emit(shard, name, old, nil)
	return nil
}

func threadDelete(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.ThreadDelete](data)
	if err != nil {
		return err
	}
	old := r.cache.DeleteChannel(ev.ID)
	if old == nil {
		old = &discord.Channel{ID: ev.ID, GuildID: ev.GuildID, ParentID: ev.ParentID, Type: ev.Type}
	}
	r.emit(shard, name, old, nil)
	return nil
}

func channelPinsUpdate(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.ChannelPinsUpdate](data)
	if err != nil {
		return err
	}
	r.emit(shard, name, nil, ev)
	return nil
}

// ---------------------------------------------------------------------
// Members and users
// ---------------------------------------------------------------------

func memberUpsert(r *Router, shard int, name string, data json.RawMessage) error {
	m, err := decode[discord.Member](data)
	if err != nil {
		return err
	}
	old := r.cache.PutMember(m)
	r.emit(shard, name, oldOrNil(old), m)
	return nil
}

func memberRemove(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.GuildMemberRemove](data)
	if err != nil {
		return err
	}
	var userID discord.Snowflake
	if ev.User != nil {
		userID = ev.User.ID
	}
	old := r.cache.DeleteMember(ev.GuildID, userID)
	if old == nil {
		old = &discord.Member{User: ev.User, GuildID: ev.GuildID}
	}
	r.emit(shard, name, old, nil)
	return nil
}

func membersChunk(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.GuildMembersChunk](data)
	if err != nil {
		return err
	}
	for _, m := range ev.Members {
		m.GuildID = ev.GuildID
		r.cache.PutMember(m)
	}
	r.emit(shard, name, nil, ev)
	return nil
}

func banPassthrough(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.GuildBanAdd](data)
	if err != nil {
		return err
	}
	r.emit(shard, name, nil, ev)
	return nil
}

func typingStart(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.TypingStart](data)
	if err != nil {
		return err
	}
	// The only opportunistic source of member data outside explicit
	// member events — upsert it when present. Requires no cached user.
	if ev.Member != nil {
		ev.Member.GuildID = ev.GuildID
		r.cache.PutMember(ev.Member)
	}
	r.emit(shard, name, nil, ev)
	return nil
}

func userUpdate(r *Router, shard int, name string, data json.RawMessage) error {
	u, err := decode[discord.User](data)
	if err != nil {
		return err
	}
	old := r.cache.PutUser(u)
	r.emit(shard, name, oldOrNil(old), u)
	return nil
}

func presenceUpdate(r *Router, shard int, name string, data json.RawMessage) error {
	p, err := decode[discord.Presence](data)
	if err != nil {
		return err
	}
	old := r.cache.PutPresence(p)
	r.emit(shard, name, oldOrNil(old), p)
	return nil
}

func voiceStateUpdate(r *Router, shard int, name string, data json.RawMessage) error {
	vs, err := decode[discord.VoiceState](data)
	if err != nil {
		return err
	}
	old := r.cache.PutVoiceState(vs)
	if vs.ChannelID.IsZero() {
		if old == nil {
			old = vs
		}
		r.emit(shard, name, old, nil)
		return nil
	}
	r.emit(shard, name, oldOrNil(old), vs)
	return nil
}

// ---------------------------------------------------------------------
// Expressions and scheduled events
// ---------------------------------------------------------------------

func emojisUpdate(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.GuildEmojisUpdate](data)
	if err != nil {
		return err
	}
	old := r.cache.ReplaceGuildEmojis(ev.GuildID, ev.Emojis)
	r.emit(shard, name, old, ev.Emojis)
	return nil
}

func stickersUpdate(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.GuildStickersUpdate](data)
	if err != nil {
		return err
	}
	old := r.cache.ReplaceGuildStickers(ev.GuildID, ev.Stickers)
	r.emit(shard, name, old, ev.Stickers)
	return nil
}

func scheduledEventUpsert(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.ScheduledEvent](data)
	if err != nil {
		return err
	}
	old := r.cache.PutScheduledEvent(ev)
	r.emit(shard, name, oldOrNil(old), ev)
	return nil
}

func scheduledEventDelete(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.ScheduledEvent](data)
	if err != nil {
		return err
	}
	old := r.cache.DeleteScheduledEvent(ev.ID)
	if old == nil {
		old = ev
	}
	r.emit(shard, name, old, nil)
	return nil
}

// ---------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------

func messageCreate(r *Router, shard int, name string, data json.RawMessage) error {
	m, err := decode[discord.Message](data)
	if err != nil {
		return err
	}
	if m.Member != nil && m.Author != nil {
		// message payloads embed partial member data without the user
		m.Member.User = m.Author
		m.Member.GuildID = m.GuildID
		r.cache.PutMember(m.Member)
	}
	r.cache.PutMessage(m)
	r.emit(shard, name, nil, m)
	return nil
}

func messageUpdate(r *Router, shard int, name string, data json.RawMessage) error {
	m, err := decode[discord.Message](data)
	if err != nil {
		return err
	}
	old := r.cache.PutMessage(m)
	r.emit(shard, name, oldOrNil(old), m)
	return nil
}

func messageDelete(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.MessageDelete](data)
	if err != nil {
		return err
	}
	old := r.cache.RemoveMessage(ev.ID)
	if old == nil {
		// The window is bounded, misses are normal — synthesize from
		// the ids rather than failing.
		old = &discord.Message{ID: ev.ID, ChannelID: ev.ChannelID, GuildID: ev.GuildID}
	}
	r.emit(shard, name, old, nil)
	return nil
}

func messageDeleteBulk(r *Router, shard int, name string, data json.RawMessage) error {
	ev, err := decode[discord.MessageDeleteBulk](data)
	if err != nil {
		return err
	}
	for _, id := range ev.IDs {
		r.cache.RemoveMessage(id)
	}
	r.emit(shard, name, nil, ev)
	return nil
}

// oldOrNil keeps a typed nil pointer from leaking into Event.Old, where
// it would compare unequal to nil under the any type.
func oldOrNil[T any](old *T) any {
	if old == nil {
		return nil
	}
	return old
}
