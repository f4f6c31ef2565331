// Package dispatch turns gateway dispatch payloads into cache mutations
// and normalized application events.
package dispatch

// Event is what the application subscribes to: the event name plus a
// before/after snapshot of the affected entity.
//
//	create:  Old == nil, New != nil
//	update:  Old != nil, New != nil
//	delete:  Old != nil, New == nil
//
// For events the cache had never seen, Old may be a minimal placeholder
// synthesized from the ids the wire payload carried.
type Event struct {
	// Shard is the id of the shard that received the dispatch.
	Shard int
	// Name is the wire event name, e.g. "GUILD_CREATE".
	Name string
	Old  any
	New  any
}
