// Package store persists per-shard resume state so a restarted process
// can re-attach to its gateway sessions instead of burning identify
// budget on a full restart.
package store

import "github.com/coral-im/coral/session"

// ResumeStore is the contract the shard manager saves and loads resume
// snapshots through. Implementations must be safe for concurrent use —
// every shard saves independently.
type ResumeStore interface {
	// Save records the resume snapshot for one shard, replacing any
	// previous one.
	Save(shardID int, r session.Resume) error

	// Load retrieves the snapshot for one shard.
	// ok is false when nothing has been saved for that shard.
	Load(shardID int) (r session.Resume, ok bool, err error)

	// Delete forgets a shard's snapshot. Called when a session is
	// invalidated as non-resumable — restoring it later would only
	// produce another invalid-session rejection.
	Delete(shardID int) error
}
