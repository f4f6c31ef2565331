package cache

// Strategy decides at connect time whether a given entity kind is cached
// at all. This is deliberately a fixed per-kind choice rather than
// anything dynamic: with an intent disabled the matching events simply
// never arrive, and an application that doesn't read a kind can discard
// it to save memory without changing any handler code.
type Strategy int

const (
	// StrategyFull caches the entity kind normally.
	StrategyFull Strategy = iota
	// StrategyDiscard drops writes for the kind; reads always miss.
	StrategyDiscard
)

// Policy selects a Strategy per entity kind plus the message window size.
type Policy struct {
	Guilds          Strategy
	Channels        Strategy
	Users           Strategy
	Members         Strategy
	Roles           Strategy
	Emojis          Strategy
	Stickers        Strategy
	ScheduledEvents Strategy
	VoiceStates     Strategy
	Presences       Strategy
	Messages        Strategy

	// MessageLimit bounds the most-recent-messages store.
	// Zero means DefaultMessageLimit.
	MessageLimit int
}

// DefaultMessageLimit is the message window size when the policy doesn't
// set one.
const DefaultMessageLimit = 1000

// DefaultPolicy caches everything except presences, which are high-volume
// and rarely read back.
func DefaultPolicy() Policy {
	return Policy{
		Presences:    StrategyDiscard,
		MessageLimit: DefaultMessageLimit,
	}
}
