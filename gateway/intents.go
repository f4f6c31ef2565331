package gateway

// Intent is a bitmask selecting which event categories the client wishes
// to receive. The service rejects identifies carrying bits the account is
// not allowed to use (close code 4014).
type Intent uint64

const (
	IntentGuilds                 Intent = 1 << 0
	IntentGuildMembers           Intent = 1 << 1
	IntentGuildModeration        Intent = 1 << 2
	IntentGuildExpressions       Intent = 1 << 3
	IntentGuildIntegrations      Intent = 1 << 4
	IntentGuildWebhooks          Intent = 1 << 5
	IntentGuildInvites           Intent = 1 << 6
	IntentGuildVoiceStates       Intent = 1 << 7
	IntentGuildPresences         Intent = 1 << 8
	IntentGuildMessages          Intent = 1 << 9
	IntentGuildMessageReactions  Intent = 1 << 10
	IntentGuildMessageTyping     Intent = 1 << 11
	IntentDirectMessages         Intent = 1 << 12
	IntentDirectMessageReactions Intent = 1 << 13
	IntentDirectMessageTyping    Intent = 1 << 14
	IntentMessageContent         Intent = 1 << 15
	IntentGuildScheduledEvents   Intent = 1 << 16
)

// IntentsNonPrivileged is every intent that does not require manual
// approval. GuildMembers, GuildPresences and MessageContent are the
// privileged three.
const IntentsNonPrivileged = IntentGuilds |
	IntentGuildModeration |
	IntentGuildExpressions |
	IntentGuildIntegrations |
	IntentGuildWebhooks |
	IntentGuildInvites |
	IntentGuildVoiceStates |
	IntentGuildMessages |
	IntentGuildMessageReactions |
	IntentGuildMessageTyping |
	IntentDirectMessages |
	IntentDirectMessageReactions |
	IntentDirectMessageTyping |
	IntentGuildScheduledEvents

// Has reports whether every bit of other is set in i.
func (i Intent) Has(other Intent) bool {
	return i&other == other
}
