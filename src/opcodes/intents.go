package opcodes

import (
	"fmt"
	"strings"
)

// Intent is a bit in the IDENTIFY intents mask.
type Intent int

const (
	IntentGuilds                      Intent = 1 << 0
	IntentGuildMembers                Intent = 1 << 1
	IntentGuildModeration             Intent = 1 << 2
	IntentGuildEmojisAndStickers      Intent = 1 << 3
	IntentGuildIntegrations           Intent = 1 << 4
	IntentGuildWebhooks               Intent = 1 << 5
	IntentGuildInvites                Intent = 1 << 6
	IntentGuildVoiceStates            Intent = 1 << 7
	IntentGuildPresences              Intent = 1 << 8
	IntentGuildMessages               Intent = 1 << 9
	IntentGuildMessageReactions       Intent = 1 << 10
	IntentGuildMessageTyping          Intent = 1 << 11
	IntentDirectMessages              Intent = 1 << 12
	IntentDirectMessageReactions      Intent = 1 << 13
	IntentDirectMessageTyping         Intent = 1 << 14
	IntentMessageContent              Intent = 1 << 15
	IntentGuildScheduledEvents        Intent = 1 << 16
	IntentAutoModerationConfiguration Intent = 1 << 20
	IntentAutoModerationExecution     Intent = 1 << 21
)

// DefaultIntents covers guild state and messages without the privileged bits.
const DefaultIntents = IntentGuilds | IntentGuildMessages | IntentGuildMessageReactions |
	IntentDirectMessages | IntentGuildVoiceStates

var intentNames = map[string]Intent{
	"guilds":                        IntentGuilds,
	"guild_members":                 IntentGuildMembers,
	"guild_moderation":              IntentGuildModeration,
	"guild_emojis_and_stickers":     IntentGuildEmojisAndStickers,
	"guild_integrations":            IntentGuildIntegrations,
	"guild_webhooks":                IntentGuildWebhooks,
	"guild_invites":                 IntentGuildInvites,
	"guild_voice_states":            IntentGuildVoiceStates,
	"guild_presences":               IntentGuildPresences,
	"guild_messages":                IntentGuildMessages,
	"guild_message_reactions":       IntentGuildMessageReactions,
	"guild_message_typing":          IntentGuildMessageTyping,
	"direct_messages":               IntentDirectMessages,
	"direct_message_reactions":      IntentDirectMessageReactions,
	"direct_message_typing":         IntentDirectMessageTyping,
	"message_content":               IntentMessageContent,
	"guild_scheduled_events":        IntentGuildScheduledEvents,
	"auto_moderation_configuration": IntentAutoModerationConfiguration,
	"auto_moderation_execution":     IntentAutoModerationExecution,
}

// ParseIntents turns a comma separated list of intent names into a mask.
func ParseIntents(list string) (Intent, error) {
	var mask Intent
	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		bit, ok := intentNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown intent %q", name)
		}
		mask |= bit
	}
	return mask, nil
}
