package gateway

import (
	"encoding/json"

	"personal/discord_client/src/opcodes"
	"personal/discord_client/src/resources"
)

// Frame is the gateway envelope. Only DISPATCH frames carry S and T.
type Frame struct {
	Op opcodes.Opcode  `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s"`
	T  string          `json:"t"`
}

type outgoingFrame struct {
	Op opcodes.Opcode `json:"op"`
	D  any            `json:"d"`
}

type HelloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type IdentifyData struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress,omitempty"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Shard          *[2]int            `json:"shard,omitempty"`
	Presence       *PresenceUpdate    `json:"presence,omitempty"`
	Intents        opcodes.Intent     `json:"intents"`
}

type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

type ActivityType int

const (
	ActivityPlaying   ActivityType = 0
	ActivityStreaming ActivityType = 1
	ActivityListening ActivityType = 2
	ActivityWatching  ActivityType = 3
	ActivityCustom    ActivityType = 4
	ActivityCompeting ActivityType = 5
)

type Activity struct {
	Name  string       `json:"name"`
	Type  ActivityType `json:"type"`
	URL   *string      `json:"url,omitempty"`
	State *string      `json:"state,omitempty"`
}

type PresenceUpdate struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

type VoiceStateUpdate struct {
	GuildID   resources.Snowflake  `json:"guild_id"`
	ChannelID *resources.Snowflake `json:"channel_id"`
	SelfMute  bool                 `json:"self_mute"`
	SelfDeaf  bool                 `json:"self_deaf"`
}

type RequestGuildMembers struct {
	GuildID   resources.Snowflake   `json:"guild_id"`
	Query     *string               `json:"query,omitempty"`
	Limit     int                   `json:"limit"`
	Presences bool                  `json:"presences,omitempty"`
	UserIDs   []resources.Snowflake `json:"user_ids,omitempty"`
	Nonce     string                `json:"nonce,omitempty"`
}

// Ready is the READY dispatch payload, trimmed to what the client keeps.
type Ready struct {
	Version          int                          `json:"v"`
	User             resources.User               `json:"user"`
	Guilds           []resources.UnavailableGuild `json:"guilds"`
	SessionID        string                       `json:"session_id"`
	ResumeGatewayURL string                       `json:"resume_gateway_url"`
	Shard            []int                        `json:"shard,omitempty"`
}

func (r Ready) GuildIDs() []resources.Snowflake {
	ids := make([]resources.Snowflake, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		ids = append(ids, g.ID)
	}
	return ids
}
