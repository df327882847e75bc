package resources

type ChannelType int

const (
	ChannelTypeGuildText          ChannelType = 0
	ChannelTypeDM                 ChannelType = 1
	ChannelTypeGuildVoice         ChannelType = 2
	ChannelTypeGroupDM            ChannelType = 3
	ChannelTypeGuildCategory      ChannelType = 4
	ChannelTypeGuildAnnouncement  ChannelType = 5
	ChannelTypeAnnouncementThread ChannelType = 10
	ChannelTypePublicThread       ChannelType = 11
	ChannelTypePrivateThread      ChannelType = 12
	ChannelTypeGuildStageVoice    ChannelType = 13
	ChannelTypeGuildForum         ChannelType = 15
)

type Overwrite struct {
	ID    Snowflake `json:"id"`
	Type  int       `json:"type"`
	Allow string    `json:"allow"`
	Deny  string    `json:"deny"`
}

type ThreadMetadata struct {
	Archived            bool    `json:"archived"`
	AutoArchiveDuration int     `json:"auto_archive_duration"`
	ArchiveTimestamp    string  `json:"archive_timestamp"`
	Locked              bool    `json:"locked"`
	Invitable           *bool   `json:"invitable,omitempty"`
	CreateTimestamp     *string `json:"create_timestamp,omitempty"`
}

type Tag struct {
	ID        Snowflake  `json:"id"`
	Name      string     `json:"name"`
	Moderated bool       `json:"moderated"`
	EmojiID   *Snowflake `json:"emoji_id,omitempty"`
	EmojiName *string    `json:"emoji_name,omitempty"`
}

// Channel is a guild channel, DM or thread. Pointer fields are absent for
// channel types that do not carry them.
type Channel struct {
	ID                   Snowflake       `json:"id"`
	Type                 ChannelType     `json:"type"`
	GuildID              *Snowflake      `json:"guild_id,omitempty"`
	Position             *int            `json:"position,omitempty"`
	PermissionOverwrites []Overwrite     `json:"permission_overwrites,omitempty"`
	Name                 *string         `json:"name,omitempty"`
	Topic                *string         `json:"topic,omitempty"`
	NSFW                 *bool           `json:"nsfw,omitempty"`
	LastMessageID        *Snowflake      `json:"last_message_id,omitempty"`
	Bitrate              *int            `json:"bitrate,omitempty"`
	UserLimit            *int            `json:"user_limit,omitempty"`
	RateLimitPerUser     *int            `json:"rate_limit_per_user,omitempty"`
	Recipients           []User          `json:"recipients,omitempty"`
	OwnerID              *Snowflake      `json:"owner_id,omitempty"`
	ParentID             *Snowflake      `json:"parent_id,omitempty"`
	LastPinTimestamp     *string         `json:"last_pin_timestamp,omitempty"` // ISO8601
	RTCRegion            *string         `json:"rtc_region,omitempty"`
	MessageCount         *int            `json:"message_count,omitempty"`
	MemberCount          *int            `json:"member_count,omitempty"`
	ThreadMetadata       *ThreadMetadata `json:"thread_metadata,omitempty"`
	Permissions          *string         `json:"permissions,omitempty"`
	Flags                *int            `json:"flags,omitempty"`
	AvailableTags        []Tag           `json:"available_tags,omitempty"`
	AppliedTags          []Snowflake     `json:"applied_tags,omitempty"`
}

func (c Channel) IsThread() bool {
	switch c.Type {
	case ChannelTypeAnnouncementThread, ChannelTypePublicThread, ChannelTypePrivateThread:
		return true
	}
	return false
}
