package resources

type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	GlobalName    *string   `json:"global_name,omitempty"`
	Avatar        *string   `json:"avatar"`
	Bot           *bool     `json:"bot,omitempty"`
	System        *bool     `json:"system,omitempty"`
	Flags         *int      `json:"flags,omitempty"`
	PublicFlags   *int      `json:"public_flags,omitempty"`
}

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

type Emoji struct {
	ID       *Snowflake `json:"id"`
	Name     *string    `json:"name"`
	Animated *bool      `json:"animated,omitempty"`
}

type Member struct {
	User     *User       `json:"user,omitempty"`
	Nick     *string     `json:"nick,omitempty"`
	Roles    []Snowflake `json:"roles"`
	JoinedAt string      `json:"joined_at"`
	Deaf     bool        `json:"deaf"`
	Mute     bool        `json:"mute"`
}

// GuildData is the guild object as sent in GUILD_CREATE and GUILD_UPDATE and
// returned by GET /guilds/{id}. GUILD_UPDATE omits the create-only fields.
type GuildData struct {
	ID              Snowflake `json:"id"`
	Name            string    `json:"name"`
	Icon            *string   `json:"icon"`
	OwnerID         Snowflake `json:"owner_id"`
	Description     *string   `json:"description"`
	Features        []string  `json:"features"`
	Roles           []Role    `json:"roles"`
	Emojis          []Emoji   `json:"emojis"`
	PreferredLocale string    `json:"preferred_locale"`

	// GUILD_CREATE only.
	JoinedAt    string    `json:"joined_at,omitempty"`
	Large       bool      `json:"large,omitempty"`
	MemberCount int       `json:"member_count,omitempty"`
	Members     []Member  `json:"members,omitempty"`
	Channels    []Channel `json:"channels,omitempty"`
	Threads     []Channel `json:"threads,omitempty"`
	Unavailable bool      `json:"unavailable,omitempty"`
}

// UnavailableGuild is the payload of READY's guild list and of GUILD_DELETE.
// Unavailable is nil when the field was absent, which in GUILD_DELETE means
// the user left or was removed from the guild.
type UnavailableGuild struct {
	ID          Snowflake `json:"id"`
	Unavailable *bool     `json:"unavailable,omitempty"`
}
