package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"personal/discord_client/src/resources"
)

// ErrUnknownGuild means an event referenced a guild the cache never saw. It
// points at a bookkeeping bug, not at something a retry would fix.
var ErrUnknownGuild = errors.New("cache: unknown guild")

// Guild is a cached guild plus its session bookkeeping.
type Guild struct {
	resources.GuildData

	// Settled is set by the first GUILD_CREATE or GUILD_DELETE after READY.
	Settled bool
	// Unavailable marks stale data awaiting the next GUILD_CREATE.
	Unavailable bool
	// Removed is only ever seen on the value returned for a left guild.
	Removed bool
}

// Update pairs the entry after a mutation with an optional copy from just
// before it.
type Update[T any] struct {
	Entry    T
	Snapshot *T
	Created  bool
}

// GuildCreate is the outcome of applying a GUILD_CREATE.
type GuildCreate struct {
	Update[Guild]
	// BecameAvailable is set when a settled guild came back from an outage.
	BecameAvailable bool
}

func (c GuildCreate) IsNew() bool { return c.Created }

type Options struct {
	// SnapshotOnUpdate makes OnGuildUpdate and OnGuildCreate return the
	// previous entry in Update.Snapshot.
	SnapshotOnUpdate bool
	Logger           *slog.Logger
}

// Guilds is the guild cache. The gateway read loop is its only writer; any
// goroutine may read. Entries are never changed in place: every write stores
// a fresh *Guild, so values handed to readers stay consistent.
type Guilds struct {
	snapshotOnUpdate bool
	logger           *slog.Logger

	mu      sync.RWMutex
	entries map[resources.Snowflake]*Guild
}

func NewGuilds(opts Options) *Guilds {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Guilds{
		snapshotOnUpdate: opts.SnapshotOnUpdate,
		logger:           opts.Logger.With("component", "cache"),
		entries:          make(map[resources.Snowflake]*Guild),
	}
}

// OnReady replaces the cache with one placeholder per guild listed in READY.
// Call it for fresh sessions only; a resumed session keeps its cache.
func (c *Guilds) OnReady(ids []resources.Snowflake) {
	entries := make(map[resources.Snowflake]*Guild, len(ids))
	for _, id := range ids {
		entries[id] = &Guild{
			GuildData:   resources.GuildData{ID: id},
			Unavailable: true,
		}
	}

	c.mu.Lock()
	dropped := len(c.entries)
	c.entries = entries
	c.mu.Unlock()

	c.logger.Debug("seeded guild placeholders", "guilds", len(ids), "dropped", dropped)
}

func (c *Guilds) OnGuildCreate(data resources.GuildData) GuildCreate {
	next := &Guild{GuildData: data, Settled: true}

	c.mu.Lock()
	prev, known := c.entries[data.ID]
	c.entries[data.ID] = next
	c.mu.Unlock()

	result := GuildCreate{Update: Update[Guild]{Entry: *next}}
	switch {
	case !known:
		result.Created = true
		c.logger.Debug("joined guild", "guild", data.ID)
	case !prev.Settled:
		c.logger.Debug("guild populated", "guild", data.ID)
	default:
		result.BecameAvailable = true
		c.logger.Debug("guild available again", "guild", data.ID)
	}
	if known && c.snapshotOnUpdate {
		snapshot := *prev
		result.Snapshot = &snapshot
	}
	return result
}

// OnGuildUpdate merges a GUILD_UPDATE into the cached entry. Fields that only
// GUILD_CREATE carries are kept from the cache.
func (c *Guilds) OnGuildUpdate(data resources.GuildData) (Update[Guild], error) {
	c.mu.Lock()
	prev, known := c.entries[data.ID]
	if !known {
		c.mu.Unlock()
		return Update[Guild]{}, fmt.Errorf("guild update for %s: %w", data.ID, ErrUnknownGuild)
	}

	next := *prev
	next.Name = data.Name
	next.Icon = data.Icon
	next.OwnerID = data.OwnerID
	next.Description = data.Description
	next.Features = data.Features
	next.Roles = data.Roles
	next.Emojis = data.Emojis
	next.PreferredLocale = data.PreferredLocale
	c.entries[data.ID] = &next
	c.mu.Unlock()

	update := Update[Guild]{Entry: next}
	if c.snapshotOnUpdate {
		snapshot := *prev
		update.Snapshot = &snapshot
	}
	return update, nil
}

// OnGuildDelete handles both meanings of GUILD_DELETE. Without the
// unavailable marker the guild is evicted and returned with Removed set;
// with it the entry stays and is marked unavailable.
func (c *Guilds) OnGuildDelete(data resources.UnavailableGuild) (Guild, error) {
	outage := data.Unavailable != nil && *data.Unavailable

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, known := c.entries[data.ID]
	if !known {
		return Guild{}, fmt.Errorf("guild delete for %s: %w", data.ID, ErrUnknownGuild)
	}

	if !outage {
		delete(c.entries, data.ID)
		removed := *prev
		removed.Settled = true
		removed.Removed = true
		c.logger.Debug("left guild", "guild", data.ID)
		return removed, nil
	}

	next := *prev
	next.Settled = true
	next.Unavailable = true
	c.entries[data.ID] = &next
	c.logger.Debug("guild unavailable", "guild", data.ID)
	return next, nil
}

// AllSettled reports whether every cached guild has had its first CREATE or
// DELETE since READY. It is recomputed on each call.
func (c *Guilds) AllSettled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, g := range c.entries {
		if !g.Settled {
			return false
		}
	}
	return true
}

// Unsettled counts guilds still waiting for their first CREATE or DELETE.
func (c *Guilds) Unsettled() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, g := range c.entries {
		if !g.Settled {
			n++
		}
	}
	return n
}

func (c *Guilds) Get(id resources.Snowflake) (Guild, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.entries[id]
	if !ok {
		return Guild{}, false
	}
	return *g, true
}

func (c *Guilds) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// All returns every cached guild ordered by id.
func (c *Guilds) All() []Guild {
	c.mu.RLock()
	out := make([]Guild, 0, len(c.entries))
	for _, g := range c.entries {
		out = append(out, *g)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Uint64() < out[j].ID.Uint64()
	})
	return out
}
