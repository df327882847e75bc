package gateway

import (
	"encoding/json"

	"personal/discord_client/src/resources"
)

// Guild dispatches keep the cache in step with the stream. Consistency errors
// are logged and the event dropped; the session carries on.

func (c *Connection) onReady(data json.RawMessage) {
	var ready Ready
	if err := json.Unmarshal(data, &ready); err != nil {
		c.logger.Error("could not unmarshal READY event data", "error", err)
		return
	}

	c.session.Start(ready.SessionID, ready.ResumeGatewayURL)
	c.cache.OnReady(ready.GuildIDs())
	c.awaitingCacheReady = true
	c.setState(StateReady)
	c.reachedReady.Store(true)

	c.logger.Info("session ready",
		"session_id", ready.SessionID,
		"user", ready.User.Username,
		"guilds", len(ready.Guilds),
	)
	if h := c.cfg.Handlers.Ready; h != nil {
		h(ready)
	}
	c.checkCacheReady()
}

func (c *Connection) onGuildCreate(data json.RawMessage) {
	var guild resources.GuildData
	if err := json.Unmarshal(data, &guild); err != nil {
		c.logger.Error("could not unmarshal GUILD_CREATE event data", "error", err)
		return
	}

	result := c.cache.OnGuildCreate(guild)
	switch {
	case result.IsNew():
		if h := c.cfg.Handlers.GuildJoin; h != nil {
			h(result.Entry)
		}
	case result.BecameAvailable:
		if h := c.cfg.Handlers.GuildAvailable; h != nil {
			h(result.Entry)
		}
	default:
		if h := c.cfg.Handlers.GuildCreate; h != nil {
			h(result)
		}
	}
	c.checkCacheReady()
}

func (c *Connection) onGuildUpdate(data json.RawMessage) {
	var guild resources.GuildData
	if err := json.Unmarshal(data, &guild); err != nil {
		c.logger.Error("could not unmarshal GUILD_UPDATE event data", "error", err)
		return
	}

	update, err := c.cache.OnGuildUpdate(guild)
	if err != nil {
		c.logger.Error("guild cache out of sync", "event", "GUILD_UPDATE", "error", err)
		return
	}
	if h := c.cfg.Handlers.GuildUpdate; h != nil {
		h(update)
	}
}

func (c *Connection) onGuildDelete(data json.RawMessage) {
	var deleted resources.UnavailableGuild
	if err := json.Unmarshal(data, &deleted); err != nil {
		c.logger.Error("could not unmarshal GUILD_DELETE event data", "error", err)
		return
	}

	guild, err := c.cache.OnGuildDelete(deleted)
	if err != nil {
		c.logger.Error("guild cache out of sync", "event", "GUILD_DELETE", "error", err)
		return
	}
	if guild.Removed {
		if h := c.cfg.Handlers.GuildLeave; h != nil {
			h(guild)
		}
	} else if h := c.cfg.Handlers.GuildUnavailable; h != nil {
		h(guild)
	}
	c.checkCacheReady()
}

// checkCacheReady fires CacheReady the first time every guild from READY
// has settled.
func (c *Connection) checkCacheReady() {
	if !c.awaitingCacheReady {
		return
	}
	if pending := c.cache.Unsettled(); pending > 0 {
		c.logger.Debug("waiting for guilds", "pending", pending)
		return
	}
	c.awaitingCacheReady = false
	c.logger.Info("guild cache ready", "guilds", c.cache.Len())
	if h := c.cfg.Handlers.CacheReady; h != nil {
		h()
	}
}
