package gateway

import (
	"encoding/json"

	"personal/discord_client/src/cache"
)

// Handlers receive gateway events. They run on the read loop in arrival
// order and must return quickly; long work belongs on the task queue. Nil
// handlers are skipped.
type Handlers struct {
	Ready   func(Ready)
	Resumed func()
	// CacheReady fires once per fresh session, when every guild listed in
	// READY has been created or deleted.
	CacheReady func()

	GuildJoin        func(cache.Guild)
	GuildCreate      func(cache.GuildCreate)
	GuildAvailable   func(cache.Guild)
	GuildUpdate      func(cache.Update[cache.Guild])
	GuildUnavailable func(cache.Guild)
	GuildLeave       func(cache.Guild)

	// Dispatch sees every dispatch after the typed handlers, including
	// events this package does not decode.
	Dispatch func(event string, data json.RawMessage)
}
