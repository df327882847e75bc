package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"personal/discord_client/src/cache"
	"personal/discord_client/src/gateway"
	"personal/discord_client/src/opcodes"
	"personal/discord_client/src/resources"
	"personal/discord_client/src/tasks"
)

type BotOptions struct {
	Token          string
	Intents        opcodes.Intent
	Shard          *[2]int
	LargeThreshold int
	Compress       bool
	Presence       *gateway.PresenceUpdate
	// Workers sizes the task queue shared by REST calls and gateway commands.
	Workers          int
	SnapshotOnUpdate bool
	CloseCodes       *gateway.CloseCodes
	Handlers         gateway.Handlers

	MinBackoff time.Duration
	MaxBackoff time.Duration

	APIBase    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// Bot ties the REST client, the task queue, the guild cache and one gateway
// connection together.
type Bot struct {
	opts   BotOptions
	logger *slog.Logger
	rest   *Client
	queue  *tasks.Queue
	cache  *cache.Guilds

	mu      sync.Mutex
	gateway *gateway.Connection
	running bool
}

func NewBot(opts BotOptions) (*Bot, error) {
	if opts.Token == "" {
		return nil, errors.New("client: token is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Bot{
		opts:   opts,
		logger: opts.Logger.With("component", "bot"),
		rest: New(opts.Token, Options{
			BaseURL:    opts.APIBase,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
		}),
		queue: tasks.NewQueue(tasks.Options{Workers: opts.Workers, Logger: opts.Logger}),
		cache: cache.NewGuilds(cache.Options{
			SnapshotOnUpdate: opts.SnapshotOnUpdate,
			Logger:           opts.Logger,
		}),
	}, nil
}

func (b *Bot) REST() *Client { return b.rest }

func (b *Bot) Queue() *tasks.Queue { return b.queue }

func (b *Bot) Cache() *cache.Guilds { return b.cache }

// Gateway returns the live connection, or nil before Run has fetched the
// gateway URL.
func (b *Bot) Gateway() *gateway.Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gateway
}

// Run starts the queue, looks up the gateway and keeps the connection alive
// until ctx ends. The queue is closed on return; a Bot runs once.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("client: bot already running")
	}
	b.running = true
	b.mu.Unlock()

	b.queue.Start()
	defer b.queue.Close()

	info, err := tasks.Submit(b.queue, "get_gateway_bot", b.rest.GetGatewayBot).Await(ctx)
	if err != nil {
		return fmt.Errorf("could not get gateway: %w", err)
	}
	b.logger.Info("gateway located",
		"url", info.URL,
		"recommended_shards", info.Shards,
		"session_starts_remaining", info.SessionStartLimit.Remaining,
	)

	conn, err := gateway.NewConnection(gateway.Config{
		Token:          b.opts.Token,
		URL:            info.URL,
		Intents:        b.opts.Intents,
		Shard:          b.opts.Shard,
		LargeThreshold: b.opts.LargeThreshold,
		Compress:       b.opts.Compress,
		Presence:       b.opts.Presence,
		Queue:          b.queue,
		Cache:          b.cache,
		Limiter:        gateway.NewIdentifyLimiter(info.SessionStartLimit, 0, b.opts.Logger),
		CloseCodes:     b.opts.CloseCodes,
		Handlers:       b.opts.Handlers,
		Logger:         b.opts.Logger,
		Dialer:         b.opts.Dialer,
		MinBackoff:     b.opts.MinBackoff,
		MaxBackoff:     b.opts.MaxBackoff,
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.gateway = conn
	b.mu.Unlock()

	return conn.Run(ctx)
}

// GetChannel fetches a channel on the task queue.
func (b *Bot) GetChannel(channelID resources.Snowflake) *tasks.Future[resources.Channel] {
	return tasks.Submit(b.queue, "get_channel", func(ctx context.Context) (resources.Channel, error) {
		return b.rest.GetChannel(ctx, channelID)
	})
}

// GetGuild fetches a guild on the task queue.
func (b *Bot) GetGuild(guildID resources.Snowflake) *tasks.Future[resources.GuildData] {
	return tasks.Submit(b.queue, "get_guild", func(ctx context.Context) (resources.GuildData, error) {
		return b.rest.GetGuild(ctx, guildID)
	})
}

// UpdatePresence is forwarded to the gateway. Before Run has connected the
// future fails with gateway.ErrNotReady.
func (b *Bot) UpdatePresence(presence gateway.PresenceUpdate) *tasks.Future[struct{}] {
	if conn := b.Gateway(); conn != nil {
		return conn.UpdatePresence(presence)
	}
	return tasks.Submit(b.queue, "update_presence", func(context.Context) (struct{}, error) {
		return struct{}{}, gateway.ErrNotReady
	})
}
