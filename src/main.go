package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"personal/discord_client/src/cache"
	"personal/discord_client/src/client"
	"personal/discord_client/src/config"
	"personal/discord_client/src/gateway"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	intents, _ := cfg.IntentMask()
	var closeCodes *gateway.CloseCodes
	if cfg.CloseCodesFile != "" {
		closeCodes, err = gateway.LoadCloseCodes(cfg.CloseCodesFile)
		if err != nil {
			return err
		}
	}

	var bot *client.Bot
	bot, err = client.NewBot(client.BotOptions{
		Token:            cfg.Token,
		Intents:          intents,
		Shard:            cfg.Shard,
		LargeThreshold:   cfg.LargeThreshold,
		Compress:         cfg.Compress,
		Workers:          cfg.Workers,
		SnapshotOnUpdate: cfg.SnapshotOnUpdate,
		CloseCodes:       closeCodes,
		MinBackoff:       cfg.Reconnect.MinBackoff,
		MaxBackoff:       cfg.Reconnect.MaxBackoff,
		APIBase:          cfg.APIBase,
		Logger:           logger,
		Handlers: gateway.Handlers{
			GuildJoin: func(g cache.Guild) {
				logger.Info("joined guild", "guild", g.ID, "name", g.Name)
			},
			GuildLeave: func(g cache.Guild) {
				logger.Info("left guild", "guild", g.ID)
			},
			GuildUnavailable: func(g cache.Guild) {
				logger.Warn("guild unavailable", "guild", g.ID)
			},
			CacheReady: func() {
				logger.Info("all guilds loaded", "guilds", bot.Cache().Len())
			},
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting bot", "intents", int(intents), "workers", cfg.Workers)
	err = bot.Run(ctx)

	var fatal *gateway.FatalError
	if errors.As(err, &fatal) {
		return fmt.Errorf("gateway refused the session: %w", err)
	}
	if err != nil {
		return err
	}
	logger.Info("bot stopped", "guilds", bot.Cache().Len())
	return nil
}
