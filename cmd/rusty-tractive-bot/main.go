// Command rusty-tractive-bot runs the Telegram-facing binary: the
// lease-protected get_updates leaser and the per-tracker stream
// listener for a single bot/tracker/chat triple.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/rusty-tractive/fleet/internal/botupdate"
	"github.com/rusty-tractive/fleet/internal/config"
	"github.com/rusty-tractive/fleet/internal/heartbeat"
	"github.com/rusty-tractive/fleet/internal/listener"
	"github.com/rusty-tractive/fleet/internal/logging"
	"github.com/rusty-tractive/fleet/internal/obsmetrics"
	"github.com/rusty-tractive/fleet/internal/store"
	"github.com/rusty-tractive/fleet/internal/telegram"
)

func main() {
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set GOMAXPROCS: %v\n", err)
	}

	cfg, err := config.LoadBot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, flush, err := logging.Init("rusty-tractive-bot", cfg.Logging, cfg.Sentry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("rusty-tractive-bot exited with error")
	}
}

func run(ctx context.Context, cfg config.BotServiceConfig, logger zerolog.Logger) error {
	storeCfg := store.Config{
		Addr:          cfg.Store.Addr,
		Password:      cfg.Store.Password,
		DB:            cfg.Store.DB,
		ScriptTimeout: cfg.Store.ScriptTimeout,
	}

	// The blocking XREADGROUP read in the listener must never share a
	// connection with command traffic (SETNX/DEL/PTTL for the leaser),
	// so it gets its own single-connection Store (see SPEC_FULL.md §9).
	commandStore, err := store.New(ctx, storeCfg, logger.With().Str("component", "store-command").Logger())
	if err != nil {
		return fmt.Errorf("failed to connect command store: %w", err)
	}
	defer commandStore.Close()

	listenerStoreCfg := storeCfg
	listenerStoreCfg.PoolSize = 1
	listenerStore, err := store.New(ctx, listenerStoreCfg, logger.With().Str("component", "store-listener").Logger())
	if err != nil {
		return fmt.Errorf("failed to connect listener store: %w", err)
	}
	defer listenerStore.Close()

	registry := obsmetrics.NewRegistry()

	hb := heartbeat.New(cfg.Heartbeat.URL, logger.With().Str("component", "heartbeat").Logger())
	hb.SentCounter = registry.HeartbeatsSent

	chat := telegram.New(cfg.Service.BotToken, logger.With().Str("component", "telegram").Logger())

	me, err := telegram.Call[telegram.User](ctx, chat, telegram.GetMe{})
	if err != nil {
		return fmt.Errorf("get_me failed: %w", err)
	}
	logger.Info().Int64("bot_id", me.ID).Str("username", me.Username).Msg("resolved bot identity")

	leaser := botupdate.New(commandStore, chat, hb, me.ID, cfg.Service.PollTimeout, logger.With().Str("component", "botupdate").Logger())
	leaser.LeaseContentionSleeps = registry.LeaseContentionSleeps

	lst := listener.New(listenerStore, chat, hb, me.ID, cfg.Service.TrackerID, cfg.Service.ChatID, cfg.Service.Battery, logger.With().Str("component", "listener").Logger())
	lst.LiveLocationWins = registry.LiveLocationWins
	lst.LiveLocationLosses = registry.LiveLocationLosses
	lst.BatteryNotificationsSent = registry.BatteryNotificationsSent

	metricsServer := obsmetrics.NewServer(cfg.Metrics.ListenAddr, registry, logger.With().Str("component", "metrics").Logger())

	group, groupCtx := errgroup.WithContext(ctx)
	switch cfg.Service.Mode {
	case "webhook":
		group.Go(func() error { return leaser.RunWebhook(groupCtx, cfg.Service.BindAddr, cfg.Service.SecretToken) })
	default:
		group.Go(func() error { return leaser.Run(groupCtx) })
	}
	group.Go(func() error { return lst.Run(groupCtx) })
	group.Go(func() error { return metricsServer.Run(groupCtx) })
	group.Go(func() error {
		obsmetrics.RunProcessSampler(groupCtx, registry, logger)
		return nil
	})

	if err := group.Wait(); err != nil && groupCtx.Err() == nil {
		return err
	}
	return nil
}
