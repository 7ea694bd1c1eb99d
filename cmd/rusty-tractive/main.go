// Command rusty-tractive runs the ingestor binary: one Tractive account,
// authenticated and streamed into the shared store.
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

	"github.com/rusty-tractive/fleet/internal/config"
	"github.com/rusty-tractive/fleet/internal/heartbeat"
	"github.com/rusty-tractive/fleet/internal/ingest"
	"github.com/rusty-tractive/fleet/internal/logging"
	"github.com/rusty-tractive/fleet/internal/obsmetrics"
	"github.com/rusty-tractive/fleet/internal/store"
	"github.com/rusty-tractive/fleet/internal/tractive"
)

func main() {
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set GOMAXPROCS: %v\n", err)
	}

	cfg, err := config.LoadTractive()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, flush, err := logging.Init("rusty-tractive", cfg.Logging, cfg.Sentry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("rusty-tractive exited with error")
	}
}

// run wires every component together and blocks until ctx is cancelled or
// one of the component goroutines returns a fatal error.
func run(ctx context.Context, cfg config.TractiveServiceConfig, logger zerolog.Logger) error {
	st, err := store.New(ctx, store.Config{
		Addr:          cfg.Store.Addr,
		Password:      cfg.Store.Password,
		DB:            cfg.Store.DB,
		ScriptTimeout: cfg.Store.ScriptTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to shared store: %w", err)
	}
	defer st.Close()

	registry := obsmetrics.NewRegistry()

	hb := heartbeat.New(cfg.Heartbeat.URL, logger.With().Str("component", "heartbeat").Logger())
	hb.SentCounter = registry.HeartbeatsSent

	tc := tractive.New(logger.With().Str("component", "tractive").Logger())

	svc := ingest.New(st, tc, hb, cfg.Service.Email, cfg.Service.Password, logger.With().Str("component", "ingest").Logger())
	svc.StreamAppends = registry.StreamAppends
	svc.DedupDrops = registry.DedupDrops

	metricsServer := obsmetrics.NewServer(cfg.Metrics.ListenAddr, registry, logger.With().Str("component", "metrics").Logger())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return svc.Run(groupCtx) })
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
