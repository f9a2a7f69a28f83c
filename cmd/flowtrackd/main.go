// Command flowtrackd runs the cross-chain USDC flow tracking service: the
// HTTP/WebSocket API, the durable worker and the resume sweep.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/config"
	"github.com/stablepath/flowtrack/events"
	"github.com/stablepath/flowtrack/metrics"
	"github.com/stablepath/flowtrack/queue"
	"github.com/stablepath/flowtrack/server"
	"github.com/stablepath/flowtrack/store"
	"github.com/stablepath/flowtrack/tracker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flowtrackd",
		Short: "Track cross-chain USDC transfers across EVM, Noble and Namada",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
		SilenceUsage: true,
	}

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrapf(err, "parse LOG_LEVEL %q", cfg.LogLevel)
	}
	logger := log.NewLogger(os.Stderr, log.LevelOption(level))

	if cfg.ChainRegistryPath == "" {
		return errors.New("CHAIN_REGISTRY_PATH is required")
	}
	registry, err := config.LoadChainRegistry(cfg.ChainRegistryPath)
	if err != nil {
		return err
	}
	polling, err := config.ParsePollingConfigs(cfg.ChainPollingConfigs)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		st = pg
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store; flows will not survive restarts")
		st = store.NewMemory()
	}

	bus := events.NewBus(logger)
	supervisor := tracker.NewSupervisor(logger)
	clients := tracker.NewRegistryClients(registry, cfg, logger)
	engine := tracker.NewEngine(st, bus, clients, registry, polling, supervisor, logger)
	handler := queue.TrackHandler(st, engine, logger)

	var q queue.Queue
	if cfg.RedisURL != "" {
		aq, err := queue.NewAsynq(cfg.RedisURL, handler, logger)
		if err != nil {
			return err
		}
		defer aq.Close()
		q = aq
	} else {
		logger.Warn("REDIS_URL not set, using in-process queue; jobs will not survive restarts")
		q = queue.NewMemory(handler, logger)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(ctx) })
	g.Go(func() error { return q.Start(ctx) })

	srv := server.New(st, q, bus, registry, cfg.CORSOrigins, logger)
	srv.Start(ctx, g, fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return metrics.StartMetricServer(ctx, logger, cfg.MetricsAddr) })
	}

	g.Go(func() error {
		if _, err := queue.ResumeUnfinished(ctx, st, q, logger); err != nil {
			// The API keeps serving; operators can re-register flows.
			logger.Error("resume sweep failed", "error", err.Error())
		}
		return nil
	})

	logger.Info("flowtrackd started", "host", cfg.Host, "port", cfg.Port)
	return g.Wait()
}
