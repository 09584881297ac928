// Package main is the entry point for the procsnap collector, which accepts
// snapshots from agents and serves them back over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Guliveer/procsnap/internal/auth"
	"github.com/Guliveer/procsnap/internal/config"
	"github.com/Guliveer/procsnap/internal/ingest"
	"github.com/Guliveer/procsnap/internal/logging"
	"github.com/Guliveer/procsnap/internal/query"
	"github.com/Guliveer/procsnap/internal/retention"
	"github.com/Guliveer/procsnap/internal/server"
	"github.com/Guliveer/procsnap/internal/store"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "", "Path to collector configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	writeConfig = flag.String("write-config", "", "Write a default configuration file to this path and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("procsnap-collector %s\n", version)
		os.Exit(0)
	}

	if *writeConfig != "" {
		if err := config.WriteConfig(config.DefaultCollectorConfig(), *writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default configuration to %s\n", *writeConfig)
		os.Exit(0)
	}

	cfg, err := config.LoadCollector(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting procsnap collector",
		zap.String("version", version),
		zap.String("address", cfg.HTTP.Address),
		zap.String("db", cfg.Storage.Path))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Collector stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Collector stopped gracefully")
}

// run opens the store and runs the HTTP server and retention loop until ctx
// is cancelled or one of them fails.
func run(ctx context.Context, cfg *config.CollectorConfig, logger *zap.Logger) error {
	st, err := store.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := st.CreateSchema(ctx); err != nil {
		return err
	}

	keys := auth.NewKeySet(cfg.Auth.APIKeys)
	logger.Info("Accepting agent keys", zap.Int("count", keys.Len()))

	srv := server.New(
		server.ConfigFromCollector(cfg),
		keys,
		ingest.New(keys, st, logger.Named("ingest")),
		query.New(st, cfg.Query.DefaultLimit, cfg.Query.MaxLimit),
		st,
		logger.Named("http"),
	)
	purger := retention.New(st, cfg.Retention.MaxAge.Duration, cfg.Retention.Interval.Duration,
		logger.Named("retention"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		return purger.Run(gctx)
	})

	return g.Wait()
}
