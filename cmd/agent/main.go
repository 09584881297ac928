// Package main is the entry point for the procsnap agent.
// It loads configuration, samples the host's process table, and delivers
// snapshots to the collector once or on a fixed interval.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Guliveer/procsnap/internal/buffer"
	"github.com/Guliveer/procsnap/internal/collector"
	"github.com/Guliveer/procsnap/internal/config"
	"github.com/Guliveer/procsnap/internal/logging"
	"github.com/Guliveer/procsnap/internal/scheduler"
	"github.com/Guliveer/procsnap/internal/sender"
	"github.com/Guliveer/procsnap/internal/snapshot"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "", "Path to configuration file (default: auto-discover)")
	urlFlag     = flag.String("url", "", "Collector ingest URL (overrides config)")
	keyFlag     = flag.String("key", "", "API key (overrides config)")
	onceFlag    = flag.Bool("once", false, "Send a single snapshot and exit")
	waitFlag    = flag.Bool("wait", false, "In one-shot mode, wait for Enter before exiting")
	writeConfig = flag.String("write-config", "", "Write a default configuration file to this path and exit")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("procsnap-agent %s\n", version)
		os.Exit(0)
	}

	if *writeConfig != "" {
		if err := config.WriteConfig(config.DefaultConfig(), *writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default configuration to %s\n", *writeConfig)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, config.CLIOverrides{
		URL:    *urlFlag,
		APIKey: *keyFlag,
		Once:   *onceFlag,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting procsnap agent",
		zap.String("version", version),
		zap.String("server", cfg.Server.URL))

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = runAgent(ctx, cfg, logger)
	oneShot := cfg.Collection.Interval.Duration <= 0
	if oneShot && *waitFlag {
		waitForEnter(err)
	}
	if err != nil {
		logger.Error("Agent finished with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Agent stopped")
}

// runAgent wires the sampler, builder, sender and optional spool into the
// scheduler and runs it until done.
func runAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	builder, err := snapshot.NewBuilder(cfg.Collection.Hostname)
	if err != nil {
		return fmt.Errorf("initializing snapshot builder: %w", err)
	}

	sampler := collector.NewSampler(collector.NewSystemTable(), logger.Named("sampler"),
		collector.WithWindow(cfg.Collection.SampleWindow.Duration))
	snd := sender.New(sender.OptionsFromConfig(cfg), logger.Named("sender"))

	sched := scheduler.New(sampler, builder, snd, cfg.Collection.Interval.Duration, logger)

	if cfg.Spool.Dir != "" {
		spool, err := buffer.New(cfg.Spool.Dir, cfg.Spool.MaxSizeMB, logger.Named("spool"))
		if err != nil {
			return fmt.Errorf("initializing spool: %w", err)
		}
		sched.WithSpool(spool)
		logger.Info("Spool enabled",
			zap.String("dir", cfg.Spool.Dir),
			zap.Int("pending", spool.Count()))
	}

	logger.Info("Agent running",
		zap.String("hostname", builder.Hostname()),
		zap.Duration("interval", cfg.Collection.Interval.Duration),
		zap.Duration("sample_window", cfg.Collection.SampleWindow.Duration))

	return sched.Run(ctx)
}

// waitForEnter keeps an interactive console open after a one-shot run.
func waitForEnter(runErr error) {
	if runErr != nil {
		fmt.Print("Snapshot not sent. Press Enter to exit...")
	} else {
		fmt.Print("Snapshot sent. Press Enter to exit...")
	}
	bufio.NewReader(os.Stdin).ReadString('\n')
}
