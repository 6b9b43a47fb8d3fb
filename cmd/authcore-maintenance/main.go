package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/bootstrap"
	"github.com/MrEthical07/authcore/logging"
)

func main() {
	var (
		interval = flag.Duration("interval", 0, "repeat the sweep at this interval; zero runs once")
		timeout  = flag.Duration("timeout", 5*time.Minute, "upper bound for a single sweep")
	)
	flag.Parse()

	if err := run(*interval, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "authcore-maintenance: %v\n", err)
		os.Exit(1)
	}
}

func run(interval, timeout time.Duration) error {
	_ = godotenv.Load()

	ec, err := authcore.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Level:       ec.LogLevel,
		Development: ec.LogDevelopment,
		File:        ec.LogFile,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := ec.EngineConfig()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	// The sweep never serves requests.
	cfg.RateLimit.Enabled = false

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Open(ctx, ec, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	if interval <= 0 {
		return bootstrap.Sweep(ctx, app.Engine, logger, timeout)
	}
	bootstrap.RunSweeper(ctx, app.Engine, logger, interval, timeout)
	return nil
}
