package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/httpapi"
	"github.com/MrEthical07/authcore/internal/bootstrap"
	"github.com/MrEthical07/authcore/logging"
	otelexport "github.com/MrEthical07/authcore/metrics/export/otel"
	promexport "github.com/MrEthical07/authcore/metrics/export/prometheus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authcore-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment may already be populated.
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Open(ctx, ec, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("close backends", zap.Error(err))
		}
	}()

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = promexport.NewPrometheusExporter(app.Engine).Handler()
		exp, err := otelexport.NewOTelExporter(otel.GetMeterProvider().Meter("github.com/MrEthical07/authcore"), app.Engine)
		if err != nil {
			return fmt.Errorf("register otel metrics: %w", err)
		}
		defer func() { _ = exp.Close() }()
	}

	if ec.DeletionSweepInterval > 0 {
		sweepCtx, cancelSweep := context.WithCancel(ctx)
		sweepDone := make(chan struct{})
		go func() {
			defer close(sweepDone)
			bootstrap.RunSweeper(sweepCtx, app.Engine, logger.Named("sweep"), ec.DeletionSweepInterval, ec.DeletionSweepInterval)
		}()
		defer func() {
			cancelSweep()
			<-sweepDone
		}()
	}

	e := httpapi.NewServer(app.Engine, httpapi.Config{
		Logger:         logger.Named("http"),
		TrustProxy:     ec.TrustProxy,
		MetricsHandler: metricsHandler,
		RequestTimeout: ec.RequestTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", ec.HTTPAddr), zap.String("db_driver", ec.DBDriver))
		if err := e.Start(ec.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ec.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
