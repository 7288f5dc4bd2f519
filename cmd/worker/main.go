package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/awsconfig"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/config"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/core"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/logging"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.Load(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load AWS config")
	}

	services, err := core.NewServices(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build onboarding services")
	}

	readiness := &metrics.Readiness{}
	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr, readiness)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range services.Consumers(cfg, logger) {
		g.Go(func() error { return c.Run(gctx) })
	}
	readiness.SetReady()
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker started")

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("consumer failed")
	}
	logger.Info().Msg("worker stopped")
}
