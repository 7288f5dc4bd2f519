package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/api"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/api/handler"
	mw "github.com/newrelic-experimental/newrelic-control-tower-customization/internal/api/middleware"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/awsconfig"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/config"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/core"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/logging"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/metrics"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "create-api-key" {
		createAPIKey(os.Args[2:])
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("api"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := awsconfig.Load(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load AWS config")
	}

	services, err := core.NewServices(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build onboarding services")
	}

	stackSets := handler.NewStackSet(services.Trigger, services.Publisher, services.Decommissioner)
	readiness := &metrics.Readiness{}
	srv := api.NewServer(logger, stackSets, cfg.APIKeyHashes, readiness)

	// Provisioning waits on CloudFormation, so writes get a long timeout.
	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting onboarding API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()
	readiness.SetReady()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("waiting for decommission runs")
	stackSets.Wait()
}

// createAPIKey prints a new random API key and the hash to add to
// API_KEY_HASHES.
func createAPIKey(args []string) {
	fs := flag.NewFlagSet("create-api-key", flag.ExitOnError)
	key := fs.String("key", "", "Hash this key instead of generating one")
	fs.Parse(args)

	if *key == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			fmt.Fprintf(os.Stderr, "error: failed to generate key: %v\n", err)
			os.Exit(1)
		}
		*key = "nrct_" + hex.EncodeToString(buf)
	}

	fmt.Printf("  Key:    %s\n", *key)
	fmt.Printf("  Hash:   %s\n\n", mw.HashKey(*key))
	fmt.Printf("Add the hash to API_KEY_HASHES. The key is not stored anywhere.\n")
}
