package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"genserver/internal/adapter/repo"
	"genserver/internal/infra"
	"genserver/internal/metrics"
	"genserver/internal/provider"
	"genserver/internal/service"
	"genserver/internal/taskrunner"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, logger)
	jobs := repo.NewJobRepository(runner)
	ledger := repo.NewLedger(runner)

	registry := prometheus.NewRegistry()
	metricSet := metrics.New(registry)

	providerClient, err := provider.NewClient(provider.Options{
		BaseURL:        cfg.ProviderBaseURL,
		APIKey:         cfg.ProviderAPIKey,
		ConnectTimeout: cfg.ProviderConnectTimeout,
		ReadTimeout:    cfg.ProviderReadTimeout,
		ForceSync:      cfg.ForceSync,
		Logger:         &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure provider client")
	}

	finalizer := service.NewFinalizer(jobs, ledger, metricSet, logger)
	pool := taskrunner.NewPool(cfg.WorkerConcurrency, logger)
	reconciler := service.NewReconciler(jobs, providerClient, finalizer, pool, service.ReconcilerConfig{
		PollInterval:   cfg.PollInterval,
		FirstPollDelay: cfg.FirstPollDelay,
		StuckTimeout:   cfg.StuckTimeout,
		BatchSize:      cfg.ReconcileBatchSize,
	}, metricSet, logger)

	if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	pool.Wait()
	logger.Info().Msg("worker: stopped")
}
