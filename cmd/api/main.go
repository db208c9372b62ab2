package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"genserver/internal/adapter/repo"
	"genserver/internal/http/handlers"
	"genserver/internal/http/httpapi"
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

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
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
		WebhookURL:     cfg.WebhookPublicURL,
		ForceSync:      cfg.ForceSync,
		Logger:         &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure provider client")
	}

	finalizer := service.NewFinalizer(jobs, ledger, metricSet, logger)
	// Dispatch runs inline with the request so callers see sync results and
	// dispatch failures directly.
	coordinator := service.NewCoordinator(jobs, ledger, providerClient, finalizer, taskrunner.Inline{}, metricSet, logger)
	notifications := service.NewNotifications(jobs, finalizer, logger)

	app := handlers.NewApp(coordinator, notifications, cfg.WebhookToken, logger)
	router := httpapi.NewRouter(app, cfg, logger, registry)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
