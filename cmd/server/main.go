/**
 * @description
 * This is the main entry point for the sweep-service HTTP server. It is
 * responsible for initializing all components of the service, including
 * configuration, database connection, external API clients, the message
 * broker, the core application services, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP server functionality.
 * - github.com/joho/godotenv: Optional .env loading for local development.
 * - go.uber.org/zap: Structured logging.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/brokerclient, pkg/calendarclient, pkg/webhookclient, pkg/rabbitmq: External clients.
 */

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/stockloyal/sweep-service/internal/api"
	"github.com/stockloyal/sweep-service/internal/app"
	"github.com/stockloyal/sweep-service/internal/config"
	"github.com/stockloyal/sweep-service/internal/store"
	"github.com/stockloyal/sweep-service/pkg/brokerclient"
	"github.com/stockloyal/sweep-service/pkg/calendarclient"
	"github.com/stockloyal/sweep-service/pkg/rabbitmq"
	"github.com/stockloyal/sweep-service/pkg/webhookclient"
)

func main() {
	// Optional local .env; real deployments configure the environment.
	_ = godotenv.Load()

	zl, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Fatalw("config load failed", "err", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		logger.Fatalw("internal api key must be configured", "env", "INTERNAL_API_KEY")
	}

	logger.Infow("starting sweep-service", "port", cfg.ServerPort)

	repo, err := store.NewPostgresRepository(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalw("database connection failed", "err", err)
	}
	defer repo.Close()
	logger.Infow("database connected, migrations applied")

	// Event producer; the pipeline degrades to a no-op publisher when
	// RabbitMQ is unavailable at startup.
	var events rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warnw("rabbitmq producer unavailable, event fan-out disabled", "err", err)
		events = &rabbitmq.NopPublisher{Logger: logger}
	} else {
		defer producer.Close()
		events = producer
		logger.Infow("rabbitmq producer connected")
	}

	calendar := calendarclient.NewClient(cfg.CalendarAPIBaseURL, cfg.CalendarTimeout())
	clock, err := app.NewMarketClock(calendar, logger, cfg.CalendarCacheTTL())
	if err != nil {
		logger.Fatalw("market clock init failed", "err", err)
	}

	broker := brokerclient.NewClient(cfg.BrokerAPIBaseURL, cfg.BrokerAPIKey, cfg.BrokerAPISecret)
	webhooks := webhookclient.NewClient(cfg.WebhookTimeout())

	services := app.NewServices(repo, clock, broker, webhooks, events, app.Settings{
		FirmSweepAccountRef: cfg.FirmSweepAccountRef,
		SandboxKYC:          cfg.BrokerSandboxKYC,
	}, logger)

	handlers := api.NewSweepHandlers(services, logger)
	router := api.SweepRoutes(handlers, cfg.InternalAPIKey)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		logger.Infow("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("http server failed", "err", err)
		}
	}()

	// Wait for termination signal to gracefully shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infow("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorw("http server shutdown failed", "err", err)
	}
	logger.Infow("sweep-service stopped")
}
