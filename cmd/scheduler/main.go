/**
 * @description
 * This is the main entry point for the sweep-service cron runner. It is a
 * non-HTTP, long-running process that executes the periodic pipelines:
 * scheduled-order execution, sweep dispatch, and fund journaling. It shares
 * the application service bundle with the HTTP server so both surfaces run
 * identical business logic.
 */

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/stockloyal/sweep-service/internal/app"
	"github.com/stockloyal/sweep-service/internal/config"
	"github.com/stockloyal/sweep-service/internal/store"
	"github.com/stockloyal/sweep-service/pkg/brokerclient"
	"github.com/stockloyal/sweep-service/pkg/calendarclient"
	"github.com/stockloyal/sweep-service/pkg/rabbitmq"
	"github.com/stockloyal/sweep-service/pkg/webhookclient"
)

func main() {
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

	repo, err := store.NewPostgresRepository(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalw("database connection failed", "err", err)
	}
	defer repo.Close()
	logger.Infow("database connected, migrations applied")

	var events rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warnw("rabbitmq producer unavailable, event fan-out disabled", "err", err)
		events = &rabbitmq.NopPublisher{Logger: logger}
	} else {
		defer producer.Close()
		events = producer
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

	runner := app.NewCronRunner(services, app.CronSchedules{
		ProcessOrders: cfg.ProcessOrdersSchedule,
		Sweep:         cfg.SweepSchedule,
		Journal:       cfg.JournalSchedule,
	}, logger)

	runner.Start()
	logger.Infow("cron runner started",
		"process_orders", cfg.ProcessOrdersSchedule,
		"sweep", cfg.SweepSchedule,
		"journal", cfg.JournalSchedule)

	// Wait for termination signal to gracefully shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infow("shutdown signal received, stopping cron runner")
	<-runner.Stop().Done()
	logger.Infow("cron runner stopped gracefully")
}
