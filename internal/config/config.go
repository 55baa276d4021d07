/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables (with an
 * optional .env file), providing a centralized and straightforward way to
 * manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the sweep-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort          string `mapstructure:"SERVER_PORT"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	RabbitMQURL         string `mapstructure:"RABBITMQ_URL"`
	InternalAPIKey      string `mapstructure:"INTERNAL_API_KEY"`
	CalendarAPIBaseURL  string `mapstructure:"CALENDAR_API_BASE_URL"`
	BrokerAPIBaseURL    string `mapstructure:"BROKER_API_BASE_URL"`
	BrokerAPIKey        string `mapstructure:"BROKER_API_KEY"`
	BrokerAPISecret     string `mapstructure:"BROKER_API_SECRET"`
	FirmSweepAccountRef string `mapstructure:"FIRM_SWEEP_ACCOUNT_REF"`
	BrokerSandboxKYC    bool   `mapstructure:"BROKER_SANDBOX_KYC"`

	CalendarTimeoutSeconds int `mapstructure:"CALENDAR_TIMEOUT_SECONDS"`
	CalendarCacheTTLMin    int `mapstructure:"CALENDAR_CACHE_TTL_MINUTES"`
	WebhookTimeoutSeconds  int `mapstructure:"WEBHOOK_TIMEOUT_SECONDS"`

	// Cron schedules consumed by cmd/scheduler, in robfig/cron syntax.
	ProcessOrdersSchedule string `mapstructure:"PROCESS_ORDERS_SCHEDULE"`
	SweepSchedule         string `mapstructure:"SWEEP_SCHEDULE"`
	JournalSchedule       string `mapstructure:"JOURNAL_SCHEDULE"`
}

// CalendarTimeout returns the calendar feed HTTP timeout.
func (c Config) CalendarTimeout() time.Duration {
	return time.Duration(c.CalendarTimeoutSeconds) * time.Second
}

// CalendarCacheTTL returns the calendar cache lifetime.
func (c Config) CalendarCacheTTL() time.Duration {
	return time.Duration(c.CalendarCacheTTLMin) * time.Minute
}

// WebhookTimeout returns the broker webhook delivery timeout.
func (c Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("CALENDAR_TIMEOUT_SECONDS", 8)
	viper.SetDefault("CALENDAR_CACHE_TTL_MINUTES", 15)
	viper.SetDefault("WEBHOOK_TIMEOUT_SECONDS", 30)
	// Sandbox default; must be disabled against a production brokerage.
	viper.SetDefault("BROKER_SANDBOX_KYC", true)
	// Every five minutes during extended trading hours, Mon-Fri.
	viper.SetDefault("PROCESS_ORDERS_SCHEDULE", "*/5 4-20 * * 1-5")
	viper.SetDefault("SWEEP_SCHEDULE", "*/10 4-20 * * 1-5")
	// Journals settle nightly after the trading day.
	viper.SetDefault("JOURNAL_SCHEDULE", "0 22 * * 1-5")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SWEEP_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CALENDAR_API_BASE_URL")
	_ = viper.BindEnv("BROKER_API_BASE_URL")
	_ = viper.BindEnv("BROKER_API_KEY")
	_ = viper.BindEnv("BROKER_API_SECRET")
	_ = viper.BindEnv("FIRM_SWEEP_ACCOUNT_REF")
	_ = viper.BindEnv("BROKER_SANDBOX_KYC")
	_ = viper.BindEnv("CALENDAR_TIMEOUT_SECONDS")
	_ = viper.BindEnv("CALENDAR_CACHE_TTL_MINUTES")
	_ = viper.BindEnv("WEBHOOK_TIMEOUT_SECONDS")
	_ = viper.BindEnv("PROCESS_ORDERS_SCHEDULE")
	_ = viper.BindEnv("SWEEP_SCHEDULE")
	_ = viper.BindEnv("JOURNAL_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("SWEEP_SERVICE_INTERNAL_API_KEY"))
	}

	if config.CalendarTimeoutSeconds <= 0 {
		config.CalendarTimeoutSeconds = 8
	}
	if config.CalendarCacheTTLMin <= 0 {
		config.CalendarCacheTTLMin = 15
	}
	if config.WebhookTimeoutSeconds <= 0 {
		config.WebhookTimeoutSeconds = 30
	}

	return
}
