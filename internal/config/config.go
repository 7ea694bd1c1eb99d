// Package config loads runtime configuration shared by the rusty-tractive
// binaries from environment variables (and an optional .env file) via
// struct tags.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// StoreConfig configures the connection to the shared Redis-compatible store.
type StoreConfig struct {
	Addr     string `env:"RUSTY_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	Password string `env:"RUSTY_REDIS_PASSWORD"`
	DB       int    `env:"RUSTY_REDIS_DB" envDefault:"0"`

	// ScriptTimeout bounds every atomic script / command evaluation except
	// the long blocking consumer-group read.
	ScriptTimeout time.Duration `env:"RUSTY_REDIS_SCRIPT_TIMEOUT" envDefault:"5s"`
}

// HeartbeatConfig configures the liveness-ping sidecar.
type HeartbeatConfig struct {
	URL string `env:"RUSTY_HEARTBEAT_URL"`

	// Interval is parsed but not read by any component: the heartbeat
	// spacing is fixed by heartbeat.Interval (60s).
	Interval time.Duration `env:"RUSTY_HEARTBEAT_INTERVAL" envDefault:"60s"`
}

// SentryConfig configures optional error reporting.
type SentryConfig struct {
	DSN              string  `env:"RUSTY_SENTRY_DSN"`
	TracesSampleRate float64 `env:"RUSTY_SENTRY_TRACES_SAMPLE_RATE" envDefault:"1.0"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level           string `env:"RUSTY_LOG_LEVEL" envDefault:"info"`
	Format          string `env:"RUSTY_LOG_FORMAT" envDefault:"json"` // json|console|journald
	JournaldEnabled bool   `env:"RUSTY_ENABLE_JOURNALD" envDefault:"false"`
}

// MetricsConfig controls the /metrics and /healthz HTTP endpoint.
type MetricsConfig struct {
	ListenAddr string `env:"RUSTY_METRICS_ADDR" envDefault:":9102"`
}

// TractiveConfig holds the ingestor's service-specific settings.
type TractiveConfig struct {
	Email    string `env:"RUSTY_TRACTIVE_EMAIL,required,notEmpty"`
	Password string `env:"RUSTY_TRACTIVE_PASSWORD,required,notEmpty"`
}

// BotConfig holds the bot binary's service-specific settings.
type BotConfig struct {
	BotToken  string `env:"RUSTY_TELEGRAM_BOT_TOKEN,required"`
	TrackerID string `env:"RUSTY_TRACTIVE_TRACKER_ID,required"`
	ChatID    int64  `env:"RUSTY_TRACTIVE_CHAT_ID,required"`

	Mode        string        `env:"RUSTY_BOT_MODE" envDefault:"polling"` // polling|webhook
	BindAddr    string        `env:"RUSTY_BOT_BIND_ADDR" envDefault:":8081"`
	WebhookURL  string        `env:"RUSTY_BOT_WEBHOOK_URL"`
	SecretToken string        `env:"RUSTY_BOT_SECRET_TOKEN"`
	PollTimeout time.Duration `env:"RUSTY_BOT_POLL_TIMEOUT" envDefault:"60s"`

	Battery BatteryConfig
}

// BatteryConfig holds the battery-notifier thresholds and message templates.
type BatteryConfig struct {
	FullLevel       int    `env:"RUSTY_TRACTIVE_BATTERY_FULL" envDefault:"95"`
	FullMessage     string `env:"RUSTY_TRACTIVE_BATTERY_FULL_MESSAGE" envDefault:"🔋 *{current_level}%* Battery is now full!"`
	LowLevel        int    `env:"RUSTY_TRACTIVE_BATTERY_LOW" envDefault:"50"`
	LowMessage      string `env:"RUSTY_TRACTIVE_BATTERY_LOW_MESSAGE" envDefault:"⚡️ *{current_level}%* battery level is getting low"`
	CriticalLevel   int    `env:"RUSTY_TRACTIVE_BATTERY_CRITICAL" envDefault:"15"`
	CriticalMessage string `env:"RUSTY_TRACTIVE_BATTERY_CRITICAL_MESSAGE" envDefault:"🪫 *{current_level}%* battery level is critical"`
}

// TractiveServiceConfig is the full configuration for cmd/rusty-tractive.
type TractiveServiceConfig struct {
	Store     StoreConfig
	Heartbeat HeartbeatConfig
	Sentry    SentryConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	Service   TractiveConfig
}

// BotServiceConfig is the full configuration for cmd/rusty-tractive-bot.
type BotServiceConfig struct {
	Store     StoreConfig
	Heartbeat HeartbeatConfig
	Sentry    SentryConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	Service   BotConfig
}

// loadDotenv loads an optional .env file. Absence is not an error: in
// production the environment is populated directly by the orchestrator.
func loadDotenv(logger *zerolog.Logger) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Debug().Msg("no .env file found, using environment variables only")
		}
	}
}

// LoadTractive loads configuration for the ingestor binary.
func LoadTractive() (TractiveServiceConfig, error) {
	loadDotenv(nil)
	var cfg TractiveServiceConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse tractive config: %w", err)
	}
	return cfg, nil
}

// LoadBot loads configuration for the bot binary.
func LoadBot() (BotServiceConfig, error) {
	loadDotenv(nil)
	var cfg BotServiceConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse bot config: %w", err)
	}
	if cfg.Service.Mode == "webhook" {
		if cfg.Service.WebhookURL == "" {
			return cfg, fmt.Errorf("RUSTY_BOT_WEBHOOK_URL is required when RUSTY_BOT_MODE=webhook")
		}
		if cfg.Service.SecretToken == "" {
			return cfg, fmt.Errorf("RUSTY_BOT_SECRET_TOKEN is required when RUSTY_BOT_MODE=webhook")
		}
	}
	return cfg, nil
}
