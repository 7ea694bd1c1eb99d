// Package logging wires up the structured logger and, optionally, Sentry
// error reporting. Failures before Init (config loading) are printed to
// stderr by the binaries themselves; the structured zerolog.Logger built
// here is used for the rest of the process.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/rusty-tractive/fleet/internal/config"
)

// Init builds the process-wide zerolog.Logger and, if a DSN is configured,
// initializes the Sentry client. The returned flush func must be deferred
// by the caller to drain buffered Sentry events on shutdown.
func Init(service string, logCfg config.LoggingConfig, sentryCfg config.SentryConfig) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(logCfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writer io.Writer = os.Stdout
	switch logCfg.Format {
	case "console":
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	case "journald":
		writer = newJournaldWriter(service)
	}
	if logCfg.JournaldEnabled {
		writer = newJournaldWriter(service)
	}

	logger := zerolog.New(writer).With().Timestamp().Str("service", service).Logger()

	flush := func() {}
	if sentryCfg.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryCfg.DSN,
			TracesSampleRate: sentryCfg.TracesSampleRate,
			ServerName:       service,
		}); err != nil {
			return logger, flush, err
		}
		flush = func() { sentry.Flush(2 * time.Second) }
	} else {
		logger.Warn().Msg("sentry DSN is not set, error reporting is disabled")
	}

	return logger, flush, nil
}
