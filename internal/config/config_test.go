package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func clearBotEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"RUSTY_TELEGRAM_BOT_TOKEN", "RUSTY_TRACTIVE_TRACKER_ID", "RUSTY_TRACTIVE_CHAT_ID",
		"RUSTY_BOT_MODE", "RUSTY_BOT_WEBHOOK_URL", "RUSTY_BOT_SECRET_TOKEN",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadTractiveRequiresCredentials(t *testing.T) {
	t.Setenv("RUSTY_TRACTIVE_EMAIL", "")
	t.Setenv("RUSTY_TRACTIVE_PASSWORD", "")

	_, err := LoadTractive()
	require.Error(t, err)
}

func TestLoadTractiveAppliesDefaults(t *testing.T) {
	t.Setenv("RUSTY_TRACTIVE_EMAIL", "user@example.com")
	t.Setenv("RUSTY_TRACTIVE_PASSWORD", "hunter2")

	cfg, err := LoadTractive()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6379", cfg.Store.Addr)
	require.Equal(t, "user@example.com", cfg.Service.Email)
}

func TestLoadBotRequiresWebhookURLAndSecretInWebhookMode(t *testing.T) {
	clearBotEnv(t)
	t.Setenv("RUSTY_TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("RUSTY_TRACTIVE_TRACKER_ID", "ab12")
	t.Setenv("RUSTY_TRACTIVE_CHAT_ID", "555")
	t.Setenv("RUSTY_BOT_MODE", "webhook")

	_, err := LoadBot()
	require.Error(t, err)

	t.Setenv("RUSTY_BOT_WEBHOOK_URL", "https://example.com")
	_, err = LoadBot()
	require.Error(t, err)

	t.Setenv("RUSTY_BOT_SECRET_TOKEN", "s3cret")
	_, err = LoadBot()
	require.NoError(t, err)
}

func TestLoadBotDefaultsToPollingMode(t *testing.T) {
	clearBotEnv(t)
	t.Setenv("RUSTY_TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("RUSTY_TRACTIVE_TRACKER_ID", "ab12")
	t.Setenv("RUSTY_TRACTIVE_CHAT_ID", "555")

	cfg, err := LoadBot()
	require.NoError(t, err)
	require.Equal(t, "polling", cfg.Service.Mode)
	require.Equal(t, 95, cfg.Service.Battery.FullLevel)
}
