package botupdate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rusty-tractive/fleet/internal/telegram"
)

// webhookPath is the fixed path the bot listens on; operators point
// WebhookURL at `{public_base}{webhookPath}` when configuring Telegram's
// setWebhook.
const webhookPath = "/webhook"

// secretTokenHeader is the header Telegram echoes back on every webhook
// delivery when a secret token was registered.
const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// RunWebhook is the push-delivery alternative to Run: it registers the
// bot's commands once, then serves incoming updates over HTTP instead of
// long-polling, verifying the shared secret on every request. Default
// mode remains polling; this path is opt-in via RUSTY_BOT_MODE=webhook.
func (l *Leaser) RunWebhook(ctx context.Context, bindAddr, secretToken string) error {
	if err := l.registerCommands(ctx); err != nil {
		l.logger.Error().Err(err).Msg("failed to register bot commands")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(webhookPath, l.handleWebhook(secretToken))

	server := &http.Server{
		Addr:         bindAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.logger.Info().Str("addr", bindAddr).Msg("webhook server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			l.logger.Warn().Err(err).Msg("webhook server shutdown error")
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("webhook server failed: %w", err)
		}
		return nil
	}
}

func (l *Leaser) handleWebhook(secretToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secretToken != "" && r.Header.Get(secretTokenHeader) != secretToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var update telegram.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			l.logger.Warn().Err(err).Msg("failed to decode webhook update")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if err := l.dispatch(r.Context(), update); err != nil {
			l.logger.Error().Err(err).Int64("update_id", update.ID).Msg("webhook update handler failed")
		}
		l.heartbeat.Send(r.Context())
		w.WriteHeader(http.StatusOK)
	}
}
