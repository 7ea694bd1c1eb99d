// Package botupdate implements the lease-protected long-polling update
// leaser: at most one fleet instance holds the get_updates lease at a
// time, the durable per-bot offset advances before handler dispatch,
// and the /start command is the only payload acted on.
package botupdate

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/rusty-tractive/fleet/internal/heartbeat"
	"github.com/rusty-tractive/fleet/internal/store"
	"github.com/rusty-tractive/fleet/internal/telegram"
)

// startCommand is the only command dispatched; everything else is logged
// and ignored.
const startCommand = "/start"

// Leaser runs the lease-protected get_updates loop for a single bot.
type Leaser struct {
	store     *store.Store
	chat      *telegram.Client
	heartbeat *heartbeat.Heartbeat
	logger    zerolog.Logger

	botUserID   int64
	pollTimeout time.Duration
	hostname    string

	// LeaseContentionSleeps, when set, is incremented every time this
	// instance loses the get_updates lease race and sleeps out the
	// remaining TTL (wired to obsmetrics.Registry by the orchestrator).
	// Left nil it is simply skipped.
	LeaseContentionSleeps prometheus.Counter
}

// New builds a Leaser for botUserID. pollTimeout doubles as both the
// get_updates long-poll window and the lease TTL.
func New(st *store.Store, chat *telegram.Client, hb *heartbeat.Heartbeat, botUserID int64, pollTimeout time.Duration, logger zerolog.Logger) *Leaser {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown-host"
	}
	return &Leaser{
		store:       st,
		chat:        chat,
		heartbeat:   hb,
		logger:      logger,
		botUserID:   botUserID,
		pollTimeout: pollTimeout,
		hostname:    hostname,
	}
}

// Run registers the bot's command list and then loops forever, claiming
// the get_updates lease, long-polling once, and releasing it early on
// clean completion so another instance (or this one) can take over
// without waiting out the full TTL.
func (l *Leaser) Run(ctx context.Context) error {
	if err := l.registerCommands(ctx); err != nil {
		l.logger.Error().Err(err).Msg("failed to register bot commands")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		claimed, err := l.claimSlot(ctx)
		if err != nil {
			l.logger.Error().Err(err).Msg("failed to claim get_updates lease")
			continue
		}
		if !claimed {
			continue
		}

		if err := l.pollAndDispatch(ctx); err != nil {
			l.logger.Error().Err(err).Msg("get_updates poll failed")
			continue
		}

		if err := l.store.Del(ctx, store.GetUpdatesLeaseKey(l.botUserID)); err != nil {
			l.logger.Warn().Err(err).Msg("failed to release get_updates lease early")
		}
	}
}

// claimSlot implements the SET NX EX race; on loss it sleeps the
// remaining TTL plus one millisecond before the caller retries.
func (l *Leaser) claimSlot(ctx context.Context) (bool, error) {
	key := store.GetUpdatesLeaseKey(l.botUserID)
	ok, err := l.store.SetNX(ctx, key, l.hostname, l.pollTimeout)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	ttl, err := l.store.PTTL(ctx, key)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		// Key expired between SETNX and PTTL; retry immediately.
		return false, nil
	}
	if l.LeaseContentionSleeps != nil {
		l.LeaseContentionSleeps.Inc()
	}
	select {
	case <-time.After(ttl + time.Millisecond):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return false, nil
}

func (l *Leaser) pollAndDispatch(ctx context.Context) error {
	offsetKey := store.OffsetKey(l.botUserID)
	offset, _, err := l.store.GetInt64(ctx, offsetKey)
	if err != nil {
		return fmt.Errorf("failed to read offset: %w", err)
	}

	updates, err := telegram.CallWithTimeout[[]telegram.Update](ctx, l.chat, telegram.GetUpdates{
		Offset:         offset,
		Timeout:        int64(l.pollTimeout.Seconds()),
		AllowedUpdates: []string{"message"},
	}, l.pollTimeout+5*time.Second)
	if err != nil {
		return fmt.Errorf("get_updates failed: %w", err)
	}

	for _, update := range updates {
		if err := l.store.SetInt64(ctx, offsetKey, update.ID+1); err != nil {
			l.logger.Error().Err(err).Int64("update_id", update.ID).Msg("failed to persist offset, skipping update")
			continue
		}
		if err := l.dispatch(ctx, update); err != nil {
			l.logger.Error().Err(err).Int64("update_id", update.ID).Msg("update handler failed")
		}
	}

	if len(updates) > 0 {
		l.heartbeat.Send(ctx)
	}
	return nil
}

// dispatch handles /start; every other payload is logged and ignored.
func (l *Leaser) dispatch(ctx context.Context, update telegram.Update) error {
	if update.Message == nil {
		return nil
	}
	msg := update.Message
	if !strings.HasPrefix(msg.Text, startCommand) {
		l.logger.Info().Int64("chat_id", msg.Chat.ID).Str("text", msg.Text).Msg("ignoring unrecognized message")
		return nil
	}

	parseMode := telegram.ParseModeMarkdownV2
	reply := telegram.SendMessage{
		ChatID:           telegram.FromNumericID(msg.Chat.ID),
		Text:             fmt.Sprintf("Your chat id is `%d`", msg.Chat.ID),
		ParseMode:        &parseMode,
		ReplyToMessageID: &msg.ID,
	}
	if _, err := telegram.Call[telegram.Message](ctx, l.chat, reply); err != nil {
		return fmt.Errorf("failed to reply to /start: %w", err)
	}
	return nil
}

func (l *Leaser) registerCommands(ctx context.Context) error {
	_, err := telegram.Call[bool](ctx, l.chat, telegram.SetMyCommands{
		Commands: []telegram.BotCommand{
			{Command: "start", Description: "Show this chat's id"},
		},
	})
	return err
}
