// Package listener implements the per-(bot,tracker) stream consumer: a
// consumer-group read loop over the position/hardware streams driving
// the live-location message lifecycle and the battery hysteresis
// notifier.
package listener

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rusty-tractive/fleet/internal/config"
	"github.com/rusty-tractive/fleet/internal/heartbeat"
	"github.com/rusty-tractive/fleet/internal/store"
	"github.com/rusty-tractive/fleet/internal/telegram"
)

// liveLocationPeriod is the fixed one-day lifetime of a live-location
// message before Telegram itself stops accepting edits to it.
const liveLocationPeriod = 24 * time.Hour

// Listener consumes the position and hardware streams for one tracker on
// behalf of one bot, maintaining the pinned live-location message and
// firing battery-threshold notifications.
type Listener struct {
	store     *store.Store
	chat      *telegram.Client
	heartbeat *heartbeat.Heartbeat
	logger    zerolog.Logger

	botUserID    int64
	trackerID    string
	targetChatID int64
	consumer     string
	battery      config.BatteryConfig

	// LiveLocationWins/LiveLocationLosses and BatteryNotificationsSent,
	// when set, are wired to obsmetrics.Registry by the orchestrator.
	// Left nil they are simply skipped.
	LiveLocationWins         prometheus.Counter
	LiveLocationLosses       prometheus.Counter
	BatteryNotificationsSent *prometheus.CounterVec // labels: template
}

// New builds a Listener. botUserID namespaces the coordination keys
// (consumer group name, live-location id, pinned queue, last battery
// level); targetChatID is the chat messages are actually sent to.
func New(st *store.Store, chat *telegram.Client, hb *heartbeat.Heartbeat, botUserID int64, trackerID string, targetChatID int64, battery config.BatteryConfig, logger zerolog.Logger) *Listener {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown-host"
	}
	return &Listener{
		store:        st,
		chat:         chat,
		heartbeat:    hb,
		logger:       logger,
		botUserID:    botUserID,
		trackerID:    strings.ToLower(trackerID),
		targetChatID: targetChatID,
		consumer:     hostname,
		battery:      battery,
	}
}

func (l *Listener) positionStream() string { return store.StreamKey(l.trackerID, store.KindPosition) }
func (l *Listener) hardwareStream() string { return store.StreamKey(l.trackerID, store.KindHardware) }
func (l *Listener) group() string          { return store.ConsumerGroupName(l.botUserID) }

// Run creates the consumer group on both streams (idempotently) and then
// loops forever on a blocking XREADGROUP, dispatching every entry to the
// position or hardware handler.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.store.CreateConsumerGroup(ctx, l.positionStream(), l.group()); err != nil {
		return fmt.Errorf("failed to create consumer group on position stream: %w", err)
	}
	if err := l.store.CreateConsumerGroup(ctx, l.hardwareStream(), l.group()); err != nil {
		return fmt.Errorf("failed to create consumer group on hardware stream: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := l.store.ReadGroup(ctx, l.group(), l.consumer, []string{l.positionStream(), l.hardwareStream()})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("XREADGROUP failed")
			continue
		}

		processed := false
		for _, stream := range streams {
			for _, entry := range stream.Messages {
				switch stream.Stream {
				case l.positionStream():
					l.handlePosition(ctx, entry)
				case l.hardwareStream():
					l.handleHardware(ctx, entry)
				}
				processed = true
			}
		}
		if processed {
			l.heartbeat.Send(ctx)
		}
	}
}

// handlePosition implements the live-location state machine: edit in
// place when a message is already pinned, otherwise send a
// new message and race to own it via SETNX.
func (l *Listener) handlePosition(ctx context.Context, entry redis.XMessage) {
	pos, err := parsePositionEntry(entry.Values)
	if err != nil {
		l.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to decode position entry")
		return
	}

	location := telegram.Location{
		ChatID:    telegram.FromNumericID(l.targetChatID),
		Latitude:  pos.latitude,
		Longitude: pos.longitude,
	}
	accuracy := float64(pos.accuracy)
	location.HorizontalAccuracy = &accuracy
	if pos.course != nil {
		heading := int(*pos.course)
		location.Heading = &heading
	}

	liveLocKey := store.LiveLocationMessageIDKey(l.trackerID, l.botUserID)
	messageID, hasMessage, err := l.store.GetInt64WithTTL(ctx, liveLocKey)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to read live-location message id")
		return
	}

	if hasMessage {
		edit := telegram.EditMessageLiveLocation{ChatID: telegram.FromNumericID(l.targetChatID), MessageID: messageID, Location: location}
		if _, err := telegram.Call[telegram.Message](ctx, l.chat, edit); err != nil {
			l.logger.Error().Err(err).Int64("message_id", messageID).Msg("failed to edit live-location message")
		}
		return
	}

	l.sendAndRaceForOwnership(ctx, location, liveLocKey)
}

func (l *Listener) sendAndRaceForOwnership(ctx context.Context, location telegram.Location, liveLocKey string) {
	livePeriod := int64(liveLocationPeriod.Seconds())
	sent, err := telegram.Call[telegram.Message](ctx, l.chat, telegram.SendLocation{Location: location, LivePeriod: &livePeriod})
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to send live-location message")
		return
	}

	won, err := l.store.SetNX(ctx, liveLocKey, strconv.FormatInt(sent.ID, 10), liveLocationPeriod)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to race for live-location ownership")
		return
	}

	if !won {
		if l.LiveLocationLosses != nil {
			l.LiveLocationLosses.Inc()
		}
		if _, err := telegram.Call[bool](ctx, l.chat, telegram.DeleteMessage{ChatID: telegram.FromNumericID(l.targetChatID), MessageID: sent.ID}); err != nil {
			l.logger.Error().Err(err).Int64("message_id", sent.ID).Msg("failed to delete losing live-location message")
		}
		return
	}

	if l.LiveLocationWins != nil {
		l.LiveLocationWins.Inc()
	}
	l.enthrone(ctx, sent.ID)
}

// enthrone pins the newly-won message, drains the stale-message queue in
// FIFO order, and finally records the new id as the latest pinned entry.
func (l *Listener) enthrone(ctx context.Context, messageID int64) {
	if _, err := telegram.Call[bool](ctx, l.chat, telegram.PinChatMessage{
		ChatID:              telegram.FromNumericID(l.targetChatID),
		MessageID:           messageID,
		DisableNotification: true,
	}); err != nil {
		l.logger.Error().Err(err).Int64("message_id", messageID).Msg("failed to pin live-location message")
	}

	queueKey := store.PinnedMessageIDsKey(l.trackerID, l.botUserID)
	for {
		staleIDStr, ok, err := l.store.LPop(ctx, queueKey)
		if err != nil {
			l.logger.Error().Err(err).Msg("failed to drain pinned-message queue")
			break
		}
		if !ok {
			break
		}
		staleID, err := strconv.ParseInt(staleIDStr, 10, 64)
		if err != nil {
			l.logger.Error().Err(err).Str("raw", staleIDStr).Msg("malformed pinned-message id in queue")
			continue
		}
		if _, err := telegram.Call[bool](ctx, l.chat, telegram.UnpinChatMessage{ChatID: telegram.FromNumericID(l.targetChatID), MessageID: staleID}); err != nil {
			l.logger.Error().Err(err).Int64("message_id", staleID).Msg("failed to unpin stale live-location message")
		}
		if _, err := telegram.Call[bool](ctx, l.chat, telegram.DeleteMessage{ChatID: telegram.FromNumericID(l.targetChatID), MessageID: staleID}); err != nil {
			l.logger.Error().Err(err).Int64("message_id", staleID).Msg("failed to delete stale live-location message")
		}
	}

	if err := l.store.RPush(ctx, queueKey, strconv.FormatInt(messageID, 10)); err != nil {
		l.logger.Error().Err(err).Int64("message_id", messageID).Msg("failed to queue live-location message for future rotation")
	}
}

// handleHardware implements the battery notifier: emit at
// most one message per entry, gated by hysteresis across the full/low/
// critical thresholds.
func (l *Listener) handleHardware(ctx context.Context, entry redis.XMessage) {
	level, err := parseBatteryLevel(entry.Values)
	if err != nil {
		l.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to decode hardware entry")
		return
	}

	key := store.LastBatteryLevelKey(l.trackerID, l.botUserID)
	changed, previous, hasPrevious, err := l.store.LastLevelChanged(ctx, key, level)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to gate battery level")
		return
	}
	if !changed {
		return
	}

	// The very first observed level has no predecessor to compare
	// against; codified as prev := current, which suppresses the full and
	// low notifications (both need prev on the other side of the
	// threshold) and leaves only the critical rule able to fire.
	prev := previous
	if !hasPrevious {
		prev = level
	}

	template, label, ok := l.matchBatteryTemplate(level, prev)
	if !ok {
		return
	}

	text := strings.ReplaceAll(template, "{current_level}", strconv.Itoa(level))
	parseMode := telegram.ParseModeMarkdownV2
	msg := telegram.SendMessage{ChatID: telegram.FromNumericID(l.targetChatID), Text: text, ParseMode: &parseMode}
	if _, err := telegram.Call[telegram.Message](ctx, l.chat, msg); err != nil {
		l.logger.Error().Err(err).Msg("failed to send battery notification")
		return
	}
	if l.BatteryNotificationsSent != nil {
		l.BatteryNotificationsSent.WithLabelValues(label).Inc()
	}
}

func (l *Listener) matchBatteryTemplate(current, prev int) (template, label string, ok bool) {
	switch {
	case current >= l.battery.FullLevel && prev < l.battery.FullLevel:
		return l.battery.FullMessage, "full", true
	case current <= l.battery.LowLevel && prev > l.battery.LowLevel:
		return l.battery.LowMessage, "low", true
	case current <= l.battery.CriticalLevel:
		return l.battery.CriticalMessage, "critical", true
	default:
		return "", "", false
	}
}
