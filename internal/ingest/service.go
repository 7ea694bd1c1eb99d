// Package ingest runs the outer ingestor protocol loop: authenticate-or-
// reuse a cached Tractive token, open the channel event stream, enforce
// the handshake's keep-alive window, and dedup-gate every
// hardware/position frame into the shared store's streams.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rusty-tractive/fleet/internal/heartbeat"
	"github.com/rusty-tractive/fleet/internal/store"
	"github.com/rusty-tractive/fleet/internal/tractive"
	"github.com/rs/zerolog"
)

// Service runs the ingestor's outer restart-on-error loop for a single
// Tractive account.
type Service struct {
	store     *store.Store
	tractive  *tractive.Client
	heartbeat *heartbeat.Heartbeat
	logger    zerolog.Logger

	email    string
	password string

	// StreamAppends and DedupDrops, when set, are incremented with a
	// "kind" (hardware|position) label (wired to obsmetrics.Registry by
	// the orchestrator). Left nil they are simply skipped.
	StreamAppends *prometheus.CounterVec
	DedupDrops    *prometheus.CounterVec
}

// New builds a Service for the given Tractive account credentials.
func New(st *store.Store, tc *tractive.Client, hb *heartbeat.Heartbeat, email, password string, logger zerolog.Logger) *Service {
	return &Service{
		store:     st,
		tractive:  tc,
		heartbeat: hb,
		email:     strings.ToLower(email),
		password:  password,
		logger:    logger,
	}
}

// Run loops forever, restarting the inner authenticate+stream cycle on any
// error. There is no backoff: the keep-alive window and Tractive's own
// connect latency are the only rate limiters.
func (s *Service) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Msg("ingest cycle failed, restarting")
		}
	}
}

func (s *Service) runOnce(ctx context.Context) error {
	userID, accessToken, err := s.authenticateOrReuse(ctx)
	if err != nil {
		return fmt.Errorf("authenticate-or-reuse failed: %w", err)
	}

	frames, err := s.tractive.Stream(ctx, userID, accessToken)
	if err != nil {
		return fmt.Errorf("failed to open channel stream: %w", err)
	}

	return s.consume(ctx, frames)
}

// authenticateOrReuse reuses a cached token when present, otherwise
// authenticates and caches both fields and the absolute expiry
// together.
func (s *Service) authenticateOrReuse(ctx context.Context) (userID, accessToken string, err error) {
	userID, accessToken, ok, err := s.store.GetAuthToken(ctx, s.email)
	if err != nil {
		return "", "", fmt.Errorf("failed to read cached authentication: %w", err)
	}
	if ok {
		return userID, accessToken, nil
	}

	token, err := s.tractive.Authenticate(ctx, s.email, s.password)
	if err != nil {
		return "", "", fmt.Errorf("authentication failed: %w", err)
	}
	expiresAt := time.Unix(token.ExpiresAt, 0)
	if err := s.store.StoreAuthToken(ctx, s.email, token.UserID, token.AccessToken, expiresAt); err != nil {
		return "", "", fmt.Errorf("failed to cache authentication: %w", err)
	}
	return token.UserID, token.AccessToken, nil
}

// consume processes frames until the channel closes or the keep-alive
// window lapses without a frame, either of which is treated as a dead
// connection requiring the outer loop to restart.
func (s *Service) consume(ctx context.Context, frames <-chan tractive.Message) error {
	// Until the handshake arrives there is no declared keep-alive window;
	// use a generous default so a slow handshake doesn't self-abort.
	window := 30 * time.Second
	keepAlive := time.NewTimer(window)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-keepAlive.C:
			return fmt.Errorf("no frame received within keep-alive window")
		case msg, open := <-frames:
			if !open {
				return fmt.Errorf("channel stream ended")
			}
			s.dispatch(ctx, msg)
			if msg.Kind == tractive.KindHandshake {
				window = s.keepAliveWindow(msg)
			}
			if !keepAlive.Stop() {
				<-keepAlive.C
			}
			keepAlive.Reset(window)
		}
	}
}

func (s *Service) keepAliveWindow(msg tractive.Message) time.Duration {
	if msg.Kind == tractive.KindHandshake && msg.Handshake != nil && msg.Handshake.KeepAliveTTL > 0 {
		return time.Duration(msg.Handshake.KeepAliveTTL) * time.Second
	}
	return 30 * time.Second
}

// dispatch classifies a decoded frame and appends its sub-entries.
// Per-frame errors are logged and do not abort the loop.
func (s *Service) dispatch(ctx context.Context, msg tractive.Message) {
	if msg.Kind != tractive.KindTrackerStatus || msg.TrackerStatus == nil {
		return
	}
	status := msg.TrackerStatus
	trackerID := strings.ToLower(status.TrackerID)

	ok := true
	if status.Hardware != nil {
		if err := s.appendHardware(ctx, trackerID, status.Hardware); err != nil {
			ok = false
		}
	}
	if status.Position != nil {
		if err := s.appendPosition(ctx, trackerID, status.Position); err != nil {
			ok = false
		}
	}
	// Heartbeat whenever the frame was handled without error, even if every
	// sub-entry was dropped as a stale duplicate: liveness tracks that the
	// ingest loop is still processing messages, not that it appended data.
	if ok {
		s.heartbeat.Send(ctx)
	}
}

func (s *Service) appendHardware(ctx context.Context, trackerID string, hw *tractive.HardwarePart) error {
	lastTSKey := store.LastTimestampKey(trackerID, store.KindHardware)
	changed, _, err := s.store.LastTimestampGreater(ctx, lastTSKey, hw.Timestamp)
	if err != nil {
		s.logger.Error().Err(err).Str("tracker_id", trackerID).Msg("failed to gate hardware timestamp")
		return err
	}
	if !changed {
		s.logger.Debug().Str("tracker_id", trackerID).Int64("ts", hw.Timestamp).Msg("hardware timestamp is not updated, skipping")
		s.recordDrop(store.KindHardware)
		return nil
	}

	id := fmt.Sprintf("%d-0", hw.Timestamp*1000)
	fields := map[string]interface{}{
		"ts":      hw.Timestamp,
		"battery": hw.BatteryLevel,
	}
	if err := s.store.AppendStream(ctx, store.StreamKey(trackerID, store.KindHardware), id, fields); err != nil {
		s.logger.Error().Err(err).Str("tracker_id", trackerID).Msg("failed to append hardware entry")
		return err
	}
	s.recordAppend(store.KindHardware)
	return nil
}

func (s *Service) appendPosition(ctx context.Context, trackerID string, pos *tractive.PositionPart) error {
	lastTSKey := store.LastTimestampKey(trackerID, store.KindPosition)
	changed, _, err := s.store.LastTimestampGreater(ctx, lastTSKey, pos.Timestamp)
	if err != nil {
		s.logger.Error().Err(err).Str("tracker_id", trackerID).Msg("failed to gate position timestamp")
		return err
	}
	if !changed {
		s.logger.Debug().Str("tracker_id", trackerID).Int64("ts", pos.Timestamp).Msg("position timestamp is not updated, skipping")
		s.recordDrop(store.KindPosition)
		return nil
	}

	id := fmt.Sprintf("%d-0", pos.Timestamp*1000)
	fields := map[string]interface{}{
		"ts":       pos.Timestamp,
		"lat":      pos.LatLong[0],
		"lon":      pos.LatLong[1],
		"accuracy": pos.Accuracy,
	}
	if pos.Course != nil {
		fields["course"] = *pos.Course
	}
	if err := s.store.AppendStream(ctx, store.StreamKey(trackerID, store.KindPosition), id, fields); err != nil {
		s.logger.Error().Err(err).Str("tracker_id", trackerID).Msg("failed to append position entry")
		return err
	}
	s.recordAppend(store.KindPosition)
	return nil
}

func (s *Service) recordAppend(kind string) {
	if s.StreamAppends != nil {
		s.StreamAppends.WithLabelValues(kind).Inc()
	}
}

func (s *Service) recordDrop(kind string) {
	if s.DedupDrops != nil {
		s.DedupDrops.WithLabelValues(kind).Inc()
	}
}
