// Package heartbeat implements a rate-limited liveness ping to an external
// watchdog URL, shared by every component that successfully completes a
// unit of work. It is the one piece of in-process shared mutable state in
// the fleet, so access is serialized by a mutex.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Interval is the fixed minimum spacing between two outgoing heartbeat
// POSTs.
const Interval = 60 * time.Second

// Heartbeat paces liveness pings to an optional endpoint. An empty endpoint
// disables sending but keeps the pacing no-op cheap.
type Heartbeat struct {
	client   *resty.Client
	endpoint string

	mu       sync.Mutex
	lastSent time.Time

	logger zerolog.Logger

	// SentCounter, when set, is incremented every time a POST is actually
	// attempted (wired to obsmetrics.Registry.HeartbeatsSent by the
	// orchestrator). Left nil it is simply skipped.
	SentCounter prometheus.Counter
}

// New builds a Heartbeat. An empty endpoint disables delivery entirely;
// Send still paces and logs at debug level so callers don't need to
// special-case the disabled state.
func New(endpoint string, logger zerolog.Logger) *Heartbeat {
	return &Heartbeat{
		client:   resty.New().SetTimeout(5 * time.Second),
		endpoint: endpoint,
		lastSent: time.Now().Add(-Interval), // so the very first call fires
		logger:   logger,
	}
}

// Send fires a POST to the configured endpoint if at least Interval has
// elapsed since the last attempt. It never returns an error: a failed POST
// is logged as a warning and the pacing clock still advances, since the
// limiter's purpose is pacing, not a delivery guarantee.
func (h *Heartbeat) Send(ctx context.Context) {
	h.mu.Lock()
	elapsed := time.Since(h.lastSent)
	if elapsed < Interval {
		h.mu.Unlock()
		h.logger.Debug().Dur("elapsed", elapsed).Msg("heartbeat interval not yet elapsed, skipping")
		return
	}
	h.lastSent = time.Now()
	h.mu.Unlock()

	if h.endpoint == "" {
		h.logger.Debug().Msg("heartbeat is disabled")
		return
	}

	h.logger.Debug().Msg("sending heartbeat")
	if h.SentCounter != nil {
		h.SentCounter.Inc()
	}
	if _, err := h.client.R().SetContext(ctx).Post(h.endpoint); err != nil {
		h.logger.Warn().Err(err).Msg("heartbeat request failed")
	}
}
