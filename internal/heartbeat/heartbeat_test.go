package heartbeat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSendPacesAtFixedInterval(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hb := New(server.URL, zerolog.Nop())
	ctx := context.Background()

	hb.Send(ctx) // first call always fires
	hb.Send(ctx) // immediate second call must be skipped
	hb.Send(ctx)

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt64(&hits), "wall interval between POSTs must be >= the configured minimum")
}

func TestSendDisabledWhenEndpointEmpty(t *testing.T) {
	hb := New("", zerolog.Nop())
	hb.Send(context.Background()) // must not panic or block
}

func TestSendAdvancesClockOnTransportError(t *testing.T) {
	hb := New("http://127.0.0.1:1", zerolog.Nop()) // nothing listens here
	before := hb.lastSent
	hb.Send(context.Background())
	require.True(t, hb.lastSent.After(before), "pacing clock must advance even when delivery fails")
}
