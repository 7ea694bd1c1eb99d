package listener

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rusty-tractive/fleet/internal/config"
	"github.com/rusty-tractive/fleet/internal/heartbeat"
	"github.com/rusty-tractive/fleet/internal/store"
	"github.com/rusty-tractive/fleet/internal/telegram"
)

func defaultBatteryConfig() config.BatteryConfig {
	return config.BatteryConfig{
		FullLevel: 95, FullMessage: "full {current_level}",
		LowLevel: 50, LowMessage: "low {current_level}",
		CriticalLevel: 15, CriticalMessage: "critical {current_level}",
	}
}

type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (c *callRecorder) record(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, path)
}

func (c *callRecorder) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.calls {
		if p == path {
			n++
		}
	}
	return n
}

func newTestListener(t *testing.T, mr *miniredis.Miniredis, handler http.HandlerFunc) *Listener {
	t.Helper()
	st, err := store.New(context.Background(), store.Config{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	chat := telegram.New("TOKEN", zerolog.Nop()).SetBaseURL(server.URL)
	hb := heartbeat.New("", zerolog.Nop())
	return New(st, chat, hb, 777, "AB12", 555, defaultBatteryConfig(), zerolog.Nop())
}

func TestHandlePositionEditsInPlaceWhenMessagePinned(t *testing.T) {
	mr := miniredis.RunT(t)
	recorder := &callRecorder{}
	require.NoError(t, mr.Set(store.LiveLocationMessageIDKey("ab12", 777), "42"))

	l := newTestListener(t, mr, func(w http.ResponseWriter, r *http.Request) {
		recorder.record(r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": 42, "chat": map[string]any{"id": 555}}})
	})

	entry := redis.XMessage{ID: "1-0", Values: map[string]interface{}{"ts": "1", "lat": "1.0", "lon": "2.0", "accuracy": "5"}}
	l.handlePosition(context.Background(), entry)

	require.Equal(t, 1, recorder.count("/editMessageLiveLocation"))
	require.Equal(t, 0, recorder.count("/sendLocation"))
	require.Equal(t, 0, recorder.count("/pinChatMessage"))
}

func TestLiveLocationRaceLeavesExactlyOnePinnedMessage(t *testing.T) {
	mr := miniredis.RunT(t)
	recorder := &callRecorder{}
	var nextID int64

	handler := func(w http.ResponseWriter, r *http.Request) {
		recorder.record(r.URL.Path)
		if r.URL.Path == "/sendLocation" {
			id := atomic.AddInt64(&nextID, 1)
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": id, "chat": map[string]any{"id": 555}}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": true})
	}

	l1 := newTestListener(t, mr, handler)
	l2 := newTestListener(t, mr, handler)

	entry := redis.XMessage{ID: "1-0", Values: map[string]interface{}{"ts": "1", "lat": "1.0", "lon": "2.0", "accuracy": "5"}}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); l1.handlePosition(context.Background(), entry) }()
	go func() { defer wg.Done(); l2.handlePosition(context.Background(), entry) }()
	wg.Wait()

	require.Equal(t, 2, recorder.count("/sendLocation"), "both instances send before racing")
	require.Equal(t, 1, recorder.count("/pinChatMessage"), "exactly one instance wins the pin")
	require.Equal(t, 1, recorder.count("/deleteMessage"), "the loser deletes its own message")

	queueLen, err := mr.List(store.PinnedMessageIDsKey("ab12", 777))
	require.NoError(t, err)
	require.Len(t, queueLen, 1)
}

func TestBatteryFirstEventAboveCriticalIsSilent(t *testing.T) {
	mr := miniredis.RunT(t)
	recorder := &callRecorder{}
	l := newTestListener(t, mr, func(w http.ResponseWriter, r *http.Request) {
		recorder.record(r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": 1, "chat": map[string]any{"id": 555}}})
	})

	entry := redis.XMessage{ID: "1-0", Values: map[string]interface{}{"battery": "55"}}
	l.handleHardware(context.Background(), entry)

	require.Equal(t, 0, recorder.count("/sendMessage"))
}

func TestBatteryFirstEventAlreadyCriticalStillNotifies(t *testing.T) {
	mr := miniredis.RunT(t)
	recorder := &callRecorder{}
	l := newTestListener(t, mr, func(w http.ResponseWriter, r *http.Request) {
		recorder.record(r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": 1, "chat": map[string]any{"id": 555}}})
	})

	entry := redis.XMessage{ID: "1-0", Values: map[string]interface{}{"battery": "10"}}
	l.handleHardware(context.Background(), entry)

	require.Equal(t, 1, recorder.count("/sendMessage"), "critical rule has no prev-crossing guard")
}

func TestBatteryCrossingLowThresholdNotifiesOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	recorder := &callRecorder{}
	var captured map[string]any
	l := newTestListener(t, mr, func(w http.ResponseWriter, r *http.Request) {
		recorder.record(r.URL.Path)
		if r.URL.Path == "/sendMessage" {
			json.NewDecoder(r.Body).Decode(&captured)
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": 1, "chat": map[string]any{"id": 555}}})
	})
	ctx := context.Background()

	// establish a previous level of 60 before the crossing entry arrives.
	l.handleHardware(ctx, redis.XMessage{ID: "0-0", Values: map[string]interface{}{"battery": "60"}})
	l.handleHardware(ctx, redis.XMessage{ID: "1-0", Values: map[string]interface{}{"battery": "40"}})

	require.Equal(t, 1, recorder.count("/sendMessage"))
	require.Contains(t, captured["text"], "40")
}

func TestBatteryRepeatedSameLevelDoesNotRenotify(t *testing.T) {
	mr := miniredis.RunT(t)
	recorder := &callRecorder{}
	l := newTestListener(t, mr, func(w http.ResponseWriter, r *http.Request) {
		recorder.record(r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": 1, "chat": map[string]any{"id": 555}}})
	})
	ctx := context.Background()

	l.handleHardware(ctx, redis.XMessage{ID: "0-0", Values: map[string]interface{}{"battery": "10"}})
	l.handleHardware(ctx, redis.XMessage{ID: "1-0", Values: map[string]interface{}{"battery": "10"}})

	require.Equal(t, 1, recorder.count("/sendMessage"), "unchanged level must not re-trigger set_if_not_equal's notification path")
}

func TestParsePositionEntryDecodesCourse(t *testing.T) {
	entry, err := parsePositionEntry(map[string]interface{}{"lat": "1.5", "lon": "2.5", "accuracy": "10", "course": "270"})
	require.NoError(t, err)
	require.Equal(t, 1.5, entry.latitude)
	require.NotNil(t, entry.course)
	require.Equal(t, uint16(270), *entry.course)
}

func TestParsePositionEntryMissingFieldErrors(t *testing.T) {
	_, err := parsePositionEntry(map[string]interface{}{"lat": "1.5"})
	require.Error(t, err)
}
