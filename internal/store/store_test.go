package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := New(context.Background(), Config{Addr: mr.Addr(), ScriptTimeout: 2 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestAuthTokenRoundTrip(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()

	_, _, ok, err := st.GetAuthToken(ctx, "user@example.com")
	require.NoError(t, err)
	require.False(t, ok)

	expiresAt := time.Now().Add(time.Hour)
	require.NoError(t, st.StoreAuthToken(ctx, "user@example.com", "u1", "tok", expiresAt))

	userID, accessToken, ok, err := st.GetAuthToken(ctx, "user@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "u1", userID)
	require.Equal(t, "tok", accessToken)

	mr.FastForward(2 * time.Hour)
	_, _, ok, err = st.GetAuthToken(ctx, "user@example.com")
	require.NoError(t, err)
	require.False(t, ok, "token must expire as a whole, never partially")
}

func TestSetIfGreaterIdempotenceLaw(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	key := "rusty:tractive:ab12:position:last_timestamp"

	changed, _, err := st.LastTimestampGreater(ctx, key, 100)
	require.NoError(t, err)
	require.True(t, changed)

	changed, previous, err := st.LastTimestampGreater(ctx, key, 100)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, int64(100), previous)

	changed, _, err = st.LastTimestampGreater(ctx, key, 50)
	require.NoError(t, err)
	require.False(t, changed, "lower value must not update the gauge")

	changed, _, err = st.LastTimestampGreater(ctx, key, 150)
	require.NoError(t, err)
	require.True(t, changed)
}

func TestSetIfNotEqualLaw(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	key := "rusty:tractive:ab12:telegram:1:last_known_battery_level"

	changed, _, hasPrevious, err := st.LastLevelChanged(ctx, key, 60)
	require.NoError(t, err)
	require.True(t, changed)
	require.False(t, hasPrevious)

	changed, previous, hasPrevious, err := st.LastLevelChanged(ctx, key, 60)
	require.NoError(t, err)
	require.False(t, changed)
	require.True(t, hasPrevious)
	require.Equal(t, 60, previous)

	changed, previous, hasPrevious, err = st.LastLevelChanged(ctx, key, 40)
	require.NoError(t, err)
	require.True(t, changed)
	require.True(t, hasPrevious)
	require.Equal(t, 60, previous)
}

func TestCreateConsumerGroupIdempotent(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendStream(ctx, "rusty:tractive:ab12:position", "1-0", map[string]interface{}{"ts": 1}))
	require.NoError(t, st.CreateConsumerGroup(ctx, "rusty:tractive:ab12:position", "bot:1"))
	require.NoError(t, st.CreateConsumerGroup(ctx, "rusty:tractive:ab12:position", "bot:1"), "second creation must be idempotent")
}

func TestAppendStreamDuplicateIDIsSwallowed(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	stream := "rusty:tractive:ab12:hardware"

	require.NoError(t, st.AppendStream(ctx, stream, "1650802598000-0", map[string]interface{}{"ts": 1650802598, "battery": 55}))
	err := st.AppendStream(ctx, stream, "1650802598000-0", map[string]interface{}{"ts": 1650802598, "battery": 55})
	require.NoError(t, err, "duplicate id must be swallowed as success")
}

func TestSetNXLeaseContention(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := st.SetNX(ctx, "rusty:telegram:1:get_updates", "host-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.SetNX(ctx, "rusty:telegram:1:get_updates", "host-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "a held lease must not be reacquired by a different instance")

	require.NoError(t, st.Del(ctx, "rusty:telegram:1:get_updates"))
	ok, err = st.SetNX(ctx, "rusty:telegram:1:get_updates", "host-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "after release, another instance can claim the lease")
}

func TestPinnedMessageQueueFIFO(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	key := "rusty:tractive:ab12:telegram:1:pinned_message_ids"

	require.NoError(t, st.RPush(ctx, key, "100"))
	require.NoError(t, st.RPush(ctx, key, "200"))

	v, ok, err := st.LPop(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "100", v)

	v, ok, err = st.LPop(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "200", v)

	_, ok, err = st.LPop(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}
