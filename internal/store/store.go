// Package store wraps the shared Redis-compatible key/value and streams
// store used to coordinate the rusty-tractive fleet: connect/reconnect,
// atomic scripts with a per-call deadline, stream append/read, and the
// simple primitives (SETNX/EX, RPUSH/LPOP) the higher-level components
// build leases and queues out of.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config configures a Store connection.
type Config struct {
	Addr     string
	Password string
	DB       int

	// ScriptTimeout bounds every call except the blocking consumer-group
	// read. The store client has been observed to hang on this call
	// during master failover, so every invocation gets a hard deadline.
	ScriptTimeout time.Duration

	// PoolSize is the connection pool size. The blocking consumer-group
	// read is expected to run on a Store built with PoolSize: 1 and
	// never shares a connection with command traffic, since pipelining
	// is disabled and a blocked connection would otherwise starve
	// command replies (see cyclic-reference note in SPEC_FULL.md §9).
	PoolSize int
}

// Store is a reference-shared, thread-safe handle to the shared store.
// Cloning is just copying the struct: redis.Client is already safe for
// concurrent use by multiple goroutines.
type Store struct {
	client  *redis.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// New connects to the shared store and loads the atomic scripts, so that
// later calls can reference them by content hash (EVALSHA) rather than
// shipping source on every invocation.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = 5 * time.Second
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  cfg.ScriptTimeout,
		WriteTimeout: cfg.ScriptTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to shared store: %w", err)
	}
	logger.Info().Str("addr", cfg.Addr).Msg("connected to shared store")

	loadCtx, cancelLoad := context.WithTimeout(ctx, cfg.ScriptTimeout)
	defer cancelLoad()
	if err := setIfGreater.Load(loadCtx, client).Err(); err != nil {
		return nil, fmt.Errorf("failed to load set_if_greater script: %w", err)
	}
	if err := setIfNotEqual.Load(loadCtx, client).Err(); err != nil {
		return nil, fmt.Errorf("failed to load set_if_not_equal script: %w", err)
	}

	return &Store{client: client, timeout: cfg.ScriptTimeout, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// GetAuthToken reads the cached Tractive access token for email. ok is
// false when no usable cached token exists — either because the key is
// absent (expired) or because the stored record is partial, which should
// never happen given StoreAuthToken's transactional write but is treated
// defensively as a cache miss rather than an error.
func (s *Store) GetAuthToken(ctx context.Context, email string) (userID, accessToken string, ok bool, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	values, err := s.client.HGetAll(ctx, AuthKey(email)).Result()
	if err != nil {
		return "", "", false, fmt.Errorf("failed to read cached authentication: %w", err)
	}
	userID, hasUser := values["user_id"]
	accessToken, hasToken := values["access_token"]
	if !hasUser || !hasToken {
		return "", "", false, nil
	}
	return userID, accessToken, true, nil
}

// StoreAuthToken writes both fields of the cached token together with its
// absolute expiry, in a single transaction, so that a reader never
// observes a partially written record.
func (s *Store) StoreAuthToken(ctx context.Context, email, userID, accessToken string, expiresAt time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := AuthKey(email)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "user_id", userID, "access_token", accessToken)
		pipe.ExpireAt(ctx, key, expiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache authentication token: %w", err)
	}
	return nil
}

// LastTimestampGreater runs set_if_greater against key with value, the
// dedup guard that must precede every stream append. changed is true
// iff key was absent or strictly less than value.
func (s *Store) LastTimestampGreater(ctx context.Context, key string, value int64) (changed bool, previous int64, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := setIfGreater.Run(ctx, s.client, []string{key}, value).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("set_if_greater failed: %w", err)
	}
	changed = toInt64(res[0]) == 1
	previous = parsePreviousInt(res[1])
	return changed, previous, nil
}

// LastLevelChanged runs set_if_not_equal against key with value, the
// hysteresis guard behind the battery notifier. hasPrevious is false
// only the very first time the key is written.
func (s *Store) LastLevelChanged(ctx context.Context, key string, value int) (changed bool, previous int, hasPrevious bool, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := setIfNotEqual.Run(ctx, s.client, []string{key}, value).Slice()
	if err != nil {
		return false, 0, false, fmt.Errorf("set_if_not_equal failed: %w", err)
	}
	changed = toInt64(res[0]) == 1
	if res[1] == nil {
		return changed, 0, false, nil
	}
	return changed, int(parsePreviousInt(res[1])), true, nil
}

// CreateConsumerGroup idempotently creates a consumer group on stream,
// creating the stream itself if it does not yet exist. XGROUP CREATE is
// already atomic server-side, so no Lua wrapper is needed here; only the
// "group already exists" response is treated as success.
func (s *Store) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

// AppendStream appends an entry with an explicit id to stream. A
// duplicate-id rejection from the store is swallowed as success; every
// other failure propagates.
func (s *Store) AppendStream(ctx context.Context, stream, id string, fields map[string]interface{}) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     id,
		Values: fields,
	}).Err()
	if err != nil {
		if isDuplicateStreamEntry(err) {
			s.logger.Debug().Str("stream", stream).Str("id", id).Msg("ignoring duplicate stream entry")
			return nil
		}
		return fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}
	return nil
}

// ReadGroup performs a blocking XREADGROUP read across streams with
// NOACK=true: the consumer group is used only as a dedup-across-instances
// cursor over new entries, not for pending-entry redelivery. block=0
// waits forever; cancellation happens only via ctx.
func (s *Store) ReadGroup(ctx context.Context, group, consumer string, streams []string) ([]redis.XStream, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  appendNewEntryIDs(streams),
		Block:    0,
		NoAck:    true,
	}
	result, err := s.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("XREADGROUP failed: %w", err)
	}
	return result, nil
}

func appendNewEntryIDs(streams []string) []string {
	out := make([]string, 0, len(streams)*2)
	out = append(out, streams...)
	for range streams {
		out = append(out, ">")
	}
	return out
}

// SetNX sets key to value with TTL only if key is absent, returning true
// iff the caller now owns the key (used for the get_updates lease and the
// live-location message id race).
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("SETNX failed for %s: %w", key, err)
	}
	return ok, nil
}

// PTTL returns the remaining time-to-live of key.
func (s *Store) PTTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("PTTL failed for %s: %w", key, err)
	}
	return ttl, nil
}

// Del removes key, releasing a lease early on clean completion.
func (s *Store) Del(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("DEL failed for %s: %w", key, err)
	}
	return nil
}

// GetInt64 reads key as an integer, returning ok=false if absent.
func (s *Store) GetInt64(ctx context.Context, key string) (value int64, ok bool, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	v, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("GET failed for %s: %w", key, err)
	}
	return v, true, nil
}

// SetInt64 persistently sets key to value (no TTL — offsets are durable).
func (s *Store) SetInt64(ctx context.Context, key string, value int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("SET failed for %s: %w", key, err)
	}
	return nil
}

// GetInt64WithTTL reads key as an integer that also carries a TTL (the
// live-location message id).
func (s *Store) GetInt64WithTTL(ctx context.Context, key string) (value int64, ok bool, err error) {
	return s.GetInt64(ctx, key)
}

// RPush appends value to the tail of the list at key (pinned-message-ids
// queue: append-only from the winner side).
func (s *Store) RPush(ctx context.Context, key, value string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.RPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("RPUSH failed for %s: %w", key, err)
	}
	return nil
}

// LPop removes and returns the head of the list at key. ok is false when
// the list is empty.
func (s *Store) LPop(ctx context.Context, key string) (value string, ok bool, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	v, err := s.client.LPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("LPOP failed for %s: %w", key, err)
	}
	return v, true, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	default:
		return 0
	}
}

func parsePreviousInt(v interface{}) int64 {
	switch p := v.(type) {
	case string:
		var n int64
		_, _ = fmt.Sscanf(p, "%d", &n)
		return n
	default:
		return 0
	}
}
