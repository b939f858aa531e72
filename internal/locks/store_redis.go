package locks

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "canvas:lock:"
	// Keys outlive the logical expiry so a slow clock never drops a live lock.
	redisExpiryGrace = time.Minute
	redisScanCount   = 100
)

// Script replies are {status, session_id, locked_at_ms, expires_at_ms}.
// Status 1 means written, 0 means a live foreign holder, -1 means no live row.
var acquireScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'session_id')
local expires = redis.call('HGET', KEYS[1], 'expires_at_ms')
if holder and expires and tonumber(expires) > tonumber(ARGV[2]) and holder ~= ARGV[1] then
  return {0, holder, redis.call('HGET', KEYS[1], 'locked_at_ms'), expires}
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'session_id', ARGV[1], 'locked_at_ms', ARGV[2], 'expires_at_ms', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {1, ARGV[1], ARGV[2], ARGV[3]}
`)

var refreshScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'session_id')
local expires = redis.call('HGET', KEYS[1], 'expires_at_ms')
if not holder or not expires or tonumber(expires) <= tonumber(ARGV[2]) then
  return {-1}
end
local lockedAt = redis.call('HGET', KEYS[1], 'locked_at_ms')
if holder ~= ARGV[1] then
  return {0, holder, lockedAt, expires}
end
redis.call('HSET', KEYS[1], 'expires_at_ms', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {1, holder, lockedAt, ARGV[3]}
`)

var releaseScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'session_id')
if not holder then
  return 0
end
local expires = tonumber(redis.call('HGET', KEYS[1], 'expires_at_ms') or '0')
if ARGV[1] == '' or holder == ARGV[1] or expires <= tonumber(ARGV[2]) then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var deleteExpiredScript = redis.NewScript(`
local expires = redis.call('HGET', KEYS[1], 'expires_at_ms')
if expires and tonumber(expires) <= tonumber(ARGV[1]) then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore keeps one hash per canvas. Writes run as Lua scripts so the
// expiry check and the write are atomic.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore connects to the URL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: redisKeyPrefix}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(canvasID string) string {
	return s.prefix + canvasID
}

func (s *RedisStore) Acquire(ctx context.Context, canvasID, sessionID string, now time.Time, ttl time.Duration) (Lock, error) {
	reply, err := acquireScript.Run(ctx, s.client, []string{s.key(canvasID)},
		sessionID, now.UnixMilli(), now.Add(ttl).UnixMilli(), (ttl + redisExpiryGrace).Milliseconds()).Slice()
	if err != nil {
		return Lock{}, fmt.Errorf("acquire lock: %w", err)
	}
	return scriptOutcome(canvasID, reply)
}

func (s *RedisStore) Refresh(ctx context.Context, canvasID, sessionID string, now time.Time, ttl time.Duration) (Lock, error) {
	reply, err := refreshScript.Run(ctx, s.client, []string{s.key(canvasID)},
		sessionID, now.UnixMilli(), now.Add(ttl).UnixMilli(), (ttl + redisExpiryGrace).Milliseconds()).Slice()
	if err != nil {
		return Lock{}, fmt.Errorf("refresh lock: %w", err)
	}
	return scriptOutcome(canvasID, reply)
}

func (s *RedisStore) Release(ctx context.Context, canvasID, sessionID string, now time.Time) (bool, error) {
	deleted, err := releaseScript.Run(ctx, s.client, []string{s.key(canvasID)}, sessionID, now.UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return deleted > 0, nil
}

func (s *RedisStore) Get(ctx context.Context, canvasID string, now time.Time) (Lock, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(canvasID)).Result()
	if err != nil {
		return Lock{}, false, fmt.Errorf("read lock: %w", err)
	}
	lock, ok := lockFromHash(canvasID, fields)
	if !ok || !lock.Live(now) {
		return Lock{}, false, nil
	}
	return lock, true, nil
}

func (s *RedisStore) List(ctx context.Context, now time.Time) ([]Lock, error) {
	locks := make([]Lock, 0)
	err := s.scan(ctx, func(key string) error {
		canvasID := key[len(s.prefix):]
		lock, live, err := s.Get(ctx, canvasID, now)
		if err != nil {
			return err
		}
		if live {
			locks = append(locks, lock)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortLocks(locks)
	return locks, nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	removed := make([]string, 0)
	err := s.scan(ctx, func(key string) error {
		deleted, err := deleteExpiredScript.Run(ctx, s.client, []string{key}, now.UnixMilli()).Int64()
		if err != nil {
			return fmt.Errorf("delete expired lock: %w", err)
		}
		if deleted > 0 {
			removed = append(removed, key[len(s.prefix):])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(removed)
	return removed, nil
}

func (s *RedisStore) scan(ctx context.Context, visit func(key string) error) error {
	iterator := s.client.Scan(ctx, 0, s.prefix+"*", redisScanCount).Iterator()
	for iterator.Next(ctx) {
		if err := visit(iterator.Val()); err != nil {
			return err
		}
	}
	if err := iterator.Err(); err != nil {
		return fmt.Errorf("scan locks: %w", err)
	}
	return nil
}

func scriptOutcome(canvasID string, reply []any) (Lock, error) {
	if len(reply) == 0 {
		return Lock{}, fmt.Errorf("lock script: empty reply")
	}
	status, ok := reply[0].(int64)
	if !ok {
		return Lock{}, fmt.Errorf("lock script: unexpected status %v", reply[0])
	}
	if status < 0 {
		return Lock{}, ErrLockNotFound
	}
	if len(reply) < 4 {
		return Lock{}, fmt.Errorf("lock script: short reply")
	}
	lock, ok := lockFromHash(canvasID, map[string]string{
		"session_id":    fmt.Sprint(reply[1]),
		"locked_at_ms":  fmt.Sprint(reply[2]),
		"expires_at_ms": fmt.Sprint(reply[3]),
	})
	if !ok {
		return Lock{}, fmt.Errorf("lock script: malformed reply")
	}
	if status == 0 {
		return Lock{}, &ConflictError{Holder: lock}
	}
	return lock, nil
}

func lockFromHash(canvasID string, fields map[string]string) (Lock, bool) {
	sessionID, ok := fields["session_id"]
	if !ok {
		return Lock{}, false
	}
	lockedAt, err := strconv.ParseInt(fields["locked_at_ms"], 10, 64)
	if err != nil {
		return Lock{}, false
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at_ms"], 10, 64)
	if err != nil {
		return Lock{}, false
	}
	return Record{
		CanvasID:    canvasID,
		SessionID:   sessionID,
		Locked:      true,
		LockedAtMs:  lockedAt,
		ExpiresAtMs: expiresAt,
	}.lock(), true
}
