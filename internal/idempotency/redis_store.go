package idempotency

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisBeginScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local hash = ARGV[2]
local ttl_ms = tonumber(ARGV[3])
local now_ms = tonumber(ARGV[4])
local stale_ms = tonumber(ARGV[5])

if redis.call("EXISTS", key) == 0 then
  redis.call("HSET", key, "owner", owner, "request_hash", hash, "status", "in_progress",
    "method", ARGV[6], "path", ARGV[7], "action", ARGV[8], "updated_at", now_ms)
  redis.call("PEXPIRE", key, ttl_ms)
  return {"new", "0"}
end

if (redis.call("HGET", key, "owner") or "") ~= owner then
  return {"conflict", "0"}
end

local mismatch = "0"
if (redis.call("HGET", key, "request_hash") or "") ~= hash then
  mismatch = "1"
end

if redis.call("HGET", key, "status") == "completed" then
  return {"replay", mismatch,
    redis.call("HGET", key, "response_status") or "",
    redis.call("HGET", key, "content_type") or "",
    redis.call("HGET", key, "response_body") or ""}
end

local updated = tonumber(redis.call("HGET", key, "updated_at") or "0")
if stale_ms > 0 and now_ms - updated >= stale_ms then
  redis.call("HSET", key, "request_hash", hash, "updated_at", now_ms)
  return {"reclaimed", mismatch}
end

return {"in_progress", mismatch}
`)

var redisCompleteScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("HGET", key, "status") ~= "in_progress" then
  return 0
end
redis.call("HSET", key, "status", "completed", "response_status", ARGV[1],
  "content_type", ARGV[2], "response_body", ARGV[3], "updated_at", ARGV[4])
return 1
`)

// RedisStore keeps one hash per key. Lua scripts make begin and complete atomic and the
// key's own expiry is the TTL, so PurgeExpired has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a RedisStore. An empty prefix defaults to "idem".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "idem"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// WithClock replaces the store clock. Used by tests.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) Begin(ctx context.Context, p BeginParams) (BeginResult, error) {
	if p.Key == "" {
		return BeginResult{}, errors.New("idempotency: empty key")
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	raw, err := redisBeginScript.Run(ctx, s.client, []string{s.redisKey(p.Key)},
		ownerOf(p.UserID),
		p.RequestHash,
		ttl.Milliseconds(),
		s.now().UnixMilli(),
		p.StaleAfter.Milliseconds(),
		p.Method,
		p.Path,
		p.Action,
	).Result()
	if err != nil {
		return BeginResult{}, fmt.Errorf("idempotency: redis begin: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) < 2 {
		return BeginResult{}, fmt.Errorf("idempotency: unexpected redis begin result %T", raw)
	}
	mismatch := asString(values[1]) == "1"

	switch state := asString(values[0]); state {
	case "new":
		return BeginResult{State: StateNew}, nil
	case "reclaimed":
		return BeginResult{State: StateNew, HashMismatch: mismatch, Reclaimed: true}, nil
	case "conflict":
		return BeginResult{State: StateConflict}, nil
	case "in_progress":
		return BeginResult{State: StateInProgress, HashMismatch: mismatch}, nil
	case "replay":
		if len(values) < 5 {
			return BeginResult{}, errors.New("idempotency: unexpected replay payload")
		}
		status, err := strconv.Atoi(asString(values[2]))
		if err != nil {
			return BeginResult{}, fmt.Errorf("idempotency: parse replay status: %w", err)
		}
		body, err := base64.StdEncoding.DecodeString(asString(values[4]))
		if err != nil {
			return BeginResult{}, fmt.Errorf("idempotency: decode replay body: %w", err)
		}
		return BeginResult{
			State:        StateReplay,
			HashMismatch: mismatch,
			Cached: &CachedResponse{
				StatusCode:  status,
				ContentType: asString(values[3]),
				Body:        body,
			},
		}, nil
	default:
		return BeginResult{}, fmt.Errorf("idempotency: unknown state %q", state)
	}
}

func (s *RedisStore) Complete(ctx context.Context, key string, resp CachedResponse) error {
	n, err := redisCompleteScript.Run(ctx, s.client, []string{s.redisKey(key)},
		resp.StatusCode,
		resp.ContentType,
		base64.StdEncoding.EncodeToString(resp.Body),
		s.now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("idempotency: redis complete: %w", err)
	}
	if n == 0 {
		return ErrNotInProgress
	}
	return nil
}

// PurgeExpired is a no-op: Redis expires keys on its own.
func (s *RedisStore) PurgeExpired(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}

func asString(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(v)
	}
}
