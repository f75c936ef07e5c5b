package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// registerFailureScript mirrors the Postgres upsert: an active lock is
// returned untouched, an expired one restarts the counter.
var registerFailureScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local maxAttempts = tonumber(ARGV[2])
local lockUntil = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local locked = tonumber(redis.call("HGET", key, "locked_until") or "0")
if locked > now then
  return {tonumber(redis.call("HGET", key, "count") or "0"), tonumber(redis.call("HGET", key, "first_attempt") or "0"), locked}
end
if locked > 0 then
  redis.call("DEL", key)
end

local count = redis.call("HINCRBY", key, "count", 1)
if count == 1 then
  redis.call("HSET", key, "first_attempt", now)
end
local first = tonumber(redis.call("HGET", key, "first_attempt") or "0")

local nextLock = 0
if count >= maxAttempts then
  nextLock = lockUntil
  redis.call("HSET", key, "locked_until", lockUntil)
end
redis.call("PEXPIRE", key, ttl)
return {count, first, nextLock}
`)

// RedisAttemptStore keeps counters in Redis hashes that expire on their own,
// so it needs no sweeping.
type RedisAttemptStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

func NewRedisAttemptStore(client *redis.Client, prefix string, retention time.Duration) *RedisAttemptStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisAttemptStore{
		client:    client,
		prefix:    strings.TrimSpace(prefix),
		retention: retention,
	}
}

func (s *RedisAttemptStore) GetAttempt(ctx context.Context, ip string) (Attempt, bool, error) {
	values, err := s.client.HGetAll(ctx, s.key(ip)).Result()
	if err != nil {
		return Attempt{}, false, fmt.Errorf("read login attempt: %w", err)
	}
	if len(values) == 0 {
		return Attempt{IP: ip}, false, nil
	}

	attempt := Attempt{IP: ip}
	attempt.Count, _ = strconv.Atoi(values["count"])
	if first, err := strconv.ParseInt(values["first_attempt"], 10, 64); err == nil && first > 0 {
		attempt.FirstAttempt = time.UnixMilli(first).UTC()
	}
	if locked, err := strconv.ParseInt(values["locked_until"], 10, 64); err == nil && locked > 0 {
		until := time.UnixMilli(locked).UTC()
		attempt.LockedUntil = &until
	}

	return attempt, true, nil
}

func (s *RedisAttemptStore) RegisterFailure(ctx context.Context, ip string, maxAttempts int, lockDuration time.Duration, now time.Time) (Attempt, error) {
	ttl := s.retention
	if lockDuration > ttl {
		ttl = lockDuration
	}

	res, err := registerFailureScript.Run(ctx, s.client, []string{s.key(ip)},
		now.UnixMilli(), maxAttempts, now.Add(lockDuration).UnixMilli(), ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Attempt{}, fmt.Errorf("register failed login attempt: %w", err)
	}

	values, ok := res.([]any)
	if !ok || len(values) != 3 {
		return Attempt{}, errors.New("register failed login attempt: unexpected redis response")
	}

	count, err := toInt64(values[0])
	if err != nil {
		return Attempt{}, err
	}
	first, err := toInt64(values[1])
	if err != nil {
		return Attempt{}, err
	}
	locked, err := toInt64(values[2])
	if err != nil {
		return Attempt{}, err
	}

	attempt := Attempt{IP: ip, Count: int(count), FirstAttempt: time.UnixMilli(first).UTC()}
	if locked > 0 {
		until := time.UnixMilli(locked).UTC()
		attempt.LockedUntil = &until
	}
	return attempt, nil
}

func (s *RedisAttemptStore) ResetAttempts(ctx context.Context, ip string) error {
	if err := s.client.Del(ctx, s.key(ip)).Err(); err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	return nil
}

func (s *RedisAttemptStore) key(ip string) string {
	if s.prefix == "" {
		return "login_attempts:" + ip
	}
	return s.prefix + ":login_attempts:" + ip
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis value type %T", value)
	}
}
