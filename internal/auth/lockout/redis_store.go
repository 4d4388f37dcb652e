package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	"github.com/AlibekovAA/authcore/internal/common/constants"
)

const redisKeyPrefix = "auth:login_attempts:"

// recordFailureScript increments the counter and sets the lock at threshold in
// one round trip. An active lock is returned unchanged and an elapsed one is
// discarded before counting.
var recordFailureScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local lock = tonumber(ARGV[3])
local window = tonumber(ARGV[4])

local locked = tonumber(redis.call('HGET', key, 'locked_until') or '0')
if locked > now then
  local count = tonumber(redis.call('HGET', key, 'count') or '0')
  local last = tonumber(redis.call('HGET', key, 'last') or '0')
  return {count, last, locked}
end
if locked > 0 then
  redis.call('DEL', key)
  locked = 0
end

local last = tonumber(redis.call('HGET', key, 'last') or '0')
if last > 0 and window > 0 and now - last > window then
  redis.call('DEL', key)
end

local count = redis.call('HINCRBY', key, 'count', 1)
redis.call('HSET', key, 'last', now)
if count >= max then
  locked = now + lock
  redis.call('HSET', key, 'locked_until', locked)
  redis.call('PEXPIRE', key, lock + window)
else
  redis.call('PEXPIRE', key, window)
end
return {count, now, locked}
`)

type RedisAttemptStore struct {
	client redis.UniversalClient
}

func NewRedisAttemptStore(client redis.UniversalClient) *RedisAttemptStore {
	return &RedisAttemptStore{client: client}
}

func redisKey(identifier string) string {
	return redisKeyPrefix + identifier
}

func (s *RedisAttemptStore) Get(ctx context.Context, identifier string) (authdomain.LoginAttemptState, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RedisOpTimeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, redisKey(identifier)).Result()
	if err != nil {
		return authdomain.LoginAttemptState{}, false, fmt.Errorf("failed to get login attempts: %w", err)
	}
	if len(fields) == 0 {
		return authdomain.LoginAttemptState{}, false, nil
	}
	return stateFromHash(identifier, fields), true, nil
}

func (s *RedisAttemptStore) RecordFailure(ctx context.Context, identifier string, now time.Time, policy Policy) (authdomain.LoginAttemptState, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RedisOpTimeout)
	defer cancel()

	window := policy.AttemptWindow
	if window <= 0 {
		window = constants.DefaultAttemptWindow
	}

	res, err := recordFailureScript.Run(
		ctx,
		s.client,
		[]string{redisKey(identifier)},
		now.UnixMilli(),
		policy.MaxFailedAttempts,
		policy.LockDuration.Milliseconds(),
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return authdomain.LoginAttemptState{}, fmt.Errorf("failed to record login failure: %w", err)
	}
	if len(res) != 3 {
		return authdomain.LoginAttemptState{}, errors.New("unexpected login attempt script result")
	}

	state := authdomain.LoginAttemptState{
		Identifier:  identifier,
		FailedCount: int(res[0]),
		LastAttempt: time.UnixMilli(res[1]).UTC(),
	}
	if res[2] > 0 {
		until := time.UnixMilli(res[2]).UTC()
		state.LockedUntil = &until
	}
	return state, nil
}

func (s *RedisAttemptStore) Clear(ctx context.Context, identifier string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.RedisOpTimeout)
	defer cancel()

	if err := s.client.Del(ctx, redisKey(identifier)).Err(); err != nil {
		return fmt.Errorf("failed to clear login attempts: %w", err)
	}
	return nil
}

func (s *RedisAttemptStore) ListLocked(ctx context.Context, now time.Time) ([]authdomain.LoginAttemptState, error) {
	var locked []authdomain.LoginAttemptState

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to read login attempts: %w", err)
		}
		state := stateFromHash(key[len(redisKeyPrefix):], fields)
		if state.IsLocked(now) {
			locked = append(locked, state)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan login attempts: %w", err)
	}
	return locked, nil
}

// Sweep is a no-op: keys carry their own TTL.
func (s *RedisAttemptStore) Sweep(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	return 0, nil
}

func stateFromHash(identifier string, fields map[string]string) authdomain.LoginAttemptState {
	state := authdomain.LoginAttemptState{Identifier: identifier}
	if v, err := strconv.Atoi(fields["count"]); err == nil {
		state.FailedCount = v
	}
	if v, err := strconv.ParseInt(fields["last"], 10, 64); err == nil && v > 0 {
		state.LastAttempt = time.UnixMilli(v).UTC()
	}
	if v, err := strconv.ParseInt(fields["locked_until"], 10, 64); err == nil && v > 0 {
		until := time.UnixMilli(v).UTC()
		state.LockedUntil = &until
	}
	return state
}
