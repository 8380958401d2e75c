package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisKey is the key holding the shared last-dispatch slot.
const DefaultRedisKey = "pixstory:rate_limit:last_dispatch"

// reserveScript claims the next slot using the Redis server clock.
// Returns {slot_ms, prev_ms, wait_ms}.
var reserveScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local interval = tonumber(ARGV[1])
local prev = tonumber(redis.call('GET', KEYS[1]) or '0')
local slot = now
if prev > 0 and prev + interval > now then
  slot = prev + interval
end
local ttl = slot - now + interval + 1000
redis.call('SET', KEYS[1], string.format('%d', slot), 'PX', ttl)
return {slot, prev, slot - now}
`)

// releaseScript rolls the slot back to prev if it is still the newest one.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  if tonumber(ARGV[2]) > 0 then
    redis.call('SET', KEYS[1], ARGV[2], 'PX', tonumber(ARGV[3]))
  else
    redis.call('DEL', KEYS[1])
  end
  return 1
end
return 0
`)

// RedisSpacer is a Limiter whose last-dispatch slot lives in Redis, so all
// processes using the same key share one spacing clock. Slots are computed
// from the Redis server time.
type RedisSpacer struct {
	redis    *redis.Client
	key      string
	interval time.Duration
	logger   zerolog.Logger
}

// NewRedisSpacer creates a Redis-backed Spacer. An empty key selects
// DefaultRedisKey.
func NewRedisSpacer(redisClient *redis.Client, key string, interval time.Duration, logger zerolog.Logger) (*RedisSpacer, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if interval < time.Millisecond {
		return nil, fmt.Errorf("interval must be at least 1ms, got %s", interval)
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSpacer{
		redis:    redisClient,
		key:      key,
		interval: interval,
		logger:   logger,
	}, nil
}

// Interval returns the minimum spacing between two releases.
func (s *RedisSpacer) Interval() time.Duration {
	return s.interval
}

// Acquire reserves the next shared slot and waits for it.
func (s *RedisSpacer) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		dispatchAcquiresTotal.WithLabelValues(resultCancelled).Inc()
		return err
	}

	vals, err := reserveScript.Run(ctx, s.redis, []string{s.key}, s.interval.Milliseconds()).Int64Slice()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			dispatchAcquiresTotal.WithLabelValues(resultCancelled).Inc()
			return ctxErr
		}
		dispatchAcquiresTotal.WithLabelValues(resultError).Inc()
		return fmt.Errorf("reserve dispatch slot: %w", err)
	}
	if len(vals) != 3 {
		dispatchAcquiresTotal.WithLabelValues(resultError).Inc()
		return fmt.Errorf("reserve dispatch slot: unexpected reply %v", vals)
	}

	slot, prev := vals[0], vals[1]
	wait := time.Duration(vals[2]) * time.Millisecond
	dispatchWaitSeconds.Observe(wait.Seconds())

	if wait <= 0 {
		dispatchAcquiresTotal.WithLabelValues(resultGranted).Inc()
		return nil
	}

	s.logger.Debug().
		Str("key", s.key).
		Dur("wait", wait).
		Msg("Waiting for shared dispatch slot")

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.release(slot, prev)
		dispatchAcquiresTotal.WithLabelValues(resultCancelled).Inc()
		return ctx.Err()
	case <-timer.C:
		dispatchAcquiresTotal.WithLabelValues(resultGranted).Inc()
		return nil
	}
}

// release runs on a fresh context since the caller's is already done.
func (s *RedisSpacer) release(slot, prev int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ttl := s.interval.Milliseconds() + 1000
	err := releaseScript.Run(ctx, s.redis, []string{s.key},
		strconv.FormatInt(slot, 10), strconv.FormatInt(prev, 10), ttl).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn().Err(err).Str("key", s.key).Msg("Failed to release dispatch slot")
	}
}
