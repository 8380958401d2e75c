package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Provider quota headers (OpenAI-compatible APIs).
const (
	HeaderRemainingRequests = "x-ratelimit-remaining-requests"
	HeaderResetRequests     = "x-ratelimit-reset-requests"
)

// Redis keys for shared quota state.
const (
	RedisKeyQuotaRemaining = "pixstory:quota:requests_remaining"
	RedisKeyQuotaReset     = "pixstory:quota:reset_unix_ms"
)

// Thresholds for quota decisions.
const (
	// QuotaThresholdCritical refuses calls when remaining requests fall below it.
	QuotaThresholdCritical = 1

	// QuotaThresholdWarning logs a warning when remaining requests fall below it.
	QuotaThresholdWarning = 5
)

// ErrQuotaExhausted is returned by Check when the provider reported no
// remaining requests and the window has not reset yet.
var ErrQuotaExhausted = errors.New("provider request quota exhausted")

var (
	providerRequestsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pixstory_provider_requests_remaining",
		Help: "Requests remaining in the provider's current rate limit window",
	})

	providerQuotaBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixstory_provider_quota_blocks_total",
		Help: "Calls refused locally because the provider quota was exhausted",
	})
)

// QuotaState is the provider's last reported request quota.
type QuotaState struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was recorded.
	LastUpdate time.Time `json:"last_update"`
}

// Exhausted reports whether calls should be refused at now.
func (s QuotaState) Exhausted(now time.Time) bool {
	return s.Remaining < QuotaThresholdCritical && now.Before(s.ResetAt)
}

// Low reports whether the quota is in the warning band.
func (s QuotaState) Low() bool {
	return s.Remaining < QuotaThresholdWarning && s.Remaining >= QuotaThresholdCritical
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s QuotaState) TimeUntilReset(now time.Time) time.Duration {
	if d := s.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// QuotaTracker records quota headers from provider responses and refuses
// calls while the quota is exhausted. It never sleeps: a refused call fails
// immediately and the run fails with it. With a Redis client the state is
// shared between processes, otherwise it is kept in memory.
type QuotaTracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	local *QuotaState
}

// NewQuotaTracker creates a tracker. redisClient may be nil.
func NewQuotaTracker(redisClient *redis.Client, logger zerolog.Logger) *QuotaTracker {
	return &QuotaTracker{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

// ParseQuotaHeaders extracts the quota state from response headers.
// ok is false when the response carries no quota headers.
func ParseQuotaHeaders(headers http.Header, now time.Time) (state QuotaState, ok bool, err error) {
	remainStr := headers.Get(HeaderRemainingRequests)
	if remainStr == "" {
		return QuotaState{}, false, nil
	}

	remain, err := strconv.Atoi(strings.TrimSpace(remainStr))
	if err != nil {
		return QuotaState{}, false, fmt.Errorf("parse %s header: %w", HeaderRemainingRequests, err)
	}

	resetStr := strings.TrimSpace(headers.Get(HeaderResetRequests))
	if resetStr == "" {
		return QuotaState{}, false, fmt.Errorf("%s header missing", HeaderResetRequests)
	}

	reset, err := time.ParseDuration(resetStr)
	if err != nil {
		// Some gateways send plain seconds.
		secs, convErr := strconv.ParseFloat(resetStr, 64)
		if convErr != nil {
			return QuotaState{}, false, fmt.Errorf("parse %s header: %w", HeaderResetRequests, err)
		}
		reset = time.Duration(secs * float64(time.Second))
	}

	return QuotaState{
		Remaining:  remain,
		ResetAt:    now.Add(reset),
		LastUpdate: now,
	}, true, nil
}

// UpdateFromHeaders stores the quota reported in a provider response.
func (t *QuotaTracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, ok, err := ParseQuotaHeaders(headers, t.now())
	if err != nil || !ok {
		return err
	}

	if t.redis != nil {
		pipe := t.redis.Pipeline()
		ttl := state.TimeUntilReset(state.LastUpdate) + time.Second
		pipe.Set(ctx, RedisKeyQuotaRemaining, state.Remaining, ttl)
		pipe.Set(ctx, RedisKeyQuotaReset, state.ResetAt.UnixMilli(), ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("store quota state in redis: %w", err)
		}
	} else {
		t.mu.Lock()
		t.local = &state
		t.mu.Unlock()
	}

	providerRequestsRemaining.Set(float64(state.Remaining))

	switch {
	case state.Exhausted(state.LastUpdate):
		t.logger.Error().
			Int("requests_remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Provider quota exhausted - calls will be refused until reset")
	case state.Low():
		t.logger.Warn().
			Int("requests_remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Provider quota low")
	default:
		t.logger.Debug().
			Int("requests_remaining", state.Remaining).
			Msg("Provider quota updated")
	}

	return nil
}

// State returns the last recorded quota, or nil if none is known.
func (t *QuotaTracker) State(ctx context.Context) (*QuotaState, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.local == nil {
			return nil, nil
		}
		s := *t.local
		return &s, nil
	}

	remaining, err := t.redis.Get(ctx, RedisKeyQuotaRemaining).Int()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota remaining: %w", err)
	}

	resetMs, err := t.redis.Get(ctx, RedisKeyQuotaReset).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota reset: %w", err)
	}

	return &QuotaState{
		Remaining: remaining,
		ResetAt:   time.UnixMilli(resetMs),
	}, nil
}

// Check returns an error wrapping ErrQuotaExhausted if calls must be
// refused right now. Unknown quota allows the call.
func (t *QuotaTracker) Check(ctx context.Context) error {
	state, err := t.State(ctx)
	if err != nil {
		// Redis trouble must not take the provider down with it.
		t.logger.Warn().Err(err).Msg("Quota state unavailable, allowing call")
		return nil
	}
	if state == nil {
		return nil
	}

	now := t.now()
	if state.Exhausted(now) {
		providerQuotaBlocksTotal.Inc()
		return fmt.Errorf("%w: resets in %s", ErrQuotaExhausted, state.TimeUntilReset(now).Round(time.Millisecond))
	}
	return nil
}
