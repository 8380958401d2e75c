package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Spacer is an in-process Limiter. Callers reserve consecutive slots at
// least Interval apart under a mutex and then sleep until their slot. On
// waking a caller is admitted only if Interval has passed since the last
// actual release, so a late wake-up delays the callers behind it.
type Spacer struct {
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu       sync.Mutex
	last     time.Time // most recent reserved slot; zero before the first Acquire
	released time.Time // most recent admission
}

// SpacerOption customizes a Spacer.
type SpacerOption func(*Spacer)

// WithClock replaces time.Now for slot arithmetic.
func WithClock(now func() time.Time) SpacerOption {
	return func(s *Spacer) { s.now = now }
}

// WithLogger sets the logger used for slot debug output.
func WithLogger(logger zerolog.Logger) SpacerOption {
	return func(s *Spacer) { s.logger = logger }
}

// NewSpacer creates a Spacer releasing at most one caller per interval.
// A non-positive interval disables spacing.
func NewSpacer(interval time.Duration, opts ...SpacerOption) *Spacer {
	if interval < 0 {
		interval = 0
	}
	s := &Spacer{
		interval: interval,
		now:      time.Now,
		logger:   log.With().Str("component", "ratelimit").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the minimum spacing between two releases.
func (s *Spacer) Interval() time.Duration {
	return s.interval
}

// LastDispatch returns the most recently reserved slot.
func (s *Spacer) LastDispatch() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Acquire reserves the next slot and waits for it.
func (s *Spacer) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		dispatchAcquiresTotal.WithLabelValues(resultCancelled).Inc()
		return err
	}

	start := time.Now()
	now, slot, prev := s.reserve()
	wait := slot.Sub(now)

	for {
		if wait > 0 {
			s.logger.Debug().
				Dur("wait", wait).
				Time("slot", slot).
				Msg("Waiting for dispatch slot")

			if err := sleepCtx(ctx, wait); err != nil {
				s.release(slot, prev)
				dispatchAcquiresTotal.WithLabelValues(resultCancelled).Inc()
				return err
			}
		}
		if wait = s.admit(); wait <= 0 {
			break
		}
	}

	dispatchWaitSeconds.Observe(time.Since(start).Seconds())
	dispatchAcquiresTotal.WithLabelValues(resultGranted).Inc()
	return nil
}

// admit records a release at now, or returns how long the caller still has
// to wait because the previous release happened less than interval ago.
func (s *Spacer) admit() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.released.IsZero() {
		if next := s.released.Add(s.interval); next.After(now) {
			return next.Sub(now)
		}
	}
	s.released = now
	if now.After(s.last) {
		s.last = now
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reserve claims the next free slot and records it as the last dispatch
// before the caller starts sleeping.
func (s *Spacer) reserve() (now, slot, prev time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now = s.now()
	prev = s.last
	slot = now
	if !prev.IsZero() {
		if next := prev.Add(s.interval); next.After(now) {
			slot = next
		}
	}
	s.last = slot
	return now, slot, prev
}

// release gives back a slot that was never used. Only the newest
// reservation can be rolled back; older ones stay claimed so later waiters
// keep their spacing.
func (s *Spacer) release(slot, prev time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last.Equal(slot) {
		s.last = prev
	}
}
