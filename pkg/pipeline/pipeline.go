// Package pipeline runs a two-phase generation: a rate-limited batch of
// per-item calls followed by exactly one synthesis call over the ordered
// per-item results.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pixstory/pkg/dispatch"
	"github.com/Sternrassler/pixstory/pkg/ratelimit"
)

var synthesisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "pixstory_synthesis_duration_seconds",
	Help:    "Duration of the synthesis call",
	Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
})

// Synthesizer aggregates the ordered per-item results into one value.
type Synthesizer[R, S any] func(ctx context.Context, results []R) (S, error)

// Result is the outcome of a successful run.
type Result[R, S any] struct {
	// PerItem holds one value per input item, in input order.
	PerItem []R

	// Aggregate is the synthesis output.
	Aggregate S
}

// SynthesisError wraps a failure of the synthesis phase.
type SynthesisError struct {
	Err error
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Config holds pipeline configuration.
type Config struct {
	// Dispatch configures the per-item phase.
	Dispatch dispatch.Config

	// SynthesisTimeout bounds the synthesis call. Zero disables it.
	SynthesisTimeout time.Duration

	// OnTransition observes state changes. Optional.
	OnTransition TransitionFunc
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Dispatch:         dispatch.DefaultConfig(),
		SynthesisTimeout: 120 * time.Second,
	}
}

// Pipeline is a single-use two-phase run.
type Pipeline[T, R, S any] struct {
	dispatcher *dispatch.Dispatcher[T, R]
	item       dispatch.Worker[T, R]
	synth      Synthesizer[R, S]
	config     Config
	tracker    *Tracker
}

// New creates a pipeline whose per-item calls draw slots from limiter.
func New[T, R, S any](limiter ratelimit.Limiter, config Config, item dispatch.Worker[T, R], synth Synthesizer[R, S]) *Pipeline[T, R, S] {
	return &Pipeline[T, R, S]{
		dispatcher: dispatch.New[T, R](limiter, config.Dispatch),
		item:       item,
		synth:      synth,
		config:     config,
		tracker:    NewTracker(config.OnTransition),
	}
}

// State returns the current lifecycle state.
func (p *Pipeline[T, R, S]) State() State {
	return p.tracker.State()
}

// Run executes both phases. Errors are one of:
//   - *dispatch.ItemError when an item failed
//   - ctx.Err() when the context ended between the phases
//   - *SynthesisError when the synthesis call failed
//
// A pipeline can only be run once.
func (p *Pipeline[T, R, S]) Run(ctx context.Context, items []T, progress dispatch.ProgressFunc) (*Result[R, S], error) {
	if err := p.tracker.Transition(StateRunningItems); err != nil {
		return nil, err
	}

	// Phase 1: one rate-limited call per item.
	itemResults, err := p.dispatcher.Run(ctx, items, p.item, progress)
	if err != nil {
		p.fail()
		return nil, err
	}

	// A cancel that landed after the last item must still prevent synthesis.
	if err := ctx.Err(); err != nil {
		p.fail()
		return nil, err
	}

	perItem := make([]R, len(itemResults))
	for i, r := range itemResults {
		perItem[i] = r.Value
	}

	if err := p.tracker.Transition(StateRunningSynthesis); err != nil {
		return nil, err
	}

	// Phase 2: exactly one synthesis call, not rate limited.
	synthCtx := ctx
	if p.config.SynthesisTimeout > 0 {
		var cancel context.CancelFunc
		synthCtx, cancel = context.WithTimeout(ctx, p.config.SynthesisTimeout)
		defer cancel()
	}

	start := time.Now()
	aggregate, err := p.synth(synthCtx, perItem)
	synthesisDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.fail()
		return nil, &SynthesisError{Err: err}
	}

	if err := p.tracker.Transition(StateSucceeded); err != nil {
		return nil, err
	}

	log.Debug().
		Int("items", len(perItem)).
		Dur("synthesis_duration", time.Since(start)).
		Msg("Pipeline succeeded")

	return &Result[R, S]{PerItem: perItem, Aggregate: aggregate}, nil
}

func (p *Pipeline[T, R, S]) fail() {
	if err := p.tracker.Transition(StateFailed); err != nil {
		log.Error().Err(err).Msg("Pipeline state corrupted")
	}
}
