// Package orchestrator is the entry point for running staged generations.
//
// A Controller owns the process-wide rate limiter and a default credential
// source. Submit validates a request synchronously, starts the two-phase
// pipeline in the background and returns a Run handle that streams
// progress, accepts cancellation and delivers one terminal outcome.
// Every failure is reported as an *Error from a closed set of kinds.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/pixstory/pkg/dispatch"
	"github.com/Sternrassler/pixstory/pkg/logging"
	"github.com/Sternrassler/pixstory/pkg/pipeline"
	"github.com/Sternrassler/pixstory/pkg/provider"
	"github.com/Sternrassler/pixstory/pkg/ratelimit"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixstory_runs_total",
			Help: "Finished runs by pipeline and outcome",
		},
		[]string{"pipeline", "outcome"},
	)

	runsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pixstory_runs_in_flight",
		Help: "Runs currently executing",
	})

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixstory_run_duration_seconds",
			Help:    "End-to-end run duration",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"pipeline"},
	)
)

const outcomeSucceeded = "succeeded"

// Config holds controller configuration.
type Config struct {
	// ItemTimeout bounds each per-item provider call.
	ItemTimeout time.Duration

	// SynthesisTimeout bounds the synthesis call.
	SynthesisTimeout time.Duration
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		ItemTimeout:      60 * time.Second,
		SynthesisTimeout: 120 * time.Second,
	}
}

// Controller starts runs against a shared limiter.
type Controller struct {
	limiter ratelimit.Limiter
	creds   Credentials
	config  Config
	logger  zerolog.Logger
}

// New creates a controller. limiter must be shared by every run of the
// process; creds is the default credential source and may be nil when
// every request brings its own.
func New(limiter ratelimit.Limiter, creds Credentials, config Config) (*Controller, error) {
	if limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	if config.ItemTimeout < 0 || config.SynthesisTimeout < 0 {
		return nil, fmt.Errorf("timeouts must not be negative")
	}

	return &Controller{
		limiter: limiter,
		creds:   creds,
		config:  config,
		logger:  logging.NewLogger("orchestrator"),
	}, nil
}

// Auth resolves the controller's default credentials, or override when set.
func (c *Controller) Auth(override Credentials) (provider.Auth, error) {
	if override != nil {
		return Resolve(override)
	}
	return Resolve(c.creds)
}

// Request describes one run.
type Request[T, R, S any] struct {
	// Pipeline names the run for logs and metrics.
	Pipeline string

	// Items is the ordered batch. Must not be empty.
	Items []T

	// Item produces the per-item result. Called once per item, rate limited.
	Item func(ctx context.Context, auth provider.Auth, index int, item T) (R, error)

	// Synthesize aggregates the ordered per-item results. Called at most once.
	Synthesize func(ctx context.Context, auth provider.Auth, results []R) (S, error)

	// Credentials overrides the controller's credential source.
	Credentials Credentials

	// OnProgress is called synchronously after each completed item.
	OnProgress dispatch.ProgressFunc
}

// Progress is one progress report.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Submit validates req and starts the run. Validation failures are
// returned as *Error with KindInvalidRequest before any provider call.
// The run stops when ctx ends or Cancel is called.
func Submit[T, R, S any](ctx context.Context, c *Controller, req Request[T, R, S]) (*Run[R, S], error) {
	if len(req.Items) == 0 {
		return nil, InvalidRequest("batch is empty")
	}
	if req.Item == nil || req.Synthesize == nil {
		return nil, InvalidRequest("item and synthesis functions are required")
	}
	auth, err := c.Auth(req.Credentials)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled()
	}

	name := strings.TrimSpace(req.Pipeline)
	if name == "" {
		name = "default"
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run[R, S]{
		id:       ulid.Make().String(),
		pipeline: name,
		total:    len(req.Items),
		progress: make(chan Progress, len(req.Items)),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	logger := logging.WithRun(c.logger, run.id, name)

	p := pipeline.New[T, R, S](c.limiter,
		pipeline.Config{
			Dispatch:         dispatch.Config{Timeout: c.config.ItemTimeout},
			SynthesisTimeout: c.config.SynthesisTimeout,
			OnTransition: func(from, to pipeline.State) {
				logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Run state changed")
			},
		},
		func(ctx context.Context, index int, item T) (R, error) {
			return req.Item(ctx, auth, index, item)
		},
		func(ctx context.Context, results []R) (S, error) {
			return req.Synthesize(ctx, auth, results)
		},
	)
	run.state = p.State

	logger.Info().Int("items", run.total).Msg("Run submitted")
	runsInFlight.Inc()

	go func() {
		defer cancel()
		start := time.Now()

		res, err := p.Run(runCtx, req.Items, func(completed, total int) {
			run.completed.Store(int64(completed))
			run.progress <- Progress{Completed: completed, Total: total}
			if req.OnProgress != nil {
				req.OnProgress(completed, total)
			}
		})
		err = normalize(runCtx, err)

		outcome := outcomeSucceeded
		if err != nil {
			outcome = string(KindOf(err))
		}
		runsInFlight.Dec()
		runsTotal.WithLabelValues(name, outcome).Inc()
		runDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		event := logger.Info()
		if err != nil && outcome != string(KindCancelled) {
			event = logger.Warn().Err(err).Str("error_class", string(classOf(err)))
		}
		event.Str("outcome", outcome).Dur("duration", time.Since(start)).Msg("Run finished")

		run.finish(res, err)
	}()

	return run, nil
}

// Execute submits req and waits for its outcome.
func Execute[T, R, S any](ctx context.Context, c *Controller, req Request[T, R, S]) (*pipeline.Result[R, S], error) {
	run, err := Submit(ctx, c, req)
	if err != nil {
		return nil, err
	}
	return run.Wait()
}

func classOf(err error) provider.ErrorClass {
	if e, ok := err.(*Error); ok {
		return e.Class
	}
	return ""
}

// Run is the handle of a submitted run.
type Run[R, S any] struct {
	id       string
	pipeline string
	total    int
	state    func() pipeline.State

	completed atomic.Int64
	progress  chan Progress
	done      chan struct{}
	cancel    context.CancelFunc

	result *pipeline.Result[R, S]
	err    error
}

// ID returns the run's unique identifier.
func (r *Run[R, S]) ID() string { return r.id }

// Pipeline returns the pipeline name.
func (r *Run[R, S]) Pipeline() string { return r.pipeline }

// Total returns the batch size.
func (r *Run[R, S]) Total() int { return r.total }

// Completed returns the number of items completed so far.
func (r *Run[R, S]) Completed() int { return int(r.completed.Load()) }

// State returns the pipeline state.
func (r *Run[R, S]) State() pipeline.State { return r.state() }

// Progress streams one report per completed item. It is buffered to the
// batch size and closed when the run finishes.
func (r *Run[R, S]) Progress() <-chan Progress { return r.progress }

// Cancel stops the run. Items still waiting for a slot are never
// dispatched and synthesis is not started. Safe to call repeatedly.
func (r *Run[R, S]) Cancel() { r.cancel() }

// Done is closed once the outcome is available.
func (r *Run[R, S]) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes and returns its outcome.
func (r *Run[R, S]) Wait() (*pipeline.Result[R, S], error) {
	<-r.done
	return r.result, r.err
}

// Err returns the run's error once Done is closed.
func (r *Run[R, S]) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *Run[R, S]) finish(res *pipeline.Result[R, S], err error) {
	r.result = res
	r.err = err
	close(r.progress)
	close(r.done)
}
