package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pixstory/pkg/ratelimit"
)

var (
	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixstory_dispatch_items_total",
			Help: "Dispatched items by result",
		},
		[]string{"result"},
	)

	itemDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixstory_dispatch_item_duration_seconds",
		Help:    "Worker call duration per item",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixstory_dispatch_batch_duration_seconds",
		Help:    "Duration of a whole dispatched batch",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// Config holds dispatcher configuration.
type Config struct {
	// Timeout bounds each worker call. A timed-out call fails its item like
	// any other error. Zero disables the per-call timeout.
	Timeout time.Duration
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 60 * time.Second,
	}
}

// Worker produces the result for one item. index is the item's position in
// the batch.
type Worker[T, R any] func(ctx context.Context, index int, item T) (R, error)

// ProgressFunc receives (completed, total) after each successful item.
// Calls are serialized and completed never decreases within a batch.
type ProgressFunc func(completed, total int)

// ItemResult is the value produced for the item at Index.
type ItemResult[R any] struct {
	Index int
	Value R
}

// ItemError is the first failure of a batch.
type ItemError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *ItemError) Unwrap() error {
	return e.Err
}

// outcome is what an item goroutine reports back to the collector.
type outcome[R any] struct {
	index int
	value R
	err   error
}

// Dispatcher runs batches of T through a Worker producing R.
type Dispatcher[T, R any] struct {
	limiter ratelimit.Limiter
	config  Config
}

// New creates a dispatcher drawing slots from limiter. A nil limiter
// dispatches without spacing.
func New[T, R any](limiter ratelimit.Limiter, config Config) *Dispatcher[T, R] {
	if config.Timeout < 0 {
		config.Timeout = 0
	}
	if limiter == nil {
		limiter = ratelimit.NewSpacer(0)
	}
	return &Dispatcher[T, R]{
		limiter: limiter,
		config:  config,
	}
}

// Run dispatches every item and returns the results in batch order.
// On the first failure it returns an *ItemError and no results. If ctx ends
// before every item succeeded, the failure carries the context error.
func (d *Dispatcher[T, R]) Run(ctx context.Context, items []T, worker Worker[T, R], progress ProgressFunc) ([]ItemResult[R], error) {
	total := len(items)
	if total == 0 {
		return []ItemResult[R]{}, nil
	}

	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	// Cancelled on first failure so waiting siblings never dispatch.
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Debug().
		Int("items", total).
		Dur("timeout", d.config.Timeout).
		Msg("Starting batch dispatch")

	outcomes := make(chan outcome[R], total)
	for i, item := range items {
		go d.dispatch(batchCtx, i, item, worker, outcomes)
	}

	results := make([]ItemResult[R], total)
	var firstErr *ItemError
	completed := 0

	for received := 0; received < total; received++ {
		o := <-outcomes

		if o.err != nil {
			itemsTotal.WithLabelValues("failed").Inc()
			if firstErr == nil {
				firstErr = &ItemError{Index: o.index, Err: o.err}
				cancel()
				log.Warn().
					Err(o.err).
					Int("index", o.index).
					Int("completed", completed).
					Int("total", total).
					Msg("Item failed - abandoning batch")
			}
			continue
		}

		itemsTotal.WithLabelValues("succeeded").Inc()
		if firstErr != nil {
			// Batch already failed; late successes are discarded.
			continue
		}

		results[o.index] = ItemResult[R]{Index: o.index, Value: o.value}
		completed++
		if progress != nil {
			progress(completed, total)
		}

		log.Debug().
			Int("index", o.index).
			Int("completed", completed).
			Int("total", total).
			Msg("Item complete")
	}

	if firstErr != nil {
		return nil, firstErr
	}

	log.Debug().
		Int("items", total).
		Dur("duration", time.Since(start)).
		Msg("Batch dispatch complete")

	return results, nil
}

// dispatch waits for a slot and runs the worker for one item.
func (d *Dispatcher[T, R]) dispatch(ctx context.Context, index int, item T, worker Worker[T, R], out chan<- outcome[R]) {
	if err := d.limiter.Acquire(ctx); err != nil {
		out <- outcome[R]{index: index, err: err}
		return
	}

	callCtx := ctx
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	started := time.Now()
	value, err := worker(callCtx, index, item)
	itemDuration.Observe(time.Since(started).Seconds())

	out <- outcome[R]{index: index, value: value, err: err}
}
