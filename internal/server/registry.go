package server

import (
	"sync"
	"time"

	"github.com/Sternrassler/pixstory/pkg/orchestrator"
	"github.com/Sternrassler/pixstory/pkg/pipeline"
)

// runEntry is the type-erased view of one submitted run.
type runEntry struct {
	id       string
	pipeline string
	total    int

	state     func() pipeline.State
	completed func() int
	cancel    func()

	done chan struct{}

	mu         sync.Mutex
	result     any
	err        error
	finishedAt time.Time
}

func (e *runEntry) finish(result any, err error, at time.Time) {
	e.mu.Lock()
	e.result = result
	e.err = err
	e.finishedAt = at
	e.mu.Unlock()
	close(e.done)
}

func (e *runEntry) expired(now time.Time, retention time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.finishedAt.IsZero() && now.Sub(e.finishedAt) > retention
}

// registry keeps runs until retention after they finish. Expired runs are
// dropped on the next access.
type registry struct {
	mu        sync.Mutex
	runs      map[string]*runEntry
	retention time.Duration
	now       func() time.Time
}

func newRegistry(retention time.Duration) *registry {
	return &registry{
		runs:      make(map[string]*runEntry),
		retention: retention,
		now:       time.Now,
	}
}

func (r *registry) add(e *runEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	r.runs[e.id] = e
}

func (r *registry) get(id string) (*runEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	e, ok := r.runs[id]
	return e, ok
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func (r *registry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.runs {
		e.cancel()
	}
}

func (r *registry) pruneLocked() {
	now := r.now()
	for id, e := range r.runs {
		if e.expired(now, r.retention) {
			delete(r.runs, id)
		}
	}
}

// track registers run and forwards its progress to the hub. convert maps
// the typed result to the JSON payload stored on the entry.
func track[R, S any](s *Server, run *orchestrator.Run[R, S], convert func(*pipeline.Result[R, S]) any) *runEntry {
	e := &runEntry{
		id:        run.ID(),
		pipeline:  run.Pipeline(),
		total:     run.Total(),
		state:     run.State,
		completed: run.Completed,
		cancel:    run.Cancel,
		done:      make(chan struct{}),
	}
	s.runs.add(e)

	go func() {
		for p := range run.Progress() {
			s.hub.Publish(e.id, mustJSON(p))
		}
		res, err := run.Wait()
		var result any
		if err == nil {
			result = convert(res)
		}
		e.finish(result, err, s.runs.now())
	}()

	return e
}
