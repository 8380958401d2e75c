package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// State is the lifecycle position of a single pipeline run.
type State string

const (
	StateIdle             State = "idle"
	StateRunningItems     State = "running_items"
	StateRunningSynthesis State = "running_synthesis"
	StateFailed           State = "failed"
	StateSucceeded        State = "succeeded"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateSucceeded
}

// ErrIllegalTransition is returned for a transition the lifecycle forbids.
var ErrIllegalTransition = errors.New("illegal state transition")

var transitions = map[State][]State{
	StateIdle:             {StateRunningItems},
	StateRunningItems:     {StateRunningSynthesis, StateFailed},
	StateRunningSynthesis: {StateSucceeded, StateFailed},
}

var transitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pixstory_pipeline_transitions_total",
		Help: "Pipeline state transitions by target state",
	},
	[]string{"to"},
)

// TransitionFunc observes a state change.
type TransitionFunc func(from, to State)

// Tracker holds the state of one run and enforces legal transitions.
type Tracker struct {
	mu       sync.Mutex
	state    State
	observer TransitionFunc
}

// NewTracker returns a tracker in StateIdle. observer may be nil.
func NewTracker(observer TransitionFunc) *Tracker {
	return &Tracker{state: StateIdle, observer: observer}
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transition moves to the given state or returns ErrIllegalTransition.
// The observer runs outside the lock.
func (t *Tracker) Transition(to State) error {
	t.mu.Lock()
	from := t.state
	allowed := false
	for _, next := range transitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	t.state = to
	t.mu.Unlock()

	transitionsTotal.WithLabelValues(string(to)).Inc()
	if t.observer != nil {
		t.observer(from, to)
	}
	return nil
}
