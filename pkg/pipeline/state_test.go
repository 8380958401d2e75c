package pipeline

import (
	"errors"
	"testing"
)

func TestTracker_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{"happy path", []State{StateRunningItems, StateRunningSynthesis, StateSucceeded}, false},
		{"item failure", []State{StateRunningItems, StateFailed}, false},
		{"synthesis failure", []State{StateRunningItems, StateRunningSynthesis, StateFailed}, false},
		{"skip items phase", []State{StateRunningSynthesis}, true},
		{"succeed without synthesis", []State{StateRunningItems, StateSucceeded}, true},
		{"leave terminal state", []State{StateRunningItems, StateFailed, StateRunningSynthesis}, true},
		{"fail twice", []State{StateRunningItems, StateFailed, StateFailed}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(nil)
			var err error
			for _, s := range tt.path {
				if err = tr.Transition(s); err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("Transition error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("error = %v, want ErrIllegalTransition", err)
			}
		})
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateIdle, StateRunningItems, StateRunningSynthesis} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
	}
	for _, s := range []State{StateFailed, StateSucceeded} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
}
