package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/pixstory/pkg/dispatch"
	"github.com/Sternrassler/pixstory/pkg/pipeline"
	"github.com/Sternrassler/pixstory/pkg/provider"
)

// ErrorKind is the closed set of run failure kinds.
type ErrorKind string

const (
	// KindInvalidRequest: the request was rejected before any provider call.
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindItemGenerationFailed: a per-item call failed or timed out.
	KindItemGenerationFailed ErrorKind = "item_generation_failed"

	// KindSynthesisFailed: the synthesis call failed or timed out.
	KindSynthesisFailed ErrorKind = "synthesis_failed"

	// KindCancelled: the caller cancelled the run.
	KindCancelled ErrorKind = "cancelled"
)

// Sentinels matching each kind with errors.Is.
var (
	// ErrInvalidRequest matches KindInvalidRequest.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrItemGenerationFailed matches KindItemGenerationFailed.
	ErrItemGenerationFailed = errors.New("item generation failed")

	// ErrSynthesisFailed matches KindSynthesisFailed.
	ErrSynthesisFailed = errors.New("synthesis failed")

	// ErrCancelled matches KindCancelled.
	ErrCancelled = errors.New("run cancelled")
)

// Error is the only error type a run surfaces.
type Error struct {
	Kind ErrorKind

	// Index is the failing item for KindItemGenerationFailed, -1 otherwise.
	Index int

	// Class is the provider error class of the cause, if any.
	Class provider.ErrorClass

	// Message describes an invalid request.
	Message string

	// Err is the cause. Nil for KindInvalidRequest and KindCancelled.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidRequest:
		return fmt.Sprintf("invalid request: %s", e.Message)
	case KindItemGenerationFailed:
		return fmt.Sprintf("item generation failed at index %d: %v", e.Index, e.Err)
	case KindSynthesisFailed:
		return fmt.Sprintf("synthesis failed: %v", e.Err)
	case KindCancelled:
		return "run cancelled"
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidRequest:
		return e.Kind == KindInvalidRequest
	case ErrItemGenerationFailed:
		return e.Kind == KindItemGenerationFailed
	case ErrSynthesisFailed:
		return e.Kind == KindSynthesisFailed
	case ErrCancelled:
		return e.Kind == KindCancelled
	}
	return false
}

// KindOf returns the kind of a run error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// InvalidRequest builds a KindInvalidRequest error.
func InvalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Index: -1, Message: fmt.Sprintf(format, args...)}
}

func cancelled() *Error {
	return &Error{Kind: KindCancelled, Index: -1, Class: provider.ErrorClassCancelled}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// normalize maps a pipeline error onto the closed taxonomy. runCtx is the
// run's own context: it is done only when the caller cancelled the run or
// the submitting context ended. A provider failure recorded before the
// cancel keeps its own kind.
func normalize(runCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	callerCancelled := runCtx.Err() != nil

	var itemErr *dispatch.ItemError
	if errors.As(err, &itemErr) {
		if callerCancelled && isContextErr(itemErr.Err) {
			return cancelled()
		}
		return &Error{
			Kind:  KindItemGenerationFailed,
			Index: itemErr.Index,
			Class: provider.ClassOf(itemErr.Err),
			Err:   itemErr.Err,
		}
	}

	var synthErr *pipeline.SynthesisError
	if errors.As(err, &synthErr) {
		if callerCancelled && isContextErr(synthErr.Err) {
			return cancelled()
		}
		return &Error{
			Kind:  KindSynthesisFailed,
			Index: -1,
			Class: provider.ClassOf(synthErr.Err),
			Err:   synthErr.Err,
		}
	}

	if callerCancelled || isContextErr(err) {
		return cancelled()
	}

	// Only reachable through a broken state machine.
	return &Error{Kind: KindSynthesisFailed, Index: -1, Class: provider.ErrorClassUnknown, Err: err}
}
