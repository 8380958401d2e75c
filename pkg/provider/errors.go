package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass classifies provider failures.
type ErrorClass string

const (
	// ErrorClassClient represents rejected requests (4xx).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents provider failures (5xx).
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and locally exhausted quota.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassContent represents content policy refusals.
	ErrorClassContent ErrorClass = "content"

	// ErrorClassNetwork represents transport failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents calls that ran out of time.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassResponse represents empty or malformed responses.
	ErrorClassResponse ErrorClass = "response"

	// ErrorClassCancelled represents calls abandoned by the caller.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassUnknown is used when nothing more specific applies.
	ErrorClassUnknown ErrorClass = "unknown"
)

// Error is a provider failure with its classification.
type Error struct {
	Operation  string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s error", e.Operation, e.Class)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code to an error class.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassUnknown
	}
}

// ClassOf returns the class of any error returned by a provider call.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var perr *Error
	if errors.As(err, &perr) && perr.Class != "" {
		return perr.Class
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTimeout
	case errors.Is(err, context.Canceled):
		return ErrorClassCancelled
	case errors.Is(err, ErrEmptyResponse):
		return ErrorClassResponse
	case errors.Is(err, ErrInvalidImage):
		return ErrorClassClient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorClassTimeout
		}
		return ErrorClassNetwork
	}

	return ErrorClassUnknown
}

// TransportError wraps a failed round trip, keeping context errors intact.
func TransportError(op string, err error) *Error {
	class := ErrorClassNetwork
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		class = ErrorClassTimeout
	case errors.Is(err, context.Canceled):
		class = ErrorClassCancelled
	}
	return &Error{Operation: op, Class: class, Message: "request failed", Err: err}
}
