package tracer

import (
	"errors"
	"fmt"
)

var (
	// ErrStackUnderflow is an exit with no matching enter.
	ErrStackUnderflow = errors.New("exit without matching enter")
	// ErrNestingMismatch is a nesting hostio whose preceding step at the same
	// level is missing or is not a frame.
	ErrNestingMismatch = errors.New("nesting hostio not preceded by a frame")
	// ErrInvalidEvent is an event that fails structural validation.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrBuilderFailed is returned by a builder that already reported a
	// structural error.
	ErrBuilderFailed = errors.New("builder failed earlier")
)

// StreamError identifies the event at which a stream became malformed.
type StreamError struct {
	Index int
	Event string
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("tracer: malformed stream at event %d %s: %v", e.Index, e.Event, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
