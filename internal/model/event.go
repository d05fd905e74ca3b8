package model

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind discriminates the three trace event variants.
type EventKind uint8

const (
	EventHostIO EventKind = iota + 1
	EventEnter
	EventExit
)

func (k EventKind) String() string {
	switch k {
	case EventHostIO:
		return "hostio"
	case EventEnter:
		return "enter"
	case EventExit:
		return "exit"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// ParseEventKind maps the wire tag back to an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "hostio":
		return EventHostIO, nil
	case "enter":
		return EventEnter, nil
	case "exit":
		return EventExit, nil
	}
	return 0, fmt.Errorf("model: unknown event type %q", s)
}

var (
	ErrUnknownEvent  = errors.New("unknown event kind")
	ErrMissingHostIO = errors.New("hostio event without operation record")
	ErrEmptyName     = errors.New("hostio name is empty")
)

// Outcome is the result reported when a frame exits. The builder only uses it
// to mark closure.
type Outcome struct {
	Success bool
	Output  []byte
}

// Event is one element of the flat, time-ordered execution stream.
type Event struct {
	Kind EventKind

	// HostIO is set for EventHostIO.
	HostIO *HostIO

	// Address and CallKind are set for EventEnter.
	Address  common.Address
	CallKind CallKind

	// Outcome is set for EventExit.
	Outcome Outcome
}

// HostIOEvent wraps a hostio record.
func HostIOEvent(info *HostIO) Event {
	return Event{Kind: EventHostIO, HostIO: info}
}

// EnterEvent opens a frame directed at addr.
func EnterEvent(addr common.Address, kind CallKind) Event {
	return Event{Kind: EventEnter, Address: addr, CallKind: kind}
}

// ExitEvent closes the innermost frame.
func ExitEvent(outcome Outcome) Event {
	return Event{Kind: EventExit, Outcome: outcome}
}

// Validate checks the structural requirements of a single event. Any
// address, the zero address included, is a valid Enter target.
func (e Event) Validate() error {
	switch e.Kind {
	case EventHostIO:
		if e.HostIO == nil {
			return ErrMissingHostIO
		}
		if e.HostIO.Name == "" {
			return ErrEmptyName
		}
	case EventEnter, EventExit:
	default:
		return ErrUnknownEvent
	}
	return nil
}

func (e Event) String() string {
	switch e.Kind {
	case EventHostIO:
		if e.HostIO == nil {
			return "hostio(<nil>)"
		}
		return "hostio(" + e.HostIO.Name + ")"
	case EventEnter:
		return "enter(" + e.Address.Hex() + ")"
	case EventExit:
		if e.Outcome.Success {
			return "exit(ok)"
		}
		return "exit(fail)"
	}
	return e.Kind.String()
}
