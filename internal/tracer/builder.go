package tracer

import (
	"fmt"

	"github.com/ppiankov/hostiotrace/internal/model"
)

// Builder reduces a flat event stream into a tree of frames and hostio records.
//
// The builder keeps a stack of saved step lists and the list currently being
// appended to. Enter descends one level, Exit ascends, HostIO appends at the
// current level. It is not safe for concurrent use; run one builder per
// traced execution.
type Builder struct {
	nests model.NestingSet
	root  []model.Step
	open  *[]model.Step
	stack []*[]model.Step

	processed int
	err       error
}

// NewBuilder returns a builder in the balanced state. A nil set uses the
// default nesting operations.
func NewBuilder(nests model.NestingSet) *Builder {
	if nests == nil {
		nests = model.DefaultNestingSet()
	}
	b := &Builder{nests: nests}
	b.open = &b.root
	return b
}

// Process consumes one event. Structural errors are returned as *StreamError
// and poison the builder: every later call returns ErrBuilderFailed.
func (b *Builder) Process(ev model.Event) error {
	if b.err != nil {
		return fmt.Errorf("%w: %w", ErrBuilderFailed, b.err)
	}
	index := b.processed
	b.processed++

	if err := ev.Validate(); err != nil {
		return b.fail(index, ev, fmt.Errorf("%w: %w", ErrInvalidEvent, err))
	}

	switch ev.Kind {
	case model.EventEnter:
		frame := &model.Frame{Address: ev.Address, Kind: ev.CallKind, Steps: []model.Step{}}
		*b.open = append(*b.open, frame)
		b.stack = append(b.stack, b.open)
		b.open = &frame.Steps

	case model.EventExit:
		n := len(b.stack)
		if n == 0 {
			return b.fail(index, ev, ErrStackUnderflow)
		}
		b.open = b.stack[n-1]
		b.stack[n-1] = nil
		b.stack = b.stack[:n-1]

	case model.EventHostIO:
		// The tree owns its records: nothing is shared with the caller's event.
		src := *ev.HostIO
		src.Subtrace = nil
		info := src.Clone()
		if b.nests.Contains(info.Name) {
			steps := *b.open
			if len(steps) == 0 {
				return b.fail(index, ev, fmt.Errorf("%w: %s has no preceding step", ErrNestingMismatch, info.Name))
			}
			frame, ok := steps[len(steps)-1].(*model.Frame)
			if !ok {
				return b.fail(index, ev, fmt.Errorf("%w: %s preceded by hostio %s", ErrNestingMismatch, info.Name, steps[len(steps)-1].StepName()))
			}
			steps[len(steps)-1] = nil
			*b.open = steps[:len(steps)-1]
			info.Subtrace = frame
		}
		*b.open = append(*b.open, info)
	}
	return nil
}

// ProcessAll feeds events in order and stops at the first error.
func (b *Builder) ProcessAll(events []model.Event) error {
	for _, ev := range events {
		if err := b.Process(ev); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns a copy of the step list currently being appended to. After
// a balanced stream this is the root tree. While frames are still open it is
// the innermost open frame's steps only; use Root for the full tree.
func (b *Builder) Snapshot() []model.Step {
	return model.CloneSteps(*b.open)
}

// Root returns a copy of the root step list regardless of nesting depth.
// Open frames appear in it with the steps received so far.
func (b *Builder) Root() []model.Step {
	return model.CloneSteps(b.root)
}

// Depth is the number of frames entered and not yet exited.
func (b *Builder) Depth() int {
	return len(b.stack)
}

// Balanced reports whether every entered frame has exited.
func (b *Builder) Balanced() bool {
	return len(b.stack) == 0
}

// Processed is the number of events consumed, including a failing one.
func (b *Builder) Processed() int {
	return b.processed
}

// Err returns the structural error that poisoned the builder, if any.
func (b *Builder) Err() error {
	return b.err
}

// Result is the outcome of a finished stream.
type Result struct {
	// Snapshot is the literal accessor view (innermost open list).
	Snapshot []model.Step
	// Root is the full tree from the root level.
	Root []model.Step
	// Partial is set when the stream ended with frames still open.
	Partial bool
	// Depth is the number of frames open at end of input.
	Depth  int
	Events int
}

// Finish ends the stream. An unbalanced stream is not an error; it yields a
// partial result. A poisoned builder returns its error and no tree.
func (b *Builder) Finish() (*Result, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &Result{
		Snapshot: b.Snapshot(),
		Root:     b.Root(),
		Partial:  !b.Balanced(),
		Depth:    b.Depth(),
		Events:   b.processed,
	}, nil
}

func (b *Builder) fail(index int, ev model.Event, err error) error {
	b.err = &StreamError{Index: index, Event: ev.String(), Err: err}
	return b.err
}

// Build runs events through a fresh builder.
func Build(nests model.NestingSet, events []model.Event) (*Result, error) {
	b := NewBuilder(nests)
	if err := b.ProcessAll(events); err != nil {
		return nil, err
	}
	return b.Finish()
}
