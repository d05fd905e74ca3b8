// Package reader walks the top-level steps of a traced frame in order,
// matching them against the hostios a local execution expects.
package reader

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/hostiotrace/internal/model"
)

// Bookkeeping hostios the runtime emits on its own. They are skipped while
// looking for an expected hostio.
var skipped = map[string]struct{}{
	"pay_for_memory_grow": {},
	"user_entrypoint":     {},
	"user_returned":       {},
}

// DivergenceError reports that the onchain trace does not match what the
// local execution expected.
type DivergenceError struct {
	Expected string
	// Actual is the step found instead, nil when the trace ran out.
	Actual model.Step
	// Frame is the traced call target, zero for a contract deployment.
	Frame common.Address
}

func (e *DivergenceError) Error() string {
	which := "contract deployment"
	if e.Frame != (common.Address{}) {
		which = "call to " + e.Frame.Hex()
	}
	if e.Actual == nil {
		return fmt.Sprintf("divergence while simulating a %s: expected %s, but no such call is made onchain", which, e.Expected)
	}
	return fmt.Sprintf("divergence while simulating a %s: expected %s, but onchain there's a call to %s", which, e.Expected, describe(e.Actual))
}

func describe(step model.Step) string {
	switch v := step.(type) {
	case *model.HostIO:
		if len(v.Fields) == 0 {
			return v.Name
		}
		return v.Name + " {" + v.Fields.String() + "}"
	case *model.Frame:
		return v.StepName() + " " + v.Address.Hex()
	}
	return step.StepName()
}

// FrameReader is a cursor over one frame's steps.
type FrameReader struct {
	frame *model.Frame
	pos   int
}

// New returns a reader positioned before the first step.
func New(frame *model.Frame) *FrameReader {
	if frame == nil {
		frame = &model.Frame{}
	}
	return &FrameReader{frame: frame}
}

// Next returns the next step named expected. Bookkeeping hostios in between
// are skipped; any other step is a divergence.
func (r *FrameReader) Next(expected string) (model.Step, error) {
	for r.pos < len(r.frame.Steps) {
		step := r.frame.Steps[r.pos]
		r.pos++
		name := step.StepName()
		if name == expected {
			return step, nil
		}
		if _, ok := skipped[name]; ok {
			continue
		}
		return nil, &DivergenceError{Expected: expected, Actual: step, Frame: r.frame.Address}
	}
	return nil, &DivergenceError{Expected: expected, Frame: r.frame.Address}
}

// Expect consumes the named steps in order and returns the first divergence.
func (r *FrameReader) Expect(names ...string) error {
	for _, name := range names {
		if _, err := r.Next(name); err != nil {
			return err
		}
	}
	return nil
}

// Remaining is the number of steps not yet consumed.
func (r *FrameReader) Remaining() int {
	return len(r.frame.Steps) - r.pos
}

// Rest returns the unconsumed steps that are not bookkeeping hostios.
func (r *FrameReader) Rest() []string {
	var names []string
	for _, step := range r.frame.Steps[r.pos:] {
		if _, ok := skipped[step.StepName()]; !ok {
			names = append(names, step.StepName())
		}
	}
	return names
}
