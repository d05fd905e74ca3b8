package model

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CallKind is the EVM call type reported by the tracer when a frame is entered.
type CallKind string

const (
	CallKindNone         CallKind = ""
	CallKindCall         CallKind = "CALL"
	CallKindCallCode     CallKind = "CALLCODE"
	CallKindDelegateCall CallKind = "DELEGATECALL"
	CallKindStaticCall   CallKind = "STATICCALL"
	CallKindCreate       CallKind = "CREATE"
	CallKindCreate2      CallKind = "CREATE2"
	CallKindSelfDestruct CallKind = "SELFDESTRUCT"
)

var frameNames = map[CallKind]string{
	CallKindCall:         "evm_call_contract",
	CallKindCallCode:     "evm_call_code",
	CallKindDelegateCall: "evm_delegate_call_contract",
	CallKindStaticCall:   "evm_static_call_contract",
	CallKindCreate:       "evm_create1",
	CallKindCreate2:      "evm_create2",
	CallKindSelfDestruct: "evm_self_destruct",
}

// FrameName is the step name used for a frame no hostio claimed. Kinds
// without a fixed name map to "evm_" plus the lowercased kind.
func (k CallKind) FrameName() string {
	if n, ok := frameNames[k]; ok {
		return n
	}
	if k == CallKindNone {
		return unknownFrameName
	}
	return "evm_" + strings.ToLower(string(k))
}

const unknownFrameName = "evm_frame"

// CallKindForName inverts FrameName. It also maps the nesting hostio names
// to the call type they perform. Names that are neither yield CallKindNone.
func CallKindForName(name string) CallKind {
	for kind, n := range frameNames {
		if n == name {
			return kind
		}
	}
	switch name {
	case "call_contract":
		return CallKindCall
	case "delegate_call_contract":
		return CallKindDelegateCall
	case "static_call_contract":
		return CallKindStaticCall
	case unknownFrameName:
		return CallKindNone
	}
	if IsFrameName(name) {
		return CallKind(strings.ToUpper(strings.TrimPrefix(name, "evm_")))
	}
	return CallKindNone
}

// IsFrameName reports whether name denotes an unclaimed EVM frame.
func IsFrameName(name string) bool {
	return strings.HasPrefix(name, "evm_")
}

// Step is one entry of a frame's ordered step list: a *HostIO or a *Frame.
type Step interface {
	// StepName is the hostio name, or the frame name for frames.
	StepName() string
	cloneStep() Step
}

// HostIO records a single host-operation invocation.
type HostIO struct {
	Name     string
	Args     []byte
	Outs     []byte
	StartInk uint64
	EndInk   uint64
	Fields   Fields

	// Subtrace is set only for nesting operations and holds the frame the
	// operation opened.
	Subtrace *Frame
}

// StepName implements Step.
func (h *HostIO) StepName() string { return h.Name }

// InkUsed is the ink consumed by the operation, zero if the counters are inverted.
func (h *HostIO) InkUsed() uint64 {
	if h.EndInk > h.StartInk {
		return 0
	}
	return h.StartInk - h.EndInk
}

// Clone deep-copies the record including its subtrace.
func (h *HostIO) Clone() *HostIO {
	if h == nil {
		return nil
	}
	out := *h
	out.Args = common.CopyBytes(h.Args)
	out.Outs = common.CopyBytes(h.Outs)
	out.Fields = h.Fields.Clone()
	out.Subtrace = h.Subtrace.Clone()
	return &out
}

func (h *HostIO) cloneStep() Step { return h.Clone() }

// Frame is a call frame: the target address and everything that happened inside it.
type Frame struct {
	Address common.Address
	Kind    CallKind
	Steps   []Step
}

// StepName implements Step.
func (f *Frame) StepName() string { return f.Kind.FrameName() }

// Clone deep-copies the frame and all nested steps.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	return &Frame{Address: f.Address, Kind: f.Kind, Steps: CloneSteps(f.Steps)}
}

func (f *Frame) cloneStep() Step { return f.Clone() }

// CloneSteps deep-copies a step list. The result is never nil.
func CloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s.cloneStep()
	}
	return out
}

// Stats summarizes the shape of a tree.
type Stats struct {
	HostIOs  int    `json:"hostios"`
	Frames   int    `json:"frames"`
	MaxDepth int    `json:"max_depth"`
	InkUsed  uint64 `json:"ink_used"`
}

// Count walks the tree and returns its stats. Ink is summed over top-level
// hostios only, since nested ink is already included in the caller's counters.
func Count(steps []Step) Stats {
	var s Stats
	countInto(&s, steps, 0)
	for _, step := range steps {
		if h, ok := step.(*HostIO); ok {
			s.InkUsed += h.InkUsed()
		}
	}
	return s
}

func countInto(s *Stats, steps []Step, depth int) {
	if depth > s.MaxDepth {
		s.MaxDepth = depth
	}
	for _, step := range steps {
		switch v := step.(type) {
		case *HostIO:
			s.HostIOs++
			if v.Subtrace != nil {
				s.Frames++
				countInto(s, v.Subtrace.Steps, depth+1)
			}
		case *Frame:
			s.Frames++
			countInto(s, v.Steps, depth+1)
		}
	}
}
