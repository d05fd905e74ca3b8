// Package wire converts between trees and the JSON produced by the node's
// hostio tracer, and between event streams and their JSON capture format.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ppiankov/hostiotrace/internal/hostio"
	"github.com/ppiankov/hostiotrace/internal/model"
)

var (
	ErrNotArray    = errors.New("wire: not an array")
	ErrNotObject   = errors.New("wire: not a valid step")
	ErrMissingKey  = errors.New("wire: object missing key")
	ErrInvalidType = errors.New("wire: unexpected type")
)

// DecodeResult parses a tracer result: a JSON array of step objects.
//
// Hostio steps carry name, args, outs, startInk and endInk. A hostio that
// opened a frame also carries address and steps, and nesting operations
// must. A frame no hostio claimed is named evm_<call kind>.
func DecodeResult(data []byte, nests model.NestingSet) ([]model.Step, error) {
	if nests == nil {
		nests = model.DefaultNestingSet()
	}
	return decodeSteps(json.RawMessage(data), nests, "")
}

func decodeSteps(raw json.RawMessage, nests model.NestingSet, path string) ([]model.Step, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, fmt.Errorf("%w at %q: %s", ErrNotArray, pathOrRoot(path), abbreviate(raw))
	}
	steps := make([]model.Step, 0, len(items))
	for i, item := range items {
		p := fmt.Sprintf("%s/%d", path, i)
		step, err := decodeStep(item, nests, p)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func decodeStep(raw json.RawMessage, nests model.NestingSet, path string) (model.Step, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil || keys == nil {
		return nil, fmt.Errorf("%w at %s: %s", ErrNotObject, path, abbreviate(raw))
	}
	obj := object{keys: keys, path: path}

	name, err := obj.str("name")
	if err != nil {
		return nil, err
	}

	if model.IsFrameName(name) && !hostio.Known(name) {
		frame, err := obj.frame(name, nests)
		if err != nil {
			return nil, err
		}
		return frame, nil
	}

	h := &model.HostIO{Name: name}
	if h.Args, err = obj.hex("args"); err != nil {
		return nil, err
	}
	if h.Outs, err = obj.hex("outs"); err != nil {
		return nil, err
	}
	if h.StartInk, err = obj.number("startInk"); err != nil {
		return nil, err
	}
	if h.EndInk, err = obj.number("endInk"); err != nil {
		return nil, err
	}
	if h.Fields, err = hostio.Decode(name, h.Args, h.Outs); err != nil {
		return nil, fmt.Errorf("wire: %s: %w", path, err)
	}
	if _, ok := keys["steps"]; ok || nests.Contains(name) {
		if h.Subtrace, err = obj.frame(name, nests); err != nil {
			return nil, err
		}
	}
	return h, nil
}

type object struct {
	keys map[string]json.RawMessage
	path string
}

func (o object) get(key string) (json.RawMessage, error) {
	v, ok := o.keys[key]
	if !ok {
		return nil, fmt.Errorf("%w %s at %s", ErrMissingKey, key, o.path)
	}
	return v, nil
}

func (o object) str(key string) (string, error) {
	raw, err := o.get(key)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w for %s at %s: %s", ErrInvalidType, key, o.path, abbreviate(raw))
	}
	return s, nil
}

func (o object) hex(key string) ([]byte, error) {
	s, err := o.str(key)
	if err != nil {
		return nil, err
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("wire: failed to parse %s at %s: %w", key, o.path, err)
	}
	return b, nil
}

func (o object) number(key string) (uint64, error) {
	raw, err := o.get(key)
	if err != nil {
		return 0, err
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w for %s at %s: %s", ErrInvalidType, key, o.path, abbreviate(raw))
	}
	return n, nil
}

func (o object) address(key string) (common.Address, error) {
	b, err := o.hex(key)
	if err != nil {
		return common.Address{}, err
	}
	if len(b) != common.AddressLength {
		return common.Address{}, fmt.Errorf("%w for %s at %s: %d bytes", ErrInvalidType, key, o.path, len(b))
	}
	return common.BytesToAddress(b), nil
}

func (o object) frame(name string, nests model.NestingSet) (*model.Frame, error) {
	addr, err := o.address("address")
	if err != nil {
		return nil, err
	}
	raw, err := o.get("steps")
	if err != nil {
		return nil, err
	}
	steps, err := decodeSteps(raw, nests, o.path)
	if err != nil {
		return nil, err
	}
	return &model.Frame{Address: addr, Kind: model.CallKindForName(name), Steps: steps}, nil
}

// stepJSON fixes the key order of encoded steps.
type stepJSON struct {
	Name     string        `json:"name"`
	Args     hexutil.Bytes `json:"args"`
	Outs     hexutil.Bytes `json:"outs"`
	StartInk uint64        `json:"startInk"`
	EndInk   uint64        `json:"endInk"`
	Address  string        `json:"address,omitempty"`
	Steps    *[]stepJSON   `json:"steps,omitempty"`
}

// EncodeResult renders a tree in the tracer result format. Unclaimed frames
// are emitted with empty buffers and zero ink, as the node reports them.
// Addresses are lowercase hex.
func EncodeResult(steps []model.Step) ([]byte, error) {
	out, err := encodeSteps(steps)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// EncodeResultIndent is EncodeResult with indentation for files and terminals.
func EncodeResultIndent(steps []model.Step) ([]byte, error) {
	raw, err := EncodeResult(steps)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeSteps(steps []model.Step) ([]stepJSON, error) {
	out := make([]stepJSON, 0, len(steps))
	for _, step := range steps {
		switch v := step.(type) {
		case *model.HostIO:
			s, err := encodeHostIO(v)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		case *model.Frame:
			s := stepJSON{Name: v.StepName(), Args: []byte{}, Outs: []byte{}}
			if err := encodeFrame(&s, v); err != nil {
				return nil, err
			}
			out = append(out, s)
		default:
			return nil, fmt.Errorf("wire: unsupported step %T", step)
		}
	}
	return out, nil
}

func encodeHostIO(h *model.HostIO) (stepJSON, error) {
	s := stepJSON{Name: h.Name, Args: h.Args, Outs: h.Outs, StartInk: h.StartInk, EndInk: h.EndInk}
	if h.Args == nil && h.Outs == nil && len(h.Fields) > 0 {
		args, outs, err := hostio.Encode(h.Name, h.Fields)
		if err != nil {
			return stepJSON{}, fmt.Errorf("wire: encode %s: %w", h.Name, err)
		}
		s.Args, s.Outs = args, outs
	}
	if h.Subtrace != nil {
		if err := encodeFrame(&s, h.Subtrace); err != nil {
			return stepJSON{}, err
		}
	}
	return s, nil
}

func encodeFrame(s *stepJSON, f *model.Frame) error {
	inner, err := encodeSteps(f.Steps)
	if err != nil {
		return err
	}
	s.Address = LowerHex(f.Address)
	s.Steps = &inner
	return nil
}

// LowerHex renders an address as 0x-prefixed lowercase hex.
func LowerHex(addr common.Address) string {
	return hexutil.Encode(addr.Bytes())
}

func pathOrRoot(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

func abbreviate(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 64 {
		return s[:61] + "..."
	}
	return s
}
