package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ppiankov/hostiotrace/internal/hostio"
	"github.com/ppiankov/hostiotrace/internal/model"
)

// eventJSON is one element of an event-stream capture.
//
//	{"type":"hostio","name":"read_args","args":"0x","outs":"0x01","startInk":10,"endInk":5}
//	{"type":"enter","address":"0x...","callType":"CALL"}
//	{"type":"exit","success":true,"output":"0x"}
type eventJSON struct {
	Type     string         `json:"type"`
	Name     string         `json:"name,omitempty"`
	Args     *hexutil.Bytes `json:"args,omitempty"`
	Outs     *hexutil.Bytes `json:"outs,omitempty"`
	StartInk *uint64        `json:"startInk,omitempty"`
	EndInk   *uint64        `json:"endInk,omitempty"`
	Address  string         `json:"address,omitempty"`
	CallType string         `json:"callType,omitempty"`
	Success  *bool          `json:"success,omitempty"`
	Output   *hexutil.Bytes `json:"output,omitempty"`
}

// DecodeEvents parses an event-stream capture: a JSON array of tagged events.
// Hostio fields are decoded from args and outs. An exit without "success"
// is treated as successful.
func DecodeEvents(data []byte) ([]model.Event, error) {
	var items []eventJSON
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("wire: decode events: %w", err)
	}
	if items == nil {
		return nil, fmt.Errorf("%w: event stream", ErrNotArray)
	}
	events := make([]model.Event, 0, len(items))
	for i, item := range items {
		ev, err := item.event()
		if err != nil {
			return nil, fmt.Errorf("wire: event %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (e eventJSON) event() (model.Event, error) {
	kind, err := model.ParseEventKind(e.Type)
	if err != nil {
		return model.Event{}, err
	}
	switch kind {
	case model.EventHostIO:
		if e.Name == "" {
			return model.Event{}, fmt.Errorf("%w name", ErrMissingKey)
		}
		h := &model.HostIO{Name: e.Name, Args: deref(e.Args), Outs: deref(e.Outs)}
		if e.StartInk != nil {
			h.StartInk = *e.StartInk
		}
		if e.EndInk != nil {
			h.EndInk = *e.EndInk
		}
		if h.Fields, err = hostio.Decode(h.Name, h.Args, h.Outs); err != nil {
			return model.Event{}, err
		}
		return model.HostIOEvent(h), nil

	case model.EventEnter:
		if e.Address == "" {
			return model.Event{}, fmt.Errorf("%w address", ErrMissingKey)
		}
		b, err := hexutil.Decode(e.Address)
		if err != nil {
			return model.Event{}, fmt.Errorf("wire: failed to parse address: %w", err)
		}
		if len(b) != common.AddressLength {
			return model.Event{}, fmt.Errorf("%w for address: %d bytes", ErrInvalidType, len(b))
		}
		return model.EnterEvent(common.BytesToAddress(b), model.CallKind(strings.ToUpper(e.CallType))), nil

	default:
		outcome := model.Outcome{Success: true}
		if e.Output != nil {
			outcome.Output = *e.Output
		}
		if e.Success != nil {
			outcome.Success = *e.Success
		}
		return model.ExitEvent(outcome), nil
	}
}

func deref(b *hexutil.Bytes) []byte {
	if b == nil {
		return []byte{}
	}
	return *b
}

// EncodeEvents renders events in the capture format, one event per line.
func EncodeEvents(events []model.Event) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("[")
	for i, ev := range events {
		item, err := encodeEvent(ev)
		if err != nil {
			return nil, fmt.Errorf("wire: event %d: %w", i, err)
		}
		line, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		buf.Write(line)
	}
	if len(events) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")
	return buf.Bytes(), nil
}

func encodeEvent(ev model.Event) (eventJSON, error) {
	if err := ev.Validate(); err != nil {
		return eventJSON{}, err
	}
	item := eventJSON{Type: ev.Kind.String()}
	switch ev.Kind {
	case model.EventHostIO:
		h := ev.HostIO
		args, outs := h.Args, h.Outs
		if args == nil && outs == nil && len(h.Fields) > 0 {
			var err error
			if args, outs, err = hostio.Encode(h.Name, h.Fields); err != nil {
				return eventJSON{}, err
			}
		}
		a, o := hexutil.Bytes(args), hexutil.Bytes(outs)
		start, end := h.StartInk, h.EndInk
		item.Name, item.Args, item.Outs = h.Name, &a, &o
		item.StartInk, item.EndInk = &start, &end
	case model.EventEnter:
		item.Address = LowerHex(ev.Address)
		item.CallType = string(ev.CallKind)
	case model.EventExit:
		success := ev.Outcome.Success
		item.Success = &success
		if len(ev.Outcome.Output) > 0 {
			out := hexutil.Bytes(ev.Outcome.Output)
			item.Output = &out
		}
	}
	return item, nil
}

// Flatten turns a tree back into the event stream that produces it. A
// nesting hostio's subtrace is emitted as an enter/exit bracket immediately
// before the hostio itself. Every frame is closed with a successful exit;
// use FlattenOpen for the root of a partial result.
func Flatten(steps []model.Step) []model.Event {
	return FlattenOpen(steps, 0)
}

// FlattenOpen is Flatten for a partial tree whose last depth frames on the
// rightmost path never closed: their exits are left out, so the stream
// rebuilds to the same partial result.
func FlattenOpen(steps []model.Step, depth int) []model.Event {
	var events []model.Event
	flattenInto(&events, steps, depth)
	return events
}

func flattenInto(events *[]model.Event, steps []model.Step, open int) {
	for i, step := range steps {
		switch v := step.(type) {
		case *model.HostIO:
			if v.Subtrace != nil {
				flattenFrame(events, v.Subtrace, 0)
			}
			h := v.Clone()
			h.Subtrace = nil
			*events = append(*events, model.HostIOEvent(h))
		case *model.Frame:
			if i == len(steps)-1 {
				flattenFrame(events, v, open)
			} else {
				flattenFrame(events, v, 0)
			}
		}
	}
}

// flattenFrame emits f; open counts the frames from f inward that are
// still open.
func flattenFrame(events *[]model.Event, f *model.Frame, open int) {
	*events = append(*events, model.EnterEvent(f.Address, f.Kind))
	inner := 0
	if open > 1 {
		inner = open - 1
	}
	flattenInto(events, f.Steps, inner)
	if open == 0 {
		*events = append(*events, model.ExitEvent(model.Outcome{Success: true}))
	}
}
