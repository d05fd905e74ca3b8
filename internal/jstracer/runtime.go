package jstracer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dop251/goja"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ppiankov/hostiotrace/internal/model"
)

var ErrMissingHook = errors.New("jstracer: definition lacks hook")

var hookNames = []string{"hostio", "enter", "exit", "result", "fault"}

// Runtime executes a tracer definition locally. Events are delivered to the
// definition's hooks the way the node delivers them. A Runtime is not safe
// for concurrent use.
type Runtime struct {
	vm    *goja.Runtime
	obj   *goja.Object
	hooks map[string]goja.Callable

	u8        goja.Value
	stringify goja.Callable
}

// New compiles a definition. The definition is an object literal with the
// hostio, enter, exit, result and fault hooks.
func New(definition string) (*Runtime, error) {
	vm := goja.New()
	r := &Runtime{vm: vm, hooks: make(map[string]goja.Callable, len(hookNames))}

	if err := vm.Set("toHex", r.toHex); err != nil {
		return nil, fmt.Errorf("jstracer: install toHex: %w", err)
	}
	val, err := vm.RunString("(" + definition + ")")
	if err != nil {
		return nil, fmt.Errorf("jstracer: compile: %w", err)
	}
	obj, ok := val.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("jstracer: definition is not an object")
	}
	r.obj = obj
	for _, name := range hookNames {
		fn, ok := goja.AssertFunction(obj.Get(name))
		if !ok {
			return nil, fmt.Errorf("%w %s", ErrMissingHook, name)
		}
		r.hooks[name] = fn
	}

	r.u8 = vm.Get("Uint8Array")
	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, fmt.Errorf("jstracer: JSON.stringify unavailable")
	}
	r.stringify = stringify
	return r, nil
}

// Process delivers one event to the matching hook.
func (r *Runtime) Process(ev model.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("jstracer: %s: %w", ev, err)
	}
	var (
		hook string
		arg  goja.Value
		err  error
	)
	switch ev.Kind {
	case model.EventHostIO:
		hook = "hostio"
		arg, err = r.hostioInfo(ev.HostIO)
	case model.EventEnter:
		hook = "enter"
		arg, err = r.callFrame(ev)
	case model.EventExit:
		hook = "exit"
		arg, err = r.frameResult(ev.Outcome)
	}
	if err != nil {
		return fmt.Errorf("jstracer: build %s argument: %w", hook, err)
	}
	if _, err := r.hooks[hook](r.obj, arg); err != nil {
		return fmt.Errorf("jstracer: %s: %w", ev, err)
	}
	return nil
}

// Result calls the result hook and returns its JSON encoding.
func (r *Runtime) Result() (json.RawMessage, error) {
	return r.finish("result")
}

// Fault calls the fault hook, which the node uses when execution aborts.
func (r *Runtime) Fault() (json.RawMessage, error) {
	return r.finish("fault")
}

// Interrupt aborts the hook currently running, if any, and every later call.
func (r *Runtime) Interrupt(reason any) {
	r.vm.Interrupt(reason)
}

func (r *Runtime) finish(hook string) (json.RawMessage, error) {
	val, err := r.hooks[hook](r.obj, goja.Undefined(), goja.Undefined())
	if err != nil {
		return nil, fmt.Errorf("jstracer: %s: %w", hook, err)
	}
	out, err := r.stringify(goja.Undefined(), val)
	if err != nil {
		return nil, fmt.Errorf("jstracer: encode %s: %w", hook, err)
	}
	if goja.IsUndefined(out) {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(out.String()), nil
}

func (r *Runtime) bytes(b []byte) (goja.Value, error) {
	buf := r.vm.NewArrayBuffer(append([]byte{}, b...))
	obj, err := r.vm.New(r.u8, r.vm.ToValue(buf))
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (r *Runtime) hostioInfo(h *model.HostIO) (goja.Value, error) {
	args, err := r.bytes(h.Args)
	if err != nil {
		return nil, err
	}
	outs, err := r.bytes(h.Outs)
	if err != nil {
		return nil, err
	}
	info := r.vm.NewObject()
	for _, kv := range []struct {
		key string
		val any
	}{
		{"name", h.Name},
		{"args", args},
		{"outs", outs},
		{"startInk", h.StartInk},
		{"endInk", h.EndInk},
	} {
		if err := info.Set(kv.key, kv.val); err != nil {
			return nil, err
		}
	}
	return info, nil
}

func (r *Runtime) callFrame(ev model.Event) (goja.Value, error) {
	to, err := r.bytes(ev.Address.Bytes())
	if err != nil {
		return nil, err
	}
	frame := r.vm.NewObject()
	if err := frame.Set("getType", func() string { return string(ev.CallKind) }); err != nil {
		return nil, err
	}
	if err := frame.Set("getTo", func() goja.Value { return to }); err != nil {
		return nil, err
	}
	return frame, nil
}

func (r *Runtime) frameResult(out model.Outcome) (goja.Value, error) {
	output, err := r.bytes(out.Output)
	if err != nil {
		return nil, err
	}
	res := r.vm.NewObject()
	if err := res.Set("getOutput", func() goja.Value { return output }); err != nil {
		return nil, err
	}
	if err := res.Set("getGasUsed", func() uint64 { return 0 }); err != nil {
		return nil, err
	}
	if err := res.Set("getError", func() goja.Value {
		if out.Success {
			return goja.Undefined()
		}
		return r.vm.ToValue("execution reverted")
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// toHex mirrors the node's builtin: it renders a byte array as 0x-hex.
func (r *Runtime) toHex(call goja.FunctionCall) goja.Value {
	b, err := r.toBytes(call.Argument(0))
	if err != nil {
		panic(r.vm.NewTypeError(err.Error()))
	}
	return r.vm.ToValue(hexutil.Encode(b))
}

func (r *Runtime) toBytes(v goja.Value) ([]byte, error) {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, errors.New("toHex: missing argument")
	}
	switch x := v.Export().(type) {
	case goja.ArrayBuffer:
		return x.Bytes(), nil
	case []byte:
		return x, nil
	case string:
		return hexutil.Decode(x)
	}
	obj := v.ToObject(r.vm)
	n := obj.Get("length")
	if n == nil || goja.IsUndefined(n) {
		return nil, errors.New("toHex: argument is not array-like")
	}
	b := make([]byte, n.ToInteger())
	for i := range b {
		b[i] = byte(obj.Get(strconv.Itoa(i)).ToInteger())
	}
	return b, nil
}

// Run drives a fresh runtime with events and returns the result hook's
// output. If ctx ends first the runtime is interrupted and the fault hook
// is not called.
func Run(ctx context.Context, definition string, events []model.Event) (json.RawMessage, error) {
	r, err := New(definition)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { r.Interrupt(ctx.Err()) })
	defer stop()

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.Process(ev); err != nil {
			return nil, err
		}
	}
	return r.Result()
}
