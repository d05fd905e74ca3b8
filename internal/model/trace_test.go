package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestEventValidate(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tests := []struct {
		name string
		ev   Event
		want error
	}{
		{"hostio", HostIOEvent(&HostIO{Name: "read_args"}), nil},
		{"hostio nil record", Event{Kind: EventHostIO}, ErrMissingHostIO},
		{"hostio empty name", HostIOEvent(&HostIO{}), ErrEmptyName},
		{"enter", EnterEvent(addr, CallKindCall), nil},
		{"enter zero address", EnterEvent(common.Address{}, CallKindCall), nil},
		{"exit", ExitEvent(Outcome{Success: true}), nil},
		{"unknown", Event{}, ErrUnknownEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.ev.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseEventKind(t *testing.T) {
	for _, k := range []EventKind{EventHostIO, EventEnter, EventExit} {
		got, err := ParseEventKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseEventKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseEventKind("call"); err == nil {
		t.Error("expected error for unknown tag")
	}
}

func TestNestingSet(t *testing.T) {
	set := DefaultNestingSet()
	for _, n := range DefaultNestingOps {
		if !set.Contains(n) {
			t.Errorf("default set missing %s", n)
		}
	}
	if set.Contains("storage_load_bytes32") {
		t.Error("storage_load_bytes32 must not nest")
	}
	if _, err := NewNestingSet("call_contract", ""); err == nil {
		t.Error("expected error for empty name")
	}
	names := set.Names()
	if names[0] != "call_contract" || names[2] != "static_call_contract" {
		t.Errorf("Names not sorted: %v", names)
	}
}

func TestFieldsOrderedJSON(t *testing.T) {
	addr := common.HexToAddress("0xdeaddeaddeaddeaddeaddeaddeaddeaddeaddead")
	f := Fields{
		{Key: "address", Value: AddressValue(addr)},
		{Key: "gas", Value: Uint64Value(255)},
		{Key: "value", Value: IntValue(uint256.NewInt(65535))},
		{Key: "data", Value: BytesValue([]byte{0xbe, 0xef})},
		{Key: "reentrant", Value: BoolValue(true)},
	}
	out, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"address":"` + addr.Hex() + `","gas":"255","value":"65535","data":"0xbeef","reentrant":true}`
	if string(out) != want {
		t.Errorf("got  %s\nwant %s", out, want)
	}
	if got := f.Keys(); len(got) != 5 || got[3] != "data" {
		t.Errorf("Keys() = %v", got)
	}
	if v, ok := f.Get("gas"); !ok {
		t.Error("gas missing")
	} else if n, ok := v.Uint64(); !ok || n != 255 {
		t.Errorf("gas = %v", v)
	}
}

func TestCloneIsDeep(t *testing.T) {
	inner := &Frame{Address: common.HexToAddress("0x01"), Steps: []Step{&HostIO{Name: "storage_load_bytes32", Args: []byte{1}}}}
	steps := []Step{&HostIO{Name: "call_contract", Subtrace: inner}}

	cp := CloneSteps(steps)
	cp[0].(*HostIO).Subtrace.Steps[0].(*HostIO).Args[0] = 9
	cp[0].(*HostIO).Subtrace.Steps = nil

	if inner.Steps[0].(*HostIO).Args[0] != 1 {
		t.Error("clone shares args buffer")
	}
	if len(inner.Steps) != 1 {
		t.Error("clone shares step list")
	}
}

func TestCount(t *testing.T) {
	steps := []Step{
		&HostIO{Name: "read_args", StartInk: 100, EndInk: 90},
		&HostIO{Name: "call_contract", StartInk: 90, EndInk: 40, Subtrace: &Frame{
			Steps: []Step{
				&HostIO{Name: "storage_load_bytes32", StartInk: 80, EndInk: 70},
				&Frame{Steps: []Step{}},
			},
		}},
	}
	got := Count(steps)
	want := Stats{HostIOs: 3, Frames: 2, MaxDepth: 2, InkUsed: 60}
	if got != want {
		t.Errorf("Count() = %+v, want %+v", got, want)
	}
}

func TestCallKindNames(t *testing.T) {
	if CallKindStaticCall.FrameName() != "evm_static_call_contract" {
		t.Errorf("FrameName = %q", CallKindStaticCall.FrameName())
	}
	if CallKindForName("evm_create2") != CallKindCreate2 {
		t.Error("evm_create2 should map to CREATE2")
	}
	if CallKindForName("delegate_call_contract") != CallKindDelegateCall {
		t.Error("delegate_call_contract should map to DELEGATECALL")
	}
	if CallKindForName("read_args") != CallKindNone {
		t.Error("plain hostio names carry no call kind")
	}
}

func TestFrameNamesRoundTrip(t *testing.T) {
	kinds := []CallKind{
		CallKindNone, CallKindCall, CallKindCallCode, CallKindDelegateCall,
		CallKindStaticCall, CallKindCreate, CallKindCreate2, CallKindSelfDestruct,
		CallKind("FUTURECALL"),
	}
	for _, k := range kinds {
		name := k.FrameName()
		if !IsFrameName(name) {
			t.Errorf("%q: frame name %q lacks evm_ prefix", k, name)
		}
		if got := CallKindForName(name); got != k {
			t.Errorf("CallKindForName(%q) = %q, want %q", name, got, k)
		}
	}
}
