package reader

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/hostiotrace/internal/model"
)

var target = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func frame(names ...string) *model.Frame {
	f := &model.Frame{Address: target}
	for _, n := range names {
		f.Steps = append(f.Steps, &model.HostIO{Name: n})
	}
	return f
}

func TestNextSkipsBookkeeping(t *testing.T) {
	r := New(frame("user_entrypoint", "pay_for_memory_grow", "read_args", "write_result", "user_returned"))
	if err := r.Expect("read_args", "write_result"); err != nil {
		t.Fatal(err)
	}
	if r.Remaining() != 1 || len(r.Rest()) != 0 {
		t.Errorf("remaining = %d, rest = %v", r.Remaining(), r.Rest())
	}
}

func TestNextReportsDivergence(t *testing.T) {
	r := New(frame("user_entrypoint", "msg_sender"))
	_, err := r.Next("read_args")
	var div *DivergenceError
	if !errors.As(err, &div) {
		t.Fatalf("expected DivergenceError, got %v", err)
	}
	if div.Expected != "read_args" || div.Actual.StepName() != "msg_sender" || div.Frame != target {
		t.Errorf("unexpected divergence %+v", div)
	}
	if !strings.Contains(err.Error(), "call to "+target.Hex()) || !strings.Contains(err.Error(), "msg_sender") {
		t.Errorf("unexpected message %q", err)
	}
}

func TestNextExhausted(t *testing.T) {
	r := New(&model.Frame{Steps: []model.Step{&model.HostIO{Name: "user_returned"}}})
	_, err := r.Next("write_result")
	var div *DivergenceError
	if !errors.As(err, &div) || div.Actual != nil {
		t.Fatalf("expected exhausted divergence, got %v", err)
	}
	if !strings.Contains(err.Error(), "contract deployment") || !strings.Contains(err.Error(), "no such call") {
		t.Errorf("unexpected message %q", err)
	}
}

func TestNextMatchesUnclaimedFrames(t *testing.T) {
	f := frame("read_args")
	f.Steps = append(f.Steps, &model.Frame{Address: target, Kind: model.CallKindStaticCall})
	r := New(f)
	step, err := r.Next("evm_static_call_contract")
	if err == nil {
		t.Fatalf("read_args must diverge first, got %v", step)
	}

	r = New(f)
	if err := r.Expect("read_args", "evm_static_call_contract"); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestNilFrame(t *testing.T) {
	if _, err := New(nil).Next("read_args"); err == nil {
		t.Error("expected divergence on empty reader")
	}
}
