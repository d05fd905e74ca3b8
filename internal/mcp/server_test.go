package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/go-cmp/cmp"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/hostiotrace/internal/audit"
	"github.com/ppiankov/hostiotrace/internal/jstracer"
	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/node"
)

const nestedCapture = `[
  {"type":"hostio","name":"read_args","args":"0x","outs":"0x01","startInk":100,"endInk":90},
  {"type":"enter","address":"0x00000000000000000000000000000000000000aa","callType":"STATICCALL"},
  {"type":"hostio","name":"read_args","args":"0x","outs":"0x","startInk":50,"endInk":40},
  {"type":"exit","success":true},
  {"type":"hostio","name":"static_call_contract","args":"0x00000000000000000000000000000000000000aa0000000000000000","outs":"0x0000000000","startInk":80,"endInk":20}
]`

const nestedResult = `[
  {"name":"read_args","args":"0x","outs":"0x01","startInk":100,"endInk":90},
  {"name":"static_call_contract","args":"0x00000000000000000000000000000000000000aa0000000000000000","outs":"0x0000000000","startInk":80,"endInk":20,
   "address":"0x00000000000000000000000000000000000000aa",
   "steps":[{"name":"read_args","args":"0x","outs":"0x","startInk":50,"endInk":40}]}
]`

var nestedStats = model.Stats{HostIOs: 3, Frames: 1, MaxDepth: 1, InkUsed: 70}

type testEnv struct {
	srv   *Server
	audit string
}

func newTestServer(t *testing.T, configBody string, n *node.Client) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if configBody != "" {
		if err := os.WriteFile(cfgPath, []byte(configBody), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	env := &testEnv{audit: filepath.Join(dir, "audit.jsonl")}
	s, err := New(Config{ConfigPath: cfgPath, AuditLogPath: env.audit, Node: n})
	if err != nil {
		t.Fatalf("failed to create MCP server: %v", err)
	}
	env.srv = s
	t.Cleanup(func() { s.Close() })
	return env
}

func (e *testEnv) entries(t *testing.T) []audit.Entry {
	t.Helper()
	e.srv.Close()
	res, err := audit.Replay(e.audit, audit.ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	return res.Entries
}

func TestReconstruct(t *testing.T) {
	env := newTestServer(t, "", nil)
	result, out, err := env.srv.handleReconstruct(context.Background(), &mcpsdk.CallToolRequest{}, ReconstructInput{
		Events:  nestedCapture,
		Subject: "capture.json",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatalf("expected success, got error result: %s", out.Error)
	}
	if out.Partial || out.Depth != 0 {
		t.Errorf("partial=%v depth=%d", out.Partial, out.Depth)
	}
	if diff := cmp.Diff(nestedStats, out.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if len(out.Issues) != 0 {
		t.Errorf("unexpected issues %v", out.Issues)
	}

	var want any
	if err := json.Unmarshal([]byte(nestedResult), &want); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, out.Steps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(out.Tree, "static_call_contract → ") {
		t.Errorf("tree missing nesting hostio:\n%s", out.Tree)
	}

	entries := env.entries(t)
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Source != "mcp" || e.Subject != "capture.json" || e.Outcome != audit.OutcomeComplete || e.TraceID != out.TraceID {
		t.Errorf("unexpected audit entry %+v", e)
	}
}

func TestReconstructPartial(t *testing.T) {
	env := newTestServer(t, "", nil)
	capture := `[
	  {"type":"hostio","name":"read_args","args":"0x","outs":"0x","startInk":9,"endInk":8},
	  {"type":"enter","address":"0x00000000000000000000000000000000000000bb","callType":"CALL"},
	  {"type":"hostio","name":"read_args","args":"0x","outs":"0x","startInk":5,"endInk":4}
	]`
	result, out, err := env.srv.handleReconstruct(context.Background(), &mcpsdk.CallToolRequest{}, ReconstructInput{Events: capture})
	if err != nil || (result != nil && result.IsError) {
		t.Fatalf("unexpected failure: %v %s", err, out.Error)
	}
	if !out.Partial || out.Depth != 1 {
		t.Errorf("partial=%v depth=%d, want partial at depth 1", out.Partial, out.Depth)
	}
	if out.Stats.Frames != 1 || out.Stats.HostIOs != 2 {
		t.Errorf("unexpected stats %+v", out.Stats)
	}
	if entries := env.entries(t); len(entries) != 1 || entries[0].Subject != "inline" || entries[0].Outcome != audit.OutcomePartial {
		t.Errorf("unexpected audit entries %+v", entries)
	}
}

func TestReconstructErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  ReconstructInput
		substr string
	}{
		{"not json", ReconstructInput{Events: "nope"}, ""},
		{"underflow", ReconstructInput{Events: `[{"type":"exit","success":true}]`}, "exit without matching enter"},
		{"no frame to consume", ReconstructInput{Events: `[
		  {"type":"hostio","name":"static_call_contract","args":"0x00000000000000000000000000000000000000aa0000000000000000","outs":"0x0000000000","startInk":2,"endInk":1}
		]`}, "static_call_contract"},
		{"empty nesting name", ReconstructInput{Events: `[]`, NestingOps: []string{""}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestServer(t, "", nil)
			result, out, err := env.srv.handleReconstruct(context.Background(), &mcpsdk.CallToolRequest{}, tt.input)
			if err != nil {
				t.Fatalf("unexpected protocol error: %v", err)
			}
			if result == nil || !result.IsError {
				t.Fatal("expected IsError result")
			}
			if out.Error == "" || !strings.Contains(out.Error, tt.substr) {
				t.Errorf("error %q does not mention %q", out.Error, tt.substr)
			}
		})
	}
}

func TestReconstructNestingOverride(t *testing.T) {
	env := newTestServer(t, "", nil)
	// Without static_call_contract in the set the frame stays unclaimed.
	_, out, err := env.srv.handleReconstruct(context.Background(), &mcpsdk.CallToolRequest{}, ReconstructInput{
		Events:     nestedCapture,
		NestingOps: []string{"call_contract"},
	})
	if err != nil {
		t.Fatal(err)
	}
	steps, ok := out.Steps.([]any)
	if !ok || len(steps) != 3 {
		t.Fatalf("expected 3 top-level steps, got %#v", out.Steps)
	}
	frame := steps[1].(map[string]any)
	if frame["name"] != "evm_static_call_contract" {
		t.Errorf("expected unclaimed frame, got %v", frame["name"])
	}
}

func TestReconstructUsesConfiguredSet(t *testing.T) {
	env := newTestServer(t, "nesting_ops: [call_contract]\n", nil)
	_, out, err := env.srv.handleReconstruct(context.Background(), &mcpsdk.CallToolRequest{}, ReconstructInput{Events: nestedCapture})
	if err != nil {
		t.Fatal(err)
	}
	if steps := out.Steps.([]any); len(steps) != 3 {
		t.Errorf("configured set should leave the frame unclaimed, got %d steps", len(steps))
	}
}

func TestDecode(t *testing.T) {
	env := newTestServer(t, "", nil)
	result, out, err := env.srv.handleDecode(context.Background(), &mcpsdk.CallToolRequest{}, DecodeInput{Result: nestedResult})
	if err != nil || (result != nil && result.IsError) {
		t.Fatalf("unexpected failure: %v %s", err, out.Error)
	}
	if diff := cmp.Diff(nestedStats, out.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	// The flattened events reconstruct to the same tree.
	_, rebuilt, err := env.srv.handleReconstruct(context.Background(), &mcpsdk.CallToolRequest{}, ReconstructInput{Events: out.Events})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(out.Steps, rebuilt.Steps); diff != "" {
		t.Errorf("round trip mismatch (-decoded +rebuilt):\n%s", diff)
	}
}

func TestDecodeMalformed(t *testing.T) {
	env := newTestServer(t, "", nil)
	result, out, err := env.srv.handleDecode(context.Background(), &mcpsdk.CallToolRequest{}, DecodeInput{
		Result: `[{"name":"read_args","args":"zz","outs":"0x","startInk":0,"endInk":0}]`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result == nil || !result.IsError || out.Error == "" {
		t.Errorf("expected error result, got %+v", out)
	}
}

func TestTracer(t *testing.T) {
	env := newTestServer(t, "", nil)
	_, out, err := env.srv.handleTracer(context.Background(), &mcpsdk.CallToolRequest{}, TracerInput{})
	if err != nil {
		t.Fatal(err)
	}
	def := jstracer.Definition(model.DefaultNestingSet())
	if out.Definition != def || out.Fingerprint != jstracer.Fingerprint(def) {
		t.Error("default tracer does not match the default nesting set")
	}
	if diff := cmp.Diff(model.DefaultNestingSet().Names(), out.NestingOps); diff != "" {
		t.Errorf("nesting ops mismatch (-want +got):\n%s", diff)
	}

	_, custom, err := env.srv.handleTracer(context.Background(), &mcpsdk.CallToolRequest{}, TracerInput{NestingOps: []string{"call_contract"}})
	if err != nil {
		t.Fatal(err)
	}
	if custom.Fingerprint == out.Fingerprint {
		t.Error("override should change the fingerprint")
	}
}

type ethService struct{ to common.Address }

func (s *ethService) GetTransactionReceipt(hash common.Hash) (map[string]any, error) {
	if hash != common.HexToHash("0x01") {
		return nil, nil
	}
	return map[string]any{"to": s.to, "status": "0x1"}, nil
}

type debugService struct{ result json.RawMessage }

func (s *debugService) TraceTransaction(hash common.Hash, cfg map[string]any) (json.RawMessage, error) {
	return s.result, nil
}

func newTestNode(t *testing.T) *node.Client {
	t.Helper()
	srv := rpc.NewServer()
	if err := srv.RegisterName("eth", &ethService{to: common.HexToAddress("0xc0")}); err != nil {
		t.Fatal(err)
	}
	if err := srv.RegisterName("debug", &debugService{result: json.RawMessage(nestedResult)}); err != nil {
		t.Fatal(err)
	}
	rc := rpc.DialInProc(srv)
	t.Cleanup(func() {
		rc.Close()
		srv.Stop()
	})
	return node.NewClient(rc, node.Config{})
}

func TestTrace(t *testing.T) {
	env := newTestServer(t, "", newTestNode(t))
	tx := common.HexToHash("0x01").Hex()
	result, out, err := env.srv.handleTrace(context.Background(), &mcpsdk.CallToolRequest{}, TraceInput{Tx: tx})
	if err != nil || (result != nil && result.IsError) {
		t.Fatalf("unexpected failure: %v %s", err, out.Error)
	}
	if diff := cmp.Diff(nestedStats, out.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	entries := env.entries(t)
	if len(entries) != 1 || entries[0].Subject != tx || entries[0].Source != "mcp" {
		t.Errorf("unexpected audit entries %+v", entries)
	}
}

func TestTraceErrors(t *testing.T) {
	tests := []struct {
		name string
		node bool
		tx   string
	}{
		{"no node", false, common.HexToHash("0x01").Hex()},
		{"bad hash", true, "0x1234"},
		{"unknown tx", true, common.HexToHash("0x02").Hex()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n *node.Client
			if tt.node {
				n = newTestNode(t)
			}
			env := newTestServer(t, "", n)
			result, out, err := env.srv.handleTrace(context.Background(), &mcpsdk.CallToolRequest{}, TraceInput{Tx: tt.tx})
			if err != nil {
				t.Fatalf("unexpected protocol error: %v", err)
			}
			if result == nil || !result.IsError || out.Error == "" {
				t.Errorf("expected error result, got %+v", out)
			}
		})
	}
}
