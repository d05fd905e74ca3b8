package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/tracer"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit", "test-audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func testEntry(outcome string) Entry {
	return Entry{
		TraceID: "t-test123",
		Source:  "file",
		Subject: "capture.jsonl",
		Outcome: outcome,
		Events:  3,
		Stats:   model.Stats{HostIOs: 2, Frames: 1, MaxDepth: 1},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 5; i++ {
		if err := l.Record(testEntry(OutcomeComplete)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
	lines := readLines(t, path)
	if result.Head != HashLine([]byte(lines[4])) {
		t.Errorf("head %s does not hash the last line", result.Head)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		if err := l.Record(testEntry(OutcomeComplete)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	lines := readLines(t, path)
	lines[1] = strings.Replace(lines[1], `"complete"`, `"failed"`, 1)
	writeLines(t, path, lines)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		l.Record(testEntry(OutcomeComplete))
	}
	l.Close()

	lines := readLines(t, path)
	writeLines(t, path, []string{lines[0], lines[2]})

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected chain with deleted entry to be invalid")
	}
	if result.ErrorLine != 2 {
		t.Fatalf("expected error at line 2, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsInsertedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		l.Record(testEntry(OutcomeComplete))
	}
	l.Close()

	lines := readLines(t, path)
	fake := testEntry(OutcomeFailed)
	fake.PrevHash = "sha256:fake"
	fakeJSON, _ := json.Marshal(fake)
	writeLines(t, path, []string{lines[0], string(fakeJSON), lines[1], lines[2]})

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected chain with inserted entry to be invalid")
	}
	if result.ErrorLine != 2 {
		t.Fatalf("expected error at line 2, got line %d", result.ErrorLine)
	}
}

func TestVerifyRejectsUnanchoredFirstEntry(t *testing.T) {
	fake := testEntry(OutcomeComplete)
	fake.PrevHash = "sha256:abc"
	line, _ := json.Marshal(fake)
	result := VerifyReader(strings.NewReader(string(line) + "\n"))
	if result.Valid || result.ErrorLine != 1 || !strings.Contains(result.Error, "genesis") {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestEmptyLogPassesVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	os.WriteFile(path, []byte{}, 0o600)

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected empty log to be valid, got: %s", result.Error)
	}
	if result.Lines != 0 || result.Head != GenesisHash {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestConcurrentWritesSerializeCorrectly(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(testEntry(OutcomeComplete))
		}()
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain after concurrent writes, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 100 {
		t.Fatalf("expected 100 lines, got %d", result.Lines)
	}
}

func TestRecordStampsTimeAndGenesis(t *testing.T) {
	l, path := newTestLog(t)
	l.Record(testEntry(OutcomeComplete))
	l.Close()

	var entry Entry
	if err := json.Unmarshal([]byte(readLines(t, path)[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.PrevHash != GenesisHash {
		t.Fatalf("expected genesis hash %s, got %s", GenesisHash, entry.PrevHash)
	}
	if len(entry.Timestamp) != len(tracer.TimestampFormat) {
		t.Errorf("unexpected timestamp %q", entry.Timestamp)
	}
}

func TestHashLineIsDeterministic(t *testing.T) {
	line := []byte(`{"ts":"2025-01-15T10:30:00.000Z","trace_id":"t-abc","source":"tx","subject":"0x01","outcome":"complete","prev_hash":"sha256:def"}`)
	h1 := HashLine(line)
	h2 := HashLine(line)
	if h1 != h2 {
		t.Fatalf("expected same hash, got %s and %s", h1, h2)
	}
	if !strings.HasPrefix(h1, "sha256:") {
		t.Fatalf("expected sha256: prefix, got %s", h1)
	}
	if len(h1) != 7+64 {
		t.Fatalf("expected 71 char hash string, got %d", len(h1))
	}
	if HashLine([]byte("other")) == h1 {
		t.Fatal("expected different hashes for different inputs")
	}
}

func TestOpenExistingLogContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.jsonl")

	l1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		l1.Record(testEntry(OutcomeComplete))
	}
	l1.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		l2.Record(testEntry(OutcomePartial))
	}
	l2.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain after reopen, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestFromResult(t *testing.T) {
	addr := common.HexToAddress("0xc0")
	res, err := tracer.Build(nil, []model.Event{
		model.HostIOEvent(&model.HostIO{Name: "read_args", StartInk: 10, EndInk: 4}),
		model.EnterEvent(addr, model.CallKindCall),
		model.HostIOEvent(&model.HostIO{Name: "storage_load_bytes32"}),
	})
	if err != nil {
		t.Fatal(err)
	}

	e := FromResult("file", "capture.jsonl", res, nil)
	if e.Outcome != OutcomePartial || e.Events != 3 || e.Depth != 1 {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Stats.HostIOs != 2 || e.Stats.Frames != 1 {
		t.Errorf("unexpected stats %+v", e.Stats)
	}
	if e.ResultHash != ResultHash(res.Root) || !strings.HasPrefix(e.ResultHash, "0x") {
		t.Errorf("unexpected result hash %q", e.ResultHash)
	}
	if !strings.HasPrefix(e.TraceID, "t-") {
		t.Errorf("unexpected trace id %q", e.TraceID)
	}

	failed := FromResult("file", "bad.jsonl", nil, errors.New("stack underflow"))
	if failed.Outcome != OutcomeFailed || failed.Error != "stack underflow" || failed.ResultHash != "" {
		t.Errorf("unexpected failure entry %+v", failed)
	}
}

func TestResultHashIgnoresProvenance(t *testing.T) {
	steps := []model.Step{&model.HostIO{Name: "read_args", Args: []byte{}, Outs: []byte{1}}}
	a := FromSteps("tx", "0x01", "native", steps)
	b := FromSteps("mcp", "inline", "", model.CloneSteps(steps))
	if a.ResultHash != b.ResultHash {
		t.Errorf("equal trees hash differently: %s vs %s", a.ResultHash, b.ResultHash)
	}
	if a.Outcome != OutcomeComplete || a.Stats.HostIOs != 1 {
		t.Errorf("unexpected entry %+v", a)
	}
}
