package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/hostiotrace/internal/audit"
)

func testDaemonConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Dirs:         DefaultDirConfig(t.TempDir()),
		PollMode:     true,
		PollInterval: 50 * time.Millisecond,
		Workers:      2,
	}
}

func TestNewDaemonValidation(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestNewDaemonDefaults(t *testing.T) {
	d, err := New(Config{Dirs: DefaultDirConfig(t.TempDir())})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.cfg.Workers != workersDefault || d.cfg.PollInterval != pollDefault {
		t.Errorf("unexpected defaults %+v", d.cfg)
	}
	if !d.cfg.Nests.Contains("call_contract") {
		t.Error("expected default nesting set")
	}
}

func TestDaemonProcessesExistingFiles(t *testing.T) {
	cfg := testDaemonConfig(t)
	cfg.AuditLog = filepath.Join(t.TempDir(), "audit.jsonl")
	if err := EnsureDirs(cfg.Dirs); err != nil {
		t.Fatal(err)
	}

	job := validJob()
	job.ID = "existing-001"
	data, _ := json.MarshalIndent(job, "", "  ")
	if err := os.WriteFile(filepath.Join(cfg.Dirs.Inbox, "existing-001.json"), data, 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = d.Run(ctx)

	result := readResult(t, cfg.Dirs, "existing-001")
	if result.Status != ResultDone {
		t.Errorf("status = %q (%s)", result.Status, result.Error)
	}
	if v := audit.Verify(cfg.AuditLog); !v.Valid || v.Lines != 1 {
		t.Errorf("unexpected audit log %+v", v)
	}
}

func TestDaemonProcessesNewFiles(t *testing.T) {
	cfg := testDaemonConfig(t)
	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Wait for the inbox to exist.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(cfg.Dirs.Inbox); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("inbox never created")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, id := range []string{"new-001", "new-002", "new-003"} {
		job := validJob()
		job.ID = id
		data, _ := json.Marshal(job)
		if err := writeAtomic(filepath.Join(cfg.Dirs.Inbox, id+".json"), data); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(400 * time.Millisecond)
	cancel()
	<-done

	for _, id := range []string{"new-001", "new-002", "new-003"} {
		if r := readResult(t, cfg.Dirs, id); r.Status != ResultDone {
			t.Errorf("%s: status = %q (%s)", id, r.Status, r.Error)
		}
	}
}

func TestDaemonRecoverOrphans(t *testing.T) {
	cfg := testDaemonConfig(t)
	if err := EnsureDirs(cfg.Dirs); err != nil {
		t.Fatal(err)
	}

	// Simulate an orphaned file in processing.
	orphanPath := filepath.Join(cfg.Dirs.ProcessingDir(), "orphan-001.json")
	if err := os.WriteFile(orphanPath, []byte(`{"id":"orphan-001"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_ = d.Run(ctx)

	// Orphan should be cleaned from processing.
	if _, err := os.Stat(orphanPath); !os.IsNotExist(err) {
		t.Error("orphan should be removed from processing")
	}

	// Failed result should be in outbox.
	resultPath := filepath.Join(cfg.Dirs.Outbox, "orphan-001.json")
	data, err := os.ReadFile(resultPath)
	if err != nil {
		t.Fatal("expected failed result in outbox")
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if result.Status != ResultFailed {
		t.Errorf("orphan result status = %q, want %q", result.Status, ResultFailed)
	}
}

func TestDaemonGracefulShutdown(t *testing.T) {
	cfg := testDaemonConfig(t)
	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on graceful shutdown, got: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not stop after context cancellation")
	}
}

func TestDaemonPIDLock(t *testing.T) {
	cfg := testDaemonConfig(t)
	if err := EnsureDirs(cfg.Dirs); err != nil {
		t.Fatal(err)
	}

	pidPath := cfg.Dirs.PIDFile()

	// First lock should succeed.
	if err := acquirePIDLock(pidPath); err != nil {
		t.Fatalf("first lock: %v", err)
	}

	// Second lock should fail (our process is still running).
	if err := acquirePIDLock(pidPath); err == nil {
		t.Error("expected error for duplicate PID lock")
	}

	// Clean up.
	_ = os.Remove(pidPath)
}

func TestDaemonPIDLockStaleCleanup(t *testing.T) {
	cfg := testDaemonConfig(t)
	if err := EnsureDirs(cfg.Dirs); err != nil {
		t.Fatal(err)
	}

	pidPath := cfg.Dirs.PIDFile()

	// Write a stale PID (very high PID unlikely to be running).
	if err := os.WriteFile(pidPath, []byte("9999999"), 0o600); err != nil {
		t.Fatal(err)
	}

	// Lock should succeed after cleaning stale PID.
	if err := acquirePIDLock(pidPath); err != nil {
		t.Fatalf("stale PID cleanup failed: %v", err)
	}

	_ = os.Remove(pidPath)
}
