package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/hostiotrace/internal/config"
	"github.com/ppiankov/hostiotrace/internal/systemd"
)

func TestRunInit_UserMode(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	initMode = "user"
	initForce = false

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	configDir := filepath.Join(tmpDir, ".hostiotrace")
	for _, dir := range []string{"inbox", "outbox", filepath.Join("state", "processing")} {
		if _, err := os.Stat(filepath.Join(configDir, dir)); err != nil {
			t.Errorf("%s directory not created", dir)
		}
	}

	// The written config must load back and point the cache into configDir.
	cfg, err := config.LoadConfig(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml does not load: %v", err)
	}
	if cfg.CachePath != filepath.Join(configDir, "traces.db") {
		t.Errorf("cache_path = %q", cfg.CachePath)
	}
	if cfg.Timeout != config.DefaultConfig().Timeout {
		t.Errorf("timeout = %s", cfg.Timeout)
	}
}

func TestRunInit_NoOverwriteWithoutForce(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	configDir := filepath.Join(tmpDir, ".hostiotrace")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatal(err)
	}
	sentinel := "# sentinel content\n"
	configFile := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configFile, []byte(sentinel), 0o644); err != nil {
		t.Fatal(err)
	}

	initMode = "user"
	initForce = false
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	data, _ := os.ReadFile(configFile)
	if string(data) != sentinel {
		t.Error("config.yaml was overwritten without --force")
	}

	initForce = true
	defer func() { initForce = false }()
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	data, _ = os.ReadFile(configFile)
	if string(data) == sentinel {
		t.Error("config.yaml was NOT overwritten with --force")
	}
}

func TestRunInit_InvalidMode(t *testing.T) {
	initMode = "invalid"
	defer func() { initMode = "user" }()

	err := runInit(nil, nil)
	if err == nil {
		t.Fatal("expected error for invalid mode")
	}
	if !strings.Contains(err.Error(), "unknown mode") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInitConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	defer func() { initMode = "user" }()

	tests := []struct {
		mode    string
		want    string
		wantErr bool
	}{
		{"user", filepath.Join(tmpDir, ".hostiotrace"), false},
		{"system", "/etc/hostiotrace", false},
		{"invalid", "", true},
	}
	for _, tt := range tests {
		initMode = tt.mode
		got, err := initConfigDir()
		if tt.wantErr {
			if err == nil {
				t.Errorf("mode=%q: expected error", tt.mode)
			}
			continue
		}
		if err != nil {
			t.Errorf("mode=%q: unexpected error: %v", tt.mode, err)
			continue
		}
		if got != tt.want {
			t.Errorf("mode=%q: got %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestWriteIfMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")
	initForce = false
	defer func() { initForce = false }()

	wrote, err := writeIfMissing(path, "hello")
	if err != nil || !wrote {
		t.Fatalf("first write = %v, %v", wrote, err)
	}
	wrote, err = writeIfMissing(path, "world")
	if err != nil || wrote {
		t.Fatalf("second write without force = %v, %v", wrote, err)
	}
	if data, _ := os.ReadFile(path); string(data) != "hello" {
		t.Errorf("content changed without force: %q", data)
	}

	initForce = true
	if wrote, err = writeIfMissing(path, "world"); err != nil || !wrote {
		t.Fatalf("force write = %v, %v", wrote, err)
	}
	if data, _ := os.ReadFile(path); string(data) != "world" {
		t.Errorf("force write didn't overwrite: %q", data)
	}
}

func TestDefaultConfigYAML(t *testing.T) {
	content, err := defaultConfigYAML("/tmp/x")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(content, "# hostiotrace configuration") {
		t.Error("missing header comment")
	}
	for _, key := range []string{"rpc_url:", "nesting_ops:", "- call_contract", "timeout: 30s", "audit_log: /tmp/x/audit.jsonl"} {
		if !strings.Contains(content, key) {
			t.Errorf("missing %q in\n%s", key, content)
		}
	}
}

func TestRunInit_Systemd(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	initMode, initForce, initSystemd = "user", false, true
	defer func() { initSystemd = false }()

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	configDir := filepath.Join(tmpDir, ".hostiotrace")
	unitPath := filepath.Join(configDir, "systemd", systemd.UnitName)
	data, err := os.ReadFile(unitPath)
	if err != nil {
		t.Fatalf("unit not written: %v", err)
	}
	if !strings.Contains(string(data), "watch --config "+filepath.Join(configDir, "config.yaml")) {
		t.Errorf("unit does not run watch against the config:\n%s", data)
	}
	if msg := systemd.CheckUnit(unitPath); msg != "" {
		t.Errorf("fresh unit fails its check: %s", msg)
	}
}
