// Package systemd renders and checks the unit file that runs the inbox
// watcher as a service.
package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UnitName is the file name of the watcher unit.
const UnitName = "hostiotrace-watch.service"

// WatchUnit returns the unit that runs binary's watch command against
// configPath.
func WatchUnit(binary, configPath string) string {
	return fmt.Sprintf(`[Unit]
Description=hostiotrace inbox watcher
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s watch --config %s
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ReadWritePaths=%s

[Install]
WantedBy=multi-user.target
`, binary, configPath, filepath.Dir(configPath))
}

// HashPath is the sidecar holding the install-time hash of unitPath.
func HashPath(unitPath string) string {
	return unitPath + ".sha256"
}

// Install writes the unit into dir together with its hash sidecar and
// returns the unit path.
func Install(dir, binary, configPath string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	unitPath := filepath.Join(dir, UnitName)
	data := []byte(WatchUnit(binary, configPath))
	if err := os.WriteFile(unitPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write unit: %w", err)
	}
	if err := os.WriteFile(HashPath(unitPath), []byte(hashOf(data)+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write unit hash: %w", err)
	}
	return unitPath, nil
}

// CheckUnit compares the unit file against its recorded hash. It returns
// a warning when the file changed since Install, or "" when it is intact
// or there is nothing to compare.
func CheckUnit(unitPath string) string {
	stored, err := os.ReadFile(HashPath(unitPath))
	if err != nil {
		return ""
	}
	want := strings.TrimSpace(string(stored))
	if len(want) != 64 {
		return ""
	}
	data, err := os.ReadFile(unitPath)
	if err != nil {
		return fmt.Sprintf("cannot read unit file %s: %v", unitPath, err)
	}
	got := hashOf(data)
	if got == want {
		return ""
	}
	return fmt.Sprintf("unit file %s has been modified since installation (expected %s, got %s)",
		unitPath, want[:16], got[:16])
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
