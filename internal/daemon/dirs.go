package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
)

// dirPerm is the permission for daemon-managed directories.
const dirPerm = 0o750

// DirConfig holds the daemon directory layout.
type DirConfig struct {
	Inbox  string // incoming captures
	Outbox string // reconstructed trees
	State  string // state/processing and the pid file
}

// DefaultDirConfig places everything under base.
func DefaultDirConfig(base string) DirConfig {
	return DirConfig{
		Inbox:  filepath.Join(base, "inbox"),
		Outbox: filepath.Join(base, "outbox"),
		State:  filepath.Join(base, "state"),
	}
}

// ProcessingDir holds captures while they are reconstructed.
func (d DirConfig) ProcessingDir() string {
	return filepath.Join(d.State, "processing")
}

// PIDFile is the single-instance lock.
func (d DirConfig) PIDFile() string {
	return filepath.Join(d.State, "daemon.pid")
}

// EnsureDirs creates all required directories. Idempotent.
func EnsureDirs(cfg DirConfig) error {
	for _, dir := range []string{cfg.Inbox, cfg.Outbox, cfg.ProcessingDir()} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	same, err := sameDevice(cfg.Inbox, cfg.State)
	if err == nil && !same {
		log.Warn("Inbox and state are on different filesystems, moves will copy", "inbox", cfg.Inbox, "state", cfg.State)
	}
	return nil
}

func sameDevice(a, b string) (bool, error) {
	da, err := deviceID(a)
	if err != nil {
		return false, err
	}
	db, err := deviceID(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}

// moveFile moves src to dst using os.Rename. If rename fails with EXDEV
// (cross-device link, common with systemd ReadWritePaths bind mounts),
// it falls back to copy + remove.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) || errno != syscall.EXDEV {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile copies src to dst preserving permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

// writeAtomic writes data next to path and renames it into place so
// watchers never see a partial file.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	return os.Rename(tmp, path)
}
