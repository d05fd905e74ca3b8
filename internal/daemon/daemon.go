package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ppiankov/hostiotrace/internal/alert"
	"github.com/ppiankov/hostiotrace/internal/audit"
	"github.com/ppiankov/hostiotrace/internal/model"
)

// Config holds full daemon configuration.
type Config struct {
	Dirs         DirConfig
	Nests        model.NestingSet
	AuditLog     string
	PollMode     bool
	PollInterval time.Duration
	Workers      int
	Alerts       []alert.Config
}

// Daemon watches the inbox directory and reconstructs captures.
type Daemon struct {
	cfg Config
}

// New creates a daemon with validated configuration.
func New(cfg Config) (*Daemon, error) {
	if cfg.Dirs.Inbox == "" || cfg.Dirs.Outbox == "" || cfg.Dirs.State == "" {
		return nil, fmt.Errorf("inbox, outbox, and state directories are required")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = pollDefault
	}
	if cfg.Workers == 0 {
		cfg.Workers = workersDefault
	}
	if cfg.Nests == nil {
		cfg.Nests = model.DefaultNestingSet()
	}
	return &Daemon{cfg: cfg}, nil
}

// Run starts the daemon. Blocks until ctx is cancelled.
// On startup, processes any existing inbox files and orphaned processing files.
func (d *Daemon) Run(ctx context.Context) error {
	if err := EnsureDirs(d.cfg.Dirs); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	pidPath := d.cfg.Dirs.PIDFile()
	if err := acquirePIDLock(pidPath); err != nil {
		return fmt.Errorf("acquire PID lock: %w", err)
	}
	defer func() { _ = os.Remove(pidPath) }()

	alerts := alert.NewDispatcher(d.cfg.Alerts)
	defer alerts.Wait()

	pcfg := ProcessorConfig{Dirs: d.cfg.Dirs, Nests: d.cfg.Nests, Alerts: alerts}
	if d.cfg.AuditLog != "" {
		al, err := audit.Open(d.cfg.AuditLog)
		if err != nil {
			return err
		}
		defer al.Close()
		pcfg.Audit = al
	}
	processor := NewProcessor(pcfg)

	if err := d.recoverOrphans(processor); err != nil {
		return fmt.Errorf("recover orphans: %w", err)
	}

	handler := func(path string) {
		if err := processor.Process(ctx, path); err != nil {
			log.Warn("Inbox file not processed", "file", filepath.Base(path), "err", err)
		}
	}
	if err := ScanExisting(d.cfg.Dirs.Inbox, handler); err != nil {
		return fmt.Errorf("scan existing: %w", err)
	}

	log.Info("Watching inbox", "inbox", d.cfg.Dirs.Inbox, "outbox", d.cfg.Dirs.Outbox,
		"workers", d.cfg.Workers, "poll", d.cfg.PollMode, "nests", strings.Join(d.cfg.Nests.Names(), ","))
	if d.cfg.PollMode {
		return NewPollWatcher(d.cfg.Dirs.Inbox, handler, d.cfg.Workers, d.cfg.PollInterval).Run(ctx)
	}
	return NewInboxWatcher(d.cfg.Dirs.Inbox, handler, d.cfg.Workers).Run(ctx)
}

// recoverOrphans writes failed results for files left in state/processing/.
// These are captures that were interrupted by a crash or restart.
func (d *Daemon) recoverOrphans(p *Processor) error {
	procDir := d.cfg.Dirs.ProcessingDir()
	entries, err := os.ReadDir(procDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if e.IsDir() || !isJobFile(e.Name()) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		if err := p.writeFailedResult(id, "interrupted: job was processing when daemon stopped"); err != nil {
			log.Warn("Orphan recovery failed", "id", id, "err", err)
		}
		_ = os.Remove(filepath.Join(procDir, e.Name()))
	}
	return nil
}

// acquirePIDLock writes the current PID to the file and checks for stale locks.
func acquirePIDLock(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(string(data))
		if err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("another daemon is running (PID %d)", pid)
				}
			}
		}
		// Stale PID file.
		_ = os.Remove(path)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}
