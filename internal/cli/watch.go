package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/daemon"
)

var (
	watchBase     string
	watchInbox    string
	watchOutbox   string
	watchPoll     bool
	watchInterval time.Duration
	watchWorkers  int
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchBase, "dir", "", "Base directory holding inbox/, outbox/ and state/ (default ~/.hostiotrace)")
	watchCmd.Flags().StringVar(&watchInbox, "inbox", "", "Inbox directory (overrides inbox)")
	watchCmd.Flags().StringVar(&watchOutbox, "outbox", "", "Outbox directory (overrides outbox)")
	watchCmd.Flags().BoolVar(&watchPoll, "poll", false, "Poll the inbox instead of using filesystem events")
	watchCmd.Flags().DurationVar(&watchInterval, "poll-interval", 0, "Polling interval (overrides poll_interval)")
	watchCmd.Flags().IntVar(&watchWorkers, "workers", 0, "Concurrent reconstructions (overrides workers)")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconstruct captures dropped into an inbox directory",
	Long: "Runs until interrupted. Every .json job placed in the inbox is reconstructed\n" +
		"by its own builder on a fixed worker pool and the result is written to the\n" +
		"outbox. Jobs left in processing by a crash are picked up on start.",
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func watchDirs() (daemon.DirConfig, error) {
	base := watchBase
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return daemon.DirConfig{}, fmt.Errorf("resolve home directory: %w", err)
		}
		base = filepath.Join(home, ".hostiotrace")
	}
	dirs := daemon.DefaultDirConfig(base)
	if appConfig.Inbox != "" {
		dirs.Inbox = appConfig.Inbox
	}
	if appConfig.Outbox != "" {
		dirs.Outbox = appConfig.Outbox
	}
	if watchInbox != "" {
		dirs.Inbox = watchInbox
	}
	if watchOutbox != "" {
		dirs.Outbox = watchOutbox
	}
	return dirs, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	dirs, err := watchDirs()
	if err != nil {
		return err
	}
	nests, err := appConfig.Nests()
	if err != nil {
		return err
	}
	cfg := daemon.Config{
		Dirs:         dirs,
		Nests:        nests,
		AuditLog:     appConfig.AuditLog,
		PollMode:     appConfig.PollMode || watchPoll,
		PollInterval: appConfig.PollInterval,
		Workers:      appConfig.Workers,
		Alerts:       appConfig.Alerts,
	}
	if watchInterval > 0 {
		cfg.PollInterval = watchInterval
	}
	if watchWorkers > 0 {
		cfg.Workers = watchWorkers
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	if err := d.Run(cmd.Context()); err != nil && !errors.Is(err, cmd.Context().Err()) {
		return err
	}
	return nil
}
