package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/hostiotrace/internal/config"
	"github.com/ppiankov/hostiotrace/internal/daemon"
	"github.com/ppiankov/hostiotrace/internal/systemd"
)

var (
	initMode    string
	initForce   bool
	initSystemd bool
)

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.hostiotrace) or system (/etc/hostiotrace)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVar(&initSystemd, "systemd", false, "Also write a systemd unit that runs watch")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file and the watch directories",
	Long: `Creates the config directory with a default config.yaml, the trace cache
location and the inbox, outbox and state directories used by watch.

User mode (default):  writes to ~/.hostiotrace/
System mode:          writes to /etc/hostiotrace/ (requires root)`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}

	var created []string
	dirs := daemon.DefaultDirConfig(configDir)
	if err := daemon.EnsureDirs(dirs); err != nil {
		return fmt.Errorf("create watch directories: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	content, err := defaultConfigYAML(configDir)
	if err != nil {
		return fmt.Errorf("generate default config: %w", err)
	}
	if wrote, err := writeIfMissing(configPath, content); err != nil {
		return err
	} else if wrote {
		created = append(created, configPath)
	}

	var unitPath string
	if initSystemd {
		binary, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		unitPath = filepath.Join(configDir, "systemd", systemd.UnitName)
		if _, err := os.Stat(unitPath); err != nil || initForce {
			if unitPath, err = systemd.Install(filepath.Dir(unitPath), binary, configPath); err != nil {
				return err
			}
			created = append(created, unitPath)
		}
	}

	w := cmdOut(cmd)
	fmt.Fprintln(w, "hostiotrace init complete.")
	fmt.Fprintln(w)
	if len(created) > 0 {
		fmt.Fprintln(w, "Created:")
		for _, path := range created {
			fmt.Fprintf(w, "  %s\n", path)
		}
	} else {
		fmt.Fprintln(w, "All files already exist (use --force to overwrite).")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Watch directories:\n  %s\n  %s\n", dirs.Inbox, dirs.Outbox)
	if unitPath != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Install the watcher service:")
		fmt.Fprintf(w, "  sudo cp %s /etc/systemd/system/ && sudo systemctl enable --now %s\n", unitPath, systemd.UnitName)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trace a transaction:")
	fmt.Fprintln(w, "  hostiotrace trace <tx-hash>")
	return nil
}

// initConfigDir returns the configuration directory based on mode.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return "/etc/hostiotrace", nil
	case "user", "":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".hostiotrace"), nil
	default:
		return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
	}
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// defaultConfigYAML renders the built-in settings with paths under dir.
func defaultConfigYAML(dir string) (string, error) {
	cfg := config.DefaultConfig()
	cfg.CachePath = filepath.Join(dir, "traces.db")
	cfg.AuditLog = filepath.Join(dir, "audit.jsonl")
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	header := "# hostiotrace configuration.\n" +
		"# nesting_ops lists the hostios that consume the frame recorded just before\n" +
		"# them. Command line flags override every value here.\n\n"
	return header + string(data), nil
}

// cmdOut is the command's stdout, or os.Stdout when called without one.
func cmdOut(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}
