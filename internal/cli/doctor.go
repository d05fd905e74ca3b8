package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/audit"
	"github.com/ppiankov/hostiotrace/internal/config"
	"github.com/ppiankov/hostiotrace/internal/node"
	"github.com/ppiankov/hostiotrace/internal/store"
	"github.com/ppiankov/hostiotrace/internal/systemd"
)

var doctorOffline bool

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "Skip the node reachability check")
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, node, cache and audit log",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []checkResult

	// 1. Config file.
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		checks = append(checks, checkResult{label: "config file", ok: true, detail: path})
	} else {
		checks = append(checks, checkResult{label: "config file", ok: true, detail: "not found, using defaults", fix: "hostiotrace init"})
	}

	// 2. Nesting set.
	if nests, err := appConfig.Nests(); err != nil {
		checks = append(checks, checkResult{label: "nesting ops", ok: false, detail: err.Error(), fix: "edit nesting_ops in " + path})
	} else {
		checks = append(checks, checkResult{label: "nesting ops", ok: true, detail: strings.Join(nests.Names(), ", ")})
	}

	// 3. Node.
	if !doctorOffline {
		checks = append(checks, checkNode(cmd.Context(), appConfig.RPCURL))
	}

	// 4. Trace cache.
	if appConfig.CachePath != "" {
		checks = append(checks, checkCache(cmd.Context(), appConfig.CachePath))
	}

	// 5. Audit log chain.
	if appConfig.AuditLog != "" {
		if _, err := os.Stat(appConfig.AuditLog); err != nil {
			checks = append(checks, checkResult{label: "audit log", ok: true, detail: "not written yet"})
		} else if r := audit.Verify(appConfig.AuditLog); r.Valid {
			checks = append(checks, checkResult{label: "audit log", ok: true, detail: fmt.Sprintf("%d entries, chain intact", r.Lines)})
		} else {
			checks = append(checks, checkResult{label: "audit log", ok: false, detail: fmt.Sprintf("broken at line %d: %s", r.ErrorLine, r.Error)})
		}
	}

	// 6. Watcher unit written by init --systemd.
	unitPath := filepath.Join(filepath.Dir(path), "systemd", systemd.UnitName)
	if _, err := os.Stat(unitPath); err == nil {
		if msg := systemd.CheckUnit(unitPath); msg != "" {
			checks = append(checks, checkResult{label: "watch unit", ok: false, detail: msg, fix: "hostiotrace init --systemd --force"})
		} else {
			checks = append(checks, checkResult{label: "watch unit", ok: true, detail: unitPath})
		}
	}

	// Print results.
	w := cmd.OutOrStdout()
	hasFailures := false
	for _, c := range checks {
		mark := "✓"
		if !c.ok {
			mark = "✗"
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-16s %s", mark, c.label+":", c.detail)
		if c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	if hasFailures {
		fmt.Fprintln(w, "Some checks failed.")
		return fmt.Errorf("doctor found issues")
	}
	fmt.Fprintln(w, "All checks passed.")
	return nil
}

func checkNode(ctx context.Context, url string) checkResult {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c, err := node.Dial(ctx, url, node.Config{})
	if err != nil {
		return checkResult{label: "node", ok: false, detail: err.Error(), fix: "set rpc_url or pass --offline"}
	}
	defer c.Close()
	id, err := c.ChainID(ctx)
	if err != nil {
		return checkResult{label: "node", ok: false, detail: err.Error(), fix: "set rpc_url or pass --offline"}
	}
	return checkResult{label: "node", ok: true, detail: fmt.Sprintf("%s (chain %s)", url, id)}
}

func checkCache(ctx context.Context, path string) checkResult {
	s, err := store.Open(path)
	if err != nil {
		return checkResult{label: "trace cache", ok: false, detail: err.Error()}
	}
	defer s.Close()
	n, err := s.Len(ctx)
	if err != nil {
		return checkResult{label: "trace cache", ok: false, detail: err.Error()}
	}
	return checkResult{label: "trace cache", ok: true, detail: fmt.Sprintf("%s (%d traces)", path, n)}
}
