package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/config"
)

var (
	configPath string
	verbosity  string

	// appConfig is loaded once per invocation before any command runs.
	appConfig *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.hostiotrace/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&verbosity, "verbosity", "", "Log level: trace, debug, info, warn, error, crit (overrides log_level)")
}

var rootCmd = &cobra.Command{
	Use:   "hostiotrace",
	Short: "Reconstruct Stylus hostio execution traces",
	Long: "Rebuilds the hierarchical hostio call tree of a Stylus program from the flat\n" +
		"stream of hostio, enter and exit events a tracer emits. Traces come from a node,\n" +
		"from captured event files or from the gRPC and MCP services.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if verbosity != "" {
			cfg.LogLevel = verbosity
		}
		lvl, err := log.LvlFromString(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid verbosity %q: %w", cfg.LogLevel, err)
		}
		appConfig = cfg

		useColor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
		glogger := log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, useColor))
		glogger.Verbosity(lvl)
		log.SetDefault(log.NewLogger(glogger))
		return nil
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
