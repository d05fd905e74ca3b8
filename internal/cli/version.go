package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/jstracer"
	"github.com/ppiankov/hostiotrace/internal/model"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "0.3.0"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := map[string]string{
			"version": Version,
			"name":    "hostiotrace",
			"tracer":  jstracer.Fingerprint(jstracer.Definition(model.DefaultNestingSet())),
		}
		out, _ := json.MarshalIndent(info, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	},
}
