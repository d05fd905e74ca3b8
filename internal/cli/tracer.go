package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/jstracer"
	"github.com/ppiankov/hostiotrace/internal/model"
)

var (
	tracerFingerprint bool
	tracerNestingOps  []string
)

func init() {
	rootCmd.AddCommand(tracerCmd)
	tracerCmd.Flags().BoolVar(&tracerFingerprint, "fingerprint", false, "Print only the definition's fingerprint")
	tracerCmd.Flags().StringSliceVar(&tracerNestingOps, "nesting-ops", nil, "Hostios that consume the preceding frame (overrides config)")
}

var tracerCmd = &cobra.Command{
	Use:   "tracer",
	Short: "Print the JavaScript hostio tracer definition",
	Long: "Prints the tracer definition sent to debug_traceTransaction when the native\n" +
		"stylusTracer is not used, rendered with the configured nesting set.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			nests model.NestingSet
			err   error
		)
		if cmd.Flags().Changed("nesting-ops") {
			nests, err = model.NewNestingSet(tracerNestingOps...)
		} else {
			nests, err = appConfig.Nests()
		}
		if err != nil {
			return err
		}
		def := jstracer.Definition(nests)
		if tracerFingerprint {
			fmt.Fprintln(cmd.OutOrStdout(), jstracer.Fingerprint(def))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), def)
		return nil
	},
}
