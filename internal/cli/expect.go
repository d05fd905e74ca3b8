package cli

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/reader"
	"github.com/ppiankov/hostiotrace/internal/wire"
)

var (
	expectTarget string
	expectExact  bool
)

func init() {
	rootCmd.AddCommand(expectCmd)
	expectCmd.Flags().StringVar(&expectTarget, "target", "", "Address of the traced call, used in divergence messages")
	expectCmd.Flags().BoolVar(&expectExact, "exact", false, "Fail if steps remain after the expected hostios")
}

var expectCmd = &cobra.Command{
	Use:   "expect <result.json> <hostio>...",
	Short: "Assert the order of top-level hostios in a tracer result",
	Long: "Walks the top-level steps of a saved tracer result and checks they match the\n" +
		"given hostio names in order. Memory growth and entrypoint bookkeeping hostios\n" +
		"are skipped. Reports the first divergence and exits 1.",
	Args: cobra.MinimumNArgs(2),
	RunE: runExpect,
}

func runExpect(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	nests, err := appConfig.Nests()
	if err != nil {
		return err
	}
	steps, err := wire.DecodeResult(data, nests)
	if err != nil {
		return err
	}
	root := &model.Frame{Steps: steps}
	if expectTarget != "" {
		if !common.IsHexAddress(expectTarget) {
			return fmt.Errorf("invalid --target address %q", expectTarget)
		}
		root.Address = common.HexToAddress(expectTarget)
	}

	r := reader.New(root)
	if err := r.Expect(args[1:]...); err != nil {
		return err
	}
	if rest := r.Rest(); expectExact && len(rest) > 0 {
		return fmt.Errorf("%d unexpected steps after the expected hostios: %s", len(rest), strings.Join(rest, ", "))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %d hostios matched\n", len(args)-1)
	return nil
}
