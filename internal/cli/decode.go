package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/wire"
)

var (
	decodeEvents bool
	decodeOut    treeFlags
)

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVar(&decodeEvents, "events", false, "Print the flattened event stream instead of the tree")
	decodeOut.register(decodeCmd)
}

var decodeCmd = &cobra.Command{
	Use:   "decode <result.json>",
	Short: "Decode a saved hostio tracer result",
	Long: "Parses the JSON a node's hostio tracer returned (\"-\" for stdin), decodes\n" +
		"every hostio's args and outs, and prints the tree. With --events the tree is\n" +
		"flattened back into the event stream that reconstructs it.",
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func runDecode(cmd *cobra.Command, args []string) error {
	if err := decodeOut.validate(); err != nil {
		return err
	}
	data, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	nests, err := decodeOut.nests(cmd)
	if err != nil {
		return err
	}
	steps, err := wire.DecodeResult(data, nests)
	if err != nil {
		return err
	}

	if decodeEvents {
		capture, err := wire.EncodeEvents(wire.Flatten(steps))
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, capture, "", "  "); err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), buf.String())
		return err
	}
	return decodeOut.print(cmd.OutOrStdout(), view{root: &model.Frame{Steps: steps}, nests: nests})
}
