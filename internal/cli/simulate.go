package cli

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/audit"
	"github.com/ppiankov/hostiotrace/internal/node"
)

var (
	simFrom     string
	simTo       string
	simGas      string
	simGasPrice string
	simValue    string
	simData     string

	simNode nodeFlags
	simOut  treeFlags
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simFrom, "from", "", "Sender address")
	simulateCmd.Flags().StringVar(&simTo, "to", "", "Target address; omit to simulate a deployment")
	simulateCmd.Flags().StringVar(&simGas, "gas", "", "Gas limit (decimal or 0x hex)")
	simulateCmd.Flags().StringVar(&simGasPrice, "gas-price", "", "Gas price in wei (decimal or 0x hex)")
	simulateCmd.Flags().StringVar(&simValue, "value", "", "Call value in wei (decimal or 0x hex)")
	simulateCmd.Flags().StringVar(&simData, "data", "", "Calldata, 0x-prefixed hex")
	simNode.register(simulateCmd, false)
	simOut.register(simulateCmd)
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate a call against the latest block and print its hostio tree",
	Long: "Runs debug_traceCall with the hostio tracer and prints the reconstructed\n" +
		"call tree. Nothing is submitted and simulation results are never cached.",
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

// callArgs parses the simulate flags into eth_call arguments.
func callArgs() (node.CallArgs, error) {
	var args node.CallArgs
	if simFrom != "" {
		if !common.IsHexAddress(simFrom) {
			return args, fmt.Errorf("invalid --from address %q", simFrom)
		}
		from := common.HexToAddress(simFrom)
		args.From = &from
	}
	if simTo != "" {
		if !common.IsHexAddress(simTo) {
			return args, fmt.Errorf("invalid --to address %q", simTo)
		}
		to := common.HexToAddress(simTo)
		args.To = &to
	}
	if simGas != "" {
		gas, ok := math.ParseUint64(simGas)
		if !ok {
			return args, fmt.Errorf("invalid --gas %q", simGas)
		}
		args.Gas = (*hexutil.Uint64)(&gas)
	}
	if simGasPrice != "" {
		price, ok := math.ParseBig256(simGasPrice)
		if !ok {
			return args, fmt.Errorf("invalid --gas-price %q", simGasPrice)
		}
		args.GasPrice = (*hexutil.Big)(price)
	}
	if simValue != "" {
		value, ok := math.ParseBig256(simValue)
		if !ok {
			return args, fmt.Errorf("invalid --value %q", simValue)
		}
		args.Value = (*hexutil.Big)(value)
	}
	if simData != "" {
		data, err := hexutil.Decode(simData)
		if err != nil {
			return args, fmt.Errorf("invalid --data: %w", err)
		}
		args.Data = data
	}
	return args, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if err := simOut.validate(); err != nil {
		return err
	}
	call, err := callArgs()
	if err != nil {
		return err
	}
	nests, err := simOut.nests(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	c, closeNode, err := simNode.dial(ctx, cmd, nests)
	if err != nil {
		return err
	}
	defer closeNode()

	subject := "deployment"
	if call.To != nil {
		subject = call.To.Hex()
	}
	tr, err := c.TraceCall(ctx, call)
	if err != nil {
		recordAudit(audit.FromResult("simulate", subject, nil, err))
		return err
	}
	recordAudit(audit.FromSteps("simulate", subject, tr.Tracer, tr.Root.Steps))
	log.Info("Simulated call", "to", subject, "steps", len(tr.Root.Steps))

	return simOut.print(cmd.OutOrStdout(), view{
		title:  "Simulated hostio trace of",
		root:   tr.Root,
		tracer: tr.Tracer,
		nests:  nests,
	})
}
