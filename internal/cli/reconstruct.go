package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/audit"
	"github.com/ppiankov/hostiotrace/internal/client"
	"github.com/ppiankov/hostiotrace/internal/jstracer"
	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/tracer"
	"github.com/ppiankov/hostiotrace/internal/wire"
)

// ErrCrossCheck is a tree the JS tracer definition builds differently.
var ErrCrossCheck = errors.New("JS tracer result differs from the reconstructed tree")

var (
	reconRemote     string
	reconCrossCheck bool
	reconInnermost  bool
	reconOut        treeFlags
)

func init() {
	rootCmd.AddCommand(reconstructCmd)
	reconstructCmd.Flags().StringVar(&reconRemote, "remote", "", "Reconstruct on a hostiotrace gRPC server at this address")
	reconstructCmd.Flags().BoolVar(&reconCrossCheck, "crosscheck", false, "Also run the JS tracer definition locally and compare trees")
	reconstructCmd.Flags().BoolVar(&reconInnermost, "innermost", false, "Print only the innermost open frame of a partial stream")
	reconOut.register(reconstructCmd)
}

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct <events.json>",
	Short: "Rebuild a hostio tree from a captured event stream",
	Long: "Reads a JSON array of hostio, enter and exit events (\"-\" for stdin) and\n" +
		"prints the reconstructed tree. A stream that ends inside an open frame\n" +
		"yields a partial tree; an exit without an enter or a nesting hostio with no\n" +
		"frame before it is an error.",
	Args: cobra.ExactArgs(1),
	RunE: runReconstruct,
}

func runReconstruct(cmd *cobra.Command, args []string) error {
	if err := reconOut.validate(); err != nil {
		return err
	}
	data, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	events, err := wire.DecodeEvents(data)
	if err != nil {
		return err
	}
	nests, err := reconOut.nests(cmd)
	if err != nil {
		return err
	}
	if reconRemote != "" {
		return reconstructRemote(cmd, events, nests)
	}

	res, err := tracer.Build(nests, events)
	recordAudit(audit.FromResult("cli", args[0], res, err))
	if err != nil {
		return err
	}
	log.Debug("Reconstructed capture", "path", args[0], "events", res.Events, "partial", res.Partial, "depth", res.Depth)

	if reconCrossCheck {
		if err := crossCheck(cmd.Context(), nests, events, res); err != nil {
			return err
		}
		log.Info("JS tracer definition agrees", "events", len(events))
	}

	steps := res.Root
	if reconInnermost {
		steps = res.Snapshot
	}
	return reconOut.print(cmd.OutOrStdout(), view{
		root:    &model.Frame{Steps: steps},
		partial: res.Partial,
		depth:   res.Depth,
		nests:   nests,
	})
}

func reconstructRemote(cmd *cobra.Command, events []model.Event, nests model.NestingSet) error {
	c, err := client.New(reconRemote)
	if err != nil {
		return err
	}
	defer c.Close()

	var override []string
	if cmd.Flags().Changed("nesting-ops") {
		override = nests.Names()
	}
	rec, err := c.Reconstruct(cmd.Context(), events, override)
	if err != nil {
		return err
	}
	log.Info("Reconstructed remotely", "server", reconRemote, "trace", rec.TraceID, "events", rec.Events)
	return reconOut.print(cmd.OutOrStdout(), view{
		root:    &model.Frame{Steps: rec.Steps},
		partial: rec.Partial,
		depth:   rec.Depth,
		nests:   nests,
	})
}

// crossCheck runs the JS definition over the same events and compares its
// result with the builder's snapshot. For a partial stream both hold only
// the innermost open frame's steps.
func crossCheck(ctx context.Context, nests model.NestingSet, events []model.Event, res *tracer.Result) error {
	raw, err := jstracer.Run(ctx, jstracer.Definition(nests), events)
	if err != nil {
		return fmt.Errorf("crosscheck: %w", err)
	}
	jsSteps, err := wire.DecodeResult(raw, nests)
	if err != nil {
		return fmt.Errorf("crosscheck: %w", err)
	}
	want, err := wire.EncodeResult(res.Snapshot)
	if err != nil {
		return err
	}
	got, err := wire.EncodeResult(jsSteps)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		return fmt.Errorf("%w:\n  go: %s\n  js: %s", ErrCrossCheck, want, got)
	}
	return nil
}
