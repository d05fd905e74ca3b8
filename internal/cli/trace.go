package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/audit"
	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/node"
	"github.com/ppiankov/hostiotrace/internal/store"
)

// nodeFlags select the node endpoint and tracer.
type nodeFlags struct {
	rpcURL  string
	native  bool
	timeout time.Duration
	cache   string
	noCache bool

	cacheable bool
}

func (f *nodeFlags) register(cmd *cobra.Command, cacheable bool) {
	cmd.Flags().StringVar(&f.rpcURL, "rpc", "", "Node RPC endpoint (overrides rpc_url)")
	cmd.Flags().BoolVar(&f.native, "native", false, "Use the node's stylusTracer instead of the JS tracer")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Tracer timeout passed to the node (overrides timeout)")
	f.cacheable = cacheable
	if cacheable {
		cmd.Flags().StringVar(&f.cache, "cache", "", "Trace cache database (overrides cache_path)")
		cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "Always ask the node")
	}
}

// dial connects to the node. The returned cleanup closes the client and the
// cache.
func (f *nodeFlags) dial(ctx context.Context, cmd *cobra.Command, nests model.NestingSet) (*node.Client, func(), error) {
	url := appConfig.RPCURL
	if cmd.Flags().Changed("rpc") {
		url = f.rpcURL
	}
	cfg := node.Config{
		Native:  appConfig.NativeTracer || f.native,
		Nests:   nests,
		Timeout: appConfig.Timeout,
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Timeout = f.timeout
	}

	var cache *store.Store
	cachePath := appConfig.CachePath
	if f.cache != "" {
		cachePath = f.cache
	}
	if f.cacheable && cachePath != "" && !f.noCache {
		var err error
		if cache, err = store.Open(cachePath); err != nil {
			log.Warn("Trace cache disabled", "path", cachePath, "err", err)
		} else {
			cfg.Cache = cache
		}
	}

	c, err := node.Dial(ctx, url, cfg)
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, nil, err
	}
	log.Debug("Connected to node", "url", url, "tracer", c.TracerID())
	return c, func() {
		c.Close()
		if cache != nil {
			cache.Close()
		}
	}, nil
}

var (
	traceNode nodeFlags
	traceOut  treeFlags
)

func init() {
	rootCmd.AddCommand(traceCmd)
	traceNode.register(traceCmd, true)
	traceOut.register(traceCmd)
}

var traceCmd = &cobra.Command{
	Use:   "trace <tx-hash>",
	Short: "Trace a mined transaction and print its hostio tree",
	Long: "Replays a transaction on the node with the hostio tracer and prints the\n" +
		"reconstructed call tree. Results of mined transactions are cached when a\n" +
		"cache path is configured.",
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

func runTrace(cmd *cobra.Command, args []string) error {
	if err := traceOut.validate(); err != nil {
		return err
	}
	raw, err := hexutil.Decode(args[0])
	if err != nil || len(raw) != common.HashLength {
		return fmt.Errorf("invalid transaction hash %q", args[0])
	}
	tx := common.BytesToHash(raw)
	nests, err := traceOut.nests(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	c, closeNode, err := traceNode.dial(ctx, cmd, nests)
	if err != nil {
		return err
	}
	defer closeNode()

	tr, err := c.TraceTransaction(ctx, tx)
	if err != nil {
		recordAudit(audit.FromResult("node", tx.Hex(), nil, err))
		return err
	}
	recordAudit(audit.FromSteps("node", tx.Hex(), tr.Tracer, tr.Root.Steps))
	log.Info("Traced transaction", "tx", tx, "steps", len(tr.Root.Steps), "cached", tr.Cached)

	return traceOut.print(cmd.OutOrStdout(), view{
		title:  "Hostio trace of",
		root:   tr.Root,
		tx:     tx,
		tracer: tr.Tracer,
		nests:  nests,
	})
}
