package cli

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/mcp"
	"github.com/ppiankov/hostiotrace/internal/node"
)

var (
	mcpNode   nodeFlags
	mcpNoNode bool
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpNode.register(mcpCmd, true)
	mcpCmd.Flags().BoolVar(&mcpNoNode, "offline", false, "Do not connect to a node; hostiotrace_trace reports an error")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP tool server on stdio",
	Long: "Runs hostiotrace as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools: hostiotrace_reconstruct, hostiotrace_decode, hostiotrace_tracer\n" +
		"and hostiotrace_trace.",
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := mcp.Config{
		ConfigPath:   configPath,
		AuditLogPath: appConfig.AuditLog,
	}
	if !mcpNoNode {
		nests, err := appConfig.Nests()
		if err != nil {
			return err
		}
		var (
			c         *node.Client
			closeNode func()
		)
		c, closeNode, err = mcpNode.dial(ctx, cmd, nests)
		if err != nil {
			log.Warn("Node unavailable, hostiotrace_trace disabled", "err", err)
		} else {
			defer closeNode()
			cfg.Node = c
		}
	}

	mcp.Version = Version
	srv, err := mcp.New(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()
	return srv.Run(ctx)
}
