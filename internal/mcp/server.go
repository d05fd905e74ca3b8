// Package mcp exposes trace reconstruction as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/hostiotrace/internal/audit"
	"github.com/ppiankov/hostiotrace/internal/config"
	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/node"
)

// Version is reported in the MCP implementation info.
var Version = "dev"

// Config holds MCP server configuration.
type Config struct {
	ConfigPath   string
	AuditLogPath string
	// Node serves hostiotrace_trace. The tool reports an error when unset.
	Node *node.Client
}

// Server wraps the MCP SDK server with the reconstruction tools.
type Server struct {
	mcpServer  *mcpsdk.Server
	node       *node.Client
	auditLog   *audit.Log
	configHash string

	mu    sync.Mutex
	nests model.NestingSet
}

// New creates an MCP server with the configured nesting set and tools.
func New(cfg Config) (*Server, error) {
	c, hash, err := config.LoadConfigWithHash(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	nests, err := c.Nests()
	if err != nil {
		return nil, err
	}

	var auditLog *audit.Log
	if cfg.AuditLogPath != "" {
		auditLog, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	s := &Server{
		node:       cfg.Node,
		auditLog:   auditLog,
		configHash: hash,
		nests:      nests,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "hostiotrace",
			Version: Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	log.Info("Serving MCP tools on stdio", "nests", s.Nests().Names(), "config", s.configHash)
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close closes the audit log if configured.
func (s *Server) Close() error {
	if s.auditLog != nil {
		return s.auditLog.Close()
	}
	return nil
}

// Nests is the nesting set tools use when a call gives no override.
func (s *Server) Nests() model.NestingSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nests
}

// requestNests resolves a per-call nesting_ops override.
func (s *Server) requestNests(names []string) (model.NestingSet, error) {
	if names == nil {
		return s.Nests(), nil
	}
	return model.NewNestingSet(names...)
}

func (s *Server) record(e audit.Entry) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Record(e); err != nil {
		log.Warn("Audit record failed", "err", err)
	}
}

// registerTools adds all hostiotrace tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "hostiotrace_reconstruct",
		Description: "Rebuild a Stylus hostio call tree from a captured event stream (hostio, enter and exit events).",
	}, s.handleReconstruct)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "hostiotrace_decode",
		Description: "Decode a hostio tracer result, check its nesting and return its flattened event stream.",
	}, s.handleDecode)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "hostiotrace_tracer",
		Description: "Render the JavaScript tracer definition for a nesting set, with its fingerprint.",
	}, s.handleTracer)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "hostiotrace_trace",
		Description: "Trace a mined transaction on the configured node and return its hostio tree.",
	}, s.handleTrace)
}
