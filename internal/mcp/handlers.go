package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/hostiotrace/internal/audit"
	"github.com/ppiankov/hostiotrace/internal/jstracer"
	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/render"
	"github.com/ppiankov/hostiotrace/internal/tracer"
	"github.com/ppiankov/hostiotrace/internal/wire"
)

// --- Input/Output types ---

// ReconstructInput defines parameters for the hostiotrace_reconstruct tool.
type ReconstructInput struct {
	Events     string   `json:"events" jsonschema:"JSON array of captured events, each with a type of hostio, enter or exit"`
	NestingOps []string `json:"nesting_ops,omitempty" jsonschema:"hostio names that consume the preceding frame; defaults to the configured set"`
	Subject    string   `json:"subject,omitempty" jsonschema:"label recorded in the audit log"`
}

// TreeOutput is the reconstructed or decoded tree.
type TreeOutput struct {
	TraceID string         `json:"trace_id,omitempty"`
	Partial bool           `json:"partial"`
	Depth   int            `json:"depth"`
	Stats   model.Stats    `json:"stats"`
	Issues  []tracer.Issue `json:"issues,omitempty"`
	// Steps is the tree in tracer result format.
	Steps any `json:"steps"`
	// Tree is a plain text rendering of the steps.
	Tree   string `json:"tree"`
	Events string `json:"events,omitempty"`
	Error  string `json:"error,omitempty"`
}

// DecodeInput defines parameters for the hostiotrace_decode tool.
type DecodeInput struct {
	Result     string   `json:"result" jsonschema:"hostio tracer result as a JSON array"`
	NestingOps []string `json:"nesting_ops,omitempty" jsonschema:"hostio names that carry a subtrace"`
}

// TracerInput defines parameters for the hostiotrace_tracer tool.
type TracerInput struct {
	NestingOps []string `json:"nesting_ops,omitempty" jsonschema:"hostio names that consume the preceding frame"`
}

// TracerOutput is a rendered tracer definition.
type TracerOutput struct {
	Definition  string   `json:"definition"`
	Fingerprint string   `json:"fingerprint"`
	NestingOps  []string `json:"nesting_ops"`
	Error       string   `json:"error,omitempty"`
}

// TraceInput defines parameters for the hostiotrace_trace tool.
type TraceInput struct {
	Tx string `json:"tx" jsonschema:"transaction hash, 0x-prefixed"`
}

// --- Handlers ---

func (s *Server) handleReconstruct(ctx context.Context, req *mcpsdk.CallToolRequest, input ReconstructInput) (*mcpsdk.CallToolResult, TreeOutput, error) {
	subject := input.Subject
	if subject == "" {
		subject = "inline"
	}
	nests, err := s.requestNests(input.NestingOps)
	if err != nil {
		return toolError(TreeOutput{Error: err.Error()})
	}
	events, err := wire.DecodeEvents([]byte(input.Events))
	if err != nil {
		s.record(audit.FromResult("mcp", subject, nil, err))
		return toolError(TreeOutput{Error: err.Error()})
	}

	b := tracer.NewBuilder(nests)
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, TreeOutput{}, err
		}
		if err := b.Process(ev); err != nil {
			break
		}
	}
	res, err := b.Finish()
	entry := audit.FromResult("mcp", subject, res, err)
	s.record(entry)
	if err != nil {
		return toolError(TreeOutput{TraceID: entry.TraceID, Error: err.Error()})
	}

	out, err := treeOutput(res.Root, nests)
	if err != nil {
		return nil, TreeOutput{}, err
	}
	out.TraceID = entry.TraceID
	out.Partial = res.Partial
	out.Depth = res.Depth
	log.Debug("Reconstructed over MCP", "trace", entry.TraceID, "events", res.Events, "partial", res.Partial)
	return nil, out, nil
}

func (s *Server) handleDecode(ctx context.Context, req *mcpsdk.CallToolRequest, input DecodeInput) (*mcpsdk.CallToolResult, TreeOutput, error) {
	nests, err := s.requestNests(input.NestingOps)
	if err != nil {
		return toolError(TreeOutput{Error: err.Error()})
	}
	steps, err := wire.DecodeResult([]byte(input.Result), nests)
	if err != nil {
		return toolError(TreeOutput{Error: err.Error()})
	}
	out, err := treeOutput(steps, nests)
	if err != nil {
		return nil, TreeOutput{}, err
	}
	capture, err := wire.EncodeEvents(wire.Flatten(steps))
	if err != nil {
		return nil, TreeOutput{}, err
	}
	out.Events = string(capture)
	return nil, out, nil
}

func (s *Server) handleTracer(ctx context.Context, req *mcpsdk.CallToolRequest, input TracerInput) (*mcpsdk.CallToolResult, TracerOutput, error) {
	nests, err := s.requestNests(input.NestingOps)
	if err != nil {
		return toolError(TracerOutput{Error: err.Error()})
	}
	def := jstracer.Definition(nests)
	return nil, TracerOutput{
		Definition:  def,
		Fingerprint: jstracer.Fingerprint(def),
		NestingOps:  nests.Names(),
	}, nil
}

func (s *Server) handleTrace(ctx context.Context, req *mcpsdk.CallToolRequest, input TraceInput) (*mcpsdk.CallToolResult, TreeOutput, error) {
	if s.node == nil {
		return toolError(TreeOutput{Error: "no node configured; set rpc_url and restart"})
	}
	tx, err := hashArg(input.Tx)
	if err != nil {
		return toolError(TreeOutput{Error: err.Error()})
	}
	tr, err := s.node.TraceTransaction(ctx, tx)
	if err != nil {
		s.record(audit.FromResult("mcp", input.Tx, nil, err))
		return toolError(TreeOutput{Error: err.Error()})
	}
	entry := audit.FromSteps("mcp", tr.Tx.Hex(), tr.Tracer, tr.Root.Steps)
	s.record(entry)

	out, err := treeOutput(tr.Root.Steps, s.Nests())
	if err != nil {
		return nil, TreeOutput{}, err
	}
	out.TraceID = entry.TraceID
	return nil, out, nil
}

// --- Helpers ---

func toolError[T any](out T) (*mcpsdk.CallToolResult, T, error) {
	return &mcpsdk.CallToolResult{IsError: true}, out, nil
}

func treeOutput(steps []model.Step, nests model.NestingSet) (TreeOutput, error) {
	encoded, err := wire.EncodeResult(steps)
	if err != nil {
		return TreeOutput{}, err
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return TreeOutput{}, err
	}
	var tree bytes.Buffer
	render.NewPrinter(&tree, render.Options{Fields: true}).Tree(steps)
	return TreeOutput{
		Stats:  model.Count(steps),
		Issues: tracer.Check(steps, nests),
		Steps:  decoded,
		Tree:   tree.String(),
	}, nil
}

var errBadHash = errors.New("tx must be a 0x-prefixed 32-byte hash")

func hashArg(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q", errBadHash, s)
	}
	return common.BytesToHash(b), nil
}
