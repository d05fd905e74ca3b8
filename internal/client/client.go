// Package client calls a remote TraceService.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/server"
	"github.com/ppiankov/hostiotrace/internal/tracer"
	"github.com/ppiankov/hostiotrace/internal/wire"
)

// defaultTimeout bounds calls whose context has no deadline.
const defaultTimeout = 10 * time.Second

// Client connects to a hostiotrace gRPC server.
type Client struct {
	conn *grpc.ClientConn
}

// New creates a gRPC client for the given address. The connection is
// established lazily on the first call.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to trace server: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Reconstruction is the server's answer to Reconstruct.
type Reconstruction struct {
	TraceID string
	Partial bool
	Depth   int
	Events  int
	Stats   model.Stats
	Steps   []model.Step
	Issues  []tracer.Issue
}

// Decoded is the server's answer to Decode.
type Decoded struct {
	Stats  model.Stats
	Steps  []model.Step
	Events []model.Event
	Issues []tracer.Issue
}

// Reconstruct sends an event stream to the server. nests overrides the
// server's nesting set when non-nil.
func (c *Client) Reconstruct(ctx context.Context, events []model.Event, nests []string) (*Reconstruction, error) {
	capture, err := wire.EncodeEvents(events)
	if err != nil {
		return nil, err
	}
	req, err := request("events", capture, nests)
	if err != nil {
		return nil, err
	}
	resp, err := c.invoke(ctx, server.ReconstructMethod, req)
	if err != nil {
		return nil, err
	}

	out := &Reconstruction{
		TraceID: resp.GetFields()["trace_id"].GetStringValue(),
		Partial: resp.GetFields()["partial"].GetBoolValue(),
		Depth:   int(resp.GetFields()["depth"].GetNumberValue()),
		Events:  int(resp.GetFields()["events"].GetNumberValue()),
	}
	if out.Stats, out.Steps, out.Issues, err = decodeTree(resp, nests); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode sends a tracer result to the server for validation and flattening.
func (c *Client) Decode(ctx context.Context, result json.RawMessage, nests []string) (*Decoded, error) {
	req, err := request("result", result, nests)
	if err != nil {
		return nil, err
	}
	resp, err := c.invoke(ctx, server.DecodeMethod, req)
	if err != nil {
		return nil, err
	}

	out := new(Decoded)
	if out.Stats, out.Steps, out.Issues, err = decodeTree(resp, nests); err != nil {
		return nil, err
	}
	raw, err := fieldJSON(resp, "events")
	if err != nil {
		return nil, err
	}
	if out.Events, err = wire.DecodeEvents(raw); err != nil {
		return nil, fmt.Errorf("client: response events: %w", err)
	}
	return out, nil
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func request(key string, payload []byte, nests []string) (*structpb.Struct, error) {
	v := new(structpb.Value)
	if err := protojson.Unmarshal(payload, v); err != nil {
		return nil, fmt.Errorf("client: encode %s: %w", key, err)
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{key: v}}
	if nests != nil {
		list := make([]*structpb.Value, len(nests))
		for i, n := range nests {
			list[i] = structpb.NewStringValue(n)
		}
		req.Fields["nesting_ops"] = structpb.NewListValue(&structpb.ListValue{Values: list})
	}
	return req, nil
}

func decodeTree(resp *structpb.Struct, nests []string) (model.Stats, []model.Step, []tracer.Issue, error) {
	var (
		stats  model.Stats
		issues []tracer.Issue
	)
	set := model.DefaultNestingSet()
	if nests != nil {
		var err error
		if set, err = model.NewNestingSet(nests...); err != nil {
			return stats, nil, nil, err
		}
	}
	raw, err := fieldJSON(resp, "steps")
	if err != nil {
		return stats, nil, nil, err
	}
	steps, err := wire.DecodeResult(raw, set)
	if err != nil {
		return stats, nil, nil, fmt.Errorf("client: response steps: %w", err)
	}
	if raw, err = fieldJSON(resp, "stats"); err != nil {
		return stats, nil, nil, err
	}
	if err := json.Unmarshal(raw, &stats); err != nil {
		return stats, nil, nil, fmt.Errorf("client: response stats: %w", err)
	}
	if raw, err = fieldJSON(resp, "issues"); err != nil {
		return stats, nil, nil, err
	}
	if err := json.Unmarshal(raw, &issues); err != nil {
		return stats, nil, nil, fmt.Errorf("client: response issues: %w", err)
	}
	return stats, steps, issues, nil
}

func fieldJSON(s *structpb.Struct, key string) ([]byte, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, fmt.Errorf("client: response has no %q", key)
	}
	return protojson.Marshal(v)
}
