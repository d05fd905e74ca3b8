// Package node fetches hostio traces from a Stylus-enabled node over JSON-RPC.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ppiankov/hostiotrace/internal/jstracer"
	"github.com/ppiankov/hostiotrace/internal/model"
)

// NativeTracer is the name of the node's built-in hostio tracer.
const NativeTracer = "stylusTracer"

// NativeID is the tracer id recorded for results of the native tracer.
const NativeID = "native"

// Cache stores raw tracer results of mined transactions.
type Cache interface {
	Get(ctx context.Context, tx common.Hash, tracer string) (json.RawMessage, bool, error)
	Put(ctx context.Context, tx common.Hash, tracer string, raw json.RawMessage) error
}

// Config selects the tracer and limits for a Client.
type Config struct {
	// Native uses the node's stylusTracer instead of the JS definition.
	Native bool
	// Nests is rendered into the JS definition and used for decoding.
	Nests model.NestingSet
	// Timeout is passed to the node as the tracer timeout. Zero leaves the
	// node default.
	Timeout time.Duration
	Cache   Cache
}

// Client issues trace requests.
type Client struct {
	rpc        *rpc.Client
	cfg        Config
	definition string
}

// Dial connects to a node endpoint (http, ws or ipc).
func Dial(ctx context.Context, url string, cfg Config) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("node: dial %s: %w", url, err)
	}
	return NewClient(c, cfg), nil
}

// NewClient wraps an existing RPC client.
func NewClient(c *rpc.Client, cfg Config) *Client {
	if cfg.Nests == nil {
		cfg.Nests = model.DefaultNestingSet()
	}
	return &Client{rpc: c, cfg: cfg, definition: jstracer.Definition(cfg.Nests)}
}

// Close releases the connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// ChainID asks the node for its chain id. Used as a reachability check.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := c.rpc.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, fmt.Errorf("node: chain id: %w", err)
	}
	return (*big.Int)(&id), nil
}

// TracerID identifies the tracer in use: "native" or the JS definition's
// fingerprint.
func (c *Client) TracerID() string {
	if c.cfg.Native {
		return NativeID
	}
	return jstracer.Fingerprint(c.definition)
}

// Definition is the JS tracer sent to the node when Native is unset.
func (c *Client) Definition() string {
	return c.definition
}

// TraceConfig is the tracer selection passed to debug_trace* methods.
type TraceConfig struct {
	Tracer  string `json:"tracer"`
	Timeout string `json:"timeout,omitempty"`
}

func (c *Client) traceConfig() *TraceConfig {
	cfg := &TraceConfig{Tracer: c.definition}
	if c.cfg.Native {
		cfg.Tracer = NativeTracer
	}
	if c.cfg.Timeout > 0 {
		cfg.Timeout = c.cfg.Timeout.String()
	}
	return cfg
}

// Trace is a reconstructed trace as returned by the node.
type Trace struct {
	// Tx is the traced transaction hash; zero for simulations.
	Tx common.Hash
	// Root is the top-level frame. Its address is the transaction target
	// when known.
	Root *model.Frame
	// Raw is the tracer result exactly as the node returned it.
	Raw    json.RawMessage
	Tracer string
	Cached bool
}

// Stats summarizes the trace tree.
func (t *Trace) Stats() model.Stats {
	return model.Count(t.Root.Steps)
}

type receipt struct {
	To              *common.Address `json:"to"`
	ContractAddress *common.Address `json:"contractAddress"`
	Status          hexutil.Uint64  `json:"status"`
}

// TraceTransaction traces a mined transaction. The receipt must exist.
func (c *Client) TraceTransaction(ctx context.Context, tx common.Hash) (*Trace, error) {
	var rcpt *receipt
	if err := c.rpc.CallContext(ctx, &rcpt, "eth_getTransactionReceipt", tx); err != nil {
		return nil, fmt.Errorf("node: get receipt %s: %w", tx.Hex(), err)
	}
	if rcpt == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoReceipt, tx.Hex())
	}

	tracer := c.TracerID()
	var (
		raw    json.RawMessage
		cached bool
	)
	if c.cfg.Cache != nil {
		hit, ok, err := c.cfg.Cache.Get(ctx, tx, tracer)
		if err != nil {
			log.Warn("Trace cache lookup failed", "tx", tx, "err", err)
		} else if ok {
			raw, cached = hit, true
			log.Debug("Trace cache hit", "tx", tx, "tracer", tracer)
		}
	}
	if raw == nil {
		log.Debug("Tracing transaction", "tx", tx, "tracer", tracer)
		if err := c.rpc.CallContext(ctx, &raw, "debug_traceTransaction", tx, c.traceConfig()); err != nil {
			return nil, fmt.Errorf("node: trace %s: %w", tx.Hex(), err)
		}
	}

	steps, err := Interpret(raw, c.cfg.Nests)
	if err != nil {
		return nil, err
	}
	if c.cfg.Cache != nil && !cached {
		if err := c.cfg.Cache.Put(ctx, tx, tracer, raw); err != nil {
			log.Warn("Trace cache store failed", "tx", tx, "err", err)
		}
	}

	root := &model.Frame{Kind: model.CallKindCall, Steps: steps}
	if rcpt.To != nil {
		root.Address = *rcpt.To
	}
	return &Trace{Tx: tx, Root: root, Raw: raw, Tracer: tracer, Cached: cached}, nil
}

// CallArgs describes a simulated call, encoded like eth_call arguments.
type CallArgs struct {
	From     *common.Address `json:"from,omitempty"`
	To       *common.Address `json:"to,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     hexutil.Bytes   `json:"data,omitempty"`
}

// TraceCall simulates a call against the latest block and traces it.
// Simulation results are never cached.
func (c *Client) TraceCall(ctx context.Context, args CallArgs) (*Trace, error) {
	tracer := c.TracerID()
	log.Debug("Simulating call", "to", args.To, "tracer", tracer)

	var raw json.RawMessage
	if err := c.rpc.CallContext(ctx, &raw, "debug_traceCall", args, "latest", c.traceConfig()); err != nil {
		return nil, fmt.Errorf("node: simulate: %w", err)
	}
	steps, err := Interpret(raw, c.cfg.Nests)
	if err != nil {
		return nil, err
	}
	root := &model.Frame{Kind: model.CallKindCall, Steps: steps}
	if args.To != nil {
		root.Address = *args.To
	}
	return &Trace{Root: root, Raw: raw, Tracer: tracer}, nil
}
