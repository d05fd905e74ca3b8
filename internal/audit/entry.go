package audit

import (
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/tracer"
	"github.com/ppiankov/hostiotrace/internal/wire"
)

// Reconstruction outcomes.
const (
	OutcomeComplete = "complete"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
)

// Entry is one line in the hash-chained JSONL audit log: one reconstruction.
// All fields are structs (no map[string]any) to keep json.Marshal field
// order deterministic for reproducible hashing.
type Entry struct {
	Timestamp string `json:"ts"`
	TraceID   string `json:"trace_id"`
	// Source is where the events came from: tx, call, file, inbox, grpc, mcp.
	Source string `json:"source"`
	// Subject names the input: a tx hash, call target or file path.
	Subject    string      `json:"subject"`
	Tracer     string      `json:"tracer,omitempty"`
	Outcome    string      `json:"outcome"`
	Events     int         `json:"events"`
	Depth      int         `json:"depth"`
	Stats      model.Stats `json:"stats"`
	Error      string      `json:"error,omitempty"`
	ResultHash string      `json:"result_hash,omitempty"`
	PrevHash   string      `json:"prev_hash"`
}

// FromResult describes a builder result. A nil result with err records a failure.
func FromResult(source, subject string, res *tracer.Result, err error) Entry {
	e := Entry{TraceID: tracer.NewTraceID(), Source: source, Subject: subject}
	if err != nil || res == nil {
		e.Outcome = OutcomeFailed
		if err != nil {
			e.Error = err.Error()
		}
		return e
	}
	e.Outcome = OutcomeComplete
	if res.Partial {
		e.Outcome = OutcomePartial
	}
	e.Events = res.Events
	e.Depth = res.Depth
	e.Stats = model.Count(res.Root)
	e.ResultHash = ResultHash(res.Root)
	return e
}

// FromSteps describes a tree fetched from a node, which is always complete.
func FromSteps(source, subject, tracerID string, steps []model.Step) Entry {
	return Entry{
		TraceID:    tracer.NewTraceID(),
		Source:     source,
		Subject:    subject,
		Tracer:     tracerID,
		Outcome:    OutcomeComplete,
		Stats:      model.Count(steps),
		ResultHash: ResultHash(steps),
	}
}

// ResultHash is the keccak256 of the tree's tracer-result encoding. Equal
// trees hash equally regardless of how they were produced.
func ResultHash(steps []model.Step) string {
	raw, err := wire.EncodeResult(steps)
	if err != nil {
		return ""
	}
	return crypto.Keccak256Hash(raw).Hex()
}
