package node

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/wire"
)

var (
	ErrNoTraceFrames = errors.New("no trace frames found, perhaps you are attempting to trace the contract deployment transaction")
	ErrActivationTx  = errors.New("tx was a contract activation transaction, it has no trace frames")
	ErrNoReceipt     = errors.New("failed to get receipt for tx")
	ErrMalformed     = errors.New("malformed tracing result")
)

// Interpret validates a raw tracer result and decodes it into steps. An empty
// array and an activation-only result are reported as errors.
func Interpret(raw json.RawMessage, nests model.NestingSet) ([]model.Step, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, abbreviate(raw))
	}
	if len(items) == 0 {
		return nil, ErrNoTraceFrames
	}
	if isActivation(items) {
		return nil, ErrActivationTx
	}
	steps, err := wire.DecodeResult(raw, nests)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return steps, nil
}

// Activation transactions trace as bare {address} objects with no hostio names.
func isActivation(items []map[string]json.RawMessage) bool {
	for _, item := range items {
		if _, ok := item["address"]; !ok {
			return false
		}
		if _, ok := item["name"]; ok {
			return false
		}
	}
	return true
}

func abbreviate(raw []byte) string {
	if len(raw) > 64 {
		return string(raw[:61]) + "..."
	}
	return string(raw)
}
