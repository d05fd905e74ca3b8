// Package jstracer holds the JavaScript tracer definition sent to the node
// and a local goja runtime that executes it against recorded events.
package jstracer

import (
	_ "embed"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ppiankov/hostiotrace/internal/model"
)

//go:embed tracer.js
var source string

const nestsPlaceholder = "__NESTS__"

// Definition renders the tracer with the given nesting operations. A nil set
// uses the defaults. Output is deterministic for equal sets.
func Definition(nests model.NestingSet) string {
	if nests == nil {
		nests = model.DefaultNestingSet()
	}
	names, _ := json.Marshal(nests.Names())
	return strings.Replace(source, nestsPlaceholder, string(names), 1)
}

// Fingerprint identifies a definition in cache keys: "js-" and the first
// eight bytes of its keccak hash.
func Fingerprint(definition string) string {
	h := crypto.Keccak256Hash([]byte(definition))
	return "js-" + h.Hex()[2:18]
}
