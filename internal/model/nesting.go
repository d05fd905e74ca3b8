package model

import (
	"fmt"
	"sort"
)

// DefaultNestingOps are the hostios whose cross-program call is bracketed by
// enter/exit events before the hostio itself is reported.
var DefaultNestingOps = []string{
	"call_contract",
	"delegate_call_contract",
	"static_call_contract",
}

// NestingSet is the configured set of nesting operation names.
type NestingSet map[string]struct{}

// NewNestingSet builds a set from names. Empty names are rejected.
func NewNestingSet(names ...string) (NestingSet, error) {
	set := make(NestingSet, len(names))
	for _, n := range names {
		if n == "" {
			return nil, fmt.Errorf("model: empty nesting operation name")
		}
		set[n] = struct{}{}
	}
	return set, nil
}

// DefaultNestingSet returns a fresh set holding DefaultNestingOps.
func DefaultNestingSet() NestingSet {
	set, _ := NewNestingSet(DefaultNestingOps...)
	return set
}

// Contains reports whether name is a nesting operation.
func (s NestingSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members in sorted order.
func (s NestingSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
