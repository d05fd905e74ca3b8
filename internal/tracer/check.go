package tracer

import (
	"fmt"
	"strconv"

	"github.com/ppiankov/hostiotrace/internal/model"
)

// Issue is a structural inconsistency found in a reconstructed tree.
// Path is the slash-separated index of the step from the root.
type Issue struct {
	Path    string `json:"path"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s: %s", i.Path, i.Step, i.Message)
}

// Check walks a tree and reports nesting inconsistencies: nesting hostios with
// no subtrace, subtraces on non-nesting hostios, subtrace addresses that differ
// from the hostio's decoded address field.
func Check(steps []model.Step, nests model.NestingSet) []Issue {
	if nests == nil {
		nests = model.DefaultNestingSet()
	}
	var issues []Issue
	checkSteps(&issues, steps, nests, "")
	return issues
}

func checkSteps(issues *[]Issue, steps []model.Step, nests model.NestingSet, prefix string) {
	for i, step := range steps {
		path := prefix + "/" + strconv.Itoa(i)
		report := func(format string, args ...any) {
			*issues = append(*issues, Issue{Path: path, Step: step.StepName(), Message: fmt.Sprintf(format, args...)})
		}
		switch v := step.(type) {
		case *model.HostIO:
			nesting := nests.Contains(v.Name)
			switch {
			case nesting && v.Subtrace == nil:
				report("nesting hostio has no subtrace")
			case !nesting && v.Subtrace != nil:
				report("non-nesting hostio carries a subtrace")
			}
			if v.Subtrace == nil {
				continue
			}
			if addr, ok := v.Fields.Get("address"); ok && addr.Kind == model.KindAddress && addr.Addr != v.Subtrace.Address {
				report("subtrace address %s differs from call target %s", v.Subtrace.Address.Hex(), addr.Addr.Hex())
			}
			checkFrame(issues, v.Subtrace, nests, path)
		case *model.Frame:
			checkFrame(issues, v, nests, path)
		}
	}
}

func checkFrame(issues *[]Issue, f *model.Frame, nests model.NestingSet, path string) {
	checkSteps(issues, f.Steps, nests, path)
}
