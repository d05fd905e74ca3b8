package render

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/tracer"
	"github.com/ppiankov/hostiotrace/internal/wire"
)

// Report is the JSON export of a reconstruction.
type Report struct {
	Tx      string          `json:"tx,omitempty"`
	Target  string          `json:"target,omitempty"`
	Tracer  string          `json:"tracer,omitempty"`
	Partial bool            `json:"partial"`
	Depth   int             `json:"depth"`
	Stats   model.Stats     `json:"stats"`
	Issues  []tracer.Issue  `json:"issues,omitempty"`
	Steps   json.RawMessage `json:"steps"`
}

// NewReport assembles a report for steps. Steps are encoded in the tracer
// result format; issues are checked against nests.
func NewReport(steps []model.Step, nests model.NestingSet) (*Report, error) {
	raw, err := wire.EncodeResult(steps)
	if err != nil {
		return nil, fmt.Errorf("render: encode steps: %w", err)
	}
	return &Report{Stats: model.Count(steps), Issues: tracer.Check(steps, nests), Steps: raw}, nil
}

// JSON writes the report as indented JSON.
func JSON(w io.Writer, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("render: marshal report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
