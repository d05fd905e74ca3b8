// Package daemon reconstructs event-stream captures dropped into an inbox
// directory. Each capture is reduced by its own builder on a fixed worker
// pool and the tree is written to the outbox.
package daemon

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/hostiotrace/internal/model"
)

// Job is a capture dropped into the inbox.
type Job struct {
	ID string `json:"id"`
	// Source describes where the capture was recorded, e.g. a tx hash.
	Source string `json:"source,omitempty"`
	// NestingOps overrides the daemon's nesting set for this capture.
	NestingOps []string `json:"nesting_ops,omitempty"`
	// Events is the event stream in capture format.
	Events    json.RawMessage `json:"events"`
	CreatedAt time.Time       `json:"created_at"`
}

// validID matches alphanumeric characters, dashes, and underscores only.
var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateJob checks that a job has all required fields and safe values.
func ValidateJob(j *Job) error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if strings.Contains(j.ID, "..") {
		return fmt.Errorf("job ID must not contain '..'")
	}
	if !validID.MatchString(j.ID) {
		return fmt.Errorf("job ID contains invalid characters: only alphanumeric, dash, and underscore allowed")
	}
	if len(j.Events) == 0 {
		return fmt.Errorf("job events are required")
	}
	for _, op := range j.NestingOps {
		if op == "" {
			return fmt.Errorf("job nesting_ops contains an empty name")
		}
	}
	return nil
}

// Result status values.
const (
	ResultDone    = "done"
	ResultPartial = "partial"
	ResultFailed  = "failed"
)

// Result is written to the outbox after processing a job.
type Result struct {
	ID      string      `json:"id"`
	TraceID string      `json:"trace_id,omitempty"`
	Status  string      `json:"status"`
	Events  int         `json:"events"`
	Depth   int         `json:"depth,omitempty"`
	Stats   model.Stats `json:"stats"`
	// Steps is the tree in tracer result format.
	Steps       json.RawMessage `json:"steps,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}
