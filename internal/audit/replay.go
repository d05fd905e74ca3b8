package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/hostiotrace/internal/tracer"
)

// ReplayFilter selects entries. Empty fields match everything.
type ReplayFilter struct {
	TraceID string
	Subject string
	From    time.Time // zero value = no lower bound
	To      time.Time // zero value = no upper bound
}

// ReplaySummary holds outcome counts and metadata for the selected entries.
type ReplaySummary struct {
	Total          int    `json:"total"`
	CompleteCount  int    `json:"complete_count"`
	PartialCount   int    `json:"partial_count"`
	FailedCount    int    `json:"failed_count"`
	HostIOs        int    `json:"hostios"`
	MaxDepth       int    `json:"max_depth"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Filter  string        `json:"filter"`
	Entries []Entry       `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{Filter: filter.String()}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if !filter.match(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	return result, nil
}

func (f ReplayFilter) String() string {
	switch {
	case f.TraceID != "" && f.Subject != "":
		return f.TraceID + " " + f.Subject
	case f.TraceID != "":
		return f.TraceID
	case f.Subject != "":
		return f.Subject
	}
	return "all"
}

func (f ReplayFilter) match(e Entry) bool {
	if f.TraceID != "" && e.TraceID != f.TraceID {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(tracer.TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func updateSummary(s *ReplaySummary, e Entry) {
	s.Total++
	switch e.Outcome {
	case OutcomeComplete:
		s.CompleteCount++
	case OutcomePartial:
		s.PartialCount++
	case OutcomeFailed:
		s.FailedCount++
	}
	s.HostIOs += e.Stats.HostIOs
	if e.Stats.MaxDepth > s.MaxDepth {
		s.MaxDepth = e.Stats.MaxDepth
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
