package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/hostiotrace/internal/tracer"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a text timeline, one line per
// reconstruction.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Filter: %s | No entries found.\n", result.Filter)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Filter: %s | %s–%s UTC\n", result.Filter,
		formatDateTime(result.Summary.FirstTimestamp), formatTimeOnly(result.Summary.LastTimestamp))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		detail := fmt.Sprintf("%d hostios, %d frames, depth %d", e.Stats.HostIOs, e.Stats.Frames, e.Stats.MaxDepth)
		if e.Outcome == OutcomeFailed {
			detail = truncate(e.Error, 40)
		}
		fmt.Fprintf(&b, "%-10s %-9s %-6s %-24s %s\n",
			formatTimeOnly(e.Timestamp), strings.ToUpper(e.Outcome), e.Source, truncate(e.Subject, 24), detail)
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateTime(ts string) string {
	t, err := time.Parse(tracer.TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format(time.DateTime)
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(tracer.TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format(time.TimeOnly)
}

func formatSummary(s ReplaySummary) string {
	var parts []string
	if s.CompleteCount > 0 {
		parts = append(parts, fmt.Sprintf("%d complete", s.CompleteCount))
	}
	if s.PartialCount > 0 {
		parts = append(parts, fmt.Sprintf("%d partial", s.PartialCount))
	}
	if s.FailedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.FailedCount))
	}
	return fmt.Sprintf("Summary: %s | %d hostios | Max depth: %d\n",
		strings.Join(parts, ", "), s.HostIOs, s.MaxDepth)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
