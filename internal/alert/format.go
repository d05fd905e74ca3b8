package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	if format == "slack" {
		return formatSlack(event)
	}
	return json.Marshal(event)
}

func formatSlack(event Event) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Subject:* %s", event.Subject)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Source:* %s", event.Source)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Hostios:* %d", event.HostIOs)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Trace:* %s", event.TraceID)},
	}
	if event.Outcome == "partial" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Open frames:* %d", event.Depth)})
	}
	if event.Error != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Error:* %s", event.Error)})
	}

	payload := map[string]any{
		"text": fmt.Sprintf("hostiotrace: %s %s", event.Outcome, event.Subject),
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("hostiotrace: %s", event.Outcome),
				},
			},
			map[string]any{"type": "section", "fields": fields},
		},
	}
	return json.Marshal(payload)
}
