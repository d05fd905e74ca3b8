// Package alert posts reconstruction outcomes to webhook endpoints.
package alert

import (
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ppiankov/hostiotrace/internal/audit"
)

// Config defines a webhook destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic" or "slack"
	Events  []string          `yaml:"events"  json:"events"` // outcomes: "complete", "partial", "failed"
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"trace_id"`
	Job       string `json:"job,omitempty"`
	Source    string `json:"source"`
	Subject   string `json:"subject"`
	Outcome   string `json:"outcome"`
	Events    int    `json:"events"`
	Depth     int    `json:"depth,omitempty"`
	HostIOs   int    `json:"hostios"`
	Error     string `json:"error,omitempty"`
}

// FromEntry builds an event from an audit entry.
func FromEntry(job string, e audit.Entry) Event {
	ts := e.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339)
	}
	return Event{
		Timestamp: ts,
		TraceID:   e.TraceID,
		Job:       job,
		Source:    e.Source,
		Subject:   e.Subject,
		Outcome:   e.Outcome,
		Events:    e.Events,
		Depth:     e.Depth,
		HostIOs:   e.Stats.HostIOs,
		Error:     e.Error,
	}
}

// Validate rejects destinations that could never be delivered.
func (c Config) Validate() error {
	if c.URL == "" {
		return errMissingURL
	}
	switch c.Format {
	case "", "generic", "slack":
	default:
		return &formatError{c.Format}
	}
	for _, ev := range c.Events {
		switch ev {
		case audit.OutcomeComplete, audit.OutcomePartial, audit.OutcomeFailed:
		default:
			return &eventError{ev}
		}
	}
	return nil
}

// Dispatcher fans out events to matching webhooks.
type Dispatcher struct {
	configs []Config
	wg      sync.WaitGroup
}

// NewDispatcher returns nil if configs is empty. A nil Dispatcher drops
// every event.
func NewDispatcher(configs []Config) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs}
}

// Dispatch sends the event to every webhook whose Events list names its
// outcome. Deliveries run in the background; use Wait to drain them.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event.Outcome) {
			continue
		}
		d.wg.Add(1)
		go func(cfg Config) {
			defer d.wg.Done()
			if err := Send(cfg, event); err != nil {
				log.Warn("Webhook delivery failed", "url", cfg.URL, "trace", event.TraceID, "err", err)
			}
		}(cfg)
	}
}

// Wait blocks until all in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func matches(events []string, outcome string) bool {
	for _, e := range events {
		if strings.EqualFold(e, outcome) {
			return true
		}
	}
	return false
}
