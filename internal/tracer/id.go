package tracer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// TimestampFormat is the UTC layout used in audit entries and daemon results.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// NewTraceID returns a random reconstruction id of the form "t-<12 hex>".
func NewTraceID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// Fall back to the clock if crypto/rand fails
		return fmt.Sprintf("t-%x", time.Now().UnixNano())
	}
	return "t-" + hex.EncodeToString(b)
}

// UTCNowISO returns the current UTC time in TimestampFormat.
func UTCNowISO() string {
	return time.Now().UTC().Format(TimestampFormat)
}
