package alert

import (
	"errors"
	"fmt"
)

var errMissingURL = errors.New("alert: url is required")

type formatError struct{ format string }

func (e *formatError) Error() string {
	return fmt.Sprintf("alert: unknown format %q", e.format)
}

type eventError struct{ event string }

func (e *eventError) Error() string {
	return fmt.Sprintf("alert: unknown event %q (want complete, partial or failed)", e.event)
}
