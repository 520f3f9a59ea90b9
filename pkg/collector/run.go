package collector

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrCursorStalled is returned when an adapter computes a cursor that does
// not move past the previous one. Re-fetching would loop forever.
var ErrCursorStalled = errors.New("cursor did not advance")

// StopReason is why a successful run ended.
type StopReason string

const (
	StopMaxRecords    StopReason = "max_records"
	StopExhausted     StopReason = "exhausted"
	StopSinceReached  StopReason = "since_reached"
	StopDecodeSkipped StopReason = "decode_skipped"
)

// Run summarizes one Collect call.
type Run struct {
	ID       string
	Target   string
	Endpoint string

	// Pages counts page requests issued by the collector. Transport retries
	// inside the client are not included.
	Pages int

	// Records counts records persisted by this run.
	Records int

	// Duplicates counts record IDs seen more than once in this run.
	Duplicates int

	InitialCursor  int64
	TerminalCursor int64

	StartedAt time.Time
	Elapsed   time.Duration

	// StopReason is empty for failed runs.
	StopReason StopReason
}

// RunError reports a failed run with the position it can resume from.
type RunError struct {
	Target   string
	Endpoint string

	// Cursor is the last persisted cursor.
	Cursor int64

	// Params are the request parameters with credentials redacted.
	Params url.Values

	Err error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("collect %s %s at cursor %d", e.Target, e.Endpoint, e.Cursor)
	if len(e.Params) > 0 {
		msg += " (" + e.Params.Encode() + ")"
	}
	return msg + ": " + e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RunError) Unwrap() error {
	return e.Err
}
