package compaction

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for compaction operations.
var (
	// ErrInvalidConfig indicates invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid compaction configuration")

	// ErrSummarizationFailed indicates the summarization call failed.
	ErrSummarizationFailed = errors.New("summarization failed")

	// ErrSummarizationTimeout indicates the summarization call timed out.
	// The engine treats it identically to ErrSummarizationFailed; it is
	// distinguishable for callers that want to back off.
	ErrSummarizationTimeout = errors.New("summarization timed out")

	// ErrRateLimited indicates a non-forced compaction was requested
	// inside the cooldown window. Not a failure, a recoverable advisory.
	ErrRateLimited = errors.New("compaction rate limited")

	// ErrStorage indicates a database operation failed.
	ErrStorage = errors.New("storage operation failed")
)

// RateLimitedError carries the remaining cooldown for a rejected
// compaction. Matches ErrRateLimited via errors.Is.
type RateLimitedError struct {
	Remaining time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("compaction rate limited: %d seconds of cooldown remaining", e.RemainingSeconds())
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// RemainingSeconds returns the remaining cooldown rounded up to whole
// seconds, never less than 1.
func (e *RateLimitedError) RemainingSeconds() int {
	secs := int((e.Remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Error provides structured error context for compaction operations.
type Error struct {
	// Op is the operation that failed (e.g., "Compact", "Summarize").
	Op string

	// SessionID is the affected session, if applicable.
	SessionID string

	// Err is the underlying error.
	Err error

	// Context holds additional key-value pairs for debugging.
	Context map[string]any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("compaction %s failed", e.Op)
	if e.SessionID != "" {
		msg += fmt.Sprintf(" for session %s", e.SessionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:      op,
		Err:     err,
		Context: make(map[string]any),
	}
}

// WithSession sets the session ID on the error and returns it for chaining.
func (e *Error) WithSession(sessionID string) *Error {
	e.SessionID = sessionID
	return e
}

// WithContext adds a key-value pair to the error context and returns the
// error for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
