package ctxpg

import (
	"errors"

	"github.com/jayusctrojan/ctxpg/compaction"
	"github.com/jayusctrojan/ctxpg/recovery"
	"github.com/jayusctrojan/ctxpg/storage"
)

// Common errors. Component sentinels are re-exported here so callers can
// match against one package.
var (
	// ErrInvalidConfig is returned when the manager configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSessionNotFound is returned when a session does not exist
	ErrSessionNotFound = storage.ErrSessionNotFound

	// ErrCheckpointNotFound is returned when a checkpoint does not exist
	ErrCheckpointNotFound = storage.ErrCheckpointNotFound

	// ErrMemoryNotFound is returned when a session memory does not exist
	ErrMemoryNotFound = storage.ErrMemoryNotFound

	// ErrRateLimited is returned when compaction is requested inside the
	// cooldown window
	ErrRateLimited = compaction.ErrRateLimited

	// ErrSummarizationFailed is returned when the summarizer produces no
	// usable summary
	ErrSummarizationFailed = compaction.ErrSummarizationFailed

	// ErrSummarizationTimeout is returned when summarization exceeds its
	// time budget
	ErrSummarizationTimeout = compaction.ErrSummarizationTimeout

	// ErrOverflowUnrecoverable is returned when recovery exhausts its
	// attempts without the conversation fitting
	ErrOverflowUnrecoverable = recovery.ErrOverflowUnrecoverable
)

// Error is the structured error type used across the module, carrying the
// failed operation, the session, and arbitrary context.
type Error = compaction.Error

// NewError creates a structured Error for the given operation.
func NewError(op string, err error) *Error {
	return compaction.NewError(op, err)
}

// IsOverflowError reports whether err looks like a context window
// overflow from an upstream model API.
func IsOverflowError(err error) bool {
	return recovery.IsOverflowError(err)
}
