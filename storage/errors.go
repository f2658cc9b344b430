package storage

import "errors"

// Not-found sentinels. These are permanent caller errors, not transient
// storage failures.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrMemoryNotFound     = errors.New("session memory not found")
)
