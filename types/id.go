package types

import "github.com/google/uuid"

// NewID returns a new random identifier. All row ids in the module are
// UUIDv4 strings.
func NewID() string {
	return uuid.New().String()
}
