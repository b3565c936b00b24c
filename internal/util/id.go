package util

import "github.com/google/uuid"

// NewID returns a random identifier for cases, updates and documents.
func NewID() string {
	return uuid.NewString()
}
