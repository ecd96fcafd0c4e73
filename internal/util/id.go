package util

import "github.com/google/uuid"

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// NewOrderedID returns a UUIDv7, which sorts by creation time. Generation log
// rows use it so attempts for one field list in the order they started.
func NewOrderedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
