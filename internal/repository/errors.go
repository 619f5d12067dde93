package repository

import "errors"

// Sentinel errors shared by all repositories. Callers match them with
// errors.Is after the repositories wrap them with entity context.
var (
	// ErrNotFound is returned when no row matches the lookup
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique constraint would be violated
	ErrDuplicate = errors.New("record already exists")

	// ErrInvalidEntity is returned when required fields are missing
	ErrInvalidEntity = errors.New("entity failed validation")
)
