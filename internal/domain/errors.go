package domain

import "errors"

var (
	// ErrNotFound signals a lookup by id that matched no row. Callers treat
	// this as a programming error when the id came from the pipeline itself.
	ErrNotFound = errors.New("not found")

	// ErrValidation wraps every business-rule validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrConflict signals an update rejected because of the row's current state.
	ErrConflict = errors.New("conflict")
)
