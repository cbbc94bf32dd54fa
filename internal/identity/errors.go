package identity

import "errors"

var (
	// ErrInvalidMerge rejects a merge without a user id or without any contact identifier.
	ErrInvalidMerge = errors.New("invalid alias merge request")

	ErrClosureTimeout = errors.New("identity closure timed out")
	ErrMaxIterations  = errors.New("identity closure exceeded max iterations")
	// ErrClosureTooLarge means a single expansion read hit the store's row cap.
	ErrClosureTooLarge = errors.New("identity closure exceeded store row cap")
)

// ValidationError is a caller mistake; the HTTP layer maps it to 400.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Err }

// PartialWriteError reports that events were stored but their edges were not.
// The events are not rolled back and nothing is retried.
type PartialWriteError struct {
	Events int
	Err    error
}

func (e *PartialWriteError) Error() string {
	return "events persisted, identity edges failed: " + e.Err.Error()
}

func (e *PartialWriteError) Unwrap() error { return e.Err }
