package state

import (
	"errors"
	"fmt"
)

// StateError reports a persisted run that could not be read or parsed.
// nolint:revive // StateError reads better than Error at call sites
type StateError struct {
	// Path is the run file.
	Path string

	// Err is the underlying read or decode error.
	Err error
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *StateError) Unwrap() error {
	return e.Err
}

// IsStateError reports whether err is, or wraps, a StateError.
func IsStateError(err error) bool {
	var serr *StateError
	return errors.As(err, &serr)
}
