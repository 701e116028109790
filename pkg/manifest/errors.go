package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// ManifestError reports a malformed manifest document.
// nolint:revive // ManifestError is the documented error kind name
type ManifestError struct {
	// File is the offending document.
	File string `json:"file"`

	// Line and Column locate the problem when the parser reports a position.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ManifestError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
		if e.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, e.Column)
		}
	}
	return fmt.Sprintf("manifest %s: %s", loc, e.Message)
}

// Unwrap returns the underlying error.
func (e *ManifestError) Unwrap() error {
	return e.Err
}

// CircularIncludeError reports an include chain that loops back on itself.
type CircularIncludeError struct {
	// Chain is the inclusion chain, starting and ending at the repeated document.
	Chain []string `json:"chain"`
}

// Error implements the error interface.
func (e *CircularIncludeError) Error() string {
	return "circular include: " + strings.Join(e.Chain, " -> ")
}

// IsManifestError reports whether err is or wraps a *ManifestError.
func IsManifestError(err error) bool {
	var e *ManifestError
	return errors.As(err, &e)
}

// IsCircularInclude reports whether err is or wraps a *CircularIncludeError.
func IsCircularInclude(err error) bool {
	var e *CircularIncludeError
	return errors.As(err, &e)
}
