package engine

import (
	"context"
	"errors"
	"strings"
)

// ErrorClass tells callers whether retrying could help. The engine itself
// never retries.
type ErrorClass string

const (
	// ErrorClassTransient: the package source was unavailable, the installer
	// was busy, the install timed out.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent: bad input such as an invalid constraint or pattern.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeDriverFailed = "DRIVER_FAILED"
	ErrCodeTimeout      = "TIMEOUT"
)

// EngineError is a classified engine failure.
// nolint:revive // stutters with the package name but reads well at call sites
type EngineError struct {
	Class     ErrorClass `json:"class"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message"`
	Resource  string     `json:"resource,omitempty"` // app id, ref, pattern or constraint
	Operation string     `json:"operation,omitempty"`
	Err       error      `json:"-"`
}

func (e *EngineError) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Class))
	b.WriteString("] ")
	b.WriteString(e.Message)

	var ctx []string
	if e.Resource != "" {
		ctx = append(ctx, "resource="+e.Resource)
	}
	if e.Operation != "" {
		ctx = append(ctx, "operation="+e.Operation)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewTransientError returns a transient error wrapping err.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewPermanentError returns a permanent error wrapping err.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewDriverError wraps a failed driver call for ref. Driver errors fail the
// action they belong to and never abort a run. A call cut off by the
// install timeout carries ErrCodeTimeout.
func NewDriverError(operation, ref string, err error) *EngineError {
	code := ErrCodeDriverFailed
	if errors.Is(err, context.DeadlineExceeded) {
		code = ErrCodeTimeout
	}
	return NewTransientError("driver call failed", err).
		WithCode(code).
		WithResource(ref).
		WithOperation(operation)
}

func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func classOf(err error) (ErrorClass, string, bool) {
	var e *EngineError
	if !errors.As(err, &e) {
		return "", "", false
	}
	return e.Class, e.Code, true
}

// IsTransient reports whether err is a transient EngineError.
func IsTransient(err error) bool {
	class, _, ok := classOf(err)
	return ok && class == ErrorClassTransient
}

// IsPermanent reports whether err is a permanent EngineError.
func IsPermanent(err error) bool {
	class, _, ok := classOf(err)
	return ok && class == ErrorClassPermanent
}

// IsDriverError reports whether err came from a driver call, timed out or not.
func IsDriverError(err error) bool {
	_, code, ok := classOf(err)
	return ok && (code == ErrCodeDriverFailed || code == ErrCodeTimeout)
}
