// Package apperr defines Athena's contract-level error taxonomy.
// Errors are plain sentinel values wrapped with fmt.Errorf("%w") rather
// than a custom error-code type hierarchy.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers compare with errors.Is; handlers map these to
// tool-response status codes in internal/dispatch.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrDeadlineExceeded   = errors.New("deadline exceeded")
	ErrCancelled          = errors.New("cancelled")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrUnavailable        = errors.New("backend unavailable")
	ErrEmbeddingUnavailable  = errors.New("embedding collaborator unavailable")
	ErrEmbeddingDimMismatch  = errors.New("embedding dimension mismatch")
	ErrLLMUnavailable        = errors.New("llm collaborator unavailable")
	ErrCorruption            = errors.New("storage corruption")
	ErrInternal              = errors.New("internal error")
	ErrDependencyCycle       = errors.New("dependency cycle detected")
)

// Wrap attaches operation context to err, preserving the sentinel chain
// for errors.Is. Returns nil if err is nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Wrapf is Wrap with a formatted operation description.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Code is the machine-readable status code surfaced in tool responses.
type Code string

const (
	CodeOK                  Code = "OK"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodePreconditionFailed  Code = "PRECONDITION_FAILED"
	CodeDeadlineExceeded    Code = "DEADLINE_EXCEEDED"
	CodeCancelled           Code = "CANCELLED"
	CodeResourceExhausted   Code = "RESOURCE_EXHAUSTED"
	CodeUnavailable         Code = "UNAVAILABLE"
	CodeInternal            Code = "INTERNAL"
)

// CodeOf classifies err into a machine-readable status code. Unmapped
// errors classify as CodeInternal, so every tool response carries a
// code with no raw stack traces.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrEmbeddingDimMismatch):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrPreconditionFailed), errors.Is(err, ErrDependencyCycle):
		return CodePreconditionFailed
	case errors.Is(err, ErrDeadlineExceeded):
		return CodeDeadlineExceeded
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	case errors.Is(err, ErrResourceExhausted):
		return CodeResourceExhausted
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// Message renders a human-readable message without leaking stack traces
// or internal error wrapping beyond the top-level description.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
