// Package errors defines the error kinds shared across the agent service and
// helpers to classify them at recovery boundaries.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra payload.
var (
	// ErrTaskNotFound is returned by registry readers for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrValidation marks request input that failed validation.
	ErrValidation = errors.New("validation failed")
	// ErrFileTooLarge marks an uploaded file exceeding the configured limit.
	ErrFileTooLarge = errors.New("file too large")
)

// ProviderError reports an LLM provider failure (unreachable endpoint,
// non-2xx status, malformed transport payload). Not recovered by the engine.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// SchemaError reports that an LLM reply could not be decoded into the
// requested structured output, after repair and one recovery re-ask.
type SchemaError struct {
	Schema string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("llm schema %s: %v", e.Schema, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// TimeoutError reports that an LLM or sandbox call exceeded its deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// SandboxError reports a sandbox gateway failure. Execution failures inside
// the sandbox are not errors; they are part of ExecutionResult.
type SandboxError struct {
	Op        string
	SandboxID string
	Err       error
}

func (e *SandboxError) Error() string {
	if e.SandboxID != "" {
		return fmt.Sprintf("sandbox %s: %s: %v", e.SandboxID, e.Op, e.Err)
	}
	return fmt.Sprintf("sandbox: %s: %v", e.Op, e.Err)
}

func (e *SandboxError) Unwrap() error { return e.Err }

// IsSchemaFailure reports whether err is (or wraps) a SchemaError.
func IsSchemaFailure(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsProviderFailure reports whether err is (or wraps) a ProviderError.
func IsProviderFailure(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsSandboxFailure reports whether err is (or wraps) a SandboxError.
func IsSandboxFailure(err error) bool {
	var se *SandboxError
	return errors.As(err, &se)
}
