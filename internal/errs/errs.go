// Package errs defines the error taxonomy shared by the recording and
// transcription layers. Callers classify failures with errors.Is against
// the exported sentinels; constructors wrap them with context.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad input: missing file, wrong type, oversized file.
	ErrValidation = errors.New("validation error")
	// ErrConflict marks a concurrent start or a concurrent transcribe.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks an unknown recording or transcription id.
	ErrNotFound = errors.New("not found")
	// ErrNotRecording is returned by stop when no session is active.
	ErrNotRecording = errors.New("not recording")
	// ErrPersistence marks a store I/O failure.
	ErrPersistence = errors.New("persistence error")
	// ErrEngine marks a failed recognition engine invocation.
	ErrEngine = errors.New("engine failure")
	// ErrTimeout marks an engine invocation that exceeded its bound.
	ErrTimeout = errors.New("timeout")
	// ErrCancelled marks an engine invocation killed on request.
	ErrCancelled = errors.New("cancelled")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Persistence wraps a store error so that both ErrPersistence and the
// underlying driver error stay reachable through errors.Is / errors.As.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// EngineError carries the diagnostic output of a failed engine run.
type EngineError struct {
	Message    string `json:"message"`
	Diagnostic string `json:"diagnostic,omitempty"`
	Stdout     string `json:"stdout,omitempty"`
	ExitCode   int    `json:"exitCode"`
	Err        error  `json:"-"`
}

// Error formats engine failures for logs and API responses.
func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	if e.ExitCode != 0 {
		return fmt.Sprintf("engine: %s (exit=%d)", e.Message, e.ExitCode)
	}
	return fmt.Sprintf("engine: %s", e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports every EngineError as ErrEngine.
func (e *EngineError) Is(target error) bool {
	return target == ErrEngine
}

// Reason returns the short failure text stored on a failed transcription.
func Reason(err error) string {
	var engineErr *EngineError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.As(err, &engineErr):
		return engineErr.Error()
	default:
		return err.Error()
	}
}
