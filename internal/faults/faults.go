// Package faults defines the error taxonomy shared by the loader, dispatcher
// and executor.
package faults

import (
	"errors"
	"fmt"
)

// ErrCancelled is the sentinel matched by CancellationRequested.
var ErrCancelled = errors.New("run cancelled")

// ConfigurationError reports a malformed workspace: a broken step graph,
// a missing first step or an unresolvable function. Never retried.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configf builds a ConfigurationError from a format string.
func Configf(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// GatewayError wraps a failed language-model call.
type GatewayError struct {
	Model string
	Err   error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error (model %s): %v", e.Model, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// ToolExecutionError is a runtime failure inside a resolved function.
// The dispatcher contains it; it never escapes a Dispatch call.
type ToolExecutionError struct {
	Function string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Function, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// IterationLimitExceeded annotates a step whose model was still requesting
// tools when the iteration cap was hit. It is surfaced as a warning only.
type IterationLimitExceeded struct {
	Step  string
	Limit int
}

func (e *IterationLimitExceeded) Error() string {
	return fmt.Sprintf("step %q reached the iteration limit (%d) with tool calls pending", e.Step, e.Limit)
}

// CancellationRequested is returned when a cancellation signal is observed
// at a suspension point.
type CancellationRequested struct {
	At  string
	Err error
}

func (e *CancellationRequested) Error() string {
	if e.At == "" {
		return ErrCancelled.Error()
	}
	return fmt.Sprintf("%s (at %s)", ErrCancelled.Error(), e.At)
}

func (e *CancellationRequested) Is(target error) bool { return target == ErrCancelled }

func (e *CancellationRequested) Unwrap() error { return e.Err }

// Cancelled wraps a context error observed at the named suspension point.
func Cancelled(at string, err error) error {
	return &CancellationRequested{At: at, Err: err}
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsGateway reports whether err is (or wraps) a GatewayError.
func IsGateway(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}

// IsCancelled reports whether err is a CancellationRequested.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
