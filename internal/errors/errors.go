// Package errors provides structured errors for the monitoring core with
// reason codes the pollers use to decide on retry and backoff.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrTimeout          = errors.New("timeout")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConnectionFailed = errors.New("connection failed")
	ErrConflict         = errors.New("conflict")
	ErrInternalError    = errors.New("internal error")

	// ErrNotLearning is returned when a sample or finalize is attempted
	// against a profile that is not in learning mode.
	ErrNotLearning = errors.New("profile is not in learning mode")

	// ErrProfileExists is returned on a duplicate (machine, material) pair.
	ErrProfileExists = errors.New("profile already exists for machine/material pair")
)

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeTimeout    ErrorType = "timeout"
)

// MonitorError is a structured error for monitoring operations.
type MonitorError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "fetch_rows", "finalize_baseline")
	Machine   string // Machine ID where the error occurred, if applicable
	Err       error  // Underlying error
	Timestamp time.Time
	Retryable bool
}

func (e *MonitorError) Error() string {
	if e.Machine != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Machine, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *MonitorError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is matching on the base error types.
func (e *MonitorError) Is(target error) bool {
	if target == nil {
		return false
	}
	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrConnectionFailed:
		return e.Type == ErrorTypeConnection
	case ErrConflict:
		return e.Type == ErrorTypeConflict
	}
	return errors.Is(e.Err, target)
}

// NewMonitorError creates a new MonitorError.
func NewMonitorError(errorType ErrorType, op, machine string, err error) *MonitorError {
	return &MonitorError{
		Type:      errorType,
		Op:        op,
		Machine:   machine,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType),
	}
}

func isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeConnection, ErrorTypeTimeout, ErrorTypeStorage:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err (or a wrapped MonitorError inside it)
// should be retried with backoff.
func IsRetryable(err error) bool {
	var me *MonitorError
	if errors.As(err, &me) {
		return me.Retryable
	}
	return false
}

// InsufficientSamplesError is returned by finalize when one or more metrics
// have not reached the minimum sample count. It carries the deficient
// metrics so callers can report exactly what is missing.
type InsufficientSamplesError struct {
	Required  int
	Deficient map[string]int // metric -> samples present
}

func (e *InsufficientSamplesError) Error() string {
	metrics := make([]string, 0, len(e.Deficient))
	for m := range e.Deficient {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	parts := make([]string, 0, len(metrics))
	for _, m := range metrics {
		parts = append(parts, fmt.Sprintf("%s=%d", m, e.Deficient[m]))
	}
	return fmt.Sprintf("insufficient samples (need %d per metric): %s", e.Required, strings.Join(parts, ", "))
}

// IsInsufficientSamples reports whether err is an insufficient-samples
// failure and returns the typed error if so.
func IsInsufficientSamples(err error) (*InsufficientSamplesError, bool) {
	var ise *InsufficientSamplesError
	if errors.As(err, &ise) {
		return ise, true
	}
	return nil, false
}
