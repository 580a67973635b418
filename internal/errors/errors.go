// Package errors provides centralized error definitions and error handling utilities
// for the rulesched engine. It defines the sentinel errors returned by the
// scheduling core, typed errors carrying operation context, and classification
// helpers.
//
// # Error Types
//
// Contract errors report caller bugs detected at the call site:
//   - ContractError: an illegal argument or an operation invoked in an illegal state
//
// Engine errors report conditions inside the engine itself:
//   - DetectorError: a fault while mutating the deadlock graph
//   - ValidationError: invalid configuration or workload input
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewContractError("EndRule", errors.ErrIllegalArgument).
//		WithDetail("rule does not match most recent begin")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrIllegalArgument) { ... }
//
//	var contract *errors.ContractError
//	if errors.As(err, &contract) { ... }
//
// # Error Classification
//
// GetSeverity picks the log level for an error. Cancellation and interruption
// carry warning severity; detector faults are critical because they
// permanently disable deadlock detection.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Contract sentinel errors
var (
	// ErrIllegalArgument indicates that a caller passed an argument violating the API contract.
	ErrIllegalArgument = New("illegal argument")
	// ErrIllegalState indicates that an operation was invoked in a state that forbids it.
	ErrIllegalState = New("illegal state")
	// ErrNoThread indicates that a thread-bound operation was called without a thread in its context.
	ErrNoThread = New("no thread bound to context")
)

// Engine sentinel errors
var (
	// ErrShutdown indicates that the job manager has been shut down.
	ErrShutdown = New("job manager has been shut down")
	// ErrCanceled indicates that an operation was canceled through its progress monitor.
	ErrCanceled = New("operation canceled")
	// ErrInterrupted indicates that a blocking wait was interrupted.
	ErrInterrupted = New("interrupted")
	// ErrDeadlockDetectionDisabled indicates that deadlock detection was turned off after an internal fault.
	ErrDeadlockDetectionDisabled = New("deadlock detection disabled")
	// ErrDeadlock indicates that a deadlock was detected while error-on-deadlock debugging is enabled.
	ErrDeadlock = New("deadlock detected")
)

// Input sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrWorkloadInvalid indicates that a workload description could not be built.
	ErrWorkloadInvalid = New("invalid workload")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// EngineError is implemented by the typed errors of this package.
type EngineError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity
}

// baseError provides common functionality for all error types.
type baseError struct {
	message  string
	cause    error
	severity Severity
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error      { return e.cause }
func (e *baseError) Severity() Severity { return e.severity }

func (e *baseError) is(target error) bool {
	return e.cause != nil && errors.Is(e.cause, target)
}

// -----------------------------------------------------------------------------
// Contract Errors
// -----------------------------------------------------------------------------

// ContractError reports an API contract violation: a bad argument, a
// mismatched begin/end pair, an unowned rule transfer and so on. The cause is
// one of ErrIllegalArgument or ErrIllegalState, possibly wrapping more detail.
//
// Example:
//
//	err := errors.NewContractError("TransferRule", errors.ErrIllegalArgument).
//		WithDetail("destination thread already owns a rule")
//	fmt.Println(err) // "TransferRule: illegal argument: destination thread already owns a rule"
type ContractError struct {
	baseError
	Op     string
	Detail string
}

// NewContractError creates a new ContractError for the given operation.
func NewContractError(op string, cause error) *ContractError {
	return &ContractError{
		baseError: baseError{
			message:  op,
			cause:    cause,
			severity: SeverityError,
		},
		Op: op,
	}
}

// WithDetail attaches a human-readable description of the violation.
func (e *ContractError) WithDetail(detail string) *ContractError {
	e.Detail = detail
	return e
}

// WithDetailf attaches a formatted description of the violation.
func (e *ContractError) WithDetailf(format string, args ...any) *ContractError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Error returns the formatted error message.
func (e *ContractError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// Is checks if this error matches the target.
func (e *ContractError) Is(target error) bool {
	if _, ok := target.(*ContractError); ok {
		return true
	}
	return e.is(target)
}

// IllegalArgument is shorthand for a ContractError caused by ErrIllegalArgument.
func IllegalArgument(op, format string, args ...any) *ContractError {
	return NewContractError(op, ErrIllegalArgument).WithDetailf(format, args...)
}

// IllegalState is shorthand for a ContractError caused by ErrIllegalState.
func IllegalState(op, format string, args ...any) *ContractError {
	return NewContractError(op, ErrIllegalState).WithDetailf(format, args...)
}

// -----------------------------------------------------------------------------
// Engine Errors
// -----------------------------------------------------------------------------

// DetectorError reports an internal fault while updating the deadlock graph.
// Once one is raised, deadlock detection stays disabled for the life of the
// lock manager.
//
// Example:
//
//	err := errors.NewDetectorError("lockWaitStart", panicErr).
//		WithThread("worker-3").WithRule("P/a/b")
type DetectorError struct {
	baseError
	Op     string
	Thread string
	Rule   string
}

// NewDetectorError creates a new DetectorError.
func NewDetectorError(op string, cause error) *DetectorError {
	return &DetectorError{
		baseError: baseError{
			message:  op,
			cause:    cause,
			severity: SeverityCritical,
		},
		Op: op,
	}
}

// WithThread records the thread that was being updated.
func (e *DetectorError) WithThread(name string) *DetectorError {
	e.Thread = name
	return e
}

// WithRule records the rule or lock that was being updated.
func (e *DetectorError) WithRule(rule string) *DetectorError {
	e.Rule = rule
	return e
}

// Error returns the formatted error message.
func (e *DetectorError) Error() string {
	var parts []string
	if e.Thread != "" {
		parts = append(parts, fmt.Sprintf("thread=%s", e.Thread))
	}
	if e.Rule != "" {
		parts = append(parts, fmt.Sprintf("rule=%s", e.Rule))
	}

	prefix := "deadlock detector error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("deadlock detector error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Op, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Op)
}

// Is checks if this error matches the target.
func (e *DetectorError) Is(target error) bool {
	if _, ok := target.(*DetectorError); ok {
		return true
	}
	if target == ErrDeadlockDetectionDisabled {
		return true
	}
	return e.is(target)
}

// ValidationError represents invalid configuration or workload input.
//
// Example:
//
//	err := errors.NewValidationError("unknown priority").WithField("jobs[2].priority").WithValue("urgent")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityWarning,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsContractViolation reports whether err signals a caller bug rather than a
// runtime condition.
func IsContractViolation(err error) bool {
	return Is(err, ErrIllegalArgument) || Is(err, ErrIllegalState) || Is(err, ErrNoThread)
}

// IsCanceled reports whether err is the result of cooperative cancellation,
// either through a progress monitor or an interrupted wait.
func IsCanceled(err error) bool {
	return Is(err, ErrCanceled) || Is(err, ErrInterrupted)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement EngineError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var engineErr EngineError
	if As(err, &engineErr) {
		return engineErr.Severity()
	}

	if IsCanceled(err) {
		return SeverityWarning
	}
	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to load workload")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to build job %s", name)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
