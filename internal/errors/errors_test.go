package errors

import (
	"errors"
	"fmt"
	"testing"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// ContractError Tests
// -----------------------------------------------------------------------------

func TestContractError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ContractError
		want string
	}{
		{
			name: "op only",
			err:  NewContractError("EndRule", nil),
			want: "EndRule",
		},
		{
			name: "with cause",
			err:  NewContractError("EndRule", ErrIllegalArgument),
			want: "EndRule: illegal argument",
		},
		{
			name: "with detail",
			err:  NewContractError("EndRule", ErrIllegalArgument).WithDetail("no matching begin"),
			want: "EndRule: illegal argument: no matching begin",
		},
		{
			name: "shorthand",
			err:  IllegalState("Join", "job %s cannot join itself", "j1"),
			want: "Join: illegal state: job j1 cannot join itself",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContractError_Is(t *testing.T) {
	err := IllegalArgument("TransferRule", "rule not owned")

	if !Is(err, ErrIllegalArgument) {
		t.Error("Is(ErrIllegalArgument) = false, want true")
	}
	if Is(err, ErrIllegalState) {
		t.Error("Is(ErrIllegalState) = true, want false")
	}
	if !Is(err, &ContractError{}) {
		t.Error("Is(*ContractError) = false, want true")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	var contract *ContractError
	if !As(wrapped, &contract) {
		t.Fatal("As(*ContractError) = false, want true")
	}
	if contract.Op != "TransferRule" {
		t.Errorf("Op = %q, want %q", contract.Op, "TransferRule")
	}
}

// -----------------------------------------------------------------------------
// DetectorError Tests
// -----------------------------------------------------------------------------

func TestDetectorError(t *testing.T) {
	cause := errors.New("index out of range")
	err := NewDetectorError("lockWaitStart", cause).WithThread("worker-3").WithRule("P/a")

	want := "deadlock detector error [thread=worker-3, rule=P/a]: lockWaitStart: index out of range"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrDeadlockDetectionDisabled) {
		t.Error("Is(ErrDeadlockDetectionDisabled) = false, want true")
	}
	if !Is(err, cause) {
		t.Error("Is(cause) = false, want true")
	}
	if err.Severity() != SeverityCritical {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityCritical)
	}

	bare := NewDetectorError("reduceGraph", nil)
	if got := bare.Error(); got != "deadlock detector error: reduceGraph" {
		t.Errorf("Error() = %q", got)
	}
}

// -----------------------------------------------------------------------------
// ValidationError Tests
// -----------------------------------------------------------------------------

func TestValidationError(t *testing.T) {
	err := NewValidationError("unknown priority").WithField("jobs[2].priority").WithValue("urgent")

	want := "validation error [field=jobs[2].priority, value=urgent]: unknown priority"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrInvalidInput) {
		t.Error("Is(ErrInvalidInput) = false, want true")
	}
	if err.Severity() != SeverityWarning {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityWarning)
	}

	withCause := NewValidationError("bad file").WithCause(ErrWorkloadInvalid)
	if !Is(withCause, ErrWorkloadInvalid) {
		t.Error("Is(ErrWorkloadInvalid) = false, want true")
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contract bool
		canceled bool
		severity Severity
	}{
		{"nil", nil, false, false, SeverityDebug},
		{"illegal argument", IllegalArgument("Schedule", "negative delay"), true, false, SeverityError},
		{"no thread", ErrNoThread, true, false, SeverityError},
		{"canceled", ErrCanceled, false, true, SeverityWarning},
		{"interrupted", Wrap(ErrInterrupted, "join"), false, true, SeverityWarning},
		{"shutdown", ErrShutdown, false, false, SeverityError},
		{"detector", NewDetectorError("lockWaitStart", ErrDeadlock), false, false, SeverityCritical},
		{"validation", NewValidationError("bad"), false, false, SeverityWarning},
		{"plain", errors.New("boom"), false, false, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsContractViolation(tt.err); got != tt.contract {
				t.Errorf("IsContractViolation() = %v, want %v", got, tt.contract)
			}
			if got := IsCanceled(tt.err); got != tt.canceled {
				t.Errorf("IsCanceled() = %v, want %v", got, tt.canceled)
			}
			if got := GetSeverity(tt.err); got != tt.severity {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.severity)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	err := Wrapf(ErrShutdown, "schedule %s", "j1")
	if err.Error() != "schedule j1: job manager has been shut down" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
	if !Is(err, ErrShutdown) {
		t.Error("Is(ErrShutdown) = false, want true")
	}
}
