package jobs

import (
	"fmt"
	"strings"
)

// Severity classifies a Status. Values form a bitmask so Matches can test
// several at once.
type Severity int

const (
	OK      Severity = 0
	Info    Severity = 1 << 0
	Warning Severity = 1 << 1
	Error   Severity = 1 << 2
	Cancel  Severity = 1 << 3
)

func (s Severity) String() string {
	switch s {
	case OK:
		return "ok"
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Status is the outcome of a job run or a group. A status with children is
// a multi-status whose severity is the highest child severity.
type Status struct {
	Severity Severity
	Message  string
	Err      error
	Children []*Status

	async bool
}

// Shared statuses. They must not be modified.
var (
	OKStatus     = &Status{Severity: OK, Message: "OK"}
	CancelStatus = &Status{Severity: Cancel, Message: "canceled"}

	// AsyncFinish tells the engine the job keeps running after Run returns.
	// The job must later call Done.
	AsyncFinish = &Status{Severity: OK, Message: "async finish", async: true}
)

// NewStatus creates a leaf status.
func NewStatus(severity Severity, message string, err error) *Status {
	return &Status{Severity: severity, Message: message, Err: err}
}

// ErrorStatus wraps err in an error status.
func ErrorStatus(err error) *Status {
	return &Status{Severity: Error, Message: err.Error(), Err: err}
}

// MultiStatus folds children into one status. Nil children are dropped.
func MultiStatus(message string, children ...*Status) *Status {
	ms := &Status{Severity: OK, Message: message}
	for _, c := range children {
		ms.Add(c)
	}
	return ms
}

// Add appends a child and raises the severity if needed.
func (s *Status) Add(child *Status) {
	if child == nil {
		return
	}
	s.Children = append(s.Children, child)
	if child.Severity > s.Severity {
		s.Severity = child.Severity
	}
}

// IsOK reports whether the severity is OK.
func (s *Status) IsOK() bool { return s != nil && s.Severity == OK }

// IsMulti reports whether the status has children.
func (s *Status) IsMulti() bool { return s != nil && len(s.Children) > 0 }

// Matches reports whether the severity is one of mask. OK matches only a
// zero mask.
func (s *Status) Matches(mask Severity) bool {
	if s == nil {
		return false
	}
	if s.Severity == OK {
		return mask == OK
	}
	return s.Severity&mask != 0
}

func (s *Status) isAsync() bool { return s != nil && s.async }

// Unwrap returns the cause of an error status.
func (s *Status) Unwrap() error {
	if s == nil {
		return nil
	}
	return s.Err
}

func (s *Status) String() string {
	if s == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", s.Severity, s.Message)
	if s.Err != nil && s.Err.Error() != s.Message {
		fmt.Fprintf(&b, " (%v)", s.Err)
	}
	if len(s.Children) > 0 {
		parts := make([]string, len(s.Children))
		for i, c := range s.Children {
			parts[i] = c.String()
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, "; "))
	}
	return b.String()
}
