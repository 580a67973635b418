// Package rule defines scheduling rules: client-defined mutual-exclusion
// domains that the job engine and lock manager use to decide which units of
// work may run concurrently.
//
// A [Rule] answers two questions about another rule. Contains reports
// whether acquiring the receiver also grants the other rule, which permits
// nested acquisition. IsConflicting reports whether the two may not be held
// by different threads at the same time.
//
// # Provided Rules
//
//   - [PathRule]: a hierarchical slash-separated path, conflicting with its
//     ancestors and descendants
//   - [Identity]: a named rule conflicting only with itself
//   - [MultiRule]: a composite built with [Combine]
//
// # Comparability
//
// The engine compares rules with ==, so implementations must be comparable:
// pointers or structs of comparable fields.
package rule

import (
	"fmt"

	"github.com/Iron-Ham/rulesched/internal/errors"
)

// Rule is a mutual-exclusion domain.
type Rule interface {
	// Contains reports whether holding this rule implies holding other.
	Contains(other Rule) bool
	// IsConflicting reports whether this rule and other are mutually exclusive.
	IsConflicting(other Rule) bool
}

// sentinel is unrelated to every client rule.
type sentinel struct{}

func (*sentinel) Contains(other Rule) bool      { return false }
func (*sentinel) IsConflicting(other Rule) bool { return false }
func (*sentinel) String() string                { return "<unrelated>" }

var unrelated Rule = &sentinel{}

// Conflicts reports whether two possibly nil rules conflict. Nil never
// conflicts. A composite operand is asked directly so it can answer for its
// children.
func Conflicts(a, b Rule) bool {
	if a == nil || b == nil {
		return false
	}
	if m, ok := a.(*MultiRule); ok {
		return m.IsConflicting(b)
	}
	if m, ok := b.(*MultiRule); ok {
		return m.IsConflicting(a)
	}
	return a.IsConflicting(b) || b.IsConflicting(a)
}

// Contains reports whether outer grants inner. A nil inner is always
// granted; a nil outer grants nothing else.
func Contains(outer, inner Rule) bool {
	if inner == nil {
		return true
	}
	if outer == nil {
		return false
	}
	return outer.Contains(inner)
}

// Validate checks the structural invariants every rule must satisfy before
// the engine accepts it. A nil rule is valid.
func Validate(r Rule) error {
	if r == nil {
		return nil
	}
	if m, ok := r.(*MultiRule); ok {
		for i, child := range m.children {
			if child == r {
				return errors.IllegalArgument("ValidateRule", "child %d of %s is the composite itself", i, Name(r))
			}
			if err := Validate(child); err != nil {
				return err
			}
		}
	}
	switch {
	case !r.Contains(r):
		return errors.IllegalArgument("ValidateRule", "%s does not contain itself", Name(r))
	case r.Contains(unrelated):
		return errors.IllegalArgument("ValidateRule", "%s contains an unrelated rule", Name(r))
	case !r.IsConflicting(r):
		return errors.IllegalArgument("ValidateRule", "%s does not conflict with itself", Name(r))
	case r.IsConflicting(unrelated):
		return errors.IllegalArgument("ValidateRule", "%s conflicts with an unrelated rule", Name(r))
	}
	return nil
}

// Name renders a rule for logs and graph dumps.
func Name(r Rule) string {
	if r == nil {
		return "<nil>"
	}
	if s, ok := r.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T@%p", r, r)
}

// identity conflicts only with itself.
type identity struct {
	name string
}

// Identity returns a new exclusive rule. Two calls with the same name return
// distinct, non-conflicting rules.
func Identity(name string) Rule {
	return &identity{name: name}
}

func (r *identity) Contains(other Rule) bool      { return other == Rule(r) }
func (r *identity) IsConflicting(other Rule) bool { return other == Rule(r) }
func (r *identity) String() string                { return r.name }
