package rule

import "strings"

// MultiRule combines several rules into one. It contains a rule when one of
// its children does and conflicts with a rule when any child does.
type MultiRule struct {
	children []Rule
}

// Combine builds a rule holding every given rule. Nested composites are
// flattened, nil entries are dropped and duplicates removed. It returns nil
// when nothing remains and the single survivor when only one does.
func Combine(rules ...Rule) Rule {
	var flat []Rule
	seen := make(map[Rule]bool)
	var add func(r Rule)
	add = func(r Rule) {
		if r == nil {
			return
		}
		if m, ok := r.(*MultiRule); ok {
			for _, c := range m.children {
				add(c)
			}
			return
		}
		if seen[r] {
			return
		}
		seen[r] = true
		flat = append(flat, r)
	}
	for _, r := range rules {
		add(r)
	}

	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return &MultiRule{children: flat}
}

// Children returns a copy of the combined rules.
func (m *MultiRule) Children() []Rule {
	out := make([]Rule, len(m.children))
	copy(out, m.children)
	return out
}

// Contains reports whether every rule in other is contained by some child.
func (m *MultiRule) Contains(other Rule) bool {
	if other == Rule(m) {
		return true
	}
	if o, ok := other.(*MultiRule); ok {
		for _, oc := range o.children {
			if !m.Contains(oc) {
				return false
			}
		}
		return true
	}
	for _, c := range m.children {
		if c.Contains(other) {
			return true
		}
	}
	return false
}

// IsConflicting reports whether any child conflicts with other, or with any
// child of other when it is itself a composite.
func (m *MultiRule) IsConflicting(other Rule) bool {
	if other == Rule(m) {
		return true
	}
	if o, ok := other.(*MultiRule); ok {
		for _, oc := range o.children {
			if m.IsConflicting(oc) {
				return true
			}
		}
		return false
	}
	for _, c := range m.children {
		if c.IsConflicting(other) {
			return true
		}
	}
	return false
}

func (m *MultiRule) String() string {
	names := make([]string, len(m.children))
	for i, c := range m.children {
		names[i] = Name(c)
	}
	return "Multi[" + strings.Join(names, ", ") + "]"
}
