package rule

import (
	"path"
	"strings"
)

// PathRule locks a node in a slash-separated hierarchy such as a resource
// tree. A path contains its descendants and conflicts with both ancestors
// and descendants, so "P/a" blocks "P/a/b" and "P" but not "P/b".
type PathRule struct {
	p string
}

// NewPath returns a PathRule for p after cleaning. Leading and trailing
// slashes are ignored.
func NewPath(p string) PathRule {
	cleaned := strings.Trim(path.Clean("/"+p), "/")
	return PathRule{p: cleaned}
}

func (r PathRule) String() string { return "/" + r.p }

// Contains reports whether other is this path or one of its descendants.
func (r PathRule) Contains(other Rule) bool {
	o, ok := other.(PathRule)
	if !ok {
		return false
	}
	return isPrefix(r.p, o.p)
}

// IsConflicting reports whether other is an ancestor, a descendant or the
// same path.
func (r PathRule) IsConflicting(other Rule) bool {
	o, ok := other.(PathRule)
	if !ok {
		return false
	}
	return isPrefix(r.p, o.p) || isPrefix(o.p, r.p)
}

func isPrefix(ancestor, p string) bool {
	if ancestor == "" || ancestor == p {
		return true
	}
	return strings.HasPrefix(p, ancestor) && p[len(ancestor)] == '/'
}
