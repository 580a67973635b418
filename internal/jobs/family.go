package jobs

import (
	"github.com/gobwas/glob"

	"github.com/Iron-Ham/rulesched/internal/errors"
)

// GlobFamily is a family that matches jobs by name, for example
// "index-*" or "build-{core,ui}".
type GlobFamily struct {
	pattern string
	g       glob.Glob
}

// NewGlobFamily compiles pattern. Matching treats '/' as a separator, so
// '*' does not cross it.
func NewGlobFamily(pattern string) (*GlobFamily, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, errors.IllegalArgument("NewGlobFamily", "invalid pattern %q: %v", pattern, err)
	}
	return &GlobFamily{pattern: pattern, g: g}, nil
}

// Match reports whether job's name matches the pattern.
func (f *GlobFamily) Match(job *Job) bool {
	return f.g.Match(job.Name())
}

func (f *GlobFamily) String() string { return f.pattern }
