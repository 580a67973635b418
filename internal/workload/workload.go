// Package workload describes a set of jobs, groups and rules in YAML and
// builds them on a jobs.Manager.
//
// A workload file looks like:
//
//	workers: 4
//	groups:
//	  - name: indexers
//	    max_threads: 2
//	    seed_jobs: 3
//	jobs:
//	  - name: index-core
//	    priority: short
//	    rule: project/core
//	    duration: 200ms
//	    group: indexers
//	    nested: [project/core/src]
//	    mutex: index-db
//	    children:
//	      - name: index-core-docs
//	        rule: project/core/docs
package workload

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/rulesched/internal/errors"
	"github.com/Iron-Ham/rulesched/internal/jobs"
	"github.com/Iron-Ham/rulesched/internal/rule"
)

// Workload is the root of a workload file.
type Workload struct {
	// Workers overrides the configured maximum pool size when positive
	Workers int         `yaml:"workers,omitempty"`
	Groups  []GroupSpec `yaml:"groups,omitempty"`
	Jobs    []JobSpec   `yaml:"jobs"`
}

// GroupSpec declares a job group.
type GroupSpec struct {
	Name       string `yaml:"name"`
	MaxThreads int    `yaml:"max_threads,omitempty"`
	SeedJobs   int    `yaml:"seed_jobs,omitempty"`
}

// JobSpec declares one job. Children are scheduled from inside the job's
// run once its simulated work is done.
type JobSpec struct {
	Name     string `yaml:"name"`
	Priority string `yaml:"priority,omitempty"`
	// Rule is a slash-separated path locked for the whole run
	Rule     string   `yaml:"rule,omitempty"`
	Delay    Duration `yaml:"delay,omitempty"`
	Duration Duration `yaml:"duration,omitempty"`
	Fail     bool     `yaml:"fail,omitempty"`
	// Yield gives the rule to a blocked job halfway through the run
	Yield bool   `yaml:"yield,omitempty"`
	Group string `yaml:"group,omitempty"`
	// Nested paths are acquired with BeginRule, outermost first
	Nested []string `yaml:"nested,omitempty"`
	// Mutex names an exclusive rule shared only by jobs using the same name
	Mutex    string    `yaml:"mutex,omitempty"`
	Children []JobSpec `yaml:"children,omitempty"`
}

// Duration is a time.Duration written as "150ms" or "2s" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Parse decodes and validates a workload document. Unknown keys are errors.
func Parse(data []byte) (*Workload, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var w Workload
	if err := dec.Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalid("document is empty", "", nil)
		}
		return nil, errors.NewValidationError("cannot decode workload").
			WithCause(errors.Join(errors.ErrWorkloadInvalid, err))
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Load reads and parses the workload at path.
func Load(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read workload %s", path)
	}
	w, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "workload %s", path)
	}
	return w, nil
}

// Validate checks names, priorities, groups and nesting. All problems are
// reported together.
func (w *Workload) Validate() error {
	var errs []error
	if w.Workers < 0 {
		errs = append(errs, invalid("must not be negative", "workers", w.Workers))
	}
	if len(w.Jobs) == 0 {
		errs = append(errs, invalid("at least one job is required", "jobs", nil))
	}

	groups := make(map[string]bool, len(w.Groups))
	for i, g := range w.Groups {
		field := fmt.Sprintf("groups[%d]", i)
		switch {
		case g.Name == "":
			errs = append(errs, invalid("name is required", field+".name", nil))
		case groups[g.Name]:
			errs = append(errs, invalid("duplicate group name", field+".name", g.Name))
		}
		groups[g.Name] = true
		if g.MaxThreads < 0 {
			errs = append(errs, invalid("must not be negative", field+".max_threads", g.MaxThreads))
		}
		if g.SeedJobs < 0 {
			errs = append(errs, invalid("must not be negative", field+".seed_jobs", g.SeedJobs))
		}
	}

	names := make(map[string]bool)
	var walk func(prefix string, specs []JobSpec)
	walk = func(prefix string, specs []JobSpec) {
		for i, j := range specs {
			field := fmt.Sprintf("%s[%d]", prefix, i)
			errs = append(errs, j.validate(field, names, groups)...)
			walk(field+".children", j.Children)
		}
	}
	walk("jobs", w.Jobs)
	return errors.Join(errs...)
}

func (j *JobSpec) validate(field string, names, groups map[string]bool) []error {
	var errs []error
	switch {
	case j.Name == "":
		errs = append(errs, invalid("name is required", field+".name", nil))
	case names[j.Name]:
		errs = append(errs, invalid("duplicate job name", field+".name", j.Name))
	}
	names[j.Name] = true

	if j.Priority != "" {
		if _, err := jobs.ParsePriority(j.Priority); err != nil {
			errs = append(errs, invalid("unknown priority", field+".priority", j.Priority))
		}
	}
	if j.Delay < 0 {
		errs = append(errs, invalid("must not be negative", field+".delay", j.Delay.Std()))
	}
	if j.Duration < 0 {
		errs = append(errs, invalid("must not be negative", field+".duration", j.Duration.Std()))
	}
	if j.Group != "" && !groups[j.Group] {
		errs = append(errs, invalid("unknown group", field+".group", j.Group))
	}
	if j.Yield && j.Rule == "" && j.Mutex == "" {
		errs = append(errs, invalid("yield needs a rule", field+".yield", nil))
	}

	// Nested scopes must stay inside the job's rule and inside each other.
	outer := j.ruleOrNil()
	for k, p := range j.Nested {
		inner := rule.NewPath(p)
		if outer != nil && !rule.Contains(outer, inner) {
			errs = append(errs, invalid(fmt.Sprintf("not contained in %s", rule.Name(outer)),
				fmt.Sprintf("%s.nested[%d]", field, k), p))
			continue
		}
		outer = inner
	}
	return errs
}

func (j *JobSpec) ruleOrNil() rule.Rule {
	if j.Rule == "" {
		return nil
	}
	return rule.NewPath(j.Rule)
}

func (j *JobSpec) priority() jobs.Priority {
	if j.Priority == "" {
		return jobs.Long
	}
	p, _ := jobs.ParsePriority(j.Priority)
	return p
}

// Count returns the number of jobs including children.
func (w *Workload) Count() int {
	var count func([]JobSpec) int
	count = func(specs []JobSpec) int {
		n := len(specs)
		for _, s := range specs {
			n += count(s.Children)
		}
		return n
	}
	return count(w.Jobs)
}

func invalid(msg, field string, value any) error {
	e := errors.NewValidationError(msg).WithCause(errors.ErrWorkloadInvalid)
	if field != "" {
		e = e.WithField(field)
	}
	if value != nil {
		e = e.WithValue(value)
	}
	return e
}
