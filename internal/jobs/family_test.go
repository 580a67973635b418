package jobs

import (
	"context"
	"testing"

	"github.com/Iron-Ham/rulesched/internal/errors"
)

func TestGlobFamily(t *testing.T) {
	m := &Manager{}
	tests := []struct {
		pattern string
		job     string
		want    bool
	}{
		{"index-*", "index-core", true},
		{"index-*", "build-core", false},
		{"build/*", "build/ui", true},
		{"build/*", "build/ui/icons", false},
		{"build/**", "build/ui/icons", true},
		{"build-{core,ui}", "build-ui", true},
		{"build-{core,ui}", "build-docs", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.job, func(t *testing.T) {
			f, err := NewGlobFamily(tt.pattern)
			if err != nil {
				t.Fatalf("NewGlobFamily(%q) error = %v", tt.pattern, err)
			}
			if got := f.Match(m.newJob(tt.job)); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.job, got, tt.want)
			}
		})
	}
}

func TestGlobFamily_InvalidPattern(t *testing.T) {
	if _, err := NewGlobFamily("build-{core"); !errors.Is(err, errors.ErrIllegalArgument) {
		t.Errorf("NewGlobFamily(unclosed) error = %v, want illegal argument", err)
	}
}

type taggedWork struct{ tag string }

func (w taggedWork) Run(context.Context, Monitor) *Status { return OKStatus }
func (w taggedWork) BelongsTo(family any) bool      { return family == w.tag }

func TestJob_BelongsTo(t *testing.T) {
	m := &Manager{}
	j := m.NewJob("tagged", taggedWork{tag: "indexing"})

	tests := []struct {
		name   string
		family any
		want   bool
	}{
		{"nil matches every job", nil, true},
		{"own family", "indexing", true},
		{"other family", "building", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := j.belongsTo(tt.family); got != tt.want {
				t.Errorf("belongsTo(%v) = %v, want %v", tt.family, got, tt.want)
			}
		})
	}
	if plain := m.NewJob("plain", WorkFunc(okWork)); plain.belongsTo("indexing") {
		t.Error("a job without a family hook matched a family")
	}
}
