package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/rulesched/internal/event"
	"github.com/Iron-Ham/rulesched/internal/lock"
)

func TestLifecycleLine(t *testing.T) {
	scheduled := event.NewJobEvent(event.JobScheduled, 1, "index")
	scheduled.Delay = 200 * time.Millisecond
	running := event.NewJobEvent(event.JobRunning, 1, "index")
	running.Thread = "worker-3"
	failed := event.NewJobEvent(event.JobDone, 1, "index")
	failed.Severity = "error"
	failed.Message = "disk full"

	tests := []struct {
		name string
		ev   event.Event
		want []string
	}{
		{"delayed schedule", scheduled, []string{"scheduled", "index", "in 200ms"}},
		{"running", running, []string{"running", "on worker-3"}},
		{"failed", failed, []string{"done", "error", "disk full"}},
		{"group", event.NewGroupCompletedEvent("indexers", "ok", "", 0, 0), []string{"group", "indexers", "ok"}},
		{"deadlock", event.NewDeadlockResolvedEvent([]string{"t1", "t2"}, "t2", []string{"l2"}), []string{"t1, t2", "l2", "held by t2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LifecycleLine(tt.ev)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("LifecycleLine() = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestJobTable(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []Row{
		{Name: "index-core", Group: "indexers", Status: "ok", Runs: 1, Thread: "worker-1",
			Started: start, Finished: start.Add(120 * time.Millisecond)},
		{Name: "refresh", Status: "waiting"},
	}
	out := JobTable(rows, start)
	for _, w := range []string{"JOB", "index-core", "indexers", "worker-1", "120ms", "refresh", "waiting"} {
		if !strings.Contains(out, w) {
			t.Errorf("JobTable() missing %q:\n%s", w, out)
		}
	}
}

func TestJobTable_ShortensLongNames(t *testing.T) {
	long := "build/" + strings.Repeat("x", 60) + "/leaf"
	out := JobTable([]Row{{Name: long, Status: "ok"}}, time.Now())
	if strings.Contains(out, long) {
		t.Errorf("JobTable() printed the full name:\n%s", out)
	}
	if !strings.Contains(out, "build/") || !strings.Contains(out, "/leaf") {
		t.Errorf("JobTable() lost the ends of the name:\n%s", out)
	}
}

func TestSummary_SortedByStatus(t *testing.T) {
	out := Summary(map[string]int{"ok": 3, "error": 1})
	if i, j := strings.Index(out, "error"), strings.Index(out, "ok"); i < 0 || j < 0 || i > j {
		t.Errorf("Summary() = %q, want error before ok", out)
	}
}

func TestGraphTable(t *testing.T) {
	if out := GraphTable(lock.GraphSnapshot{}); !strings.Contains(out, "empty") {
		t.Errorf("GraphTable(empty) = %q", out)
	}
	snap := lock.GraphSnapshot{
		Threads: []string{"t1", "t2"},
		Locks:   []string{"L1", "L2"},
		Cells:   [][]int{{1, -1}, {0, 3}},
	}
	out := GraphTable(snap)
	for _, w := range []string{"THREAD", "L1", "L2", "t1", "t2", "wait", "3"} {
		if !strings.Contains(out, w) {
			t.Errorf("GraphTable() missing %q:\n%s", w, out)
		}
	}
}
