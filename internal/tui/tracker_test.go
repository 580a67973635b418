package tui

import (
	"testing"
	"time"

	"github.com/Iron-Ham/rulesched/internal/event"
)

func newTestTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	tr := NewTracker()
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return clock }
	return tr, &clock
}

func jobEvent(kind string, id uint64, name string) event.JobEvent {
	return event.NewJobEvent(kind, id, name)
}

func TestTracker_FollowsLifecycle(t *testing.T) {
	tr, clock := newTestTracker(t)

	scheduled := jobEvent(event.JobScheduled, 1, "index")
	scheduled.Delay = time.Second
	scheduled.Group = "indexers"

	steps := []struct {
		ev   event.JobEvent
		want string
	}{
		{scheduled, "sleeping"},
		{jobEvent(event.JobAwake, 1, "index"), "waiting"},
		{jobEvent(event.JobAboutToRun, 1, "index"), "waiting"},
		{func() event.JobEvent {
			e := jobEvent(event.JobRunning, 1, "index")
			e.Thread = "worker-1"
			return e
		}(), "running"},
		{func() event.JobEvent {
			e := jobEvent(event.JobDone, 1, "index")
			e.Severity = "error"
			e.Message = "broken"
			return e
		}(), "error"},
	}
	for _, s := range steps {
		if s.ev.EventType() == event.JobDone {
			*clock = clock.Add(250 * time.Millisecond)
		}
		tr.Handle(s.ev)
		rows := tr.Rows()
		if len(rows) != 1 {
			t.Fatalf("rows = %d, want 1", len(rows))
		}
		if rows[0].Status != s.want {
			t.Errorf("after %s status = %q, want %q", s.ev.EventType(), rows[0].Status, s.want)
		}
	}

	r := tr.Rows()[0]
	if r.Group != "indexers" || r.Thread != "worker-1" || r.Runs != 1 || r.Message != "broken" {
		t.Errorf("row = %+v", r)
	}
	if got := r.Elapsed(*clock); got != 250*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 250ms", got)
	}
	if !r.Terminal() {
		t.Error("finished row is not terminal")
	}
}

func TestTracker_OrderAndCounts(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.Handle(jobEvent(event.JobScheduled, 2, "b"))
	tr.Handle(jobEvent(event.JobScheduled, 1, "a"))
	tr.Handle(jobEvent(event.JobRunning, 2, "b"))
	tr.Handle(jobEvent(event.JobDone, 1, "a"))

	rows := tr.Rows()
	if len(rows) != 2 || rows[0].Name != "b" || rows[1].Name != "a" {
		t.Fatalf("rows = %+v, want b then a", rows)
	}
	if rows[1].Status != "ok" {
		t.Errorf("done without severity = %q, want ok", rows[1].Status)
	}
	counts := tr.Counts()
	if counts["running"] != 1 || counts["ok"] != 1 {
		t.Errorf("Counts() = %v", counts)
	}
}

func TestTracker_GroupsDeadlocksAndCallback(t *testing.T) {
	tr, _ := newTestTracker(t)
	var seen []string
	tr.OnEvent(func(e event.Event) { seen = append(seen, e.EventType()) })

	bus := event.NewBus()
	tr.Attach(bus)
	bus.Publish(event.NewGroupCompletedEvent("g", "ok", "", 0, 0))
	bus.Publish(event.NewDeadlockResolvedEvent([]string{"t1", "t2"}, "t2", []string{"l2"}))

	if got := tr.Groups(); len(got) != 1 || got[0].GroupName != "g" {
		t.Errorf("Groups() = %+v", got)
	}
	if got := tr.Deadlocks(); len(got) != 1 || got[0].Candidate != "t2" {
		t.Errorf("Deadlocks() = %+v", got)
	}
	if len(seen) != 2 {
		t.Errorf("callback saw %v, want 2 events", seen)
	}
}

func TestRow_Elapsed(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		row  Row
		want time.Duration
	}{
		{"never ran", Row{Status: "waiting"}, 0},
		{"running", Row{Status: "running", Started: start}, time.Second},
		{"finished", Row{Status: "ok", Started: start, Finished: start.Add(300 * time.Millisecond)}, 300 * time.Millisecond},
		{"rescheduled", Row{Status: "waiting", Started: start, Finished: start.Add(-time.Second)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.row.Elapsed(start.Add(time.Second)); got != tt.want {
				t.Errorf("Elapsed() = %v, want %v", got, tt.want)
			}
		})
	}
}
