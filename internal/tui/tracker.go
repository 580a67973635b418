// Package tui renders engine activity: the run summary, the deadlock graph
// and the live job board used by the watch command.
package tui

import (
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/rulesched/internal/event"
)

// Row is a job as the tracker last saw it.
type Row struct {
	ID      uint64
	Name    string
	Group   string
	Thread  string
	Status  string
	Message string
	Runs    int

	Scheduled time.Time
	Started   time.Time
	Finished  time.Time
}

// Elapsed is the run time of the last run, or of the current one so far.
func (r Row) Elapsed(now time.Time) time.Duration {
	switch {
	case r.Started.IsZero():
		return 0
	case r.Finished.After(r.Started):
		return r.Finished.Sub(r.Started)
	case r.Status == "running":
		return now.Sub(r.Started)
	default:
		return 0
	}
}

// Terminal reports whether the row shows a finished run.
func (r Row) Terminal() bool {
	switch r.Status {
	case "sleeping", "waiting", "running":
		return false
	}
	return true
}

// Tracker folds bus events into per-job rows. It is safe for concurrent
// use; bus handlers run on engine threads.
type Tracker struct {
	mu        sync.Mutex
	rows      map[uint64]*Row
	order     []uint64
	groups    []event.GroupCompletedEvent
	deadlocks []event.DeadlockResolvedEvent
	onEvent   func(event.Event)
	now       func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{rows: make(map[uint64]*Row), now: time.Now}
}

// Attach subscribes the tracker to every event on bus and returns the
// subscription id.
func (t *Tracker) Attach(bus *event.Bus) string {
	return bus.SubscribeAll(t.Handle)
}

// OnEvent registers fn to be called after each handled event, outside the
// tracker lock.
func (t *Tracker) OnEvent(fn func(event.Event)) {
	t.mu.Lock()
	t.onEvent = fn
	t.mu.Unlock()
}

// Handle applies one event.
func (t *Tracker) Handle(e event.Event) {
	t.mu.Lock()
	switch ev := e.(type) {
	case event.JobEvent:
		t.applyJob(ev)
	case event.GroupCompletedEvent:
		t.groups = append(t.groups, ev)
	case event.DeadlockResolvedEvent:
		t.deadlocks = append(t.deadlocks, ev)
	}
	fn := t.onEvent
	t.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

func (t *Tracker) applyJob(e event.JobEvent) {
	r, ok := t.rows[e.JobID]
	if !ok {
		r = &Row{ID: e.JobID, Name: e.JobName}
		t.rows[e.JobID] = r
		t.order = append(t.order, e.JobID)
	}
	if e.Group != "" {
		r.Group = e.Group
	}
	now := t.now()
	switch e.EventType() {
	case event.JobScheduled:
		r.Scheduled = now
		r.Status = "waiting"
		if e.Delay > 0 {
			r.Status = "sleeping"
		}
	case event.JobSleeping:
		r.Status = "sleeping"
	case event.JobAwake, event.JobAboutToRun:
		r.Status = "waiting"
	case event.JobRunning:
		r.Status = "running"
		r.Thread = e.Thread
		r.Started = now
		r.Runs++
	case event.JobDone:
		r.Status = e.Severity
		if r.Status == "" {
			r.Status = "ok"
		}
		r.Message = e.Message
		r.Finished = now
	}
}

// Rows returns copies of all rows in the order jobs were first seen.
func (t *Tracker) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Row, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.rows[id])
	}
	return out
}

// Groups returns the completed group events seen so far.
func (t *Tracker) Groups() []event.GroupCompletedEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.groups)
}

// Deadlocks returns the resolved deadlocks seen so far.
func (t *Tracker) Deadlocks() []event.DeadlockResolvedEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.deadlocks)
}

// Counts returns the number of rows per status.
func (t *Tracker) Counts() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := make(map[string]int)
	for _, r := range t.rows {
		counts[r.Status]++
	}
	return counts
}
