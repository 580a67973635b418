package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/rulesched/internal/errors"
	"github.com/Iron-Ham/rulesched/internal/lock"
	"github.com/Iron-Ham/rulesched/internal/rule"
)

// Work is the body of a job. The context carries the worker thread and is
// canceled when the job is canceled.
type Work interface {
	Run(ctx context.Context, monitor Monitor) *Status
}

// WorkFunc adapts a function to Work.
type WorkFunc func(ctx context.Context, monitor Monitor) *Status

func (f WorkFunc) Run(ctx context.Context, monitor Monitor) *Status { return f(ctx, monitor) }

// Optional hooks a Work may implement.
type (
	// Canceler is told when a running job is canceled.
	Canceler interface{ Canceling() }
	// FamilyMember decides which families a job belongs to.
	FamilyMember interface{ BelongsTo(family any) bool }
	// ScheduleVeto may refuse a schedule or reschedule.
	ScheduleVeto interface{ ShouldSchedule() bool }
	// RunVeto may refuse to run a job that reached the head of the queue.
	RunVeto interface{ ShouldRun() bool }
)

var jobIDs atomic.Uint64

// Job is a unit of work managed by a Manager.
//
// Fields under "engine" are guarded by Manager.mu. state, result and the
// notifier are guarded by stateMu, which is always taken last; writers of
// state hold both.
type Job struct {
	manager *Manager
	id      uint64
	name    string
	work    Work
	system  atomic.Bool
	user    atomic.Bool

	// engine
	priority           Priority
	rule               rule.Rule
	group              *Group
	monitor            Monitor
	thread             *lock.Thread
	runCtx             context.Context
	cancelRun          context.CancelFunc
	startTime          int64
	stamp              int64
	rescheduleDelay    int64
	aboutToRunCanceled bool
	runCanceled        bool
	prev, next         *Job

	stateMu sync.Mutex
	state   State
	result  *Status
	changed chan struct{}

	listenersMu sync.Mutex
	listeners   []Listener

	eventsMu sync.Mutex
	events   []func()
	sending  bool

	// non-nil for thread jobs
	implicit *threadJob
}

// NewJob creates a job with Long priority.
func (m *Manager) NewJob(name string, work Work) *Job {
	j := m.newJob(name)
	j.work = work
	return j
}

func (m *Manager) newJob(name string) *Job {
	return &Job{
		manager:         m,
		id:              jobIDs.Add(1),
		name:            name,
		priority:        Long,
		startTime:       tNone,
		stamp:           tNone,
		rescheduleDelay: tNone,
		changed:         make(chan struct{}),
	}
}

// ID returns the process-unique job id.
func (j *Job) ID() uint64 { return j.id }

// Name returns the job name.
func (j *Job) Name() string { return j.name }

// Work returns the job body.
func (j *Job) Work() Work { return j.work }

// Manager returns the owning manager.
func (j *Job) Manager() *Manager { return j.manager }

func (j *Job) String() string { return fmt.Sprintf("%s(%d)", j.name, j.id) }

// State returns the public state.
func (j *Job) State() State {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	return j.state.public()
}

func (j *Job) internalState() State {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	return j.state
}

// Result returns the result of the last completed run, or nil.
func (j *Job) Result() *Status {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	return j.result
}

func (j *Job) setResult(s *Status) {
	j.stateMu.Lock()
	j.result = s
	j.stateMu.Unlock()
}

// notifyLocked wakes every goroutine waiting for a state change. Callers
// hold stateMu.
func (j *Job) notifyLocked() {
	close(j.changed)
	j.changed = make(chan struct{})
}

func (j *Job) notify() {
	j.stateMu.Lock()
	j.notifyLocked()
	j.stateMu.Unlock()
}

// Priority returns the scheduling priority.
func (j *Job) Priority() Priority {
	j.manager.lock()
	defer j.manager.unlock()
	return j.priority
}

// SetPriority changes the priority. A waiting job is re-queued.
func (j *Job) SetPriority(p Priority) error {
	return j.manager.setPriority(j, p)
}

// Rule returns the scheduling rule, or nil.
func (j *Job) Rule() rule.Rule {
	j.manager.lock()
	defer j.manager.unlock()
	return j.rule
}

// SetRule sets the scheduling rule. The job must not be scheduled.
func (j *Job) SetRule(r rule.Rule) error {
	return j.manager.setRule(j, r)
}

// Group returns the job group, or nil.
func (j *Job) Group() *Group {
	j.manager.lock()
	defer j.manager.unlock()
	return j.group
}

// SetGroup puts the job in g. The job must not be scheduled and may join
// only one group.
func (j *Job) SetGroup(g *Group) error {
	m := j.manager
	m.lock()
	defer m.unlock()
	if j.internalState() != StateNone {
		return errors.IllegalState("SetGroup", "job %s is already scheduled", j)
	}
	if j.group != nil && j.group != g {
		return errors.IllegalState("SetGroup", "job %s already belongs to group %s", j, j.group.name)
	}
	j.group = g
	return nil
}

// Thread returns the thread running the job, or nil.
func (j *Job) Thread() *lock.Thread {
	j.manager.lock()
	defer j.manager.unlock()
	return j.thread
}

// SetThread hands a job that finishes asynchronously to another thread.
func (j *Job) SetThread(t *lock.Thread) {
	j.manager.lock()
	j.thread = t
	j.manager.unlock()
}

// Monitor returns the monitor of the running job, or nil.
func (j *Job) Monitor() Monitor {
	j.manager.lock()
	defer j.manager.unlock()
	return j.monitor
}

// IsSystem reports whether the job is internal to the application.
func (j *Job) IsSystem() bool { return j.system.Load() }

// SetSystem marks the job as a system job.
func (j *Job) SetSystem(v bool) { j.system.Store(v) }

// IsUser reports whether a user started the job.
func (j *Job) IsUser() bool { return j.user.Load() }

// SetUser marks the job as user initiated.
func (j *Job) SetUser(v bool) { j.user.Store(v) }

// Schedule queues the job to run after delay. It is a no-op when the work
// vetoes scheduling or the job is already waiting or sleeping. A running
// job is rescheduled once it ends.
func (j *Job) Schedule(ctx context.Context, delay time.Duration) error {
	if !j.manager.shouldSchedule(j) {
		return nil
	}
	return j.manager.schedule(ctx, j, delay, false)
}

// Cancel stops the job. It returns false when the job is running and only
// its monitor and context could be canceled.
func (j *Job) Cancel() bool { return j.manager.cancel(j) }

// Sleep parks a waiting job until WakeUp. It fails for a running job.
func (j *Job) Sleep() bool { return j.manager.sleep(j) }

// WakeUp puts a sleeping job back in the wait queue after delay.
func (j *Job) WakeUp(delay time.Duration) error { return j.manager.wakeUp(j, delay) }

// Done finishes a job whose Run returned AsyncFinish.
func (j *Job) Done(result *Status) { j.manager.endJob(j, result, true) }

// Join waits for the job to finish. A zero timeout waits forever. It
// returns false when the timeout elapsed first.
func (j *Job) Join(ctx context.Context, timeout time.Duration, monitor Monitor) (bool, error) {
	return j.manager.join(ctx, j, timeout, monitor)
}

// IsBlocking reports whether the running job blocks a job that may not
// wait on it.
func (j *Job) IsBlocking() bool { return j.manager.isBlocking(j) }

// YieldRule lets a waiting job that conflicts with this running job run
// first, then resumes. It returns the job it yielded to, or nil.
func (j *Job) YieldRule(ctx context.Context, monitor Monitor) (*Job, error) {
	return j.manager.yieldRule(ctx, j, monitor)
}

// AddListener registers a listener for this job only.
func (j *Job) AddListener(l Listener) {
	j.listenersMu.Lock()
	j.listeners = append(j.listeners, l)
	j.listenersMu.Unlock()
}

// RemoveListener removes a listener added with AddListener.
func (j *Job) RemoveListener(l Listener) {
	j.listenersMu.Lock()
	j.listeners = removeListener(j.listeners, l)
	j.listenersMu.Unlock()
}

func (j *Job) jobListeners() []Listener {
	j.listenersMu.Lock()
	defer j.listenersMu.Unlock()
	return append([]Listener(nil), j.listeners...)
}

// belongsTo asks the work whether the job is part of family. A nil family
// matches everything.
func (j *Job) belongsTo(family any) bool {
	if family == nil {
		return true
	}
	if g, ok := family.(*GlobFamily); ok {
		return g.Match(j)
	}
	if fm, ok := j.work.(FamilyMember); ok {
		return fm.BelongsTo(family)
	}
	return false
}

// Queue links. Callers hold Manager.mu.

// addLast appends entry behind the last job chained to j.
func (j *Job) addLast(entry *Job) {
	last := j
	for last.prev != nil {
		last = last.prev
	}
	last.prev = entry
	entry.next = last
	entry.prev = nil
}

// unlink removes j from whatever chain or queue it is in.
func (j *Job) unlink() {
	if j.next != nil {
		j.next.prev = j.prev
	}
	if j.prev != nil {
		j.prev.next = j.next
	}
	j.next, j.prev = nil, nil
}

// compare orders jobs by start time, then by stamp.
func (j *Job) compare(other *Job) int {
	switch {
	case j.startTime > other.startTime:
		return 1
	case j.startTime < other.startTime:
		return -1
	case j.stamp > other.stamp:
		return 1
	case j.stamp < other.stamp:
		return -1
	default:
		return 0
	}
}

func (j *Job) conflictsWith(other *Job) bool {
	return rule.Conflicts(j.rule, other.rule)
}

func (j *Job) isThreadJob() bool { return j.implicit != nil }
