package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/rulesched/internal/errors"
	"github.com/Iron-Ham/rulesched/internal/lock"
)

// GroupState is the lifecycle state of a Group.
type GroupState int

const (
	GroupNone GroupState = iota
	GroupActive
	GroupCanceling
)

func (s GroupState) String() string {
	switch s {
	case GroupNone:
		return "NONE"
	case GroupActive:
		return "ACTIVE"
	case GroupCanceling:
		return "CANCELING"
	default:
		return "UNKNOWN"
	}
}

// GroupPolicy decides when a group is canceled and how its result is
// folded.
type GroupPolicy interface {
	// ShouldCancel is asked after each job of an active group finishes.
	ShouldCancel(last *Status, failed, canceled int) bool
	// ComputeResult folds the results of the finished jobs.
	ComputeResult(results []*Status) *Status
}

// DefaultGroupPolicy cancels the group on the first failure and folds
// every non-OK result into a multi-status.
type DefaultGroupPolicy struct{}

func (DefaultGroupPolicy) ShouldCancel(_ *Status, failed, _ int) bool {
	return failed > 0
}

func (DefaultGroupPolicy) ComputeResult(results []*Status) *Status {
	ms := MultiStatus("group finished")
	for _, r := range results {
		if !r.IsOK() {
			ms.Add(r)
		}
	}
	if !ms.IsMulti() {
		return OKStatus
	}
	return ms
}

// GroupOption customizes a Group.
type GroupOption func(*Group)

// WithPolicy replaces the default policy.
func WithPolicy(p GroupPolicy) GroupOption {
	return func(g *Group) { g.policy = p }
}

// Group aggregates related jobs. It limits how many of them run at once,
// cancels them together, and folds their results.
type Group struct {
	manager    *Manager
	name       string
	maxThreads int
	seedJobs   int
	policy     GroupPolicy

	mu               sync.Mutex
	state            GroupState
	changed          chan struct{}
	running          map[*Job]struct{}
	others           map[*Job]struct{}
	results          []*Status
	result           *Status
	seedsRemaining   int
	failed           int
	canceled         int
	cancelDueToError bool
}

// NewGroup creates a group. maxThreads of zero means unlimited. The group
// completes only after seedJobs jobs were scheduled from outside it.
func (m *Manager) NewGroup(name string, maxThreads, seedJobs int, opts ...GroupOption) (*Group, error) {
	if maxThreads < 0 {
		return nil, errors.IllegalArgument("NewGroup", "maxThreads must be >= 0, got %d", maxThreads)
	}
	if seedJobs < 0 {
		return nil, errors.IllegalArgument("NewGroup", "seedJobs must be >= 0, got %d", seedJobs)
	}
	g := &Group{
		manager:        m,
		name:           name,
		maxThreads:     maxThreads,
		seedJobs:       seedJobs,
		policy:         DefaultGroupPolicy{},
		changed:        make(chan struct{}),
		running:        make(map[*Job]struct{}),
		others:         make(map[*Job]struct{}),
		seedsRemaining: seedJobs,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// MaxThreads returns the concurrency limit, zero for unlimited.
func (g *Group) MaxThreads() int { return g.maxThreads }

func (g *Group) String() string { return fmt.Sprintf("group %s", g.name) }

// State returns the group state.
func (g *Group) State() GroupState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Result returns the result of the last completion, or nil.
func (g *Group) Result() *Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.result
}

// ActiveJobs returns the jobs that are waiting, sleeping or running.
func (g *Group) ActiveJobs() []*Job {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeLocked()
}

func (g *Group) activeLocked() []*Job {
	jobs := make([]*Job, 0, len(g.running)+len(g.others))
	for j := range g.running {
		jobs = append(jobs, j)
	}
	for j := range g.others {
		jobs = append(jobs, j)
	}
	return jobs
}

func (g *Group) notifyLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}

// canRunMore reports whether one more of the group's jobs may start.
func (g *Group) canRunMore() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == GroupCanceling {
		return false
	}
	return g.maxThreads == 0 || len(g.running) < g.maxThreads
}

func (g *Group) seedScheduled() {
	g.mu.Lock()
	g.seedsRemaining--
	g.mu.Unlock()
}

// jobStateChanged updates the group's view of one member. Callers hold
// Manager.mu.
func (g *Group) jobStateChanged(job *Job, old, now State) {
	if old == now {
		return
	}
	result := job.Result()
	g.mu.Lock()
	defer g.mu.Unlock()
	switch old {
	case StateNone:
	case StateRunning:
		delete(g.running, job)
	default:
		delete(g.others, job)
	}
	switch now {
	case StateNone:
		g.recordLocked(result)
	case StateRunning:
		g.running[job] = struct{}{}
	default:
		g.others[job] = struct{}{}
	}
	if old == StateNone && g.state == GroupNone {
		g.state = GroupActive
		g.notifyLocked()
	}
}

func (g *Group) recordLocked(result *Status) {
	if result == nil {
		return
	}
	if result.Matches(Cancel) && g.state == GroupCanceling && g.cancelDueToError {
		// the failure that caused the cancel is already recorded
		return
	}
	g.results = append(g.results, result)
	switch {
	case result.Matches(Error):
		g.failed++
	case result.Matches(Cancel):
		g.canceled++
	}
}

// endLocked completes the group and resets it for reuse.
func (g *Group) endLocked(result *Status) {
	g.state = GroupNone
	g.result = result
	g.results = nil
	g.seedsRemaining = g.seedJobs
	g.failed, g.canceled = 0, 0
	g.cancelDueToError = false
	g.notifyLocked()
}

// Cancel cancels every active job of the group.
func (g *Group) Cancel() {
	g.manager.cancelGroup(g, false)
}

// Join waits for the group to complete. A zero timeout waits forever. It
// returns false when the timeout elapsed first. A job may not join its own
// group.
func (g *Group) Join(ctx context.Context, timeout time.Duration, monitor Monitor) (bool, error) {
	m := g.manager
	if timeout < 0 {
		return false, errors.IllegalArgument("Join", "negative timeout %v", timeout)
	}
	if cur := m.CurrentJob(ctx); cur != nil && cur.Group() == g {
		return false, errors.IllegalState("Join", "job %s cannot join its own %s", cur, g)
	}
	monitor = m.monitorFor(monitor)
	var interrupt <-chan struct{}
	if t, err := lock.ThreadFrom(ctx); err == nil {
		interrupt = t.InterruptCh()
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		g.mu.Lock()
		st, changed := g.state, g.changed
		g.mu.Unlock()
		if st == GroupNone {
			return true, nil
		}
		if m.isCanceled(monitor) {
			return false, errors.ErrCanceled
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		slice := m.opts.JoinPollInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return false, nil
			}
			slice = min(slice, remaining)
		}
		timer := time.NewTimer(slice)
		select {
		case <-changed:
		case <-timer.C:
		case <-ctx.Done():
		case <-interrupt:
			timer.Stop()
			return false, errors.ErrInterrupted
		}
		timer.Stop()
	}
}

// cancelGroup marks g canceling and cancels its active jobs. A user cancel
// overrides a cancel caused by a failure.
func (m *Manager) cancelGroup(g *Group, dueToError bool) {
	g.mu.Lock()
	switch g.state {
	case GroupNone:
		g.mu.Unlock()
		return
	case GroupCanceling:
		if !dueToError {
			g.cancelDueToError = false
		}
		g.mu.Unlock()
		return
	}
	g.state = GroupCanceling
	g.cancelDueToError = dueToError
	g.notifyLocked()
	jobs := g.activeLocked()
	g.mu.Unlock()

	m.trace("canceling group", "group", g.name, "due_to_error", dueToError, "jobs", len(jobs))
	for _, j := range jobs {
		m.cancel(j)
	}
	// Nothing left to report completion.
	if len(jobs) == 0 {
		m.completeGroup(g)
	}
}

// completeGroup ends g if it is idle and returns the folded result, or nil
// when the group is still busy.
func (m *Manager) completeGroup(g *Group) *Status {
	g.mu.Lock()
	results := append([]*Status(nil), g.results...)
	g.mu.Unlock()

	var result *Status
	m.safely("ComputeResult", nil, func() { result = g.policy.ComputeResult(results) })
	if result == nil {
		result = DefaultGroupPolicy{}.ComputeResult(results)
	}

	g.mu.Lock()
	if g.state == GroupNone || len(g.running)+len(g.others) > 0 {
		g.mu.Unlock()
		return nil
	}
	failed, canceled := g.failed, g.canceled
	g.endLocked(result)
	g.mu.Unlock()

	if result.Matches(Error | Warning) {
		m.logger.Error("job group finished with problems",
			"group", g.name,
			"result", result.String(),
			"failed", failed,
			"canceled", canceled)
	}
	return result
}

// groupUpdater completes groups and applies their cancel policy. It is the
// first global listener so later listeners see GroupResult.
type groupUpdater struct {
	manager *Manager
}

func (u *groupUpdater) Scheduled(*ChangeEvent)  {}
func (u *groupUpdater) AboutToRun(*ChangeEvent) {}
func (u *groupUpdater) Running(*ChangeEvent)    {}
func (u *groupUpdater) Sleeping(*ChangeEvent)   {}
func (u *groupUpdater) Awake(*ChangeEvent)      {}

func (u *groupUpdater) Done(e *ChangeEvent) {
	m := u.manager
	g := e.Job.Group()
	if g == nil {
		return
	}
	g.mu.Lock()
	state := g.state
	active := len(g.running) + len(g.others)
	seeds := g.seedsRemaining
	failed, canceled := g.failed, g.canceled
	g.mu.Unlock()

	if e.Reschedule || state == GroupNone {
		return
	}
	if active == 0 && (seeds <= 0 || state == GroupCanceling) {
		if result := m.completeGroup(g); result != nil {
			e.GroupResult = result
		}
		return
	}
	if state == GroupCanceling {
		return
	}
	cancel := false
	m.safely("ShouldCancel", e.Job, func() { cancel = g.policy.ShouldCancel(e.Result, failed, canceled) })
	if cancel {
		m.cancelGroup(g, true)
	}
}
