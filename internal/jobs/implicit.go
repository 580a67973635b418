package jobs

import (
	"context"
	"sync"

	"github.com/Iron-Ham/rulesched/internal/errors"
	"github.com/Iron-Ham/rulesched/internal/lock"
	"github.com/Iron-Ham/rulesched/internal/rule"
)

// implicitJobs tracks the thread jobs created by BeginRule, one per thread.
type implicitJobs struct {
	manager *Manager

	mu         sync.Mutex
	threadJobs map[*lock.Thread]*Job
	suspended  map[rule.Rule]struct{}
	spare      *Job // recycled thread job
}

func newImplicitJobs(m *Manager) *implicitJobs {
	return &implicitJobs{
		manager:    m,
		threadJobs: make(map[*lock.Thread]*Job),
		suspended:  make(map[rule.Rule]struct{}),
	}
}

func (ij *implicitJobs) jobFor(t *lock.Thread) *Job {
	ij.mu.Lock()
	defer ij.mu.Unlock()
	return ij.threadJobs[t]
}

// newThreadJobLocked returns the spare thread job or a new one. Callers
// hold ij.mu.
func (ij *implicitJobs) newThreadJobLocked(t *lock.Thread, r rule.Rule) *Job {
	job := ij.spare
	ij.spare = nil
	if job == nil {
		job = ij.manager.newThreadJobShell()
	}
	m := ij.manager
	m.lock()
	job.rule = r
	job.thread = t
	m.unlock()
	return job
}

// recycleLocked keeps one finished thread job for reuse.
func (ij *implicitJobs) recycleLocked(job *Job) {
	if ij.spare != nil || job.internalState() != StateNone || job.implicit.resumingAfterYield {
		return
	}
	m := ij.manager
	m.lock()
	job.rule = nil
	job.thread = nil
	m.unlock()
	job.stateMu.Lock()
	job.implicit.reset()
	job.stateMu.Unlock()
	ij.spare = job
}

func (ij *implicitJobs) isSuspended(suspended []rule.Rule, r rule.Rule) bool {
	for _, s := range suspended {
		contains := false
		ij.manager.safely("Contains", nil, func() { contains = rule.Contains(s, r) })
		if contains {
			return true
		}
	}
	return false
}

// begin opens a rule scope on the context's thread.
func (ij *implicitJobs) begin(ctx context.Context, r rule.Rule, monitor Monitor, suspend bool) error {
	m := ij.manager
	t, err := lock.ThreadFrom(ctx)
	if err != nil {
		return err
	}
	if err := rule.Validate(r); err != nil {
		return err
	}
	if m.Debug().BeginEnd {
		m.logger.Debug("begin rule", "rule", rule.Name(r), "thread", t.Name())
	}

	ij.mu.Lock()
	if job := ij.threadJobs[t]; job != nil {
		ij.mu.Unlock()
		// only the owning thread touches its rule stack
		return m.pushRule(job, r)
	}
	if r == nil {
		ij.mu.Unlock()
		return nil
	}
	suspended := make([]rule.Rule, 0, len(ij.suspended))
	for s := range ij.suspended {
		suspended = append(suspended, s)
	}
	ij.mu.Unlock()

	real := m.CurrentJob(ctx)
	var realRule rule.Rule
	if real != nil {
		realRule = real.Rule()
	}
	acquire := realRule == nil && !ij.isSuspended(suspended, r)

	ij.mu.Lock()
	var job *Job
	if realRule != nil {
		job = ij.newThreadJobLocked(t, realRule)
	} else {
		job = ij.newThreadJobLocked(t, r)
	}
	job.implicit.realJob = real
	job.implicit.acquireRule = acquire
	job.SetSystem(real == nil || real.IsSystem())
	ij.mu.Unlock()

	err = m.pushRule(job, r)
	if err == nil && acquire {
		if m.runNow(job, false) == nil {
			m.locks.AddLockThread(t, r)
		} else {
			job, err = m.joinRun(ctx, job, m.monitorFor(monitor))
		}
	}

	ij.mu.Lock()
	if err != nil && !job.implicit.isRunning(job) {
		// nothing was acquired, so EndRule has nothing to release
		job.implicit.acquireRule = false
	}
	ij.threadJobs[t] = job
	if suspend && r != nil {
		ij.suspended[r] = struct{}{}
	}
	ij.mu.Unlock()
	return err
}

// end closes the innermost rule scope on the context's thread.
func (ij *implicitJobs) end(ctx context.Context, r rule.Rule, resume bool) error {
	m := ij.manager
	t, err := lock.ThreadFrom(ctx)
	if err != nil {
		return err
	}
	if m.Debug().BeginEnd {
		m.logger.Debug("end rule", "rule", rule.Name(r), "thread", t.Name())
	}
	ij.mu.Lock()
	defer ij.mu.Unlock()
	job := ij.threadJobs[t]
	if job == nil {
		if r != nil {
			return errors.IllegalArgument("EndRule", "endRule without matching beginRule: %s", rule.Name(r))
		}
		return nil
	}
	last, err := m.popRule(job, r)
	if err != nil {
		return err
	}
	if last {
		ij.endThreadJobLocked(t, job, resume)
	}
	return nil
}

// endThreadJobLocked releases the rule held by a finished scope. Callers
// hold ij.mu.
func (ij *implicitJobs) endThreadJobLocked(t *lock.Thread, job *Job, resume bool) {
	m := ij.manager
	delete(ij.threadJobs, t)
	r := job.Rule()
	if resume && r != nil {
		delete(ij.suspended, r)
	}
	if job.implicit.acquireRule {
		m.locks.RemoveLockThread(t, r)
		job.notify()
	}
	if job.implicit.isRunning(job) {
		m.endJob(job, OKStatus, false)
	}
	ij.recycleLocked(job)
}

// endJob runs when a worker finishes lastJob. A rule scope left open by the
// job is force-ended.
func (ij *implicitJobs) endJob(t *lock.Thread, lastJob *Job) {
	ij.mu.Lock()
	defer ij.mu.Unlock()
	job := ij.threadJobs[t]
	if job == nil {
		if lastJob.Rule() != nil {
			lastJob.notify()
		}
		return
	}
	ij.manager.logger.Error("worker thread ended job while still holding a scheduling rule",
		"job", lastJob.String(),
		"thread", t.Name(),
		"rule", rule.Name(job.Rule()))
	ij.endThreadJobLocked(t, job, false)
}

// transfer moves the scope holding r from the context's thread to dest.
func (ij *implicitJobs) transfer(ctx context.Context, r rule.Rule, dest *lock.Thread) error {
	m := ij.manager
	t, err := lock.ThreadFrom(ctx)
	if err != nil {
		return err
	}
	if dest == nil {
		return errors.IllegalArgument("TransferRule", "transferring rule %s to a nil thread", rule.Name(r))
	}
	if r == nil || dest == t {
		return nil
	}
	ij.mu.Lock()
	defer ij.mu.Unlock()
	if ij.threadJobs[dest] != nil {
		return errors.IllegalArgument("TransferRule", "transferring rule %s to thread %s that already owns a rule",
			rule.Name(r), dest.Name())
	}
	job := ij.threadJobs[t]
	if job == nil {
		return errors.IllegalArgument("TransferRule", "transferRule %s without beginRule", rule.Name(r))
	}
	if held := job.Rule(); held != r {
		return errors.IllegalArgument("TransferRule", "transferring rule %s that is not the held rule %s",
			rule.Name(r), rule.Name(held))
	}
	job.SetThread(dest)
	delete(ij.threadJobs, t)
	ij.threadJobs[dest] = job
	if job.implicit.acquireRule {
		m.locks.RemoveLockThread(t, r)
		m.locks.AddLockThread(dest, r)
	}
	job.notify()
	return nil
}

// BeginRule acquires r for the context's thread, blocking while a running
// job or another thread holds a conflicting rule. Nested calls must use
// rules contained in the outermost one. Every BeginRule, even a failed
// one, must be matched by EndRule.
func (m *Manager) BeginRule(ctx context.Context, r rule.Rule, monitor Monitor) error {
	return m.impl.begin(ctx, r, monitor, false)
}

// EndRule closes the scope opened by the matching BeginRule.
func (m *Manager) EndRule(ctx context.Context, r rule.Rule) error {
	return m.impl.end(ctx, r, false)
}

// SuspendRule is BeginRule for a rule that nested scopes on any thread may
// then use without acquiring it again.
func (m *Manager) SuspendRule(ctx context.Context, r rule.Rule, monitor Monitor) error {
	return m.impl.begin(ctx, r, monitor, true)
}

// ResumeRule closes a SuspendRule scope.
func (m *Manager) ResumeRule(ctx context.Context, r rule.Rule) error {
	return m.impl.end(ctx, r, true)
}

// TransferRule hands the rule scope opened on the context's thread to
// dest. dest must not hold a rule, and r must be the rule the caller holds.
func (m *Manager) TransferRule(ctx context.Context, r rule.Rule, dest *lock.Thread) error {
	return m.impl.transfer(ctx, r, dest)
}
