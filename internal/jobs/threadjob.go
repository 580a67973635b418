package jobs

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/Iron-Ham/rulesched/internal/errors"
	"github.com/Iron-Ham/rulesched/internal/lock"
	"github.com/Iron-Ham/rulesched/internal/rule"
)

// threadJobPoll bounds each rule wait slice when the lock listener forbids
// blocking or the blocker is not running yet.
const threadJobPoll = 250 * time.Millisecond

// threadJob is the implicit-job half of a Job created by BeginRule. Only the
// owning thread touches ruleStack and lastPush. running and waiting are
// guarded by the job's stateMu.
type threadJob struct {
	// acquireRule is set when the rule was taken through the engine rather
	// than inherited from the running job
	acquireRule bool
	running     bool
	waiting     bool
	realJob     *Job
	ruleStack   []rule.Rule
	lastPush    string
	// resumingAfterYield marks the proxy a yielding job uses to get its rule
	// back
	resumingAfterYield bool
}

func (tj *threadJob) shouldInterrupt() bool {
	return tj.realJob == nil || !tj.realJob.IsSystem()
}

// current returns the innermost non-nil rule pushed on the stack.
func (tj *threadJob) current() rule.Rule {
	for i := len(tj.ruleStack) - 1; i >= 0; i-- {
		if tj.ruleStack[i] != nil {
			return tj.ruleStack[i]
		}
	}
	return nil
}

func (tj *threadJob) reset() {
	tj.acquireRule = false
	tj.running = false
	tj.waiting = false
	tj.realJob = nil
	tj.ruleStack = tj.ruleStack[:0]
	tj.lastPush = ""
	tj.resumingAfterYield = false
}

func (m *Manager) newThreadJobShell() *Job {
	j := m.newJob("Implicit Job")
	j.SetSystem(true)
	j.priority = Interactive
	j.implicit = &threadJob{ruleStack: make([]rule.Rule, 0, 4)}
	return j
}

// push records a nested BeginRule. The rule is pushed even when it is not
// contained in the scope so the matching EndRule still pops it.
func (m *Manager) pushRule(job *Job, r rule.Rule) error {
	tj := job.implicit
	base := job.rule
	tj.ruleStack = append(tj.ruleStack, r)
	if m.Debug().BeginEnd {
		tj.lastPush = string(debug.Stack())
	}
	if base == nil || r == nil {
		return nil
	}
	contained := false
	m.safely("Contains", job, func() { contained = base.Contains(r) && base.IsConflicting(r) })
	if !contained {
		return errors.IllegalArgument("BeginRule",
			"attempted to beginRule %s, does not match outer scope rule %s", rule.Name(r), rule.Name(base))
	}
	return nil
}

// popRule matches an EndRule against the innermost BeginRule. It reports
// whether the scope is now empty.
func (m *Manager) popRule(job *Job, r rule.Rule) (bool, error) {
	tj := job.implicit
	n := len(tj.ruleStack)
	if n == 0 || tj.ruleStack[n-1] != r {
		top := "<none>"
		if n > 0 {
			top = rule.Name(tj.ruleStack[n-1])
		}
		err := errors.IllegalArgument("EndRule",
			"endRule %s does not match the most recent beginRule %s", rule.Name(r), top)
		if tj.lastPush != "" {
			err = err.WithDetailf("%s; beginRule was called at:\n%s", err.Detail, tj.lastPush)
		}
		return false, err
	}
	tj.ruleStack[n-1] = nil
	tj.ruleStack = tj.ruleStack[:n-1]
	return len(tj.ruleStack) == 0, nil
}

// runNow starts tj if nothing blocks it and returns the blocker otherwise.
// With releaseWaiting the job also leaves the waiting thread-job queue.
func (m *Manager) runNow(job *Job, releaseWaiting bool) *Job {
	if releaseWaiting {
		m.impl.mu.Lock()
		defer m.impl.mu.Unlock()
	}
	m.lock()
	defer m.unlock()
	blocker := m.findBlockingJobLocked(job)
	if blocker != nil {
		return blocker
	}
	m.changeState(job, StateRunning)
	job.monitor = NewNullMonitor()
	job.stateMu.Lock()
	job.implicit.running = true
	job.stateMu.Unlock()
	if releaseWaiting {
		m.removeWaitingLocked(job)
	}
	return nil
}

func (tj *threadJob) isRunning(job *Job) bool {
	job.stateMu.Lock()
	defer job.stateMu.Unlock()
	return tj.running
}

// joinRun acquires the thread job's rule through the engine, blocking until
// no running job conflicts with it. It returns the job that now holds the
// rule for this thread.
func (m *Manager) joinRun(ctx context.Context, job *Job, monitor Monitor) (*Job, error) {
	if m.isCanceled(monitor) {
		return job, errors.ErrCanceled
	}
	blocker := m.findBlockingJob(job)
	var owner *lock.Thread
	if blocker != nil {
		owner = blocker.Thread()
	}
	defer m.locks.AboutToRelease()
	if m.locks.AboutToWait(owner) {
		return job, nil
	}
	return m.waitForRun(ctx, job, monitor, blocker)
}

// waitForRun is the blocking half of joinRun.
func (m *Manager) waitForRun(ctx context.Context, job *Job, monitor Monitor, blocker *Job) (result *Job, err error) {
	t := job.Thread()
	r := job.Rule()
	canBlock := m.locks.CanBlock()
	interrupted := false
	inGraph := false

	m.addWaiting(job)
	m.reportBlocked(monitor, blocker)
	m.dog.watch(job, t, monitor)
	defer func() {
		if result == job && job.implicit.isRunning(job) {
			m.locks.AddLockThread(t, r)
			m.locks.ResumeSuspendedLocks(ctx, t)
		} else {
			if inGraph {
				m.locks.RemoveLockWaitThread(t, r)
			}
			m.removeWaiting(job)
		}
		m.safely("ClearBlocked", job, monitor.ClearBlocked)
		m.dog.unwatch(job)
		if interrupted && err == nil {
			// hand the absorbed interrupt back to the caller
			t.Interrupt()
		}
	}()

	for {
		if m.isCanceled(monitor) {
			return job, errors.ErrCanceled
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return job, ctxErr
		}
		blocker = m.runNow(job, true)
		if blocker == nil {
			return job, nil
		}
		// A rule transferred to this thread while we waited.
		if blocker.isThreadJob() && blocker.Thread() == t {
			if pushErr := m.pushRule(blocker, r); pushErr != nil {
				m.logger.LogError("transferred rule does not contain the awaited rule", pushErr)
			}
			return blocker, nil
		}
		if !inGraph {
			inGraph = true
			// may suspend this thread's locks to break a deadlock
			if err := m.locks.AddLockWaitThread(t, r); err != nil && m.Debug().Locks {
				m.logger.WithThread(t.Name()).Debug("waiting for a rule without deadlock detection",
					"rule", rule.Name(r), "error", err.Error())
			}
		}

		blocker.stateMu.Lock()
		st := blocker.state.public()
		changed := blocker.changed
		blocker.stateMu.Unlock()
		if st == StateNone {
			continue
		}
		var (
			timer   *time.Timer
			timeout <-chan time.Time
		)
		if !canBlock || st != StateRunning {
			timer = time.NewTimer(threadJobPoll)
			timeout = timer.C
		}
		select {
		case <-changed:
		case <-timeout:
		case <-ctx.Done():
		case <-t.InterruptCh():
			interrupted = true
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// reportBlocked tells the monitor which job is in the way.
func (m *Manager) reportBlocked(monitor Monitor, blocker *Job) {
	var reason *Status
	if blocker == nil || blocker.isThreadJob() {
		reason = NewStatus(Info, "waiting for another thread to release a rule", nil)
	} else {
		reason = NewStatus(Info, "blocked by "+blocker.Name(), nil)
	}
	m.safely("SetBlocked", blocker, func() { monitor.SetBlocked(reason) })
}

// addWaiting puts a thread job in the waiting thread-job queue so yielding
// jobs can find it.
func (m *Manager) addWaiting(job *Job) {
	m.impl.mu.Lock()
	defer m.impl.mu.Unlock()
	job.stateMu.Lock()
	job.implicit.waiting = true
	job.notifyLocked()
	job.stateMu.Unlock()
	m.lock()
	job.stamp = m.nextStamp()
	m.waitingThreadJobs.enqueue(job)
	m.unlock()
}

func (m *Manager) removeWaiting(job *Job) {
	m.impl.mu.Lock()
	defer m.impl.mu.Unlock()
	m.lock()
	m.removeWaitingLocked(job)
	m.unlock()
}

// removeWaitingLocked requires implicitJobs.mu and Manager.mu.
func (m *Manager) removeWaitingLocked(job *Job) {
	job.stateMu.Lock()
	wasWaiting := job.implicit.waiting
	job.implicit.waiting = false
	job.notifyLocked()
	job.stateMu.Unlock()
	if wasWaiting {
		job.stamp = tNone
		m.waitingThreadJobs.remove(job)
	}
}
