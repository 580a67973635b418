package jobs

import (
	"context"
	"time"

	"github.com/Iron-Ham/rulesched/internal/errors"
	"github.com/Iron-Ham/rulesched/internal/lock"
	"github.com/Iron-Ham/rulesched/internal/rule"
)

// decorateWait is the per-running-job delay a rule-less decorate job gets.
const decorateWait = 100

func (m *Manager) schedule(ctx context.Context, job *Job, delay time.Duration, reschedule bool) error {
	if !m.isActive() {
		return errors.Wrapf(errors.ErrShutdown, "schedule %s", job)
	}
	if delay < 0 {
		return errors.IllegalArgument("Schedule", "negative delay %v for %s", delay, job)
	}
	var caller *lock.Thread
	if t, err := lock.ThreadFrom(ctx); err == nil {
		caller = t
	}
	m.lock()
	if !reschedule {
		job.aboutToRunCanceled = false
	}
	m.scheduleLocked(job, millis(delay), reschedule, caller)
	m.unlock()
	m.listeners.sendEvents(job)
	return nil
}

// scheduleLocked moves a NONE job into the sleeping or waiting queue. A
// running job records the delay and is rescheduled when it ends. caller is
// the scheduling thread, used for group seed accounting. It reports
// whether the job was queued.
func (m *Manager) scheduleLocked(job *Job, delay int64, reschedule bool, caller *lock.Thread) bool {
	st := job.internalState()
	if st.public() == StateRunning {
		job.rescheduleDelay = delay
		return false
	}
	if st != StateNone {
		return false
	}
	m.trace("scheduling job", "job", job.String(), "delay_ms", delay)
	m.changeState(job, stateAboutToSchedule)
	if g := job.group; g != nil && !reschedule {
		// A job scheduled from inside its own group is not a seed.
		var cur *Job
		if caller != nil {
			cur = m.currentJobLocked(caller)
		}
		if cur == nil || cur.group != g {
			g.seedScheduled()
		}
	}
	m.listeners.queueScheduled(job, delay, reschedule)
	m.doScheduleLocked(job, delay)
	m.wakePool = true
	return true
}

// doScheduleLocked finishes a schedule or wake-up.
func (m *Manager) doScheduleLocked(job *Job, delay int64) {
	st := job.internalState()
	if st != stateAboutToSchedule && st != StateSleeping {
		return
	}
	if job.aboutToRunCanceled {
		job.aboutToRunCanceled = false
		job.setResult(CancelStatus)
		m.changeState(job, StateNone)
		m.listeners.queueDone(job, CancelStatus, false)
		return
	}
	if job.priority == Decorate && job.rule == nil {
		if minDelay := int64(len(m.running)) * decorateWait; delay < minDelay {
			delay = minDelay
		}
	}
	if delay > 0 {
		job.startTime = m.now() + delay
		job.stamp = tNone
		m.changeState(job, StateSleeping)
		return
	}
	job.startTime = m.now() + job.priority.delay()
	job.stamp = m.nextStamp()
	m.changeState(job, StateWaiting)
}

func (m *Manager) cancel(job *Job) bool {
	var (
		monitor   Monitor
		cancelRun context.CancelFunc
		canceling bool
	)
	m.lock()
	job.aboutToRunCanceled = true
	switch job.internalState() {
	case StateNone:
		m.unlock()
		return true
	case stateAboutToRun:
		m.unlock()
		return false
	case StateRunning:
		if !job.runCanceled {
			job.runCanceled = true
			canceling = true
			monitor = job.monitor
			cancelRun = job.cancelRun
		}
		m.unlock()
		if canceling {
			m.trace("canceling running job", "job", job.String())
			if monitor != nil && !m.isCanceled(monitor) {
				m.safely("SetCanceled", job, func() { monitor.SetCanceled(true) })
			}
			if cancelRun != nil {
				cancelRun()
			}
			if c, ok := job.work.(Canceler); ok {
				m.safely("Canceling", job, c.Canceling)
			}
		}
		return false
	default:
		job.setResult(CancelStatus)
		m.changeState(job, StateNone)
		m.listeners.queueDone(job, CancelStatus, false)
	}
	m.unlock()
	m.listeners.sendEvents(job)
	return true
}

func (m *Manager) sleep(job *Job) bool {
	m.lock()
	switch job.internalState() {
	case StateRunning:
		m.unlock()
		return false
	case stateAboutToRun:
		job.aboutToRunCanceled = true
		m.unlock()
		return true
	case StateSleeping:
		job.startTime = tInfinite
		m.changeState(job, StateSleeping)
		m.unlock()
		return true
	case StateNone:
		m.unlock()
		return true
	case StateWaiting:
		job.startTime = tInfinite
		job.stamp = tNone
		m.changeState(job, StateSleeping)
		m.listeners.queueSleeping(job)
	default:
		// blocked, yielding or about to schedule
		m.unlock()
		return false
	}
	m.unlock()
	m.listeners.sendEvents(job)
	return true
}

func (m *Manager) wakeUp(job *Job, delay time.Duration) error {
	if delay < 0 {
		return errors.IllegalArgument("WakeUp", "negative delay %v for %s", delay, job)
	}
	m.lock()
	if job.internalState() != StateSleeping {
		m.unlock()
		return nil
	}
	d := millis(delay)
	m.doScheduleLocked(job, d)
	if d == 0 {
		m.listeners.queueAwake(job)
	}
	m.wakePool = true
	m.unlock()
	m.listeners.sendEvents(job)
	return nil
}

func (m *Manager) setPriority(job *Job, p Priority) error {
	if err := checkPriority("SetPriority", p); err != nil {
		return err
	}
	m.lock()
	defer m.unlock()
	old := job.priority
	if old == p {
		return nil
	}
	job.priority = p
	if job.internalState() == StateWaiting {
		job.startTime += p.delay() - old.delay()
		m.waiting.resort(job)
	}
	return nil
}

func (m *Manager) setRule(job *Job, r rule.Rule) error {
	if err := rule.Validate(r); err != nil {
		return err
	}
	m.lock()
	defer m.unlock()
	if job.internalState() != StateNone {
		return errors.IllegalState("SetRule", "job %s is %s", job, job.internalState())
	}
	job.rule = r
	return nil
}

// findBlockingJobLocked returns a running or blocked job whose rule
// conflicts with waiting, or nil.
func (m *Manager) findBlockingJobLocked(waiting *Job) *Job {
	if waiting.rule == nil {
		return nil
	}
	for j := range m.running {
		if j == waiting {
			continue
		}
		if waiting.conflictsWith(j) {
			return j
		}
	}
	// A job blocked behind a running job also blocks later arrivals.
	for j := range m.running {
		for b := j.prev; b != nil; b = b.prev {
			if b != waiting && waiting.conflictsWith(b) {
				return b
			}
		}
	}
	return nil
}

func (m *Manager) findBlockingJob(waiting *Job) *Job {
	m.lock()
	defer m.unlock()
	return m.findBlockingJobLocked(waiting)
}

// findBlockedJobLocked returns a waiting thread job blocked by job.
func (m *Manager) findBlockedJobLocked(job *Job) *Job {
	var found *Job
	m.waitingThreadJobs.each(func(tj *Job) bool {
		if job.conflictsWith(tj) {
			found = tj
			return false
		}
		return true
	})
	return found
}

func (m *Manager) isBlocking(job *Job) bool {
	m.lock()
	defer m.unlock()
	if job.internalState() != StateRunning || job.rule == nil {
		return false
	}
	for b := job.prev; b != nil; b = b.prev {
		if !b.IsSystem() {
			return true
		}
		if b.isThreadJob() && b.implicit.shouldInterrupt() {
			return true
		}
	}
	blocking := false
	m.waitingThreadJobs.each(func(tj *Job) bool {
		blocking = job.conflictsWith(tj) && tj.implicit.shouldInterrupt()
		return !blocking
	})
	return blocking
}

// sleepHint returns how long a worker may sleep before a job is due.
func (m *Manager) sleepHint() time.Duration {
	m.lock()
	defer m.unlock()
	if m.suspended {
		return time.Duration(tInfinite)
	}
	if !m.waiting.isEmpty() {
		return 0
	}
	next := m.sleeping.peek()
	if next == nil {
		return time.Duration(tInfinite)
	}
	if next.startTime == tInfinite {
		return time.Duration(tInfinite)
	}
	return time.Duration(next.startTime-m.now()) * time.Millisecond
}

// nextJob picks the next job a worker may run and marks it about to run.
func (m *Manager) nextJob() *Job {
	m.lock()
	defer m.unlock()
	if m.suspended || !m.isActive() {
		return nil
	}
	now := m.now()
	for j := m.sleeping.peek(); j != nil && j.startTime < now; j = m.sleeping.peek() {
		j.startTime = now + j.priority.delay()
		j.stamp = m.nextStamp()
		m.changeState(j, StateWaiting)
	}
	job := m.waiting.peek()
	for job != nil {
		after := job.prev
		if after == m.waiting.head {
			after = nil
		}
		if blocker := m.findBlockingJobLocked(job); blocker != nil {
			m.changeState(job, stateBlocked)
			blocker.addLast(job)
			m.trace("job blocked", "job", job.String(), "blocker", blocker.String())
		} else if job.group == nil || job.group.canRunMore() {
			break
		}
		job = after
	}
	if job != nil {
		m.changeState(job, stateAboutToRun)
		m.trace("starting job", "job", job.String())
	}
	return job
}

// startJob hands the next runnable job to w and returns it, or nil when
// nothing can run.
func (m *Manager) startJob(w *worker) *Job {
	for {
		job := m.nextJob()
		if job == nil {
			return nil
		}
		run := m.shouldRun(job)
		if run {
			m.listeners.queueAboutToRun(job)
			m.listeners.sendEvents(job)
		}
		monitor := m.createMonitor(job)

		started, ended := false, false
		m.lock()
		if !m.isActive() {
			run = false
		}
		if g := job.group; g != nil && g.State() == GroupCanceling {
			run = false
		}
		job.stateMu.Lock()
		if job.state == stateAboutToRun {
			if run && !job.aboutToRunCanceled {
				ctx, cancel := context.WithCancel(lock.WithThread(m.baseCtx, w.thread))
				job.monitor = monitor
				job.thread = w.thread
				job.runCtx, job.cancelRun = ctx, cancel
				job.state = StateRunning
				job.notifyLocked()
				started = true
			} else {
				ended = true
			}
		}
		job.stateMu.Unlock()
		if started {
			m.listeners.queueRunning(job)
		}
		m.unlock()

		if started {
			m.listeners.sendEvents(job)
			return job
		}
		if ended {
			m.endJob(job, CancelStatus, true)
		}
	}
}

// endJob records the result of a run and returns the job to NONE, then
// reschedules it if asked to.
func (m *Manager) endJob(job *Job, result *Status, notify bool) {
	if result.isAsync() {
		return
	}
	if result == nil {
		result = ErrorStatus(errors.IllegalState("Run", "job %s returned a nil status", job))
	}
	m.lock()
	pending := job.rescheduleDelay != tNone
	m.unlock()
	wantsReschedule := pending && m.shouldSchedule(job)

	m.lock()
	if job.internalState() == StateNone {
		m.unlock()
		return
	}
	job.setResult(result)
	job.monitor = nil
	job.thread = nil
	cancelRun := job.cancelRun
	job.runCtx, job.cancelRun = nil, nil
	delay := job.rescheduleDelay
	job.rescheduleDelay = tNone
	m.changeState(job, StateNone)
	reschedule := m.isActive() && delay != tNone && wantsReschedule
	if reschedule {
		m.scheduleLocked(job, delay, true, nil)
	}
	if notify {
		m.listeners.queueDone(job, result, reschedule)
	}
	// Jobs this one blocked were released to WAITING and can no longer run.
	var dropped []*Job
	if !m.isActive() {
		dropped = m.dropQueuedLocked()
	}
	m.unlock()

	if cancelRun != nil {
		cancelRun()
	}
	m.listeners.sendEvents(job)
	for _, j := range dropped {
		m.listeners.sendEvents(j)
	}
	m.trace("job ended", "job", job.String(), "result", result.String())
	if job.group == nil && result.Matches(Error|Warning) {
		m.logger.WithJob(job.name).Error("job finished with problems", "result", result.String())
	}
}

// Find returns the jobs in family that are waiting, sleeping or running.
// A nil family matches every job. Thread jobs are never returned.
func (m *Manager) Find(family any) []*Job {
	return m.selectJobs(family, StateWaiting|StateSleeping|StateRunning)
}

// selectJobs snapshots candidate jobs under the lock and filters them by
// family outside it.
func (m *Manager) selectJobs(family any, mask State) []*Job {
	var candidates []*Job
	m.lock()
	if mask&StateRunning != 0 {
		for j := range m.running {
			candidates = append(candidates, j)
		}
	}
	if mask&StateWaiting != 0 {
		for j := range m.yielding {
			candidates = append(candidates, j)
		}
		m.waiting.each(func(j *Job) bool {
			candidates = append(candidates, j)
			return true
		})
		for j := range m.running {
			for b := j.prev; b != nil; b = b.prev {
				candidates = append(candidates, b)
			}
		}
	}
	if mask&StateSleeping != 0 {
		m.sleeping.each(func(j *Job) bool {
			candidates = append(candidates, j)
			return true
		})
	}
	m.unlock()

	var members []*Job
	for _, j := range candidates {
		if j.isThreadJob() {
			continue
		}
		match := false
		m.safely("BelongsTo", j, func() { match = j.belongsTo(family) })
		if match {
			members = append(members, j)
		}
	}
	return members
}

// Cancel cancels every job in family.
func (m *Manager) Cancel(family any) {
	for _, j := range m.Find(family) {
		m.cancel(j)
	}
}

// Sleep puts every waiting or sleeping job in family to sleep.
func (m *Manager) Sleep(family any) {
	for _, j := range m.selectJobs(family, StateWaiting|StateSleeping) {
		m.sleep(j)
	}
}

// WakeUp wakes every sleeping job in family.
func (m *Manager) WakeUp(family any) {
	for _, j := range m.selectJobs(family, StateSleeping) {
		if err := m.wakeUp(j, 0); err != nil {
			m.logger.WithJob(j.name).LogError("failed to wake job", err)
		}
	}
}
