package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/rulesched/internal/errors"
	"github.com/Iron-Ham/rulesched/internal/lock"
)

// join waits for job to reach NONE. Waits are sliced so the monitor, the
// context and the timeout are re-checked at least every JoinPollInterval.
func (m *Manager) join(ctx context.Context, job *Job, timeout time.Duration, monitor Monitor) (bool, error) {
	if timeout < 0 {
		return false, errors.IllegalArgument("Join", "negative timeout %v", timeout)
	}
	t, _ := lock.ThreadFrom(ctx)
	monitor = m.monitorFor(monitor)

	m.lock()
	if t != nil {
		if cur := m.currentJobLocked(t); cur != nil && timeout == 0 {
			if g := cur.group; g != nil && g.maxThreads != 0 && g == job.group {
				m.unlock()
				return false, errors.IllegalState("Join",
					"job %s cannot join %s of its own throttled %s without a timeout", cur, job, g)
			}
		}
	}
	st := job.internalState()
	if st == StateNone {
		m.unlock()
		return true, nil
	}
	if m.suspended && st.public() != StateRunning {
		m.unlock()
		return true, nil
	}
	if st == StateRunning && t != nil && job.thread == t {
		m.unlock()
		return false, errors.IllegalState("Join", "job %s attempted to join itself", job)
	}
	done := make(chan struct{}, 1)
	l := &ListenerFuncs{DoneFunc: func(e *ChangeEvent) {
		if e.Reschedule {
			return
		}
		select {
		case done <- struct{}{}:
		default:
		}
	}}
	job.AddListener(l)
	m.unlock()
	defer job.RemoveListener(l)

	var interrupt <-chan struct{}
	if t != nil {
		interrupt = t.InterruptCh()
	}
	canBlock := m.locks.CanBlock()
	defer m.locks.AboutToRelease()
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if job.State() == StateNone {
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
		m.locks.AboutToWait(job.Thread())
		timer := time.NewTimer(slice)
		select {
		case <-done:
			timer.Stop()
			return true, nil
		case <-timer.C:
		case <-ctx.Done():
		case <-interrupt:
			if canBlock {
				timer.Stop()
				return false, errors.ErrInterrupted
			}
		}
		timer.Stop()
	}
}

// Join waits until no job of family is waiting, sleeping or running. Jobs
// of the family scheduled while joining are waited for too. While the
// engine is suspended only running jobs count.
func (m *Manager) Join(ctx context.Context, family any, monitor Monitor) error {
	monitor = m.monitorFor(monitor)
	var interrupt <-chan struct{}
	if t, err := lock.ThreadFrom(ctx); err == nil {
		interrupt = t.InterruptCh()
	}

	var (
		mu      sync.Mutex
		members = make(map[*Job]struct{})
		changed = make(chan struct{}, 1)
	)
	signal := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	l := &ListenerFuncs{
		DoneFunc: func(e *ChangeEvent) {
			if e.Reschedule {
				return
			}
			mu.Lock()
			delete(members, e.Job)
			mu.Unlock()
			signal()
		},
		RunningFunc: func(e *ChangeEvent) {
			if e.Job.belongsTo(family) {
				mu.Lock()
				members[e.Job] = struct{}{}
				mu.Unlock()
			}
		},
		ScheduledFunc: func(e *ChangeEvent) {
			if e.Reschedule || m.IsSuspended() {
				return
			}
			if e.Job.belongsTo(family) {
				mu.Lock()
				members[e.Job] = struct{}{}
				mu.Unlock()
			}
		},
	}
	m.AddListener(l)
	defer m.RemoveListener(l)

	mask := StateWaiting | StateSleeping | StateRunning
	if m.IsSuspended() {
		mask = StateRunning
	}
	for _, j := range m.selectJobs(family, mask) {
		mu.Lock()
		members[j] = struct{}{}
		mu.Unlock()
	}
	// Drop jobs that finished before the listener could see them.
	mu.Lock()
	for j := range members {
		if j.State() == StateNone {
			delete(members, j)
		}
	}
	total := len(members)
	mu.Unlock()

	m.safely("BeginTask", nil, func() { monitor.BeginTask("joining jobs", total) })
	defer m.safely("Done", nil, monitor.Done)
	defer m.safely("ClearBlocked", nil, monitor.ClearBlocked)
	defer m.locks.AboutToRelease()

	var lastBlocking *Job
	for {
		mu.Lock()
		remaining := len(members)
		var first *Job
		for j := range members {
			if first == nil || !j.IsSystem() {
				first = j
				if !j.IsSystem() {
					break
				}
			}
		}
		mu.Unlock()
		if remaining == 0 {
			return nil
		}
		if first != lastBlocking {
			lastBlocking = first
			m.reportBlocked(monitor, first)
		}
		m.safely("Worked", nil, func() { monitor.Worked(0) })
		if m.isCanceled(monitor) {
			return errors.ErrCanceled
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		m.locks.AboutToWait(nil)
		timer := time.NewTimer(m.opts.JoinPollInterval)
		select {
		case <-changed:
		case <-timer.C:
		case <-ctx.Done():
		case <-interrupt:
			timer.Stop()
			return errors.ErrInterrupted
		}
		timer.Stop()
	}
}
