package jobs

import (
	"context"

	"github.com/Iron-Ham/rulesched/internal/errors"
	"github.com/Iron-Ham/rulesched/internal/lock"
)

// yieldRule lets a job blocked by job run, waits for it to start, and then
// takes job's rule back.
func (m *Manager) yieldRule(ctx context.Context, job *Job, monitor Monitor) (*Job, error) {
	t, err := lock.ThreadFrom(ctx)
	if err != nil {
		return nil, err
	}
	monitor = m.monitorFor(monitor)

	m.impl.mu.Lock()
	m.lock()
	if st := job.internalState(); st.public() != StateRunning {
		m.unlock()
		m.impl.mu.Unlock()
		return nil, errors.IllegalState("YieldRule", "cannot yield job %s that is %s", job, st)
	}
	if job.thread != t {
		m.unlock()
		m.impl.mu.Unlock()
		return nil, errors.IllegalState("YieldRule", "cannot yield job %s from outside its thread", job)
	}
	like := m.impl.threadJobs[t]
	unblocked := job.prev
	if unblocked == nil {
		if like != nil {
			unblocked = like.prev
			if unblocked == nil {
				unblocked = m.findBlockedJobLocked(like)
			}
		} else {
			unblocked = m.findBlockedJobLocked(job)
		}
	}
	if unblocked == nil {
		m.unlock()
		m.impl.mu.Unlock()
		return nil, nil
	}
	if m.Debug().Yielding {
		m.logger.Debug("yielding", "job", job.String(), "to", unblocked.String())
	}
	m.changeState(job, stateYielding)
	if like != nil && like != job {
		m.changeState(like, stateYielding)
	}
	if like != nil {
		job.thread = nil
		if like.rule != nil {
			m.locks.RemoveLockThread(t, like.rule)
		}
	}
	if job.rule != nil && !job.isThreadJob() {
		m.locks.RemoveLockThread(t, job.rule)
	}
	m.unlock()
	m.impl.mu.Unlock()

	m.waitForUnblocked(ctx, t, unblocked)

	// The rule must come back even if the caller gave up on its monitor.
	resumeCtx := context.WithoutCancel(ctx)
	resumeMonitor := nonCanceling{monitor}
	if like == nil {
		proxy := m.newThreadJobShell()
		proxy.rule = job.Rule()
		proxy.thread = t
		proxy.implicit.resumingAfterYield = true
		proxy.implicit.realJob = job
		proxy.SetSystem(job.IsSystem())
		if _, err := m.joinRun(resumeCtx, proxy, resumeMonitor); err != nil {
			m.logger.Error("yielding job could not take its rule back", "job", job.String(), "error", err)
		}
		m.lock()
		m.changeState(proxy, StateNone)
		m.changeState(job, StateRunning)
		job.thread = t
		m.unlock()
	} else {
		if _, err := m.joinRun(resumeCtx, like, resumeMonitor); err != nil {
			m.logger.Error("yielding job could not take its rule back", "job", job.String(), "error", err)
		}
		m.lock()
		m.changeState(job, StateRunning)
		job.thread = t
		m.unlock()
	}
	if m.Debug().Yielding {
		m.logger.Debug("resumed after yield", "job", job.String())
	}

	if unblocked.isThreadJob() && unblocked.implicit.resumingAfterYield {
		return unblocked.implicit.realJob, nil
	}
	return unblocked, nil
}

// waitForUnblocked waits until unblocked leaves WAITING, or a waiting
// thread job stops waiting. An interrupt received meanwhile is handed back
// to the thread.
func (m *Manager) waitForUnblocked(ctx context.Context, t *lock.Thread, unblocked *Job) {
	interrupted := false
	defer func() {
		if interrupted {
			t.Interrupt()
		}
	}()
	for {
		unblocked.stateMu.Lock()
		var waiting bool
		if unblocked.isThreadJob() {
			waiting = unblocked.implicit.waiting
		} else {
			waiting = unblocked.state.public() == StateWaiting
		}
		changed := unblocked.changed
		unblocked.stateMu.Unlock()
		if !waiting {
			return
		}
		if m.Debug().YieldingDetailed {
			m.logger.Debug("waiting for unblocked job to start", "job", unblocked.String())
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return
		case <-t.InterruptCh():
			interrupted = true
		}
	}
}
