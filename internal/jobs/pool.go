package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/rulesched/internal/lock"
)

// throttlePause is how long a worker waits when queued jobs exist but none
// may start, for example because their groups are at their thread limit.
const throttlePause = 50 * time.Millisecond

// workerPool runs jobs on a bounded set of worker goroutines. Workers start
// lazily and exit after idling for IdleTimeout while more than MinWorkers
// remain. mu guards only the counters below and is never held while
// taking another lock.
type workerPool struct {
	manager     *Manager
	maxWorkers  int
	minWorkers  int
	idleTimeout time.Duration

	mu         sync.Mutex
	numWorkers int
	busy       int
	sleeping   int
	started    int
	closed     bool

	wake    chan struct{}
	done    chan struct{}
	workers conc.WaitGroup
}

func newWorkerPool(m *Manager) *workerPool {
	return &workerPool{
		manager:     m,
		maxWorkers:  m.opts.MaxWorkers,
		minWorkers:  m.opts.MinWorkers,
		idleTimeout: m.opts.IdleTimeout,
		wake:        make(chan struct{}, m.opts.MaxWorkers),
		done:        make(chan struct{}),
	}
}

// jobQueued wakes a sleeping worker, or starts one when every worker is
// busy.
func (p *workerPool) jobQueued() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.sleeping == 0 && p.busy >= p.numWorkers && p.numWorkers < p.maxWorkers {
		p.startWorkerLocked()
		return
	}
	// A token left here wakes a worker that is just going to sleep.
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *workerPool) startWorkerLocked() {
	p.numWorkers++
	p.started++
	w := &worker{
		pool:   p,
		thread: lock.NewWorkerThread(fmt.Sprintf("worker-%d", p.started)),
	}
	p.manager.trace("starting worker", "worker", w.thread.Name(), "workers", p.numWorkers)
	p.workers.Go(w.run)
}

// endWorkerLocked retires w. It must be counted out under the same lock
// that decided it may go.
func (p *workerPool) endWorkerLocked(w *worker) {
	if w.retired {
		return
	}
	w.retired = true
	p.numWorkers--
	p.manager.trace("worker exiting", "worker", w.thread.Name(), "workers", p.numWorkers)
}

func (p *workerPool) workerExited(w *worker) {
	p.mu.Lock()
	p.endWorkerLocked(w)
	p.mu.Unlock()
}

// sleep parks an idle worker for up to d.
func (p *workerPool) sleep(d time.Duration) {
	p.mu.Lock()
	p.sleeping++
	p.busy--
	p.mu.Unlock()

	timer := time.NewTimer(d)
	select {
	case <-p.wake:
	case <-timer.C:
	case <-p.done:
	}
	timer.Stop()

	p.mu.Lock()
	p.sleeping--
	p.busy++
	p.mu.Unlock()
}

// startJob blocks until w has a job to run and returns it, or returns nil
// when w should exit.
func (p *workerPool) startJob(w *worker) *Job {
	m := p.manager
	p.mu.Lock()
	if !m.isActive() {
		p.endWorkerLocked(w)
		p.mu.Unlock()
		return nil
	}
	p.busy++
	p.mu.Unlock()

	var job *Job
	defer func() {
		if job == nil {
			p.mu.Lock()
			p.busy--
			p.mu.Unlock()
		}
	}()

	job = m.startJob(w)
	idleStart := time.Now()
	for m.isActive() && job == nil {
		hint := m.sleepHint()
		if hint <= 0 {
			hint = throttlePause
		}
		p.sleep(min(hint, p.idleTimeout))
		job = m.startJob(w)
		if job != nil {
			break
		}
		p.mu.Lock()
		if time.Since(idleStart) >= p.idleTimeout && p.numWorkers > p.minWorkers {
			p.endWorkerLocked(w)
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
	}
	if job == nil {
		return nil
	}
	if r := job.Rule(); r != nil && !job.isThreadJob() {
		m.locks.AddLockThread(w.thread, r)
	}
	// another job may be runnable too
	if m.sleepHint() <= 0 {
		p.jobQueued()
	}
	return job
}

// endJob records the end of a run on w.
func (p *workerPool) endJob(w *worker, job *Job, result *Status) {
	p.mu.Lock()
	p.busy--
	p.mu.Unlock()
	m := p.manager
	if r := job.Rule(); r != nil && !job.isThreadJob() {
		m.locks.RemoveLockCompletely(w.thread, r)
	}
	m.endJob(job, result, true)
	m.impl.endJob(w.thread, job)
}

// shutdown wakes idle workers so they exit. Busy workers exit when their
// job returns.
func (p *workerPool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
}

func (p *workerPool) wait() {
	p.workers.Wait()
}

// stats returns the worker counters.
func (p *workerPool) stats() (workers, busy, sleeping int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numWorkers, p.busy, p.sleeping
}

// PoolStats reports worker counts.
type PoolStats struct {
	Workers  int
	Busy     int
	Sleeping int
}

// PoolStats returns the current worker counts.
func (m *Manager) PoolStats() PoolStats {
	w, b, s := m.pool.stats()
	return PoolStats{Workers: w, Busy: b, Sleeping: s}
}
