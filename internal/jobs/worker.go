package jobs

import (
	"fmt"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/rulesched/internal/errors"
	"github.com/Iron-Ham/rulesched/internal/lock"
)

// worker is one pool goroutine. It runs jobs until the pool retires it.
type worker struct {
	pool    *workerPool
	thread  *lock.Thread
	retired bool // guarded by pool.mu
}

func (w *worker) run() {
	defer w.pool.workerExited(w)
	for {
		job := w.pool.startJob(w)
		if job == nil {
			return
		}
		result := w.execute(job)
		w.pool.endJob(w, job, result)
		// an interrupt aimed at the finished job must not leak into the next
		w.thread.Interrupted()
	}
}

// execute runs the job's work. A panic or a nil result becomes an error
// status.
func (w *worker) execute(job *Job) (result *Status) {
	m := w.pool.manager
	m.lock()
	ctx, monitor := job.runCtx, job.monitor
	m.unlock()

	var pc panics.Catcher
	pc.Try(func() { result = job.work.Run(ctx, monitor) })
	if r := pc.Recovered(); r != nil {
		m.logger.WithJob(job.name).Error("job panicked",
			"thread", w.thread.Name(),
			"panic", fmt.Sprint(r.Value),
			"stack", string(r.Stack))
		return &Status{
			Severity: Error,
			Message:  fmt.Sprintf("an internal error occurred during %q: %v", job.name, r.Value),
			Err:      r.AsError(),
		}
	}
	if result == nil {
		return ErrorStatus(errors.IllegalState("Run", "job %s returned a nil status", job))
	}
	return result
}
