package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/rulesched/internal/config"
	"github.com/Iron-Ham/rulesched/internal/lock"
	"github.com/Iron-Ham/rulesched/internal/logging"
	"github.com/Iron-Ham/rulesched/internal/rule"
)

// DebugOptions toggles engine tracing. All traces go to the debug level.
type DebugOptions struct {
	Jobs             bool
	BeginEnd         bool
	Yielding         bool
	YieldingDetailed bool
	ErrorOnDeadlock  bool
	Locks            bool
	Shutdown         bool
}

// DebugFromConfig converts the config section.
func DebugFromConfig(c config.DebugConfig) DebugOptions {
	return DebugOptions{
		Jobs:             c.Jobs,
		BeginEnd:         c.BeginEnd,
		Yielding:         c.Yielding,
		YieldingDetailed: c.YieldingDetailed,
		ErrorOnDeadlock:  c.ErrorOnDeadlock,
		Locks:            c.Locks,
		Shutdown:         c.Shutdown,
	}
}

// Options configures a Manager.
type Options struct {
	MaxWorkers           int
	MinWorkers           int
	IdleTimeout          time.Duration
	WatchdogInterval     time.Duration
	JoinPollInterval     time.Duration
	ShutdownWaitAttempts int
	ShutdownWait         time.Duration
	Debug                DebugOptions
	Logger               *logging.Logger
}

// DefaultOptions returns the options of the default configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default(), nil)
}

// OptionsFromConfig builds options from a loaded configuration. A nil
// logger disables logging.
func OptionsFromConfig(cfg *config.Config, logger *logging.Logger) Options {
	return Options{
		MaxWorkers:           cfg.Workers.Max,
		MinWorkers:           cfg.Workers.Min,
		IdleTimeout:          cfg.Workers.IdleTimeout(),
		WatchdogInterval:     cfg.Scheduler.WatchdogInterval(),
		JoinPollInterval:     cfg.Scheduler.JoinPollInterval(),
		ShutdownWaitAttempts: cfg.Scheduler.ShutdownWaitAttempts,
		ShutdownWait:         cfg.Scheduler.ShutdownWait(),
		Debug:                DebugFromConfig(cfg.Debug),
		Logger:               logger,
	}
}

// Manager schedules jobs on a worker pool and arbitrates scheduling rules.
//
// Lock order: workerPool.mu, implicitJobs.mu, Manager.mu, then a job's
// stateMu or a group's mu. User code never runs under any of them.
type Manager struct {
	opts   Options
	logger *logging.Logger
	locks  *lock.Manager
	pool   *workerPool
	impl   *implicitJobs
	dog    *watchdog

	listeners *listenerList
	updater   *groupUpdater
	debug     atomic.Pointer[DebugOptions]
	provider  atomic.Pointer[providerBox]

	origin  time.Time
	stamps  atomic.Int64
	active  atomic.Bool
	baseCtx context.Context
	stop    context.CancelFunc

	mu                sync.Mutex
	waiting           *jobQueue
	sleeping          *jobQueue
	waitingThreadJobs *jobQueue
	running           map[*Job]struct{}
	yielding          map[*Job]struct{}
	suspended         bool
	lastNow           int64
	wakePool          bool
}

type providerBox struct{ p ProgressProvider }

// NewManager creates a started manager.
func NewManager(opts Options) *Manager {
	def := config.Default()
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = def.Workers.Max
	}
	if opts.MinWorkers < 0 {
		opts.MinWorkers = 0
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.Workers.IdleTimeout()
	}
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = def.Scheduler.WatchdogInterval()
	}
	if opts.JoinPollInterval <= 0 {
		opts.JoinPollInterval = def.Scheduler.JoinPollInterval()
	}
	if opts.ShutdownWaitAttempts <= 0 {
		opts.ShutdownWaitAttempts = def.Scheduler.ShutdownWaitAttempts
	}
	if opts.ShutdownWait <= 0 {
		opts.ShutdownWait = def.Scheduler.ShutdownWait()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("jobs")

	m := &Manager{
		opts:              opts,
		logger:            logger,
		locks:             lock.NewManager(logger),
		listeners:         newListenerList(logger),
		origin:            time.Now(),
		waiting:           newJobQueue(true, true),
		sleeping:          newJobQueue(true, true),
		waitingThreadJobs: newJobQueue(false, false),
		running:           make(map[*Job]struct{}),
		yielding:          make(map[*Job]struct{}),
	}
	m.baseCtx, m.stop = context.WithCancel(context.Background())
	m.impl = newImplicitJobs(m)
	m.pool = newWorkerPool(m)
	m.dog = newWatchdog(opts.WatchdogInterval, m.isCanceled)
	m.updater = &groupUpdater{manager: m}
	m.listeners.add(m.updater)
	m.SetDebug(opts.Debug)
	m.active.Store(true)
	m.dog.start()
	return m
}

// lock takes Manager.mu.
func (m *Manager) lock() { m.mu.Lock() }

// unlock releases Manager.mu and then wakes the pool if a state change
// asked for it.
func (m *Manager) unlock() {
	wake := m.wakePool
	m.wakePool = false
	m.mu.Unlock()
	if wake {
		m.pool.jobQueued()
	}
}

// SetDebug swaps the debug flags.
func (m *Manager) SetDebug(d DebugOptions) {
	m.debug.Store(&d)
	m.locks.SetDebug(d.Locks, d.ErrorOnDeadlock)
}

// Debug returns the current debug flags.
func (m *Manager) Debug() DebugOptions { return *m.debug.Load() }

func (m *Manager) trace(msg string, args ...any) {
	if m.Debug().Jobs {
		m.logger.Debug(msg, args...)
	}
}

// Logger returns the engine logger.
func (m *Manager) Logger() *logging.Logger { return m.logger }

// LockManager returns the lock manager shared by the engine's locks.
func (m *Manager) LockManager() *lock.Manager { return m.locks }

// NewLock creates a reentrant lock that takes part in deadlock detection.
func (m *Manager) NewLock() *lock.OrderedLock { return m.locks.NewLock() }

// SetLockListener installs the lock listener.
func (m *Manager) SetLockListener(l lock.Listener) { m.locks.SetListener(l) }

// SetProgressProvider installs the monitor factory. Nil restores the
// default null monitors.
func (m *Manager) SetProgressProvider(p ProgressProvider) {
	m.provider.Store(&providerBox{p: p})
}

// AddListener registers a global job listener.
func (m *Manager) AddListener(l Listener) { m.listeners.add(l) }

// RemoveListener removes a global job listener.
func (m *Manager) RemoveListener(l Listener) { m.listeners.remove(l) }

// now returns milliseconds since the manager started. It never goes
// backwards. Callers hold Manager.mu.
func (m *Manager) now() int64 {
	t := time.Since(m.origin).Milliseconds()
	if t < m.lastNow {
		return m.lastNow
	}
	m.lastNow = t
	return t
}

func (m *Manager) nextStamp() int64 { return m.stamps.Add(1) }

func (m *Manager) isActive() bool { return m.active.Load() }

// safely runs user code, logging a panic. It reports whether fn returned.
func (m *Manager) safely(what string, job *Job, fn func()) bool {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		name := ""
		if job != nil {
			name = job.String()
		}
		m.logger.LogError("user code panicked", r.AsError(),
			"hook", what,
			"job", name)
		return false
	}
	return true
}

func (m *Manager) shouldSchedule(job *Job) bool {
	v, ok := job.work.(ScheduleVeto)
	if !ok {
		return true
	}
	should := false
	m.safely("ShouldSchedule", job, func() { should = v.ShouldSchedule() })
	return should
}

func (m *Manager) shouldRun(job *Job) bool {
	v, ok := job.work.(RunVeto)
	if !ok {
		return true
	}
	should := false
	m.safely("ShouldRun", job, func() { should = v.ShouldRun() })
	return should
}

func (m *Manager) isCanceled(monitor Monitor) bool {
	if monitor == nil {
		return false
	}
	canceled := false
	m.safely("IsCanceled", nil, func() { canceled = monitor.IsCanceled() })
	return canceled
}

// createMonitor asks the provider for a job monitor.
func (m *Manager) createMonitor(job *Job) Monitor {
	var mon Monitor
	if box := m.provider.Load(); box != nil && box.p != nil {
		m.safely("CreateMonitor", job, func() { mon = box.p.CreateMonitor(job) })
	}
	if mon == nil {
		mon = NewNullMonitor()
	}
	return mon
}

// monitorFor wraps a monitor passed to a blocking call.
func (m *Manager) monitorFor(monitor Monitor) Monitor {
	if box := m.provider.Load(); box != nil && box.p != nil {
		var wrapped Monitor
		m.safely("MonitorFor", nil, func() { wrapped = box.p.MonitorFor(monitor) })
		if wrapped != nil {
			return wrapped
		}
		m.logger.Error("progress provider returned a nil monitor")
	}
	if monitor == nil {
		return NewNullMonitor()
	}
	return monitor
}

// changeState moves job to newState, keeping the queues, the running and
// yielding sets, and group counters consistent. Callers hold Manager.mu.
func (m *Manager) changeState(job *Job, newState State) {
	var released []*Job
	job.stateMu.Lock()
	job.notifyLocked()
	old := job.state
	switch old {
	case StateNone, stateAboutToSchedule:
	case stateYielding:
		delete(m.yielding, job)
	case stateBlocked:
		job.unlink()
	case StateWaiting:
		m.waiting.remove(job)
	case StateSleeping:
		m.sleeping.remove(job)
	case StateRunning, stateAboutToRun:
		delete(m.running, job)
		for b := job.prev; b != nil; b = b.prev {
			released = append(released, b)
		}
		job.unlink()
	}
	job.state = newState
	switch newState {
	case StateNone:
		job.startTime = tNone
		job.stamp = tNone
		job.runCanceled = false
	case StateWaiting:
		m.waiting.enqueue(job)
	case StateSleeping:
		m.sleeping.enqueue(job)
	case StateRunning, stateAboutToRun:
		job.startTime = tNone
		job.stamp = tNone
		m.running[job] = struct{}{}
	case stateYielding:
		m.yielding[job] = struct{}{}
	}
	job.stateMu.Unlock()

	// Jobs blocked by a job that stops running go back to the queue.
	for _, b := range released {
		m.changeState(b, StateWaiting)
	}
	if len(released) > 0 {
		m.wakePool = true
	}
	if g := job.group; g != nil {
		g.jobStateChanged(job, old.public(), newState.public())
		if old.public() == StateRunning && newState.public() != StateRunning && g.maxThreads > 0 {
			m.wakePool = true
		}
	}
}

// Suspend stops dispatching new jobs. Running jobs are unaffected.
func (m *Manager) Suspend() {
	m.lock()
	m.suspended = true
	m.unlock()
}

// Resume restarts dispatching after Suspend.
func (m *Manager) Resume() {
	m.lock()
	m.suspended = false
	m.wakePool = true
	m.unlock()
}

// IsSuspended reports whether dispatching is suspended.
func (m *Manager) IsSuspended() bool {
	m.lock()
	defer m.unlock()
	return m.suspended
}

// IsIdle reports whether no job is queued, running or sleeping.
func (m *Manager) IsIdle() bool {
	m.lock()
	defer m.unlock()
	return len(m.running) == 0 && m.waiting.isEmpty() && m.sleeping.isEmpty()
}

// CurrentJob returns the job running on the context's thread, or nil.
// Thread jobs are never returned.
func (m *Manager) CurrentJob(ctx context.Context) *Job {
	t, err := lock.ThreadFrom(ctx)
	if err != nil {
		return nil
	}
	m.lock()
	defer m.unlock()
	return m.currentJobLocked(t)
}

func (m *Manager) currentJobLocked(t *lock.Thread) *Job {
	for j := range m.running {
		if !j.isThreadJob() && j.thread == t {
			return j
		}
	}
	return nil
}

// CurrentRule returns the innermost rule held by the context's thread,
// through BeginRule or the running job.
func (m *Manager) CurrentRule(ctx context.Context) rule.Rule {
	t, err := lock.ThreadFrom(ctx)
	if err != nil {
		return nil
	}
	if tj := m.impl.jobFor(t); tj != nil {
		return tj.implicit.current()
	}
	if j := m.CurrentJob(ctx); j != nil {
		return j.Rule()
	}
	return nil
}

// Shutdown stops the engine. Running jobs are canceled, queued jobs are
// discarded, and later Schedule calls fail.
func (m *Manager) Shutdown() {
	m.lock()
	if !m.isActive() {
		m.unlock()
		return
	}
	m.active.Store(false)
	toCancel := make([]*Job, 0, len(m.running))
	for j := range m.running {
		toCancel = append(toCancel, j)
	}
	dropped := m.dropQueuedLocked()
	m.unlock()
	for _, j := range dropped {
		m.listeners.sendEvents(j)
	}

	for _, j := range toCancel {
		m.cancel(j)
	}

	var still []*Job
	for attempt := range m.opts.ShutdownWaitAttempts {
		m.lock()
		still = m.runningJobsLocked()
		m.unlock()
		if len(still) == 0 {
			break
		}
		if m.Debug().Shutdown {
			m.logger.Debug("waiting for running jobs to exit",
				"attempt", attempt+1, "running", len(still))
		}
		time.Sleep(m.opts.ShutdownWait)
	}
	m.dog.stop()
	for _, j := range still {
		m.logger.Warn("job found still running after shutdown", "job", j.String())
	}
	m.lock()
	clear(m.running)
	m.unlock()
	m.pool.shutdown()
	m.stop()
}

// dropQueuedLocked ends every sleeping and waiting job with a CANCEL
// result. Callers hold Manager.mu and send the returned jobs' events once
// it is released.
func (m *Manager) dropQueuedLocked() []*Job {
	var dropped []*Job
	for _, q := range []*jobQueue{m.sleeping, m.waiting} {
		q.each(func(j *Job) bool {
			dropped = append(dropped, j)
			return true
		})
	}
	for _, j := range dropped {
		j.setResult(CancelStatus)
		m.changeState(j, StateNone)
		m.listeners.queueDone(j, CancelStatus, false)
	}
	if len(dropped) > 0 && m.Debug().Shutdown {
		m.logger.Debug("dropped queued jobs", "count", len(dropped))
	}
	return dropped
}

// Wait blocks until every worker goroutine has exited. Call it after
// Shutdown.
func (m *Manager) Wait() {
	m.pool.wait()
}

func (m *Manager) runningJobsLocked() []*Job {
	jobs := make([]*Job, 0, len(m.running))
	for j := range m.running {
		if j.isThreadJob() {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs
}
