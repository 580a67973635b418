// Package lock implements the engine's mutual-exclusion layer: reentrant
// FIFO locks, the thread × lock ownership graph and the deadlock resolution
// protocol that suspends one thread's locks to break a wait cycle.
//
// # Deadlock Resolution
//
// Every acquire, release and wait is recorded in a [Detector] graph. When a
// new wait closes a cycle, the detector picks a candidate thread holding at
// least one suspendable [OrderedLock], the manager force-releases those
// locks and pushes their depths on the candidate's suspension stack. The
// candidate re-acquires them, at their original depth, as soon as its own
// pending acquisition completes.
//
// Scheduling rules take part in the graph but are never suspended, so a
// cycle made of rules alone cannot be broken.
//
// # Fault Handling
//
// A panic or error while mutating the graph is logged with a dump of the
// graph and disables deadlock detection for the life of the Manager. Locks
// keep working without protection.
package lock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/rulesched/internal/errors"
	"github.com/Iron-Ham/rulesched/internal/logging"
	"github.com/Iron-Ham/rulesched/internal/rule"
	"github.com/sourcegraph/conc/panics"
)

// lockState remembers a force-released lock and the depth to restore.
type lockState struct {
	lock  *OrderedLock
	depth int
}

func suspend(l *OrderedLock) lockState {
	return lockState{lock: l, depth: l.forceRelease()}
}

// resume spins until the lock is re-acquired, then restores its depth.
func (s lockState) resume(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for {
		ok, err := s.lock.TryAcquire(ctx, Forever)
		if ok {
			break
		}
		if err != nil && !errors.Is(err, errors.ErrInterrupted) {
			// only a missing thread can fail here
			return
		}
	}
	s.lock.setDepth(s.depth)
}

// Manager owns the deadlock detector and the suspension stacks.
type Manager struct {
	logger *logging.Logger

	detMu    sync.Mutex
	detector *Detector // nil once disabled
	fault    error     // why detection was disabled

	suspendMu sync.Mutex
	suspended map[*Thread][][]lockState

	listenerMu sync.RWMutex
	listener   Listener

	deadlockMu sync.RWMutex
	onDeadlock func(Deadlock)

	debugLocks      atomic.Bool
	errorOnDeadlock atomic.Bool
	nextLock        atomic.Int64
}

// NewManager creates a lock manager. A nil logger discards output.
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		logger:    logger.WithComponent("locks"),
		detector:  newDetector(),
		suspended: make(map[*Thread][][]lockState),
	}
}

// NewLock creates a lock managed by m.
func (m *Manager) NewLock() *OrderedLock {
	return &OrderedLock{manager: m, number: m.nextLock.Add(1)}
}

// SetListener installs the host's lock listener. Nil removes it.
func (m *Manager) SetListener(l Listener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

func (m *Manager) currentListener() Listener {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	return m.listener
}

// SetDeadlockHandler registers fn to be told about every resolved
// deadlock. It runs on the thread that closed the cycle, after the locks
// were suspended.
func (m *Manager) SetDeadlockHandler(fn func(Deadlock)) {
	m.deadlockMu.Lock()
	defer m.deadlockMu.Unlock()
	m.onDeadlock = fn
}

// SetDebug toggles graph anomaly tracing and error-on-deadlock mode.
func (m *Manager) SetDebug(locks, errorOnDeadlock bool) {
	m.debugLocks.Store(locks)
	m.errorOnDeadlock.Store(errorOnDeadlock)
}

// DetectionEnabled reports whether the detector is still active.
func (m *Manager) DetectionEnabled() bool {
	m.detMu.Lock()
	defer m.detMu.Unlock()
	return m.detector != nil
}

// Err returns the fault that disabled deadlock detection, or nil while it
// is enabled. The error matches ErrDeadlockDetectionDisabled.
func (m *Manager) Err() error {
	m.detMu.Lock()
	defer m.detMu.Unlock()
	return m.fault
}

// guard runs a listener callback, logging any panic.
func (m *Manager) guard(hook string, fn func()) bool {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		m.logger.LogError("lock listener panicked", r.AsError(),
			"hook", hook,
			"stack", string(r.Stack))
		return false
	}
	return true
}

// AboutToWait tells the listener the calling thread is about to wait for
// owner. A true result grants immediate access.
func (m *Manager) AboutToWait(owner *Thread) bool {
	l := m.currentListener()
	if l == nil {
		return false
	}
	var granted bool
	m.guard("AboutToWait", func() { granted = l.AboutToWait(owner) })
	return granted
}

// AboutToRelease tells the listener a wait is over.
func (m *Manager) AboutToRelease() {
	l := m.currentListener()
	if l == nil {
		return
	}
	m.guard("AboutToRelease", l.AboutToRelease)
}

// CanBlock asks the listener whether the calling thread may block
// indefinitely. A panicking listener forbids blocking.
func (m *Manager) CanBlock() bool {
	l := m.currentListener()
	if l == nil {
		return true
	}
	canBlock := false
	m.guard("CanBlock", func() { canBlock = l.CanBlock() })
	return canBlock
}

// withDetector applies fn to the detector. Any panic or error disables
// detection for good. Once disabled it returns the recorded fault.
func (m *Manager) withDetector(op string, t *Thread, r rule.Rule, fn func(d *Detector) error) error {
	m.detMu.Lock()
	defer m.detMu.Unlock()
	d := m.detector
	if d == nil {
		return m.fault
	}
	d.errorOnDeadlock = m.errorOnDeadlock.Load()
	if m.debugLocks.Load() {
		d.debugf = m.logger.Debug
	} else {
		d.debugf = func(string, ...any) {}
	}

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = fn(d) })
	if rec := pc.Recovered(); rec != nil {
		err = rec.AsError()
	}
	if err == nil {
		return nil
	}

	var detErr *errors.DetectorError
	if !errors.As(err, &detErr) {
		detErr = errors.NewDetectorError(op, err)
	}
	if detErr.Thread == "" && t != nil {
		detErr.WithThread(t.Name())
	}
	if detErr.Rule == "" && r != nil {
		detErr.WithRule(rule.Name(r))
	}
	m.logger.LogError("deadlock detection disabled after internal error", detErr,
		"graph", d.String())
	m.detector = nil
	m.fault = detErr
	return detErr
}

// The bookkeeping calls below have nothing to undo when detection is off,
// so only AddLockWaitThread reports it.

// AddLockThread records that t acquired r.
func (m *Manager) AddLockThread(t *Thread, r rule.Rule) {
	m.withDetector("lockAcquired", t, r, func(d *Detector) error {
		d.lockAcquired(t, r)
		return nil
	})
}

// RemoveLockThread records one release of r by t.
func (m *Manager) RemoveLockThread(t *Thread, r rule.Rule) {
	m.withDetector("lockReleased", t, r, func(d *Detector) error {
		d.lockReleased(t, r)
		return nil
	})
}

// RemoveLockCompletely clears every rule held by t.
func (m *Manager) RemoveLockCompletely(t *Thread, r rule.Rule) {
	m.withDetector("lockReleasedCompletely", t, r, func(d *Detector) error {
		d.lockReleasedCompletely(t, r)
		return nil
	})
}

// AddLockWaitThread records that t is about to wait for r. If the wait
// closes a cycle, the candidate's suspendable locks are force-released and
// pushed onto its suspension stack. It returns an error matching
// ErrDeadlockDetectionDisabled when the wait is not protected by detection.
func (m *Manager) AddLockWaitThread(t *Thread, r rule.Rule) error {
	var found *Deadlock
	if err := m.withDetector("lockWaitStart", t, r, func(d *Detector) error {
		var err error
		found, err = d.lockWaitStart(t, r)
		return err
	}); err != nil {
		return err
	}
	if found == nil {
		return nil
	}

	batch := make([]lockState, 0, len(found.Locks))
	for _, l := range found.Locks {
		batch = append(batch, suspend(l.(*OrderedLock)))
	}
	m.suspendMu.Lock()
	m.suspended[found.Candidate] = append(m.suspended[found.Candidate], batch)
	m.suspendMu.Unlock()

	names := make([]string, len(found.Threads))
	for i, th := range found.Threads {
		names[i] = th.Name()
	}
	m.logger.Info("deadlock resolved",
		"waiting", t.Name(),
		"threads", names,
		"candidate", found.Candidate.Name(),
		"suspended", len(batch))

	m.deadlockMu.RLock()
	fn := m.onDeadlock
	m.deadlockMu.RUnlock()
	if fn != nil {
		m.guard("DeadlockHandler", func() { fn(*found) })
	}
	return nil
}

// RemoveLockWaitThread records that t stopped waiting for r without
// acquiring it.
func (m *Manager) RemoveLockWaitThread(t *Thread, r rule.Rule) {
	m.withDetector("lockWaitStop", t, r, func(d *Detector) error {
		d.lockWaitStop(t, r)
		return nil
	})
}

// ResumeSuspendedLocks re-acquires the most recently suspended batch of
// t's locks, if any. It blocks until every lock in the batch is back.
func (m *Manager) ResumeSuspendedLocks(ctx context.Context, t *Thread) {
	m.suspendMu.Lock()
	stack := m.suspended[t]
	if len(stack) == 0 {
		m.suspendMu.Unlock()
		return
	}
	batch := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(m.suspended, t)
	} else {
		m.suspended[t] = stack[:len(stack)-1]
	}
	m.suspendMu.Unlock()

	ctx = WithThread(ctx, t)
	for _, s := range batch {
		s.resume(ctx)
	}
}

// IsLockOwner reports whether t may hold locks: every worker thread, and
// any thread present in the graph.
func (m *Manager) IsLockOwner(t *Thread) bool {
	if t == nil {
		return false
	}
	if t.IsWorker() {
		return true
	}
	m.detMu.Lock()
	defer m.detMu.Unlock()
	return m.detector != nil && m.detector.contains(t)
}

// IsEmpty reports whether the graph holds no threads and no locks.
func (m *Manager) IsEmpty() bool {
	m.detMu.Lock()
	defer m.detMu.Unlock()
	return m.detector == nil || m.detector.isEmpty()
}

// Snapshot copies the current graph. It is empty once detection is
// disabled.
func (m *Manager) Snapshot() GraphSnapshot {
	m.detMu.Lock()
	defer m.detMu.Unlock()
	if m.detector == nil {
		return GraphSnapshot{}
	}
	return m.detector.snapshot()
}

// String dumps the graph for diagnostics.
func (m *Manager) String() string {
	m.detMu.Lock()
	defer m.detMu.Unlock()
	if m.detector == nil {
		return "deadlock detection disabled"
	}
	return m.detector.String()
}
