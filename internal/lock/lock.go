package lock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/rulesched/internal/errors"
	"github.com/Iron-Ham/rulesched/internal/rule"
)

// OrderedLock is a reentrant mutex granted in strict FIFO order. It is also
// a rule that conflicts only with itself, so it takes part in the deadlock
// graph next to scheduling rules. Unlike rules, its holds can be suspended
// to break a deadlock.
type OrderedLock struct {
	manager *Manager
	number  int64

	mu    sync.Mutex
	owner *Thread
	depth int
	queue []*semaphore
}

var _ rule.Rule = (*OrderedLock)(nil)

// Contains is false: locks never nest through containment.
func (l *OrderedLock) Contains(other rule.Rule) bool { return false }

// IsConflicting reports whether other is this lock.
func (l *OrderedLock) IsConflicting(other rule.Rule) bool { return other == rule.Rule(l) }

func (l *OrderedLock) String() string { return fmt.Sprintf("OrderedLock (%d)", l.number) }

// Acquire blocks until the calling thread holds the lock. Interrupts are
// absorbed; only ctx cancellation or a missing thread ends the wait early.
func (l *OrderedLock) Acquire(ctx context.Context) error {
	for {
		ok, err := l.TryAcquire(ctx, Forever)
		if ok {
			return nil
		}
		if err != nil && !errors.Is(err, errors.ErrInterrupted) {
			return err
		}
	}
}

// TryAcquire waits up to timeout for the lock. A timeout of zero or less
// only attempts the fast path. A pending interrupt returns ErrInterrupted
// without waiting.
func (l *OrderedLock) TryAcquire(ctx context.Context, timeout time.Duration) (bool, error) {
	t, err := ThreadFrom(ctx)
	if err != nil {
		return false, err
	}
	if t.Interrupted() {
		return false, errors.ErrInterrupted
	}
	if timeout <= 0 {
		return l.attempt(t), nil
	}
	sem := l.createSemaphore(t)
	if sem == nil {
		return true, nil
	}
	ok, err := l.doAcquire(ctx, t, sem, timeout)
	l.manager.ResumeSuspendedLocks(ctx, t)
	return ok, err
}

// Release drops one level of ownership. At depth zero the lock passes to
// the oldest waiter. Releasing an unheld lock changes nothing and is logged
// as a contract violation.
func (l *OrderedLock) Release() {
	l.mu.Lock()
	last := l.depth == 1
	l.mu.Unlock()
	if last {
		l.manager.AboutToRelease()
	}

	l.mu.Lock()
	if l.depth == 0 {
		l.mu.Unlock()
		l.manager.logger.LogError("release of a lock that is not held",
			errors.IllegalState("Release", "%s is not held", l))
		return
	}
	l.depth--
	if l.depth == 0 {
		l.doReleaseLocked()
		l.mu.Unlock()
		return
	}
	owner := l.owner
	l.mu.Unlock()
	l.manager.RemoveLockThread(owner, l)
}

// Depth returns the current reentrancy depth.
func (l *OrderedLock) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depth
}

// Owner returns the owning thread, or nil.
func (l *OrderedLock) Owner() *Thread {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

func (l *OrderedLock) attempt(t *Thread) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attemptLocked(t)
}

// attemptLocked grants the lock to its owner again, or to anyone when it
// is free and nobody queues for it.
func (l *OrderedLock) attemptLocked(t *Thread) bool {
	if l.owner == t || (l.owner == nil && len(l.queue) == 0) {
		l.depth++
		l.setOwnerLocked(t)
		return true
	}
	return false
}

// createSemaphore returns nil when the lock was granted on the spot, or
// t's queued semaphore.
func (l *OrderedLock) createSemaphore(t *Thread) *semaphore {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.attemptLocked(t) {
		return nil
	}
	for _, s := range l.queue {
		if s.thread == t {
			return s
		}
	}
	s := newSemaphore(t)
	l.queue = append(l.queue, s)
	return s
}

func (l *OrderedLock) doAcquire(ctx context.Context, t *Thread, sem *semaphore, timeout time.Duration) (bool, error) {
	owner := l.Owner()
	if l.manager.AboutToWait(owner) {
		// granted by the listener; not recorded as a real acquisition
		l.mu.Lock()
		l.removeLocked(sem)
		l.depth++
		l.mu.Unlock()
		l.manager.AddLockThread(owner, l)
		return true, nil
	}

	// the semaphore may have left the queue while the listener ran
	sem = l.createSemaphore(t)
	if sem == nil {
		return true, nil
	}
	if err := l.manager.AddLockWaitThread(t, l); err != nil && l.manager.debugLocks.Load() {
		l.manager.logger.Debug("waiting without deadlock detection",
			"lock", l.String(), "thread", t.Name(), "error", err.Error())
	}
	ok, err := sem.acquire(ctx, timeout)
	if ok {
		l.grant(t, sem)
		return true, nil
	}

	l.mu.Lock()
	if sem.tryTake() {
		// granted while the wait was ending
		l.mu.Unlock()
		l.grant(t, sem)
		if errors.Is(err, errors.ErrInterrupted) {
			t.Interrupt()
		}
		return true, nil
	}
	l.removeLocked(sem)
	l.mu.Unlock()
	l.manager.RemoveLockWaitThread(t, l)
	return false, err
}

func (l *OrderedLock) grant(t *Thread, sem *semaphore) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.depth++
	l.removeLocked(sem)
	l.setOwnerLocked(t)
}

// forceRelease hands the lock to the next waiter regardless of depth and
// returns the depth to restore later.
func (l *OrderedLock) forceRelease() int {
	l.manager.AboutToRelease()
	l.mu.Lock()
	defer l.mu.Unlock()
	old := l.depth
	l.doReleaseLocked()
	return old
}

// setDepth restores a depth after resumption, replaying one graph
// acquisition per level gained.
func (l *OrderedLock) setDepth(depth int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := l.depth; i < depth; i++ {
		l.manager.AddLockThread(l.owner, l)
	}
	l.depth = depth
}

func (l *OrderedLock) doReleaseLocked() {
	l.depth = 0
	var next *semaphore
	if len(l.queue) > 0 {
		next = l.queue[0]
	}
	l.setOwnerLocked(nil)
	if next != nil {
		next.release()
	}
}

func (l *OrderedLock) setOwnerLocked(t *Thread) {
	if l.owner != nil && t == nil {
		l.manager.RemoveLockThread(l.owner, l)
	}
	l.owner = t
	if t != nil {
		l.manager.AddLockThread(t, l)
	}
}

func (l *OrderedLock) removeLocked(sem *semaphore) {
	if i := slices.Index(l.queue, sem); i >= 0 {
		l.queue = slices.Delete(l.queue, i, i+1)
	}
}
