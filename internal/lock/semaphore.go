package lock

import (
	"context"
	"math"
	"time"

	"github.com/Iron-Ham/rulesched/internal/errors"
)

// Forever is the timeout used for unbounded waits.
const Forever = time.Duration(math.MaxInt64)

// semaphore is a single-permit wake-up slot owned by one waiting thread.
type semaphore struct {
	thread *Thread
	ch     chan struct{}
}

func newSemaphore(t *Thread) *semaphore {
	return &semaphore{thread: t, ch: make(chan struct{}, 1)}
}

// acquire waits for the permit. It returns false without error on timeout,
// ErrInterrupted when the owning thread is interrupted, or ctx.Err().
func (s *semaphore) acquire(ctx context.Context, d time.Duration) (bool, error) {
	select {
	case <-s.ch:
		return true, nil
	default:
	}
	if d <= 0 {
		return false, nil
	}

	var timeout <-chan time.Time
	if d != Forever {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-s.ch:
		return true, nil
	case <-s.thread.InterruptCh():
		return false, errors.ErrInterrupted
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timeout:
		return false, nil
	}
}

// tryTake consumes a pending permit without waiting.
func (s *semaphore) tryTake() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

func (s *semaphore) release() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}
