package lock

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/Iron-Ham/rulesched/internal/errors"
)

var threadIDs atomic.Uint64

// Thread identifies a logical thread of control: a worker goroutine or a
// caller entry point. Go has no ambient current thread, so every operation
// that depends on the caller's identity finds its Thread in the context.
//
// A Thread carries an interrupt flag. Interrupt sets it; the next blocking
// wait on that thread, or a call to Interrupted, consumes it.
type Thread struct {
	id        uint64
	name      string
	worker    bool
	interrupt chan struct{}
}

// NewThread creates a caller thread.
func NewThread(name string) *Thread {
	return &Thread{
		id:        threadIDs.Add(1),
		name:      name,
		interrupt: make(chan struct{}, 1),
	}
}

// NewWorkerThread creates a thread owned by a worker pool. Worker threads
// are always treated as potential lock owners.
func NewWorkerThread(name string) *Thread {
	t := NewThread(name)
	t.worker = true
	return t
}

// ID returns the process-unique thread id.
func (t *Thread) ID() uint64 { return t.id }

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// IsWorker reports whether the thread belongs to a worker pool.
func (t *Thread) IsWorker() bool { return t.worker }

func (t *Thread) String() string {
	return fmt.Sprintf("%s#%d", t.name, t.id)
}

// Interrupt sets the interrupt flag. Setting an already set flag is a no-op.
func (t *Thread) Interrupt() {
	select {
	case t.interrupt <- struct{}{}:
	default:
	}
}

// Interrupted reports whether the flag was set and clears it.
func (t *Thread) Interrupted() bool {
	select {
	case <-t.interrupt:
		return true
	default:
		return false
	}
}

// InterruptCh returns a channel that yields once per Interrupt. Receiving
// from it clears the flag.
func (t *Thread) InterruptCh() <-chan struct{} {
	return t.interrupt
}

type threadKey struct{}

// WithThread returns a context carrying t.
func WithThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// ThreadFrom returns the thread carried by ctx.
func ThreadFrom(ctx context.Context) (*Thread, error) {
	if ctx == nil {
		return nil, errors.ErrNoThread
	}
	t, ok := ctx.Value(threadKey{}).(*Thread)
	if !ok || t == nil {
		return nil, errors.ErrNoThread
	}
	return t, nil
}
