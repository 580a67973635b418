package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/rulesched/internal/lock"
)

func newTestManager(t *testing.T, maxWorkers int) *Manager {
	t.Helper()
	m := NewManager(Options{
		MaxWorkers:           maxWorkers,
		IdleTimeout:          time.Second,
		WatchdogInterval:     10 * time.Millisecond,
		JoinPollInterval:     10 * time.Millisecond,
		ShutdownWaitAttempts: 50,
		ShutdownWait:         10 * time.Millisecond,
	})
	t.Cleanup(func() {
		m.Shutdown()
		m.Wait()
	})
	return m
}

// threadCtx returns a test context bound to a fresh caller thread.
func threadCtx(t *testing.T, name string) (context.Context, *lock.Thread) {
	th := lock.NewThread(name)
	return lock.WithThread(t.Context(), th), th
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// blockingWork runs until release is closed or the job is canceled.
func blockingWork(started chan<- struct{}, release <-chan struct{}) WorkFunc {
	return func(ctx context.Context, _ Monitor) *Status {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-release:
			return OKStatus
		case <-ctx.Done():
			return CancelStatus
		}
	}
}

func okWork(context.Context, Monitor) *Status { return OKStatus }

// recorder collects the lifecycle events of every job it sees.
type recorder struct {
	mu     sync.Mutex
	events []string
	done   []*ChangeEvent
}

func (r *recorder) listener() *ListenerFuncs {
	add := func(kind string) func(*ChangeEvent) {
		return func(e *ChangeEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, e.Job.Name()+":"+kind)
			if kind == "done" {
				r.done = append(r.done, e)
			}
		}
	}
	return &ListenerFuncs{
		ScheduledFunc:  add("scheduled"),
		AboutToRunFunc: add("aboutToRun"),
		RunningFunc:    add("running"),
		SleepingFunc:   add("sleeping"),
		AwakeFunc:      add("awake"),
		DoneFunc:       add("done"),
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) doneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.done)
}

func join(t *testing.T, ctx context.Context, j *Job) {
	t.Helper()
	ok, err := j.Join(ctx, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("Join(%s) error = %v", j, err)
	}
	if !ok {
		t.Fatalf("Join(%s) timed out in state %s", j, j.State())
	}
}
