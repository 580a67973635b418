package jobs

import (
	"sync"
	"time"

	"github.com/Iron-Ham/rulesched/internal/lock"
)

type watched struct {
	thread  *lock.Thread
	monitor Monitor
}

// watchdog polls the monitors of blocked thread jobs and interrupts the
// waiting thread once a monitor is canceled.
type watchdog struct {
	interval time.Duration
	canceled func(Monitor) bool

	mu      sync.Mutex
	entries map[*Job]watched
	quit    chan struct{}
	done    chan struct{}
}

func newWatchdog(interval time.Duration, canceled func(Monitor) bool) *watchdog {
	return &watchdog{
		interval: interval,
		canceled: canceled,
		entries:  make(map[*Job]watched),
	}
}

func (w *watchdog) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.quit != nil {
		return
	}
	w.quit = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(w.quit, w.done)
}

func (w *watchdog) stop() {
	w.mu.Lock()
	quit, done := w.quit, w.done
	w.quit, w.done = nil, nil
	w.mu.Unlock()
	if quit == nil {
		return
	}
	close(quit)
	<-done
}

func (w *watchdog) watch(job *Job, t *lock.Thread, monitor Monitor) {
	if t == nil || monitor == nil {
		return
	}
	w.mu.Lock()
	w.entries[job] = watched{thread: t, monitor: monitor}
	w.mu.Unlock()
}

func (w *watchdog) unwatch(job *Job) {
	w.mu.Lock()
	delete(w.entries, job)
	w.mu.Unlock()
}

func (w *watchdog) loop(quit, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *watchdog) poll() {
	w.mu.Lock()
	snapshot := make([]watched, 0, len(w.entries))
	for _, e := range w.entries {
		snapshot = append(snapshot, e)
	}
	w.mu.Unlock()
	for _, e := range snapshot {
		if w.canceled(e.monitor) {
			e.thread.Interrupt()
		}
	}
}
