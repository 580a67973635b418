package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/rulesched/internal/logging"
)

// ChangeEvent describes one job lifecycle transition.
type ChangeEvent struct {
	Job        *Job
	Delay      time.Duration
	Reschedule bool
	// Result is set for done events.
	Result *Status
	// GroupResult is set on the done event that completes a group.
	GroupResult *Status
}

// Listener observes job lifecycle transitions. Callbacks run outside every
// engine lock, in the order the transitions happened for a given job.
type Listener interface {
	Scheduled(e *ChangeEvent)
	AboutToRun(e *ChangeEvent)
	Running(e *ChangeEvent)
	Sleeping(e *ChangeEvent)
	Awake(e *ChangeEvent)
	Done(e *ChangeEvent)
}

// ListenerFuncs adapts optional callbacks to Listener. Register it by
// pointer; listeners are removed by identity.
type ListenerFuncs struct {
	ScheduledFunc  func(*ChangeEvent)
	AboutToRunFunc func(*ChangeEvent)
	RunningFunc    func(*ChangeEvent)
	SleepingFunc   func(*ChangeEvent)
	AwakeFunc      func(*ChangeEvent)
	DoneFunc       func(*ChangeEvent)
}

func (f *ListenerFuncs) Scheduled(e *ChangeEvent)  { call(f.ScheduledFunc, e) }
func (f *ListenerFuncs) AboutToRun(e *ChangeEvent) { call(f.AboutToRunFunc, e) }
func (f *ListenerFuncs) Running(e *ChangeEvent)    { call(f.RunningFunc, e) }
func (f *ListenerFuncs) Sleeping(e *ChangeEvent)   { call(f.SleepingFunc, e) }
func (f *ListenerFuncs) Awake(e *ChangeEvent)      { call(f.AwakeFunc, e) }
func (f *ListenerFuncs) Done(e *ChangeEvent)       { call(f.DoneFunc, e) }

func call(fn func(*ChangeEvent), e *ChangeEvent) {
	if fn != nil {
		fn(e)
	}
}

func removeListener(list []Listener, l Listener) []Listener {
	for i, existing := range list {
		if existing == l {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

type eventKind int

const (
	evScheduled eventKind = iota
	evAboutToRun
	evRunning
	evSleeping
	evAwake
	evDone
)

func (k eventKind) String() string {
	return [...]string{"scheduled", "aboutToRun", "running", "sleeping", "awake", "done"}[k]
}

func (k eventKind) dispatch(l Listener, e *ChangeEvent) {
	switch k {
	case evScheduled:
		l.Scheduled(e)
	case evAboutToRun:
		l.AboutToRun(e)
	case evRunning:
		l.Running(e)
	case evSleeping:
		l.Sleeping(e)
	case evAwake:
		l.Awake(e)
	case evDone:
		l.Done(e)
	}
}

// listenerList holds the global listeners and delivers queued job events.
// The group updater is always first.
type listenerList struct {
	logger *logging.Logger

	mu     sync.RWMutex
	global []Listener
}

func newListenerList(logger *logging.Logger) *listenerList {
	return &listenerList{logger: logger}
}

func (ll *listenerList) add(l Listener) {
	ll.mu.Lock()
	ll.global = append(ll.global, l)
	ll.mu.Unlock()
}

func (ll *listenerList) remove(l Listener) {
	ll.mu.Lock()
	ll.global = removeListener(ll.global, l)
	ll.mu.Unlock()
}

func (ll *listenerList) snapshot() []Listener {
	ll.mu.RLock()
	defer ll.mu.RUnlock()
	return append([]Listener(nil), ll.global...)
}

// queue records an event on the job. It may be called under Manager.mu.
func (ll *listenerList) queue(kind eventKind, e *ChangeEvent) {
	job := e.Job
	job.eventsMu.Lock()
	job.events = append(job.events, func() { ll.notify(kind, e) })
	job.eventsMu.Unlock()
}

func (ll *listenerList) queueScheduled(job *Job, delay int64, reschedule bool) {
	ll.queue(evScheduled, &ChangeEvent{Job: job, Delay: time.Duration(delay) * time.Millisecond, Reschedule: reschedule})
}

func (ll *listenerList) queueAboutToRun(job *Job) {
	ll.queue(evAboutToRun, &ChangeEvent{Job: job})
}

func (ll *listenerList) queueRunning(job *Job) {
	ll.queue(evRunning, &ChangeEvent{Job: job})
}

func (ll *listenerList) queueSleeping(job *Job) {
	ll.queue(evSleeping, &ChangeEvent{Job: job})
}

func (ll *listenerList) queueAwake(job *Job) {
	ll.queue(evAwake, &ChangeEvent{Job: job})
}

func (ll *listenerList) queueDone(job *Job, result *Status, reschedule bool) {
	ll.queue(evDone, &ChangeEvent{Job: job, Result: result, Reschedule: reschedule})
}

// sendEvents delivers the job's queued events. Only one goroutine delivers
// for a job at a time so events arrive in order. Callers hold no engine
// lock.
func (ll *listenerList) sendEvents(job *Job) {
	job.eventsMu.Lock()
	if job.sending {
		job.eventsMu.Unlock()
		return
	}
	job.sending = true
	for len(job.events) > 0 {
		next := job.events[0]
		job.events = job.events[1:]
		job.eventsMu.Unlock()
		next()
		job.eventsMu.Lock()
	}
	job.sending = false
	job.eventsMu.Unlock()
}

func (ll *listenerList) notify(kind eventKind, e *ChangeEvent) {
	for _, l := range ll.snapshot() {
		ll.safeCall(kind, l, e)
	}
	for _, l := range e.Job.jobListeners() {
		ll.safeCall(kind, l, e)
	}
}

func (ll *listenerList) safeCall(kind eventKind, l Listener, e *ChangeEvent) {
	var pc panics.Catcher
	pc.Try(func() { kind.dispatch(l, e) })
	if r := pc.Recovered(); r != nil {
		ll.logger.Error("job listener panicked",
			"event", kind.String(),
			"job", e.Job.String(),
			"panic", fmt.Sprint(r.Value),
			"stack", string(r.Stack))
	}
}
