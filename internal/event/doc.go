// Package event provides a pub-sub event bus that carries job lifecycle
// notifications out of the scheduling engine.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Job lifecycle ([JobEvent]), one type per engine listener callback:
//   - job.scheduled, job.sleeping, job.awake
//   - job.about_to_run, job.running, job.done
//
// Groups:
//   - [GroupCompletedEvent]: the last job of a group finished
//
// Locks:
//   - [DeadlockResolvedEvent]: a wait cycle was broken by suspending locks
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously on the publishing goroutine and a panicking handler does not
// prevent delivery to the others.
//
// # Basic Usage
//
//	bus := event.NewBus()
//	bus.Subscribe(event.JobDone, func(e event.Event) {
//	    done := e.(event.JobEvent)
//	    fmt.Println(done.JobName, done.Severity)
//	})
//	bus.Publish(event.NewJobEvent(event.JobDone, 1, "index"))
package event
