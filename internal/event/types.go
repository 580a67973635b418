// Package event defines event types for decoupling the scheduling engine from
// its observers. The engine publishes job lifecycle events; the CLI and the
// live board subscribe without depending on engine internals.
package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "job.running", "group.completed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Job Lifecycle Events
// -----------------------------------------------------------------------------

// Job lifecycle event types, one per listener callback.
const (
	JobScheduled  = "job.scheduled"
	JobAboutToRun = "job.about_to_run"
	JobRunning    = "job.running"
	JobSleeping   = "job.sleeping"
	JobAwake      = "job.awake"
	JobDone       = "job.done"
)

// JobEventTypes lists every job lifecycle event type in the order a job
// normally passes through them.
func JobEventTypes() []string {
	return []string{JobScheduled, JobSleeping, JobAwake, JobAboutToRun, JobRunning, JobDone}
}

// JobEvent is emitted on every job state change observed by the engine.
type JobEvent struct {
	baseEvent
	JobID      uint64        // Engine-assigned job id
	JobName    string        // Human-readable job name
	Group      string        // Owning group name, empty when ungrouped
	Thread     string        // Worker thread, set once the job runs
	Delay      time.Duration // Scheduling delay, for scheduled events
	Reschedule bool          // Whether the event belongs to a reschedule cycle
	Severity   string        // Result severity, for done events
	Message    string        // Result message, for done events
}

// NewJobEvent creates a JobEvent of the given lifecycle type.
func NewJobEvent(eventType string, jobID uint64, jobName string) JobEvent {
	return JobEvent{
		baseEvent: newBaseEvent(eventType),
		JobID:     jobID,
		JobName:   jobName,
	}
}

// -----------------------------------------------------------------------------
// Group Events
// -----------------------------------------------------------------------------

// GroupCompletedEvent is emitted when the last active job of a group finishes
// and the group's result has been computed.
type GroupCompletedEvent struct {
	baseEvent
	GroupName string
	Severity  string
	Message   string
	Failed    int
	Canceled  int
}

// NewGroupCompletedEvent creates a GroupCompletedEvent.
func NewGroupCompletedEvent(groupName, severity, message string, failed, canceled int) GroupCompletedEvent {
	return GroupCompletedEvent{
		baseEvent: newBaseEvent("group.completed"),
		GroupName: groupName,
		Severity:  severity,
		Message:   message,
		Failed:    failed,
		Canceled:  canceled,
	}
}

// -----------------------------------------------------------------------------
// Lock Events
// -----------------------------------------------------------------------------

// DeadlockResolvedEvent is emitted when the lock manager breaks a wait cycle
// by suspending the locks of one thread.
type DeadlockResolvedEvent struct {
	baseEvent
	Threads   []string // Every thread in the cycle
	Candidate string   // Thread whose locks were suspended
	Locks     []string // Locks taken from the candidate
}

// NewDeadlockResolvedEvent creates a DeadlockResolvedEvent.
func NewDeadlockResolvedEvent(threads []string, candidate string, locks []string) DeadlockResolvedEvent {
	return DeadlockResolvedEvent{
		baseEvent: newBaseEvent("lock.deadlock_resolved"),
		Threads:   threads,
		Candidate: candidate,
		Locks:     locks,
	}
}
