// Package jobs is a cooperative job scheduler with scheduling rules.
//
// A [Job] wraps a unit of [Work]. Scheduling puts it in a priority queue
// ordered by ready time; a pool of worker goroutines takes the next job
// whose rule does not conflict with any running job. Jobs move through
// four public states:
//
//	NONE -> (SLEEPING) -> WAITING -> RUNNING -> NONE
//
// # Rules
//
// A job may carry a [rule.Rule]. Two jobs with conflicting rules never run
// at the same time. Code outside a job can take a rule for a stretch of
// work with [Manager.BeginRule] and [Manager.EndRule]; the engine backs
// such scopes with hidden thread jobs that take part in the same conflict
// checks as ordinary jobs. Scopes nest, but a nested rule must be
// contained in the outer one.
//
// A running job that blocks others may call [Job.YieldRule] to let the
// first blocked job run, taking its own rule back afterwards.
//
// # Groups
//
// A [Group] bounds how many of its jobs run at once, collects their
// results, and cancels the remaining jobs when its [GroupPolicy] says so.
//
// # Threads
//
// Blocking calls take a context. Calls that need to know the calling
// thread (BeginRule, YieldRule, CurrentJob) read it from the context via
// [lock.ThreadFrom]. Work running on a worker gets a context that already
// carries the worker's thread.
//
// # Observing
//
// [Listener] callbacks report every transition outside the engine locks.
// [NewBusListener] republishes them as [event.JobEvent] values.
package jobs

