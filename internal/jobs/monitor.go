package jobs

import (
	"sync/atomic"
)

// Monitor reports progress for a job and carries its cancellation flag.
type Monitor interface {
	BeginTask(name string, totalWork int)
	Worked(work int)
	SubTask(name string)
	Done()
	IsCanceled() bool
	SetCanceled(canceled bool)
	// SetBlocked is called when the work is blocked by another job.
	SetBlocked(reason *Status)
	ClearBlocked()
}

// ProgressProvider creates monitors for jobs the engine runs and wraps
// monitors passed to blocking calls.
type ProgressProvider interface {
	CreateMonitor(job *Job) Monitor
	MonitorFor(m Monitor) Monitor
}

// NullMonitor ignores progress and only tracks cancellation.
type NullMonitor struct {
	canceled atomic.Bool
}

// NewNullMonitor returns a monitor that is not canceled.
func NewNullMonitor() *NullMonitor { return &NullMonitor{} }

func (m *NullMonitor) BeginTask(string, int)     {}
func (m *NullMonitor) Worked(int)                {}
func (m *NullMonitor) SubTask(string)            {}
func (m *NullMonitor) Done()                     {}
func (m *NullMonitor) IsCanceled() bool          { return m.canceled.Load() }
func (m *NullMonitor) SetCanceled(canceled bool) { m.canceled.Store(canceled) }
func (m *NullMonitor) SetBlocked(*Status)        {}
func (m *NullMonitor) ClearBlocked()             {}

// nonCanceling hides cancellation from the engine. A yielding job must get
// its rule back even when its monitor is canceled.
type nonCanceling struct {
	Monitor
}

func (nonCanceling) IsCanceled() bool { return false }
