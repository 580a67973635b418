package jobs

import (
	"github.com/Iron-Ham/rulesched/internal/event"
)

// BusListener republishes job lifecycle transitions on an event bus so
// observers need not depend on the engine.
type BusListener struct {
	bus *event.Bus
}

// NewBusListener returns a Listener that publishes to bus. Register it with
// Manager.AddListener.
func NewBusListener(bus *event.Bus) *BusListener {
	return &BusListener{bus: bus}
}

func (b *BusListener) Scheduled(e *ChangeEvent)  { b.publish(event.JobScheduled, e) }
func (b *BusListener) AboutToRun(e *ChangeEvent) { b.publish(event.JobAboutToRun, e) }
func (b *BusListener) Running(e *ChangeEvent)    { b.publish(event.JobRunning, e) }
func (b *BusListener) Sleeping(e *ChangeEvent)   { b.publish(event.JobSleeping, e) }
func (b *BusListener) Awake(e *ChangeEvent)      { b.publish(event.JobAwake, e) }

func (b *BusListener) Done(e *ChangeEvent) {
	b.publish(event.JobDone, e)
	if e.GroupResult == nil {
		return
	}
	var failed, canceled int
	for _, c := range e.GroupResult.Children {
		switch {
		case c.Matches(Error):
			failed++
		case c.Matches(Cancel):
			canceled++
		}
	}
	name := ""
	if g := e.Job.Group(); g != nil {
		name = g.Name()
	}
	b.bus.Publish(event.NewGroupCompletedEvent(name,
		e.GroupResult.Severity.String(), e.GroupResult.Message, failed, canceled))
}

func (b *BusListener) publish(kind string, e *ChangeEvent) {
	ev := event.NewJobEvent(kind, e.Job.ID(), e.Job.Name())
	if g := e.Job.Group(); g != nil {
		ev.Group = g.Name()
	}
	if t := e.Job.Thread(); t != nil {
		ev.Thread = t.Name()
	}
	ev.Delay = e.Delay
	ev.Reschedule = e.Reschedule
	if e.Result != nil {
		ev.Severity = e.Result.Severity.String()
		ev.Message = e.Result.Message
	}
	b.bus.Publish(ev)
}
