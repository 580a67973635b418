package jobs

import (
	"math"
	"time"

	"github.com/Iron-Ham/rulesched/internal/errors"
)

// State is the externally visible state of a job.
type State int

// Public states. They are bit flags so a mask can select several.
const (
	StateNone     State = 0
	StateSleeping State = 0x01
	StateWaiting  State = 0x02
	StateRunning  State = 0x04
)

// Internal states fold into a public state through public().
const (
	stateBlocked         State = 0x08 | StateWaiting
	stateYielding        State = 0x10 | StateWaiting
	stateAboutToRun      State = 0x20 | StateRunning
	stateAboutToSchedule State = 0x40 | StateWaiting
)

const publicMask = StateSleeping | StateWaiting | StateRunning

func (s State) public() State { return s & publicMask }

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateSleeping:
		return "SLEEPING"
	case StateWaiting:
		return "WAITING"
	case StateRunning:
		return "RUNNING"
	case stateBlocked:
		return "BLOCKED"
	case stateYielding:
		return "YIELDING"
	case stateAboutToRun:
		return "ABOUT_TO_RUN"
	case stateAboutToSchedule:
		return "ABOUT_TO_SCHEDULE"
	default:
		return "UNKNOWN"
	}
}

// Priority orders waiting jobs. A lower value runs sooner.
type Priority int

const (
	Interactive Priority = 10
	Short       Priority = 20
	Long        Priority = 30
	Build       Priority = 40
	Decorate    Priority = 50
)

var priorityNames = map[Priority]string{
	Interactive: "interactive",
	Short:       "short",
	Long:        "long",
	Build:       "build",
	Decorate:    "decorate",
}

func (p Priority) String() string {
	if n, ok := priorityNames[p]; ok {
		return n
	}
	return "unknown"
}

// Valid reports whether p is one of the five priorities.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// delay is the head start a priority gives up when a job is queued.
func (p Priority) delay() int64 {
	switch p {
	case Interactive:
		return 0
	case Short:
		return 50
	case Long:
		return 100
	case Build:
		return 500
	case Decorate:
		return 1000
	default:
		return 1000
	}
}

// ParsePriority maps a priority name back to its value.
func ParsePriority(name string) (Priority, error) {
	for p, n := range priorityNames {
		if n == name {
			return p, nil
		}
	}
	return 0, errors.IllegalArgument("ParsePriority", "unknown priority %q", name)
}

func checkPriority(op string, p Priority) error {
	if !p.Valid() {
		return errors.IllegalArgument(op, "invalid priority %d", int(p))
	}
	return nil
}

// Engine times are milliseconds since the manager started.
const (
	tNone     int64 = -1
	tInfinite int64 = math.MaxInt64
)

func millis(d time.Duration) int64 { return d.Milliseconds() }
