package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Iron-Ham/rulesched/internal/event"
	"github.com/Iron-Ham/rulesched/internal/lock"
	"github.com/Iron-Ham/rulesched/internal/tui/styles"
	"github.com/Iron-Ham/rulesched/internal/util"
)

const (
	nameWidth    = 32
	messageWidth = 60
)

// LifecycleLine renders a job event as one log line for the run command.
// Other events render as an empty string.
func LifecycleLine(e event.Event) string {
	switch ev := e.(type) {
	case event.JobEvent:
		kind := strings.TrimPrefix(ev.EventType(), "job.")
		line := fmt.Sprintf("%s %-12s %s", styles.Muted.Render(ev.Timestamp().Format("15:04:05.000")),
			kind, styles.Text.Render(ev.JobName))
		switch {
		case ev.EventType() == event.JobScheduled && ev.Delay > 0:
			line += styles.Muted.Render(" in " + ev.Delay.String())
		case ev.EventType() == event.JobRunning && ev.Thread != "":
			line += styles.Muted.Render(" on " + ev.Thread)
		case ev.EventType() == event.JobDone:
			line += " " + styles.Status(ev.Severity)
			if ev.Severity != "ok" && ev.Message != "" {
				line += styles.Muted.Render(": " + util.Truncate(ev.Message, messageWidth))
			}
		}
		return line
	case event.GroupCompletedEvent:
		return fmt.Sprintf("%s %-12s %s %s", styles.Muted.Render(ev.Timestamp().Format("15:04:05.000")),
			"group", styles.Primary.Render(ev.GroupName), styles.Status(ev.Severity))
	case event.DeadlockResolvedEvent:
		return styles.WarningMsg.Render(fmt.Sprintf("deadlock among %s: suspended %s held by %s",
			strings.Join(ev.Threads, ", "), strings.Join(ev.Locks, ", "), ev.Candidate))
	}
	return ""
}

// JobTable renders rows as a bordered table.
func JobTable(rows []Row, now time.Time) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.BorderColor)).
		Headers("JOB", "GROUP", "STATUS", "RUNS", "THREAD", "TIME").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.TableHeader
			}
			return styles.TableCell
		})
	for _, r := range rows {
		t.Row(
			util.TruncateMiddle(r.Name, nameWidth),
			r.Group,
			styles.Status(r.Status),
			strconv.Itoa(r.Runs),
			r.Thread,
			r.Elapsed(now).Round(time.Millisecond).String(),
		)
	}
	return t.String()
}

// Summary renders the per-status totals below a finished run.
func Summary(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %d", styles.Status(k), counts[k]))
	}
	return strings.Join(parts, "  ")
}

// GraphTable renders a lock graph snapshot. Held cells show the hold count
// and waiting cells show "wait".
func GraphTable(s lock.GraphSnapshot) string {
	if len(s.Threads) == 0 {
		return styles.Muted.Render("(lock graph is empty)")
	}
	headers := append([]string{"THREAD"}, s.Locks...)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.BorderColor)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.TableHeader
			}
			return styles.TableCell
		})
	for i, name := range s.Threads {
		cells := []string{name}
		for _, v := range s.Cells[i] {
			switch {
			case v > 0:
				cells = append(cells, styles.GraphHeld.Render(strconv.Itoa(v)))
			case v < 0:
				cells = append(cells, styles.GraphWaiting.Render("wait"))
			default:
				cells = append(cells, styles.GraphEmpty.Render("."))
			}
		}
		t.Row(cells...)
	}
	return t.String()
}
