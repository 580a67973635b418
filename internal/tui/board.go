package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/rulesched/internal/tui/styles"
)

// tickMsg is sent periodically to redraw the board from the tracker.
type tickMsg time.Time

// finishedMsg reports that every job of the workload has been joined.
type finishedMsg struct{ err error }

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Board is the live job board. It reads rows from a Tracker on every tick
// and never touches the engine directly, except through the cancel hook.
type Board struct {
	title   string
	tracker *Tracker
	done    <-chan error
	cancel  func()
	stats   func() string

	width    int
	height   int
	now      time.Time
	finished bool
	err      error
	canceled bool
}

// NewBoard creates a board over tracker. done yields once when the workload
// has finished; cancel is called when the user asks to cancel every job.
func NewBoard(title string, tracker *Tracker, done <-chan error, cancel func()) Board {
	return Board{
		title:   title,
		tracker: tracker,
		done:    done,
		cancel:  cancel,
		now:     time.Now(),
	}
}

// WithStats adds a status line provider, such as pool counters.
func (b Board) WithStats(fn func() string) Board {
	b.stats = fn
	return b
}

// Err returns the error the workload finished with.
func (b Board) Err() error { return b.err }

// Finished reports whether the workload finished while the board ran.
func (b Board) Finished() bool { return b.finished }

func (b Board) Init() tea.Cmd {
	return tea.Batch(tick(), b.waitDone())
}

func (b Board) waitDone() tea.Cmd {
	if b.done == nil {
		return nil
	}
	done := b.done
	return func() tea.Msg {
		return finishedMsg{err: <-done}
	}
}

func (b Board) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width, b.height = msg.Width, msg.Height
		return b, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !b.finished && b.cancel != nil && !b.canceled {
				b.canceled = true
				b.cancel()
			}
			return b, tea.Quit
		case "c":
			if !b.finished && b.cancel != nil && !b.canceled {
				b.canceled = true
				b.cancel()
			}
			return b, nil
		}
		return b, nil

	case tickMsg:
		b.now = time.Time(msg)
		return b, tick()

	case finishedMsg:
		b.finished = true
		b.err = msg.err
		return b, nil
	}
	return b, nil
}

func (b Board) View() string {
	var sb strings.Builder
	sb.WriteString(styles.Header.Render(b.title))
	sb.WriteString("\n")

	rows := b.tracker.Rows()
	if len(rows) == 0 {
		sb.WriteString(styles.Muted.Render("no jobs scheduled yet"))
	} else {
		sb.WriteString(JobTable(b.visible(rows), b.now))
	}
	sb.WriteString("\n")

	for _, g := range b.tracker.Groups() {
		sb.WriteString(fmt.Sprintf("group %s %s  failed %d  canceled %d\n",
			styles.Primary.Render(g.GroupName), styles.Status(g.Severity), g.Failed, g.Canceled))
	}

	status := Summary(b.tracker.Counts())
	if b.stats != nil {
		status += "  " + styles.Muted.Render(b.stats())
	}
	sb.WriteString(styles.StatusBar.Render(status))
	sb.WriteString("\n")

	switch {
	case b.finished && b.err != nil:
		sb.WriteString(styles.ErrorMsg.Render("finished with error: " + b.err.Error()))
	case b.finished:
		sb.WriteString(styles.SuccessMsg.Render("all jobs finished"))
	case b.canceled:
		sb.WriteString(styles.WarningMsg.Render("canceling..."))
	}
	sb.WriteString(b.help())
	return lipgloss.NewStyle().MaxWidth(b.maxWidth()).Render(sb.String())
}

// visible trims rows to the window height, keeping the newest jobs.
func (b Board) visible(rows []Row) []Row {
	if b.height <= 0 {
		return rows
	}
	// header, table borders, group lines, status and help
	limit := b.height - 10 - len(b.tracker.Groups())
	if limit < 1 {
		limit = 1
	}
	if len(rows) > limit {
		return rows[len(rows)-limit:]
	}
	return rows
}

func (b Board) maxWidth() int {
	if b.width <= 0 {
		return 0
	}
	return b.width
}

func (b Board) help() string {
	keys := []string{styles.HelpKey.Render("q") + " quit"}
	if !b.finished && !b.canceled {
		keys = append(keys, styles.HelpKey.Render("c")+" cancel all")
	}
	return styles.HelpBar.Render(strings.Join(keys, "  "))
}

// RunBoard runs the board full screen until the user quits and returns the
// final model.
func RunBoard(b Board, opts ...tea.ProgramOption) (Board, error) {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	final, err := tea.NewProgram(b, opts...).Run()
	if err != nil {
		return b, err
	}
	if fb, ok := final.(Board); ok {
		return fb, nil
	}
	return b, nil
}
