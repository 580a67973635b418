package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/rulesched/internal/event"
)

func newTestBoard(t *testing.T) (Board, *Tracker, chan error, *int) {
	t.Helper()
	tr := NewTracker()
	done := make(chan error, 1)
	cancels := new(int)
	b := NewBoard("workload", tr, done, func() { *cancels++ })
	return b, tr, done, cancels
}

func update(t *testing.T, b Board, msg tea.Msg) (Board, tea.Cmd) {
	t.Helper()
	m, cmd := b.Update(msg)
	nb, ok := m.(Board)
	if !ok {
		t.Fatalf("Update returned %T, want Board", m)
	}
	return nb, cmd
}

func TestBoard_ViewShowsRows(t *testing.T) {
	b, tr, _, _ := newTestBoard(t)
	if !strings.Contains(b.View(), "no jobs scheduled yet") {
		t.Errorf("empty view = %q", b.View())
	}

	tr.Handle(event.NewJobEvent(event.JobScheduled, 1, "index-core"))
	b = b.WithStats(func() string { return "workers 2" })
	view := b.View()
	for _, w := range []string{"workload", "index-core", "waiting", "workers 2", "cancel all"} {
		if !strings.Contains(view, w) {
			t.Errorf("view missing %q:\n%s", w, view)
		}
	}
}

func TestBoard_CancelKey(t *testing.T) {
	b, _, _, cancels := newTestBoard(t)
	b, cmd := update(t, b, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if cmd != nil {
		t.Error("cancel key should not quit")
	}
	b, _ = update(t, b, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if *cancels != 1 {
		t.Errorf("cancel called %d times, want 1", *cancels)
	}
	if !strings.Contains(b.View(), "canceling") {
		t.Error("view does not show canceling")
	}
}

func TestBoard_QuitCancelsUnfinishedWork(t *testing.T) {
	b, _, _, cancels := newTestBoard(t)
	_, cmd := update(t, b, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("quit key returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("quit key did not quit")
	}
	if *cancels != 1 {
		t.Errorf("cancel called %d times, want 1", *cancels)
	}
}

func TestBoard_Finished(t *testing.T) {
	b, _, done, cancels := newTestBoard(t)
	done <- errors.New("join failed")
	msg := b.waitDone()()
	b, _ = update(t, b, msg)
	if !b.Finished() || b.Err() == nil {
		t.Fatalf("Finished() = %v, Err() = %v", b.Finished(), b.Err())
	}
	if !strings.Contains(b.View(), "join failed") {
		t.Errorf("view does not show the error:\n%s", b.View())
	}
	update(t, b, tea.KeyMsg{Type: tea.KeyCtrlC})
	if *cancels != 0 {
		t.Error("quitting a finished board canceled work")
	}
}

func TestBoard_TickAndResize(t *testing.T) {
	b, tr, _, _ := newTestBoard(t)
	for i := range 30 {
		tr.Handle(event.NewJobEvent(event.JobScheduled, uint64(i+1), "job-"+string(rune('a'+i%26))+string(rune('0'+i/26))))
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b, cmd := update(t, b, tickMsg(now))
	if cmd == nil {
		t.Error("tick did not schedule the next tick")
	}
	b, _ = update(t, b, tea.WindowSizeMsg{Width: 100, Height: 15})
	if got := len(b.visible(tr.Rows())); got != 5 {
		t.Errorf("visible rows = %d, want 5", got)
	}
	if !strings.Contains(b.View(), "job-d1") {
		t.Error("view lost the newest job")
	}
}
