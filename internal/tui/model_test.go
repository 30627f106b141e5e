package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestUpdate_WindowSizeMsg_MakesModelReady(t *testing.T) {
	m := NewModel("acme/web", "main")

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	got := updated.(Model)

	if !got.ready {
		t.Fatal("expected model to be ready after a WindowSizeMsg")
	}
}

func TestUpdate_EventMsg_AppendsFormattedLine(t *testing.T) {
	m := NewModel("acme/web", "main")
	m, _ = mustModel(m.Update(tea.WindowSizeMsg{Width: 80, Height: 24}))

	updated, _ := m.Update(EventMsg{Event: map[string]any{"type": "diff_fetched", "tier": "commit"}})
	got := updated.(Model)

	if len(got.lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(got.lines))
	}
	if !strings.Contains(got.lines[0], "diff_fetched") || !strings.Contains(got.lines[0], "tier=commit") {
		t.Errorf("line = %q, missing expected fields", got.lines[0])
	}
	if got.lastEventType != "diff_fetched" {
		t.Errorf("lastEventType = %q, want diff_fetched", got.lastEventType)
	}
}

func TestUpdate_ConnErrMsg_RecordsError(t *testing.T) {
	m := NewModel("acme/web", "main")

	updated, _ := m.Update(ConnErrMsg{Err: errFake("boom")})
	got := updated.(Model)

	if got.connErr == nil {
		t.Fatal("expected connErr to be set")
	}
	if !strings.Contains(got.footerView(), "disconnected") {
		t.Errorf("footer = %q, want it to mention disconnected", got.footerView())
	}
}

func TestUpdate_QuitKeys_SetsQuitting(t *testing.T) {
	keys := []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	}
	for _, key := range keys {
		m := NewModel("acme/web", "main")
		updated, cmd := m.Update(key)
		if cmd == nil {
			t.Errorf("key %q: expected a quit command", key.String())
		}
		if !updated.(Model).quitting {
			t.Errorf("key %q: expected quitting to be set", key.String())
		}
	}
}

func TestFormatEvent_NoExtraFields(t *testing.T) {
	line := formatEvent(map[string]any{"type": "lock_acquired"})
	if !strings.Contains(line, "lock_acquired") {
		t.Errorf("line = %q, want it to contain lock_acquired", line)
	}
}

func mustModel(m tea.Model, cmd tea.Cmd) (Model, tea.Cmd) {
	return m.(Model), cmd
}

type errFake string

func (e errFake) Error() string { return string(e) }
