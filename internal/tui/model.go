// Package tui renders the live progress stream a running `branchanalyzer
// serve` instance emits for an in-flight Process call, adapted from the
// teacher's internal/tui package (a BubbleTea model built around a scrolling
// viewport and a status bar) down to the single-pane case `watch` needs —
// there is no sidebar or multi-workspace story here, just one event log.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// EventMsg wraps a progress event for delivery into the BubbleTea update loop.
type EventMsg struct {
	Event map[string]any
}

// ConnErrMsg reports that the underlying websocket connection to `serve`
// dropped or never came up.
type ConnErrMsg struct {
	Err error
}

var (
	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.AdaptiveColor{Light: "#d8dee4", Dark: "#30363d"}).
			Foreground(lipgloss.AdaptiveColor{Light: "#24292f", Dark: "#e6edf3"}).
			Padding(0, 1)
	statusKeyStyle = lipgloss.NewStyle().
			Background(lipgloss.AdaptiveColor{Light: "#d8dee4", Dark: "#30363d"}).
			Foreground(lipgloss.AdaptiveColor{Light: "#0550ae", Dark: "#58a6ff"}).
			Padding(0, 1).
			Bold(true)
	errLineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f85149"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"})
)

// Model is the BubbleTea model for `branchanalyzer watch`.
type Model struct {
	viewport viewport.Model
	lines    []string
	ready    bool

	project string
	branch  string

	lastEventType string
	connErr       error
	quitting      bool

	width  int
	height int
}

// NewModel creates a watch Model for one (project, branch) pair.
func NewModel(project, branch string) Model {
	return Model{project: project, branch: branch}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		viewportHeight := msg.Height - headerHeight - footerHeight
		if viewportHeight < 0 {
			viewportHeight = 0
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, viewportHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = viewportHeight
		}
		m.viewport.SetContent(strings.Join(m.lines, "\n"))

	case EventMsg:
		m.lastEventType, _ = msg.Event["type"].(string)
		m.lines = append(m.lines, formatEvent(msg.Event))
		if m.ready {
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			m.viewport.GotoBottom()
		}

	case ConnErrMsg:
		m.connErr = msg.Err
		m.lines = append(m.lines, errLineStyle.Render(fmt.Sprintf("connection error: %v", msg.Err)))
		if m.ready {
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			m.viewport.GotoBottom()
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "initializing...\n"
	}
	return fmt.Sprintf("%s\n%s\n%s", m.headerView(), m.viewport.View(), m.footerView())
}

func (m Model) headerView() string {
	title := fmt.Sprintf(" %s / %s ", m.project, m.branch)
	return statusKeyStyle.Render(title)
}

func (m Model) footerView() string {
	status := "connected"
	if m.connErr != nil {
		status = "disconnected"
	}
	if m.lastEventType != "" {
		status = fmt.Sprintf("%s | last: %s", status, m.lastEventType)
	}
	return statusBarStyle.Render(status) + " " + dimStyle.Render("q to quit")
}

func formatEvent(event map[string]any) string {
	typ, _ := event["type"].(string)
	stamp := time.Now().Format("15:04:05")
	rest := make([]string, 0, len(event))
	for k, v := range event {
		if k == "type" {
			continue
		}
		rest = append(rest, fmt.Sprintf("%s=%v", k, v))
	}
	if len(rest) == 0 {
		return fmt.Sprintf("[%s] %s", stamp, typ)
	}
	return fmt.Sprintf("[%s] %s %s", stamp, typ, strings.Join(rest, " "))
}
