// Package tui is the terminal front end: a thin Bubble Tea shell over the
// engine. It consumes output snapshots per session, reports dimensions, and
// feeds key input back to the engine; everything else is the engine's job.
package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mudpuppy/mudpuppy/pkg/client"
	"github.com/mudpuppy/mudpuppy/pkg/session"
)

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("6")).
			Padding(0, 1)
	promptStyle = lipgloss.NewStyle().Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

type tickMsg time.Time

// Model is the root Bubble Tea model.
type Model struct {
	engine *client.Client

	input      textinput.Model
	width      int
	height     int
	historyPos int // -1 = editing a fresh line
	draft      string
}

// New creates the TUI shell around the engine.
func New(engine *client.Client) Model {
	input := textinput.New()
	input.Prompt = ""
	input.Focus()
	return Model{engine: engine, input: input, historyPos: -1}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 1
		m.engine.SetDims(msg.Width, msg.Height)
		return m, nil

	case tickMsg:
		select {
		case <-m.engine.Done():
			return m, tea.Quit
		default:
		}
		return m, tick()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.engine.Quit()
		return m, tea.Quit

	case "enter":
		text := m.input.Value()
		m.input.SetValue("")
		m.historyPos = -1
		m.engine.HandleInput(text)
		return m, nil

	case "up":
		if line, ok := m.engine.HistoryAt(m.historyPos + 1); ok {
			if m.historyPos == -1 {
				m.draft = m.input.Value()
			}
			m.historyPos++
			m.input.SetValue(line)
			m.input.CursorEnd()
		}
		return m, nil

	case "down":
		switch {
		case m.historyPos > 0:
			m.historyPos--
			if line, ok := m.engine.HistoryAt(m.historyPos); ok {
				m.input.SetValue(line)
				m.input.CursorEnd()
			}
		case m.historyPos == 0:
			m.historyPos = -1
			m.input.SetValue(m.draft)
			m.input.CursorEnd()
		}
		return m, nil

	case "ctrl+n":
		m.engine.CycleActive(1)
		return m, nil

	case "ctrl+p":
		m.engine.CycleActive(-1)
		return m, nil
	}

	if shortcut := m.configuredShortcut(msg.String()); shortcut != "" {
		if handled := m.runShortcut(shortcut); handled {
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// configuredShortcut resolves a key through the config's global-mode
// keybinding table.
func (m Model) configuredShortcut(key string) string {
	bindings := m.engine.Config().Keybindings["global"]
	if bindings == nil {
		return ""
	}
	return bindings[key]
}

func (m Model) runShortcut(shortcut string) bool {
	switch shortcut {
	case "quit":
		m.engine.Quit()
		return true
	case "next_session":
		m.engine.CycleActive(1)
		return true
	case "prev_session":
		m.engine.CycleActive(-1)
		return true
	}
	return false
}

func (m Model) View() string {
	if m.height == 0 {
		return ""
	}

	outputHeight := m.height - 3
	if outputHeight < 1 {
		outputHeight = 1
	}
	snap := m.engine.ActiveView(outputHeight)

	var b strings.Builder

	lines := snap.Lines
	if len(lines) > outputHeight {
		lines = lines[len(lines)-outputHeight:]
	}
	for i := 0; i < outputHeight-len(lines); i++ {
		b.WriteByte('\n')
	}
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteString(statusStyle.Width(m.width).Render(m.statusLine(snap)))
	b.WriteByte('\n')

	if snap.HoldPrompt && snap.Prompt != "" {
		b.WriteString(promptStyle.Render(snap.Prompt))
		b.WriteByte(' ')
	}
	b.WriteString(m.input.View())
	return b.String()
}

func (m Model) statusLine(snap client.ViewSnapshot) string {
	if snap.SessionID == 0 {
		return "mudpuppy - no session (use /connect <mud>)"
	}
	status := snap.Status.String()
	if snap.Status == session.StatusConnected {
		status = snap.Info
	}
	line := "mudpuppy - [" + snap.MudName + "] " + status
	if snap.Echo == session.EchoPassword {
		line += errorStyle.Render(" (password)")
	}
	return line
}
