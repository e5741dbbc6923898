package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/vidchat/internal/applog"
	"github.com/lotas/vidchat/internal/types"
	"github.com/lotas/vidchat/internal/video"
)

// Clock reports the playback position shown in the header.
type Clock interface {
	CurrentTimestamp() video.Timestamp
}

// --- Messages ---

type createMsg struct {
	handle    types.Handle
	minimized bool
}
type renderMsg struct {
	handle    types.Handle
	minimized bool
}
type addMessageMsg struct {
	handle types.Handle
	role   types.Role
	text   string
}
type removeLastMsg struct{ handle types.Handle }
type clearMsg struct{ handle types.Handle }
type destroyMsg struct{ handle types.Handle }
type timestampMsg string

const (
	glyphMinimized = "+"
	glyphExpanded  = "−"
	clockInterval  = time.Second
)

type chatLine struct {
	role types.Role
	text string
}

// --- Model ---

type Model struct {
	actions chan<- types.Action
	clock   Clock

	// Panel
	present   bool
	handle    types.Handle
	minimized bool
	lines     []chatLine
	timestamp string

	// UI state
	input    textinput.Model
	viewport viewport.Model
	width    int
	height   int
}

// NewModel creates the terminal chat panel. clock may be nil.
func NewModel(actions chan<- types.Action, clock Clock) Model {
	in := textinput.New()
	in.Placeholder = "Ask about this video..."
	in.CharLimit = 2000
	in.Focus()
	return Model{
		actions:  actions,
		clock:    clock,
		input:    in,
		viewport: viewport.New(76, 16),
		width:    80,
		height:   24,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.readClock())
}

func (m Model) readClock() tea.Cmd {
	clock := m.clock
	return tea.Tick(clockInterval, func(time.Time) tea.Msg {
		if clock == nil {
			return timestampMsg("")
		}
		return timestampMsg(clock.CurrentTimestamp().Formatted)
	})
}

func (m Model) emit(a types.Action) {
	select {
	case m.actions <- a:
	default:
		applog.Info("tui.action.dropped", "kind", int(a.Kind))
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = max(m.width-4, 10)
		m.viewport.Height = max(m.height-7, 3) // header + borders + input + bottom bar
		m.input.Width = max(m.width-6, 10)
		m.refresh()
		return m, nil

	case timestampMsg:
		m.timestamp = string(msg)
		return m, m.readClock()

	case createMsg:
		m.present = true
		m.handle = msg.handle
		m.minimized = msg.minimized
		m.lines = nil
		m.input.Reset()
		m.refresh()
		return m, nil

	case renderMsg:
		if msg.handle == m.handle {
			m.minimized = msg.minimized
		}
		return m, nil

	case addMessageMsg:
		if msg.handle == m.handle {
			m.lines = append(m.lines, chatLine{msg.role, msg.text})
			m.refresh()
		}
		return m, nil

	case removeLastMsg:
		if msg.handle == m.handle && len(m.lines) > 0 {
			m.lines = m.lines[:len(m.lines)-1]
			m.refresh()
		}
		return m, nil

	case clearMsg:
		if msg.handle == m.handle {
			m.lines = nil
			m.refresh()
		}
		return m, nil

	case destroyMsg:
		if msg.handle == m.handle {
			m.present = false
			m.handle = ""
			m.lines = nil
			m.refresh()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			if m.present {
				m.emit(types.Action{Kind: types.ActionToggleMinimize})
			}
			return m, nil
		case "enter":
			if m.present && !m.minimized {
				text := m.input.Value()
				m.input.Reset()
				m.emit(types.Action{Kind: types.ActionSendMessage, Text: text})
			}
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		if !m.present || m.minimized {
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

var (
	userStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	aiStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	faintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// refresh re-renders the transcript into the viewport.
func (m *Model) refresh() {
	wrap := lipgloss.NewStyle().Width(max(m.viewport.Width-2, 10))
	var b strings.Builder
	for i, l := range m.lines {
		if i > 0 {
			b.WriteString("\n")
		}
		label := aiStyle.Render("AI:")
		if l.role == types.RoleUser {
			label = userStyle.Render("You:")
		}
		b.WriteString(wrap.Render(label + " " + l.text))
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	topBarStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	if !m.present {
		return topBarStyle.Render("vidchat") + "\n\n  " + faintStyle.Render("Waiting for a video page...") + "\n"
	}

	glyph := glyphExpanded
	if m.minimized {
		glyph = glyphMinimized
	}
	header := fmt.Sprintf("[%s] vidchat", glyph)
	if m.timestamp != "" {
		header += "  " + faintStyle.Render("at "+m.timestamp)
	}
	topBar := topBarStyle.Render(header)
	if m.minimized {
		return topBar + "\n" + faintStyle.Render(" tab expand · ctrl+c quit") + "\n"
	}

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Width(m.viewport.Width)

	bottomBarStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	bottomBar := bottomBarStyle.Render("enter send · tab minimize · pgup/pgdown scroll · ctrl+c quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		topBar,
		border.Render(m.viewport.View()),
		" "+m.input.View(),
		bottomBar,
	)
}
