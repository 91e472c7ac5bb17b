// Package tui renders a conversation view in the terminal.
package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"devchat/client/internal/localization"
	"devchat/client/internal/models"
	"devchat/client/internal/session"
	"devchat/client/internal/transport"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("62")).Padding(0, 1)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	nameStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	ownStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFDF5"))
	otherStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View is what the terminal drives. *session.Controller satisfies it.
type View interface {
	Watch() <-chan session.Update
	SubmitText(text string) error
}

type updateMsg session.Update

type closedMsg struct{}

// Model is the bubbletea model of one conversation.
type Model struct {
	view    View
	updates <-chan session.Update
	local   models.LocalUser
	labels  localization.Labels

	input    textinput.Model
	viewport viewport.Model
	last     session.Update
	width    int
	ready    bool
}

// New builds the model. It starts watching view right away.
func New(view View, local models.LocalUser, labels localization.Labels) Model {
	ti := textinput.New()
	ti.Placeholder = labels.Get(localization.KeyInputPlaceholder)
	ti.CharLimit = 2000
	ti.Focus()

	return Model{
		view:     view,
		updates:  view.Watch(),
		local:    local,
		labels:   labels,
		input:    ti,
		viewport: viewport.New(80, 20),
		last:     session.Update{Title: labels.Get(localization.KeyTitlePlaceholder)},
		width:    80,
	}
}

func waitForUpdate(ch <-chan session.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return updateMsg(u)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForUpdate(m.updates))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m.last = session.Update(msg)
		m.refresh()
		if m.last.Closed {
			return m, tea.Quit
		}
		return m, waitForUpdate(m.updates)

	case closedMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = msg.Width - 4
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4
		if m.viewport.Height < 1 {
			m.viewport.Height = 1
		}
		m.ready = true
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := m.input.Value()
			m.input.Reset()
			if err := m.view.SubmitText(text); err != nil {
				return m, tea.Quit
			}
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) title() string {
	if m.last.Profile == nil {
		return m.labels.Get(localization.KeyTitlePlaceholder)
	}
	return m.last.Title
}

func (m Model) status() string {
	label := m.labels.Get(localization.StatusKey(m.last.State, m.last.Reconnecting))
	if m.last.State == transport.Joined {
		return activeStyle.Render(label)
	}
	return offlineStyle.Render(label)
}

func (m Model) renderTranscript() string {
	if !m.last.HistoryLoaded && len(m.last.Transcript) == 0 {
		return hintStyle.Render(m.labels.Get(localization.KeyHistoryLoading))
	}
	if len(m.last.Transcript) == 0 {
		return hintStyle.Render(m.labels.Get(localization.KeyHistoryEmpty))
	}

	lines := make([]string, 0, len(m.last.Transcript))
	for _, msg := range m.last.Transcript {
		lines = append(lines, m.renderMessage(msg))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderMessage(msg models.ChatMessage) string {
	if msg.IsOwn(m.local) {
		return ownStyle.Width(m.width).Align(lipgloss.Right).Render(msg.Text)
	}
	name := msg.SenderName()
	if name == "" {
		return otherStyle.Render(msg.Text)
	}
	return nameStyle.Render(name+":") + " " + otherStyle.Render(msg.Text)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title()))
	b.WriteString(" ")
	b.WriteString(m.status())
	b.WriteString("\n\n")
	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(m.renderTranscript())
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.labels.Get(localization.KeyHelp)))
	return b.String()
}
