// Package tui is the interactive chat screen of `aarii chat -i`.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/felixgeelhaar/aarii/internal/conversation"
)

// TUI forwards orchestrator progress to a running program.
type TUI struct {
	program *tea.Program
}

func NewTUI(p *tea.Program) *TUI {
	return &TUI{program: p}
}

func (t *TUI) UpdateStatus(status string) {
	t.program.Send(StatusMsg(status))
}

func (t *TUI) Log(msg string) {
	t.program.Send(LogMsg(msg))
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#767676"))
)

// Responder answers one user turn.
type Responder interface {
	Respond(ctx context.Context, sessionID, message string) (*conversation.Reply, error)
}

type Model struct {
	Title   string
	Session string
	Status  string
	Lines   []string

	responder Responder
	ctx       context.Context

	Input    textinput.Model
	Viewport viewport.Model
	Spinner  spinner.Model

	Waiting  bool
	Quitting bool
	Ready    bool
	Width    int
	Height   int
}

type LogMsg string
type StatusMsg string

// replyMsg carries the outcome of a Respond call back into Update.
type replyMsg struct {
	reply *conversation.Reply
	err   error
}

func NewModel(ctx context.Context, r Responder, session string) Model {
	ti := textinput.New()
	ti.Placeholder = "Say something..."
	ti.Prompt = "› "
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = infoStyle

	return Model{
		Title:     "Aarii",
		Session:   session,
		Status:    "Ready",
		responder: r,
		ctx:       ctx,
		Input:     ti,
		Spinner:   sp,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) respond(text string) tea.Cmd {
	return func() tea.Msg {
		reply, err := m.responder.Respond(m.ctx, m.Session, text)
		return replyMsg{reply: reply, err: err}
	}
}

func (m *Model) appendLine(s string) {
	m.Lines = append(m.Lines, s)
	if m.Ready {
		m.Viewport.SetContent(strings.Join(m.Lines, "\n"))
		m.Viewport.GotoBottom()
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.Quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.Input.Value())
			if text == "" || m.Waiting {
				return m, nil
			}
			m.Input.SetValue("")
			m.appendLine(userStyle.Render("You: ") + text)
			m.Waiting = true
			m.Status = "Thinking..."
			return m, tea.Batch(m.Spinner.Tick, m.respond(text))
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		h := max(msg.Height-5, 1)
		if !m.Ready {
			m.Viewport = viewport.New(msg.Width, h)
			m.Ready = true
			m.Viewport.SetContent(strings.Join(m.Lines, "\n"))
		} else {
			m.Viewport.Width = msg.Width
			m.Viewport.Height = h
		}
		m.Input.Width = max(msg.Width-4, 10)

	case replyMsg:
		m.Waiting = false
		m.Status = "Ready"
		switch {
		case msg.err != nil:
			m.appendLine(errorStyle.Render("Error: " + msg.err.Error()))
		case msg.reply.Degraded:
			m.appendLine(errorStyle.Render("Aarii: " + msg.reply.Text))
		default:
			m.appendLine(infoStyle.Render("Aarii: ") + msg.reply.Text)
		}
		if msg.reply != nil {
			for _, w := range msg.reply.Warnings {
				m.appendLine(dimStyle.Render("  warning: " + w))
			}
		}

	case StatusMsg:
		m.Status = string(msg)

	case LogMsg:
		m.appendLine(dimStyle.Render("  " + string(msg)))

	case spinner.TickMsg:
		if !m.Waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	cmds = append(cmds, cmd)
	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.Ready {
		return "\n  Initializing..."
	}

	header := titleStyle.Render(" "+m.Title+" ") + dimStyle.Render(fmt.Sprintf(" session %s ", m.Session))
	status := infoStyle.Render(" " + m.Status)
	if m.Waiting {
		status = m.Spinner.View() + status
	}

	view := fmt.Sprintf("%s%s\n\n%s\n%s", header, status, m.Viewport.View(), m.Input.View())
	if m.Quitting {
		return view + "\n  Bye!\n"
	}
	return view
}

// Run starts the chat screen and blocks until the user quits. The returned
// TUI receives orchestrator progress while the program runs.
func Run(ctx context.Context, r Responder, session string, attach func(*TUI)) error {
	p := tea.NewProgram(NewModel(ctx, r, session), tea.WithAltScreen(), tea.WithContext(ctx))
	if attach != nil {
		attach(NewTUI(p))
	}
	_, err := p.Run()
	return err
}
