// Package tui is the interactive terminal surface: a Bubble Tea chat view
// with slash commands for the control plane and free text routed to the
// orchestrator.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/clawinfra/codeclaw/internal/session"
)

// Backend is what the TUI drives: the local orchestrator or the remote
// client, behind the same surface.
type Backend interface {
	// Process routes one free-text user turn.
	Process(ctx context.Context, message string) (string, error)
	// Spawn runs a named specialist directly (/explore, /execute).
	Spawn(ctx context.Context, agentType, task string) (string, error)
	// ReadFile serves /read without an LLM round trip.
	ReadFile(ctx context.Context, path string) (string, error)
	// Docs handles the /docs subcommand group.
	Docs(ctx context.Context, args []string) (string, error)
	// History returns the live conversation turns.
	History() []session.Turn
	// ClearConversation drops conversation state, not long-term memory.
	ClearConversation()
	// AgentStatus reports semaphore telemetry.
	AgentStatus() (active, available, capacity int)
}

const helpText = `Commands:
  /help              show this help
  /exit, /quit       leave the REPL
  /clear, /reset     discard the conversation (memory is kept)
  /history           show the conversation so far
  /agents            show agent concurrency status
  /read <path>       print a file
  /explore <query>   run the explorer directly
  /execute <task>    run the executor directly
  /docs <cmd>        docs cache: status|detect|index|search|clear|cleanup

Anything else is sent to the orchestrator.`

// Styles
var (
	accentColor = lipgloss.Color("#06B6D4")
	mutedColor  = lipgloss.Color("#6B7280")
	errColor    = lipgloss.Color("#EF4444")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#0E7490")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errStyle = lipgloss.NewStyle().
			Foreground(errColor)
)

type replyMsg struct {
	text string
	err  error
}

type tickMsg struct{}

// Model is the Bubble Tea model for the REPL.
type Model struct {
	backend  Backend
	ctx      context.Context
	viewport viewport.Model
	input    textarea.Model
	lines    []string
	busy     bool
	ready    bool
	width    int
	height   int
}

// NewModel creates the REPL model.
func NewModel(ctx context.Context, backend Backend) *Model {
	input := textarea.New()
	input.Placeholder = "Ask CodeClaw anything, or /help"
	input.Prompt = "> "
	input.SetHeight(2)
	input.CharLimit = 0
	input.ShowLineNumbers = false
	input.Focus()

	return &Model{
		backend: backend,
		ctx:     ctx,
		input:   input,
	}
}

// Run starts the TUI and blocks until exit.
func Run(ctx context.Context, backend Backend) error {
	p := tea.NewProgram(NewModel(ctx, backend), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		chatHeight := msg.Height - 6
		if chatHeight < 3 {
			chatHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width-2, chatHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 2
			m.viewport.Height = chatHeight
		}
		m.input.SetWidth(msg.Width - 4)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.busy {
				break
			}
			m.input.Reset()
			if m.quit(text) {
				return m, tea.Quit
			}
			if cmd := m.handleInput(text); cmd != nil {
				cmds = append(cmds, cmd)
			}
			// The Enter that submitted must not also insert a newline.
			return m, tea.Batch(cmds...)
		}

	case replyMsg:
		m.busy = false
		if msg.err != nil {
			m.appendLine(errStyle.Render("error: " + msg.err.Error()))
		} else {
			m.appendLine(assistantStyle.Render("codeclaw") + " " + msg.text)
		}
		m.appendLine("")

	case tickMsg:
		cmds = append(cmds, tick())
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) quit(text string) bool {
	return text == "/exit" || text == "/quit"
}

// handleInput dispatches slash commands locally and free text to the
// backend. It returns a command for async work, or nil when handled inline.
func (m *Model) handleInput(text string) tea.Cmd {
	if m.quit(text) {
		return nil
	}

	m.appendLine(userStyle.Render("you") + " " + text)

	if !strings.HasPrefix(text, "/") {
		return m.callBackend(func(ctx context.Context) (string, error) {
			return m.backend.Process(ctx, text)
		})
	}

	fields := strings.Fields(text)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		m.appendLine(dimStyle.Render(helpText))
	case "/clear", "/reset":
		m.backend.ClearConversation()
		m.lines = nil
		m.appendLine(dimStyle.Render("conversation cleared"))
	case "/history":
		turns := m.backend.History()
		if len(turns) == 0 {
			m.appendLine(dimStyle.Render("no history yet"))
		}
		for _, t := range turns {
			m.appendLine(userStyle.Render("you") + " " + t.User)
			m.appendLine(assistantStyle.Render("codeclaw") + " " + t.Assistant)
		}
	case "/agents":
		active, available, capacity := m.backend.AgentStatus()
		m.appendLine(dimStyle.Render(fmt.Sprintf("agents: %d active, %d available, capacity %d", active, available, capacity)))
	case "/read":
		if len(args) == 0 {
			m.appendLine(errStyle.Render("usage: /read <path>"))
			break
		}
		return m.callBackend(func(ctx context.Context) (string, error) {
			return m.backend.ReadFile(ctx, args[0])
		})
	case "/explore":
		if len(args) == 0 {
			m.appendLine(errStyle.Render("usage: /explore <query>"))
			break
		}
		query := strings.Join(args, " ")
		return m.callBackend(func(ctx context.Context) (string, error) {
			return m.backend.Spawn(ctx, "explorer", query)
		})
	case "/execute":
		if len(args) == 0 {
			m.appendLine(errStyle.Render("usage: /execute <task>"))
			break
		}
		task := strings.Join(args, " ")
		return m.callBackend(func(ctx context.Context) (string, error) {
			return m.backend.Spawn(ctx, "executor", task)
		})
	case "/docs":
		return m.callBackend(func(ctx context.Context) (string, error) {
			return m.backend.Docs(ctx, args)
		})
	default:
		m.appendLine(errStyle.Render("unknown command " + cmd + "; try /help"))
	}

	m.appendLine("")
	return nil
}

func (m *Model) callBackend(fn func(ctx context.Context) (string, error)) tea.Cmd {
	m.busy = true
	m.appendLine(dimStyle.Render("working..."))
	ctx := m.ctx
	return func() tea.Msg {
		text, err := fn(ctx)
		return replyMsg{text: text, err: err}
	}
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m *Model) View() string {
	if !m.ready {
		return "starting..."
	}

	active, available, capacity := m.backend.AgentStatus()
	status := fmt.Sprintf(" agents %d/%d (%d free)", active, capacity, available)
	if m.busy {
		status += "  •  thinking"
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render("CodeClaw"),
		m.viewport.View(),
		m.input.View(),
		dimStyle.Render(status+"  •  /help for commands"),
	)
}
