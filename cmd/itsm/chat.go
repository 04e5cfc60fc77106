// This file implements the interactive chat interface using bubbletea.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// chatCmd starts the interactive terminal chat.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat with the agent",
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ag, err := buildAgent(workspace)
	if err != nil {
		return err
	}
	defer ag.Close()

	p := tea.NewProgram(initChatModel(ag), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true).Padding(0, 1)
)

type chatMessage struct {
	role    string // "user", "agent", or "notice"
	content string
	time    time.Time
}

type (
	responseMsg string
	errorMsg    error
)

type chatModel struct {
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model

	history   []chatMessage
	isLoading bool
	ready     bool
	width     int

	sessionID string
	pending   *ticket.Attachment // attached via /attach, sent with next message

	agent *agent
}

func initChatModel(ag *agent) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Describe your request... (Enter to send, Ctrl+C to exit)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	vp := viewport.New(80, 20)

	m := chatModel{
		textinput: ti,
		viewport:  vp,
		spinner:   sp,
		sessionID: fmt.Sprintf("cli_%d", time.Now().UnixNano()),
		agent:     ag,
	}
	m.history = append(m.history, chatMessage{
		role:    "notice",
		content: "Tell me about an incident or a change you need. /attach <file> holds a file for the next ticket, /reset starts over, /quit exits.",
		time:    time.Now(),
	})
	return m
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if !m.isLoading {
				return m.handleSubmit()
			}
		}
		if !m.isLoading {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		headerHeight, inputHeight := 2, 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width-2, msg.Height-headerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 2
			m.viewport.Height = msg.Height - headerHeight - inputHeight
		}
		m.textinput.Width = msg.Width - 4
		m.refreshViewport()

	case responseMsg:
		m.isLoading = false
		m.history = append(m.history, chatMessage{role: "agent", content: string(msg), time: time.Now()})
		m.refreshViewport()

	case errorMsg:
		m.isLoading = false
		m.history = append(m.history, chatMessage{role: "notice", content: errStyle.Render("error: " + msg.Error()), time: time.Now()})
		m.refreshViewport()

	case spinner.TickMsg:
		m.spinner, spCmd = m.spinner.Update(msg)
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.textinput.Value())
	if text == "" {
		return m, nil
	}
	m.textinput.Reset()

	if strings.HasPrefix(text, "/") {
		return m.handleCommand(text)
	}

	m.history = append(m.history, chatMessage{role: "user", content: text, time: time.Now()})
	m.isLoading = true
	m.refreshViewport()

	att := m.pending
	m.pending = nil
	sessionID := m.sessionID
	ag := m.agent

	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		reply, err := ag.router.Handle(ctx, sessionID, text, att)
		if err != nil {
			return errorMsg(err)
		}
		return responseMsg(reply)
	})
}

func (m chatModel) handleCommand(text string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit", "/exit":
		return m, tea.Quit

	case "/reset":
		m.agent.sessions.Reset(m.sessionID)
		m.pending = nil
		m.history = append(m.history, chatMessage{role: "notice", content: "Session reset.", time: time.Now()})

	case "/attach":
		if len(fields) < 2 {
			m.history = append(m.history, chatMessage{role: "notice", content: "Usage: /attach <file>", time: time.Now()})
			break
		}
		path := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
		content, err := os.ReadFile(path)
		switch {
		case err != nil:
			m.history = append(m.history, chatMessage{role: "notice", content: errStyle.Render("could not read " + path + ": " + err.Error()), time: time.Now()})
		case len(content) == 0:
			m.history = append(m.history, chatMessage{role: "notice", content: errStyle.Render(path + " is empty; nothing attached"), time: time.Now()})
		default:
			m.pending = &ticket.Attachment{Filename: filepath.Base(path), Content: content}
			m.history = append(m.history, chatMessage{role: "notice", content: fmt.Sprintf("Holding %s (%d bytes) for the next ticket.", m.pending.Filename, len(content)), time: time.Now()})
		}

	default:
		m.history = append(m.history, chatMessage{role: "notice", content: "Unknown command. Available: /attach, /reset, /quit", time: time.Now()})
	}

	m.refreshViewport()
	return m, nil
}

func (m *chatModel) refreshViewport() {
	var b strings.Builder
	for i, msg := range m.history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch msg.role {
		case "user":
			b.WriteString(userStyle.Render("you") + "  " + msg.content)
		case "agent":
			b.WriteString(agentStyle.Render("agent") + "  " + msg.content)
		default:
			b.WriteString(noticeStyle.Render(msg.content))
		}
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(b.String()))
	m.viewport.GotoBottom()
}

func (m chatModel) View() string {
	if !m.ready {
		return "starting..."
	}

	header := titleStyle.Render("ITSM agent")
	if m.pending != nil {
		header += noticeStyle.Render("  [attachment: " + m.pending.Filename + "]")
	}

	input := m.textinput.View()
	if m.isLoading {
		input = m.spinner.View() + " thinking..."
	}

	return header + "\n" + m.viewport.View() + "\n\n" + input
}
