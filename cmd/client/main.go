package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/driftchat/driftchat/pkg/protocol"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	authorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// viewState represents the current view
type viewState int

const (
	viewLogin viewState = iota
	viewChat
)

// serverFrame is the loose decoding shape for everything the relay sends.
type serverFrame struct {
	Type             string             `json:"type"`
	Message          string             `json:"message,omitempty"`
	Data             json.RawMessage    `json:"data,omitempty"`
	Messages         []protocol.Message `json:"messages,omitempty"`
	LastEvaluatedKey *string            `json:"lastEvaluatedKey,omitempty"`
	TotalMessages    int                `json:"totalMessages,omitempty"`
}

type frameMsg serverFrame

type connClosedMsg struct{ err error }

type model struct {
	ws   *websocket.Conn
	view viewState

	input    textinput.Model
	username string

	messages []protocol.Message
	cursor   *string
	total    int

	width  int
	height int

	errorText  string
	statusText string
	quitting   bool
}

func newModel(ws *websocket.Conn, username string) model {
	input := textinput.New()
	input.Placeholder = "choose a username"
	input.CharLimit = 64
	input.Focus()
	if username != "" {
		input.SetValue(username)
	}

	return model{
		ws:     ws,
		view:   viewLogin,
		input:  input,
		width:  80,
		height: 24,
	}
}

// readFrames pumps decoded server frames into the bubbletea loop.
func readFrames(ws *websocket.Conn, p *tea.Program) {
	for {
		var frame serverFrame
		if err := ws.ReadJSON(&frame); err != nil {
			p.Send(connClosedMsg{err: err})
			return
		}
		p.Send(frameMsg(frame))
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			if m.view == viewChat {
				m.send(protocol.Command{Command: protocol.CmdSignOut})
			}
			return m, tea.Quit
		case tea.KeyEnter:
			return m.handleSubmit()
		}

	case frameMsg:
		return m.handleFrame(serverFrame(msg))

	case connClosedMsg:
		if m.quitting {
			return m, tea.Quit
		}
		m.errorText = "Connection lost"
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleSubmit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}

	switch m.view {
	case viewLogin:
		m.username = text
		m.errorText = ""
		m.statusText = "Signing in..."
		m.send(protocol.Command{
			Command: protocol.CmdSignIn,
			Payload: protocol.Payload{UserName: text},
		})

	case viewChat:
		switch text {
		case "/quit":
			m.quitting = true
			m.send(protocol.Command{Command: protocol.CmdSignOut})
			m.input.SetValue("")
			return m, nil
		case "/more":
			if m.cursor == nil {
				m.statusText = "No more history"
			} else {
				m.statusText = "Loading older messages..."
				m.send(protocol.Command{
					Command: protocol.CmdGetMoreMessages,
					Payload: protocol.Payload{LastEvaluatedKey: *m.cursor},
				})
			}
			m.input.SetValue("")
			return m, nil
		default:
			m.send(protocol.Command{
				Command: protocol.CmdNewMessage,
				Payload: protocol.Payload{Message: text},
			})
		}
	}

	m.input.SetValue("")
	return m, nil
}

func (m model) handleFrame(frame serverFrame) (tea.Model, tea.Cmd) {
	switch frame.Type {
	case protocol.TypeSignedIn:
		var page struct {
			Messages         []protocol.Message `json:"messages"`
			LastEvaluatedKey *string            `json:"lastEvaluatedKey"`
			TotalMessages    int                `json:"totalMessages"`
		}
		if err := json.Unmarshal(frame.Data, &page); err != nil {
			m.errorText = "Bad server response"
			return m, nil
		}
		m.view = viewChat
		m.messages = page.Messages
		m.cursor = page.LastEvaluatedKey
		m.total = page.TotalMessages
		m.errorText = ""
		m.statusText = fmt.Sprintf("Signed in as %s", m.username)
		m.input.Placeholder = "type a message (/more, /quit)"

	case protocol.TypeMessageHistory:
		// Older pages arrive in ascending order and slot in above
		m.messages = append(frame.Messages, m.messages...)
		m.cursor = frame.LastEvaluatedKey
		m.total = frame.TotalMessages
		m.statusText = ""

	case protocol.TypeNewMessageCreated, protocol.TypeDiscussionUpdated:
		var message protocol.Message
		if err := json.Unmarshal(frame.Data, &message); err != nil {
			return m, nil
		}
		m.messages = append(m.messages, message)
		m.total++
		m.statusText = ""

	case protocol.TypeSignedOut:
		m.statusText = frame.Message
		return m, tea.Quit

	case protocol.TypeError:
		m.errorText = frame.Message
		m.statusText = ""
	}

	return m, nil
}

func (m *model) send(cmd protocol.Command) {
	if err := m.ws.WriteJSON(cmd); err != nil {
		m.errorText = "Failed to send: connection lost"
	}
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	switch m.view {
	case viewLogin:
		b.WriteString(titleStyle.Render("Driftchat") + "\n\n")
		b.WriteString("Pick a username to join the discussion.\n\n")
		b.WriteString(m.input.View() + "\n\n")
		if m.errorText != "" {
			b.WriteString(errorStyle.Render(m.errorText) + "\n")
		} else if m.statusText != "" {
			b.WriteString(statusStyle.Render(m.statusText) + "\n")
		}
		b.WriteString(helpStyle.Render("enter to sign in, esc to quit"))

	case viewChat:
		header := fmt.Sprintf("Driftchat  %s  %d messages", m.username, m.total)
		b.WriteString(titleStyle.Render(header) + "\n\n")

		visible := m.messages
		maxLines := m.height - 7
		if maxLines > 0 && len(visible) > maxLines {
			visible = visible[len(visible)-maxLines:]
		}
		for _, message := range visible {
			line := fmt.Sprintf("%s %s %s",
				timeStyle.Render(message.CreatedAt.Local().Format("15:04")),
				authorStyle.Render(message.UserName+":"),
				message.Text)
			b.WriteString(line + "\n")
		}

		b.WriteString("\n" + m.input.View() + "\n")
		if m.errorText != "" {
			b.WriteString(errorStyle.Render(m.errorText))
		} else if m.statusText != "" {
			b.WriteString(statusStyle.Render(m.statusText))
		} else {
			b.WriteString(helpStyle.Render("/more for history, /quit or esc to leave"))
		}
	}

	return b.String()
}

func main() {
	server := flag.String("server", "localhost:8080", "Server address (host:port)")
	username := flag.String("user", "", "Username to prefill on the sign-in screen")
	flag.Parse()

	url := fmt.Sprintf("ws://%s/ws", *server)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", url, err)
	}
	defer ws.Close()

	p := tea.NewProgram(newModel(ws, *username), tea.WithAltScreen())
	go readFrames(ws, p)

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}
}
