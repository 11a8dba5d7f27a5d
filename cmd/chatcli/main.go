// chatcli is a terminal chat client for the Keyhaven messaging server. It
// exists mainly as a live exercise of the engine: the same scroll-anchor
// math that keeps a browser viewport steady during history prepends keeps
// this terminal viewport steady, with lines standing in for pixels.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/keyhaven/chat-engine/internal/engine"
	"github.com/keyhaven/chat-engine/internal/message"
	"github.com/keyhaven/chat-engine/internal/scroll"
	"github.com/keyhaven/chat-engine/internal/store"
	"github.com/keyhaven/chat-engine/internal/transport"
)

var (
	selfStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	peerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func main() {
	user := flag.String("user", "", "identity to sign in as")
	peer := flag.String("peer", "", "counterpart identity to chat with")
	server := flag.String("server", "http://localhost:8080", "chatd base URL")
	wsURL := flag.String("ws", "ws://localhost:8080/ws", "chatd WebSocket URL")
	cache := flag.String("cache", "", "optional bbolt cache file")
	flag.Parse()

	if *user == "" || *peer == "" {
		fmt.Fprintln(os.Stderr, "usage: chatcli -user <id> -peer <id> [-server url] [-ws url] [-cache file]")
		os.Exit(2)
	}

	cfg := engine.DefaultConfig()
	cfg.APIBaseURL = *server
	cfg.Transport.URL = *wsURL
	cfg.CachePath = *cache

	eng, err := engine.New(*user, cfg)
	if err != nil {
		log.Fatalf("chatcli: %v", err)
	}
	defer eng.Close()

	ctx := context.Background()
	if err := eng.Connect(ctx); err != nil {
		log.Printf("chatcli: connect: %v (continuing offline)", err)
	}
	if _, err := eng.OpenConversation(ctx, *peer); err != nil {
		log.Printf("chatcli: open conversation: %v", err)
	}

	m := newModel(eng, *peer)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		log.Fatalf("chatcli: %v", err)
	}
}

type engineEventMsg engine.Event

type sendResultMsg struct{ err error }

type olderLoadedMsg struct {
	fetched int
	err     error
}

type model struct {
	eng  *engine.Engine
	peer string

	vp    viewport.Model
	input textinput.Model
	ready bool

	msgs    []message.Message
	sendErr error
}

func newModel(eng *engine.Engine, peer string) *model {
	ti := textinput.New()
	ti.Placeholder = "message " + peer
	ti.Focus()

	return &model{
		eng:   eng,
		peer:  peer,
		input: ti,
		msgs:  eng.Store().Get(peer),
	}
}

// waitForEvent pumps engine notifications into the bubbletea loop.
func waitForEvent(eng *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		return engineEventMsg(<-eng.Events())
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.eng))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - 4
		}
		m.refreshViewport(true)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				m.input.SetValue("")
				return m, m.sendCmd(text)
			}
		case "pgup":
			m.vp.ViewUp()
			if m.nearTop() && m.eng.Store().HasMore(m.peer) {
				return m, m.loadOlderCmd()
			}
		case "pgdown":
			m.vp.ViewDown()
		default:
			if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace || msg.Type == tea.KeyBackspace {
				m.eng.Typing().NotifyTyping(m.peer)
			}
		}

	case engineEventMsg:
		if msg.Kind == engine.EventConversation && msg.Counterpart == m.peer {
			m.msgs = m.eng.Store().Get(m.peer)
			m.refreshViewport(false)
			// Reading happens whenever the conversation is in front of us.
			go m.eng.Receipts().MarkRead(context.Background(), m.peer)
		}
		cmds = append(cmds, waitForEvent(m.eng))

	case sendResultMsg:
		m.sendErr = msg.err

	case olderLoadedMsg:
		if msg.err != nil {
			m.sendErr = msg.err
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *model) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := m.eng.Send(ctx, m.peer, store.Draft{Text: text})
		return sendResultMsg{err: err}
	}
}

func (m *model) loadOlderCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		page, err := m.eng.Store().LoadOlder(ctx, m.peer, store.DefaultPageSize)
		return olderLoadedMsg{fetched: len(page), err: err}
	}
}

// nearTop applies the engine's near-top trigger to viewport geometry.
func (m *model) nearTop() bool {
	return scroll.NearTop(m.metrics(), 3)
}

// metrics maps viewport state onto the scroll engine's unit-agnostic
// viewport metrics: one line = one unit.
func (m *model) metrics() scroll.Metrics {
	return scroll.Metrics{
		ScrollTop:    float64(m.vp.YOffset),
		ScrollHeight: float64(m.vp.TotalLineCount()),
		ClientHeight: float64(m.vp.Height),
	}
}

// refreshViewport re-renders the message list, using the anchor engine to
// keep the reading position fixed across prepends and to stick to the
// bottom when the user was already there.
func (m *model) refreshViewport(forceBottom bool) {
	if !m.ready {
		return
	}

	before := m.metrics()
	elementsBefore := m.elements()

	content, elementsAfter := m.render()
	stick := forceBottom || scroll.ShouldStickToBottom(before)
	m.vp.SetContent(content)

	if stick {
		m.vp.GotoBottom()
		return
	}
	if top, ok := scroll.PreservePosition(before, elementsBefore, elementsAfter); ok {
		m.vp.SetYOffset(int(top))
	}
}

// elements computes the current geometry of the rendered list without
// changing it.
func (m *model) elements() []scroll.Element {
	_, els := m.render()
	return els
}

// render produces the viewport content and the per-message geometry in
// line units.
func (m *model) render() (string, []scroll.Element) {
	var (
		b    strings.Builder
		els  = make([]scroll.Element, 0, len(m.msgs))
		line float64
	)

	for _, msg := range m.msgs {
		block := m.renderMessage(msg)
		height := float64(strings.Count(block, "\n") + 1)
		els = append(els, scroll.Element{ID: msg.ID, Top: line, Height: height})
		line += height
		b.WriteString(block)
		b.WriteString("\n")
		line++
	}

	return b.String(), els
}

func (m *model) renderMessage(msg message.Message) string {
	who := peerStyle.Render(msg.SenderID)
	if msg.SenderID == m.eng.Identity() {
		who = selfStyle.Render("you")
	}
	body := msg.Text
	if body == "" {
		body = "[image] " + msg.Image
	}
	meta := msg.CreatedAt.Local().Format("15:04")
	if msg.SenderID == m.eng.Identity() && msg.IsRead {
		meta += " ✓"
	}
	return fmt.Sprintf("%s %s\n%s", who, faintStyle.Render(meta), body)
}

func (m *model) View() string {
	if !m.ready {
		return "loading..."
	}

	status := fmt.Sprintf("%s | %s", m.eng.Identity(), m.connState())
	if m.eng.Presence().IsOnline(m.peer) {
		status += " | " + m.peer + " online"
	} else if ts, ok := m.eng.Presence().LastSeen(m.peer); ok {
		status += " | " + m.peer + " last seen " + ts.Local().Format("15:04")
	}
	if m.eng.Typing().IsTyping(m.peer) {
		status += " | " + m.peer + " is typing..."
	}
	if m.sendErr != nil {
		status += " | error: " + m.sendErr.Error()
	}

	return fmt.Sprintf("%s\n%s\n%s",
		m.vp.View(),
		statusStyle.Render(status),
		m.input.View(),
	)
}

func (m *model) connState() string {
	switch m.eng.State() {
	case transport.StateConnected:
		return "online"
	case transport.StateConnecting:
		return "connecting"
	default:
		return "offline"
	}
}
