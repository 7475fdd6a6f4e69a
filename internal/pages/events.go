package pages

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/bmtf/internal/app"
	"github.com/buckleypaul/bmtf/internal/orchestrator"
	"github.com/buckleypaul/bmtf/internal/ui"
)

const maxEvents = 2000

type loggedEvent struct {
	session string
	line    string
}

// EventsPage is the transition and phase log, optionally narrowed to one
// session.
type EventsPage struct {
	events        []loggedEvent
	filter        string
	follow        bool
	viewport      viewport.Model
	width, height int
}

func NewEventsPage() *EventsPage {
	return &EventsPage{
		viewport: viewport.New(0, 0),
		follow:   true,
	}
}

func (p *EventsPage) Init() tea.Cmd { return nil }

func (p *EventsPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "c":
			p.filter = ""
			p.refresh()
			return p, nil
		case "f":
			p.follow = !p.follow
			if p.follow {
				p.viewport.GotoBottom()
			}
			return p, nil
		}

	case app.EventMsg:
		p.events = append(p.events, loggedEvent{session: msg.Event.SessionID, line: formatEvent(msg.Event)})
		if len(p.events) > maxEvents {
			p.events = p.events[len(p.events)-maxEvents:]
		}
		p.refresh()
		return p, nil

	case app.SessionSelectedMsg:
		p.filter = msg.ID
		p.refresh()
		return p, nil
	}

	var cmd tea.Cmd
	p.viewport, cmd = p.viewport.Update(msg)
	return p, cmd
}

// Lines returns the rendered log lines that pass the current filter.
func (p *EventsPage) Lines() []string {
	var lines []string
	for _, e := range p.events {
		if p.filter != "" && e.session != p.filter {
			continue
		}
		lines = append(lines, e.line)
	}
	return lines
}

func (p *EventsPage) refresh() {
	p.viewport.SetContent(strings.Join(p.Lines(), "\n"))
	if p.follow {
		p.viewport.GotoBottom()
	}
}

func formatEvent(e orchestrator.Event) string {
	board := e.Board
	if board == "" {
		board = e.Request
	}
	line := fmt.Sprintf("%s %-12s %-8s", e.At.Format("15:04:05"), ui.Truncate(board, 12), e.Phase)
	if e.State != "" {
		line += " " + string(e.State)
	}
	if e.Message != "" {
		line += " " + e.Message
	}
	if e.Err != nil {
		line += " " + ui.ErrorStyle.Render(ui.FirstLine(e.Err.Error()))
	}
	return line
}

func (p *EventsPage) View() string {
	var b strings.Builder
	title := "Events"
	if p.filter != "" {
		title += " (session " + shortSession(p.filter) + ")"
	}
	b.WriteString(ui.Title(title))
	b.WriteString("\n")

	if len(p.events) == 0 {
		b.WriteString(ui.DimStyle.Render("  No events yet."))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(p.viewport.View())
	return b.String()
}

func (p *EventsPage) Name() string { return "Events" }

func (p *EventsPage) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "all sessions")),
		key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "follow")),
	}
}

func (p *EventsPage) SetSize(w, h int) {
	p.width = w
	p.height = h
	vpHeight := h - 4
	if vpHeight < 3 {
		vpHeight = 3
	}
	p.viewport.Width = w - 4
	p.viewport.Height = vpHeight
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
