package pages

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/bmtf/internal/app"
	"github.com/buckleypaul/bmtf/internal/fault"
	"github.com/buckleypaul/bmtf/internal/session"
	"github.com/buckleypaul/bmtf/internal/ui"
)

type sessionRow struct {
	id      string
	request string
	board   string
	phase   fault.Phase
	state   session.State
	message string
	err     error
	done    bool
}

func (r *sessionRow) badge() string {
	switch {
	case r.err != nil:
		return ui.StatusBadge(ui.Failed, "FAIL")
	case r.done:
		return ui.StatusBadge(ui.Passed, "OK")
	default:
		return ui.StatusBadge(ui.Busy, "RUN")
	}
}

// SessionsPage lists every session of the run with its current phase and
// boot state.
type SessionsPage struct {
	rows          []*sessionRow
	byID          map[string]*sessionRow
	cursor        int
	width, height int
}

func NewSessionsPage() *SessionsPage {
	return &SessionsPage{byID: make(map[string]*sessionRow)}
}

func (p *SessionsPage) Init() tea.Cmd { return nil }

func (p *SessionsPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if p.cursor > 0 {
				p.cursor--
			}
		case "down", "j":
			if p.cursor < len(p.rows)-1 {
				p.cursor++
			}
		case "enter":
			if p.cursor < len(p.rows) {
				id := p.rows[p.cursor].id
				return p, func() tea.Msg { return app.SessionSelectedMsg{ID: id} }
			}
		}

	case app.EventMsg:
		p.apply(msg)

	case app.SessionSelectedMsg:
		for i, r := range p.rows {
			if r.id == msg.ID {
				p.cursor = i
			}
		}
	}
	return p, nil
}

func (p *SessionsPage) apply(msg app.EventMsg) {
	e := msg.Event
	if e.SessionID == "" {
		return
	}
	r, ok := p.byID[e.SessionID]
	if !ok {
		r = &sessionRow{id: e.SessionID, request: e.Request}
		p.byID[e.SessionID] = r
		p.rows = append(p.rows, r)
	}
	if e.Board != "" {
		r.board = e.Board
	}
	if e.State != "" {
		r.state = e.State
	}
	r.phase = e.Phase
	switch {
	case e.Err != nil:
		r.err = e.Err
		r.message = ui.FirstLine(e.Err.Error())
	case e.Message != "":
		r.message = e.Message
	}
	if app.Finished(e) {
		r.done = true
		r.err = e.Err
		if e.Err == nil {
			r.message = "released"
		}
	}
}

func (p *SessionsPage) View() string {
	var b strings.Builder
	b.WriteString(ui.Title("Sessions"))
	b.WriteString("\n")

	if len(p.rows) == 0 {
		b.WriteString(ui.DimStyle.Render("  Waiting for the first reservation..."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(ui.HeaderRowStyle.Render(fmt.Sprintf("  %-6s %-16s %-12s %-8s %-18s %s", "", "REQUEST", "BOARD", "PHASE", "STATE", "LAST")))
	b.WriteString("\n")
	msgWidth := p.width - 72
	if msgWidth < 10 {
		msgWidth = 10
	}
	for i, r := range p.rows {
		board := r.board
		if board == "" {
			board = "-"
		}
		line := fmt.Sprintf("%-16s %-12s %-8s %-18s %s",
			ui.Truncate(r.request, 16), ui.Truncate(board, 12), r.phase, r.state, ui.Truncate(r.message, msgWidth))
		if i == p.cursor {
			b.WriteString(ui.SelectedRowStyle.Render("> ") + r.badge() + " " + ui.SelectedRowStyle.Render(line))
		} else {
			b.WriteString("  " + r.badge() + " " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (p *SessionsPage) Name() string { return "Sessions" }

func (p *SessionsPage) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "select")),
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "events")),
	}
}

func (p *SessionsPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}
