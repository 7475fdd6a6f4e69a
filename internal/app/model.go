package app

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/bmtf/internal/ui"
)

type FocusArea int

const (
	FocusSidebar FocusArea = iota
	FocusContent
)

// sessionRef is what the monitor shell knows about a session.
type sessionRef struct {
	id      string
	request string
	board   string
	state   string
	failed  bool
	done    bool
}

type Model struct {
	pages      map[PageID]Page
	activePage PageID
	focus      FocusArea
	width      int
	height     int
	showHelp   bool
	picker     *Picker

	sessions []*sessionRef
	byID     map[string]*sessionRef
	selected string
	done     bool
	runErr   error
}

func New(pages map[PageID]Page) Model {
	return Model{
		pages: pages,
		byID:  make(map[string]*sessionRef),
	}
}

func (m Model) Init() tea.Cmd {
	var cmds []tea.Cmd
	for _, p := range m.pages {
		if cmd := p.Init(); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		contentWidth, contentHeight := m.contentSize()
		for _, p := range m.pages {
			p.SetSize(contentWidth, contentHeight)
		}
		return m, nil

	case EventMsg:
		m.track(msg)

	case RunDoneMsg:
		m.done = true
		m.runErr = msg.Err

	case PickerSelectedMsg:
		m.picker = nil
		id := msg.Value
		return m, func() tea.Msg { return SessionSelectedMsg{ID: id} }

	case PickerClosedMsg:
		m.picker = nil
		return m, nil

	case SessionSelectedMsg:
		m.selected = msg.ID
		m.activePage = EventsPage
		m.focus = FocusContent

	case tea.KeyMsg:
		if m.picker != nil {
			var cmd tea.Cmd
			m.picker, cmd = m.picker.Update(msg)
			return m, cmd
		}

		switch {
		case key.Matches(msg, GlobalKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, GlobalKeys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, GlobalKeys.ToggleFocus):
			if m.focus == FocusSidebar {
				m.focus = FocusContent
			} else {
				m.focus = FocusSidebar
			}
			return m, nil
		}

		if m.focus == FocusSidebar {
			if key.Matches(msg, GlobalKeys.SessionPicker) {
				m.openPicker()
				return m, nil
			}
			switch msg.String() {
			case "up", "k":
				m.prevPage()
			case "down", "j":
				m.nextPage()
			case "enter", "right":
				m.focus = FocusContent
			}
			return m, nil
		}

		if msg.String() == "left" {
			m.focus = FocusSidebar
			return m, nil
		}
		page := m.pages[m.activePage]
		newPage, cmd := page.Update(msg)
		m.pages[m.activePage] = newPage
		return m, cmd
	}

	// Everything else goes to every page so background pages stay current.
	var cmds []tea.Cmd
	for id, page := range m.pages {
		newPage, cmd := page.Update(msg)
		m.pages[id] = newPage
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	contentWidth, contentHeight := m.contentSize()
	page := m.pages[m.activePage]

	runBar := renderRunBar(m.summary(), m.width)
	sidebar := renderSidebar(PageOrder, m.activePage, m.pages, contentHeight, m.focus == FocusSidebar)
	content := ui.ContentStyle.
		Width(contentWidth).
		Height(contentHeight).
		Render(page.View())

	switch {
	case m.picker != nil:
		m.picker.SetSize(contentWidth, contentHeight)
		content = lipgloss.Place(contentWidth, contentHeight, lipgloss.Center, lipgloss.Center, m.picker.View())
	case m.showHelp:
		content = lipgloss.Place(contentWidth, contentHeight, lipgloss.Center, lipgloss.Center,
			renderHelp(GlobalKeys.bindings(), page.ShortHelp(), contentWidth))
	}

	statusBar := renderStatusBar(page.ShortHelp(), m.width, m.focus)

	return renderLayout(runBar, sidebar, content, statusBar)
}

func (m Model) contentSize() (int, int) {
	return m.width - sidebarWidth, m.height - 2 - 1 // status bar + run bar
}

func (m *Model) track(msg EventMsg) {
	e := msg.Event
	if e.SessionID == "" {
		return
	}
	ref, ok := m.byID[e.SessionID]
	if !ok {
		ref = &sessionRef{id: e.SessionID, request: e.Request}
		m.byID[e.SessionID] = ref
		m.sessions = append(m.sessions, ref)
	}
	if e.Board != "" {
		ref.board = e.Board
	}
	if e.State != "" {
		ref.state = string(e.State)
	}
	if e.Err != nil {
		ref.failed = true
	}
	if Finished(e) {
		ref.done = true
		ref.failed = e.Err != nil
	}
}

func (m Model) summary() runSummary {
	s := runSummary{done: m.done, runErr: m.runErr}
	for _, ref := range m.sessions {
		switch {
		case !ref.done:
			s.active++
		case ref.failed:
			s.failed++
		default:
			s.passed++
		}
	}
	if ref, ok := m.byID[m.selected]; ok {
		s.selected = ref.label()
	}
	return s
}

func (m *Model) openPicker() {
	m.picker = NewPicker("Select Session")
	var items []PickerItem
	for _, ref := range m.sessions {
		items = append(items, PickerItem{Label: ref.label(), Value: ref.id, Desc: ref.state})
	}
	m.picker.SetItems(items)
	m.picker.SetSize(m.contentSize())
}

func (r *sessionRef) label() string {
	board := r.board
	if board == "" {
		board = "unreserved"
	}
	return r.request + " @ " + board
}

func (m *Model) nextPage() {
	for i, id := range PageOrder {
		if id == m.activePage {
			m.activePage = PageOrder[(i+1)%len(PageOrder)]
			return
		}
	}
}

func (m *Model) prevPage() {
	for i, id := range PageOrder {
		if id == m.activePage {
			m.activePage = PageOrder[(i-1+len(PageOrder))%len(PageOrder)]
			return
		}
	}
}
