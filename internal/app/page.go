package app

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/bmtf/internal/fault"
	"github.com/buckleypaul/bmtf/internal/orchestrator"
)

// PageID identifies each page in the monitor.
type PageID int

const (
	SessionsPage PageID = iota
	EventsPage
	BoardsPage
	ReportsPage
)

var PageOrder = []PageID{
	SessionsPage,
	EventsPage,
	BoardsPage,
	ReportsPage,
}

// Page is the interface every page in the monitor implements.
type Page interface {
	Init() tea.Cmd
	Update(msg tea.Msg) (Page, tea.Cmd)
	View() string
	Name() string
	ShortHelp() []key.Binding
	SetSize(width, height int)
}

// EventMsg carries one orchestrator event into the program.
type EventMsg struct {
	Event orchestrator.Event
}

// RunDoneMsg is sent once every request has finished.
type RunDoneMsg struct {
	Outcomes []*orchestrator.Outcome
	Err      error
}

// SessionSelectedMsg is broadcast to all pages when a session is chosen.
type SessionSelectedMsg struct {
	ID string
}

// Finished reports whether e is the last event of its session: the release,
// or a reservation that never succeeded.
func Finished(e orchestrator.Event) bool {
	return e.Phase == fault.PhaseRelease || (e.Phase == fault.PhaseReserve && e.Err != nil)
}
