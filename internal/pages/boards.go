package pages

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/bmtf/internal/app"
	"github.com/buckleypaul/bmtf/internal/board"
	"github.com/buckleypaul/bmtf/internal/fault"
	"github.com/buckleypaul/bmtf/internal/ui"
)

const heldRefresh = time.Second

type heldMsg struct {
	boards []string
	tick   bool
}

// BoardsPage shows the lab inventory and which boards this run holds.
type BoardsPage struct {
	inventory     board.Inventory
	held          func() []string
	holding       []string
	width, height int
}

// NewBoardsPage polls held for the boards currently reserved.
func NewBoardsPage(inv board.Inventory, held func() []string) *BoardsPage {
	return &BoardsPage{inventory: inv, held: held}
}

func (p *BoardsPage) Init() tea.Cmd { return p.tick() }

func (p *BoardsPage) tick() tea.Cmd {
	return tea.Tick(heldRefresh, func(time.Time) tea.Msg {
		return heldMsg{boards: p.held(), tick: true}
	})
}

func (p *BoardsPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case heldMsg:
		p.holding = msg.boards
		if msg.tick {
			return p, p.tick()
		}

	case app.EventMsg:
		// Refresh right away when a reservation changes hands.
		if ph := msg.Event.Phase; ph == fault.PhaseRelease || (ph == fault.PhaseReserve && msg.Event.Board != "") {
			return p, func() tea.Msg { return heldMsg{boards: p.held()} }
		}
	}
	return p, nil
}

func (p *BoardsPage) View() string {
	var b strings.Builder
	b.WriteString(ui.Title("Boards"))
	b.WriteString("\n")

	if len(p.inventory) == 0 && len(p.holding) == 0 {
		b.WriteString(ui.DimStyle.Render("  The inventory is empty."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(ui.HeaderRowStyle.Render(fmt.Sprintf("  %-6s %-14s %-12s %s", "", "BOARD", "TYPE", "CONSOLE")))
	b.WriteString("\n")
	listed := make(map[string]bool)
	for _, bd := range p.inventory {
		listed[bd.Name] = true
		console := "lab console"
		if bd.SerialPort != "" {
			console = bd.SerialPort
		}
		b.WriteString("  " + p.badge(bd.Name) + " " + fmt.Sprintf("%-14s %-12s %s", bd.Name, bd.Type, console))
		b.WriteString("\n")
	}
	for _, name := range p.holding {
		if listed[name] {
			continue
		}
		b.WriteString("  " + p.badge(name) + " " + fmt.Sprintf("%-14s %-12s %s", name, "-", ui.DimStyle.Render("not in inventory")))
		b.WriteString("\n")
	}
	return b.String()
}

func (p *BoardsPage) badge(name string) string {
	if slices.Contains(p.holding, name) {
		return ui.StatusBadge(ui.Busy, "HELD")
	}
	return ui.StatusBadge(ui.Idle, "FREE")
}

func (p *BoardsPage) Name() string { return "Boards" }

func (p *BoardsPage) ShortHelp() []key.Binding { return nil }

func (p *BoardsPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}
