package pages

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/bmtf/internal/app"
	"github.com/buckleypaul/bmtf/internal/orchestrator"
	"github.com/buckleypaul/bmtf/internal/report"
	"github.com/buckleypaul/bmtf/internal/ui"
)

// ReportsPage summarises the reports each request produced once the run
// has finished.
type ReportsPage struct {
	outcomes      []*orchestrator.Outcome
	finished      bool
	viewport      viewport.Model
	width, height int
}

func NewReportsPage() *ReportsPage {
	return &ReportsPage{viewport: viewport.New(0, 0)}
}

func (p *ReportsPage) Init() tea.Cmd { return nil }

func (p *ReportsPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	if done, ok := msg.(app.RunDoneMsg); ok {
		p.finished = true
		p.outcomes = done.Outcomes
		p.viewport.SetContent(p.render())
		p.viewport.GotoTop()
		return p, nil
	}
	if _, ok := msg.(tea.KeyMsg); !ok {
		return p, nil
	}
	var cmd tea.Cmd
	p.viewport, cmd = p.viewport.Update(msg)
	return p, cmd
}

func (p *ReportsPage) render() string {
	var b strings.Builder
	for _, out := range p.outcomes {
		if out == nil {
			continue
		}
		badge := ui.StatusBadge(ui.Passed, "PASS")
		if out.Err != nil {
			badge = ui.StatusBadge(ui.Failed, "FAIL")
		}
		b.WriteString(badge + " " + ui.BoldStyle.Render(out.Request))
		if out.Workspace != nil {
			b.WriteString(ui.DimStyle.Render("  " + out.Workspace.Root))
		}
		b.WriteString("\n")
		if out.Err != nil {
			for _, line := range strings.Split(out.Err.Error(), "\n") {
				b.WriteString("    " + ui.ErrorStyle.Render(line) + "\n")
			}
		}
		if len(out.Reports) == 0 {
			b.WriteString(ui.DimStyle.Render("    no reports") + "\n")
		}
		for _, w := range out.Reports {
			fmt.Fprintf(&b, "    %-24s pass %-3d fail %-3d skip %-3d %s\n",
				w.Suite, w.Results.Count(report.Pass), w.Results.Count(report.Fail), w.Results.Count(report.Skip),
				ui.DimStyle.Render(w.Path))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (p *ReportsPage) View() string {
	var b strings.Builder
	b.WriteString(ui.Title("Reports"))
	b.WriteString("\n")
	if !p.finished {
		b.WriteString(ui.DimStyle.Render("  Reports appear when every request has finished."))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(p.viewport.View())
	return b.String()
}

func (p *ReportsPage) Name() string { return "Reports" }

func (p *ReportsPage) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "scroll")),
	}
}

func (p *ReportsPage) SetSize(w, h int) {
	p.width = w
	p.height = h
	vpHeight := h - 4
	if vpHeight < 3 {
		vpHeight = 3
	}
	p.viewport.Width = w - 4
	p.viewport.Height = vpHeight
}
