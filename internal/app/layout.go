package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/bmtf/internal/ui"
)

const sidebarWidth = 22 // 20 content + 2 border/padding

type runSummary struct {
	active, passed, failed int
	selected               string
	done                   bool
	runErr                 error
}

func renderRunBar(s runSummary, width int) string {
	status := "running"
	if s.done {
		status = "finished"
		if s.runErr != nil {
			status = "finished with errors"
		}
	}
	content := fmt.Sprintf("Run: %s  Active: %d  Passed: %d  Failed: %d", status, s.active, s.passed, s.failed)
	if s.selected != "" {
		content += "  Session: " + s.selected
	}
	return ui.StatusBarStyle.Width(width).Render(content)
}

func renderSidebar(pages []PageID, active PageID, pageMap map[PageID]Page, height int, focused bool) string {
	var b strings.Builder
	if focused {
		b.WriteString(ui.BoldStyle.Render("bmtf [FOCUSED]"))
	} else {
		b.WriteString(ui.TitleStyle.Render("bmtf"))
	}
	b.WriteString("\n\n")

	for _, id := range pages {
		p := pageMap[id]
		if p == nil {
			continue
		}
		if id == active {
			b.WriteString(ui.SidebarActiveStyle.Render("▸ " + p.Name()))
		} else {
			b.WriteString(ui.SidebarItemStyle.Render("  " + p.Name()))
		}
		b.WriteString("\n")
	}

	style := ui.SidebarStyle.Height(height)
	if focused {
		style = style.BorderForeground(ui.Primary)
	}
	return style.Render(b.String())
}

func renderStatusBar(pageHelp []key.Binding, width int, focus FocusArea) string {
	var parts []string

	if focus == FocusSidebar {
		parts = append(parts,
			ui.StatusKey("↑/↓", "navigate"),
			ui.StatusKey("enter", "select"),
			ui.StatusKey("s", "session"),
		)
	} else {
		for _, kb := range pageHelp {
			if kb.Enabled() {
				parts = append(parts, ui.StatusKey(kb.Help().Key, kb.Help().Desc))
			}
		}
	}

	parts = append(parts,
		ui.StatusKey("tab", "focus"),
		ui.StatusKey("?", "help"),
		ui.StatusKey("q", "quit"),
	)

	line := strings.Join(parts, "  ")
	return ui.StatusBarStyle.Width(width).Render(line)
}

func renderHelp(global, page []key.Binding, width int) string {
	var b strings.Builder
	for _, kb := range append(page, global...) {
		h := kb.Help()
		fmt.Fprintf(&b, "%-8s %s\n", h.Key, h.Desc)
	}
	w := width - 4
	if w > 40 {
		w = 40
	}
	return ui.Panel("Keys", strings.TrimRight(b.String(), "\n"), w, 0, true)
}

func renderLayout(runBar, sidebar, content, statusBar string) string {
	main := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, content)
	return lipgloss.JoinVertical(lipgloss.Left, runBar, main, statusBar)
}
