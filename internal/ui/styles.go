package ui

import "github.com/charmbracelet/lipgloss"

var (
	Primary = lipgloss.Color("63")  // focus, selection
	Header  = lipgloss.Color("86")  // table headers
	Subtle  = lipgloss.Color("241") // unfocused borders, idle badges
	Surface = lipgloss.Color("236") // status bar
	Text    = lipgloss.Color("252")
	TextDim = lipgloss.Color("245")

	SidebarStyle = lipgloss.NewStyle().
			Width(20).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderRight(true).
			BorderTop(false).
			BorderBottom(false).
			BorderLeft(false).
			BorderForeground(Surface).
			Padding(1, 1)

	SidebarItemStyle = lipgloss.NewStyle().
				Foreground(TextDim).
				PaddingLeft(1)

	SidebarActiveStyle = lipgloss.NewStyle().
				Foreground(Primary).
				Bold(true).
				PaddingLeft(1)

	ContentStyle = lipgloss.NewStyle().
			Padding(1, 2)

	StatusBarStyle = lipgloss.NewStyle().
			Foreground(TextDim).
			Background(Surface).
			Padding(0, 1)

	StatusBarKeyStyle = lipgloss.NewStyle().
				Foreground(Text).
				Background(Surface).
				Bold(true)

	TitleStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true).
			MarginBottom(1)

	HeaderRowStyle = lipgloss.NewStyle().
			Foreground(Header).
			Bold(true)

	SelectedRowStyle = lipgloss.NewStyle().
				Foreground(Primary).
				Bold(true)

	BoldStyle  = lipgloss.NewStyle().Bold(true)
	DimStyle   = lipgloss.NewStyle().Foreground(TextDim)
	ErrorStyle = lipgloss.NewStyle().Foreground(statusColors[Failed])
)

// Status is what a badge reports about a session, board or report.
type Status int

const (
	Idle Status = iota
	Busy
	Passed
	Failed
)

var statusColors = map[Status]lipgloss.Color{
	Idle:   Subtle,
	Busy:   lipgloss.Color("214"),
	Passed: lipgloss.Color("78"),
	Failed: lipgloss.Color("196"),
}
