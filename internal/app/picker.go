package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/bmtf/internal/ui"
)

// PickerItem is one session offered by the picker.
type PickerItem struct {
	Label string // request @ board
	Value string // session ID
	Desc  string // boot state
}

// PickerSelectedMsg is sent when the user selects an item.
type PickerSelectedMsg struct {
	Value string
}

// PickerClosedMsg is sent when the user closes the picker without selecting.
type PickerClosedMsg struct{}

// Picker is a filtered-list overlay for jumping to one session.
type Picker struct {
	title    string
	items    []PickerItem
	filtered []PickerItem
	input    textinput.Model
	cursor   int
	width    int
	height   int
}

const maxPickerItems = 12

func NewPicker(title string) *Picker {
	ti := textinput.New()
	ti.Placeholder = "board, request or state..."
	ti.Prompt = "> "
	ti.Focus()
	ti.CharLimit = 64

	return &Picker{title: title, input: ti}
}

func (p *Picker) SetItems(items []PickerItem) {
	p.items = items
	p.filter()
}

func (p *Picker) SetSize(w, h int) {
	p.width = w
	p.height = h
}

func (p *Picker) Update(msg tea.Msg) (*Picker, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			return p, func() tea.Msg { return PickerClosedMsg{} }
		case "enter":
			if p.cursor < len(p.filtered) {
				value := p.filtered[p.cursor].Value
				return p, func() tea.Msg { return PickerSelectedMsg{Value: value} }
			}
			return p, nil
		case "up":
			if p.cursor > 0 {
				p.cursor--
			}
			return p, nil
		case "down":
			if p.cursor < len(p.filtered)-1 {
				p.cursor++
			}
			return p, nil
		}
	}

	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	p.filter()
	return p, cmd
}

// window returns the visible slice bounds, keeping the cursor in view.
func (p *Picker) window() (int, int) {
	visible := min(maxPickerItems, len(p.filtered))
	start := 0
	if p.cursor >= visible {
		start = p.cursor - visible + 1
	}
	return start, start + visible
}

func (p *Picker) View() string {
	boxWidth := max(30, min(p.width-4, 64))
	inner := boxWidth - 4

	var b strings.Builder
	p.input.Width = inner - 3
	b.WriteString(p.input.View())
	b.WriteString("\n\n")

	start, end := p.window()
	for i := start; i < end; i++ {
		item := p.filtered[i]
		label := ui.Truncate(item.Label, inner-len(item.Desc)-6)
		state := ui.DimStyle.Render(item.Desc)
		if i == p.cursor {
			b.WriteString(ui.SelectedRowStyle.Render("> "+label) + "  " + state)
		} else {
			b.WriteString("  " + label + "  " + state)
		}
		b.WriteString("\n")
	}
	if len(p.filtered) == 0 {
		b.WriteString(ui.DimStyle.Render("  No matching sessions"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(ui.DimStyle.Render(fmt.Sprintf("(%d/%d sessions)  enter:events  esc:close", len(p.filtered), len(p.items))))

	return ui.Panel(p.title, b.String(), boxWidth, 0, true)
}

func (p *Picker) filter() {
	query := strings.ToLower(p.input.Value())
	p.filtered = p.filtered[:0]
	for _, item := range p.items {
		if query == "" || fuzzyMatch(strings.ToLower(item.Label+" "+item.Desc), query) {
			p.filtered = append(p.filtered, item)
		}
	}
	p.cursor = max(0, min(p.cursor, len(p.filtered)-1))
}

// fuzzyMatch reports whether the bytes of query appear in s in order.
func fuzzyMatch(s, query string) bool {
	qi := 0
	for i := 0; i < len(s) && qi < len(query); i++ {
		if s[i] == query[qi] {
			qi++
		}
	}
	return qi == len(query)
}
