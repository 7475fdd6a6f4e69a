package app

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func pickerWith(items ...PickerItem) *Picker {
	p := NewPicker("Select Session")
	p.SetSize(100, 30)
	p.SetItems(items)
	return p
}

func TestPickerFiltersOnLabelAndState(t *testing.T) {
	p := pickerWith(
		PickerItem{Label: "smoke @ rpi-01", Value: "s1", Desc: "Ready"},
		PickerItem{Label: "stress @ srv-01", Value: "s2", Desc: "Failed"},
	)

	for _, r := range "fail" {
		p, _ = p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	if len(p.filtered) != 1 || p.filtered[0].Value != "s2" {
		t.Fatalf("expected only s2 to match, got %+v", p.filtered)
	}
	if len(p.items) != 2 {
		t.Fatalf("filtering must not change the items, got %+v", p.items)
	}

	_, cmd := p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if msg, ok := cmd().(PickerSelectedMsg); !ok || msg.Value != "s2" {
		t.Fatalf("expected s2 selected, got %#v", cmd())
	}
}

func TestPickerView(t *testing.T) {
	p := pickerWith(PickerItem{Label: "smoke @ rpi-01", Value: "s1", Desc: "Ready"})
	view := p.View()
	for _, want := range []string{"Select Session", "smoke @ rpi-01", "(1/1 sessions)"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in picker:\n%s", want, view)
		}
	}

	empty := pickerWith()
	if _, cmd := empty.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatal("enter on an empty picker must not select")
	}
	if !strings.Contains(empty.View(), "No matching sessions") {
		t.Fatalf("expected empty notice:\n%s", empty.View())
	}
}

func TestPickerCursorWindow(t *testing.T) {
	var items []PickerItem
	for i := 0; i < maxPickerItems+5; i++ {
		items = append(items, PickerItem{Label: "req", Value: string(rune('a' + i))})
	}
	p := pickerWith(items...)
	for i := 0; i < maxPickerItems+10; i++ {
		p, _ = p.Update(tea.KeyMsg{Type: tea.KeyDown})
	}
	if p.cursor != len(items)-1 {
		t.Fatalf("expected cursor on the last item, got %d", p.cursor)
	}
	start, end := p.window()
	if end != len(items) || end-start != maxPickerItems {
		t.Fatalf("unexpected window %d..%d", start, end)
	}
}
