// Package shelltest provides a recording shell.Runner for tests.
package shelltest

import (
	"context"
	"strings"
	"sync"

	"github.com/buckleypaul/bmtf/internal/shell"
)

// Call is one recorded invocation.
type Call struct {
	Name string
	Args []string
}

// Line returns the call as a single space-joined string.
func (c Call) Line() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// FakeRunner records every call and answers through Respond. When Respond
// is nil every command succeeds with empty output.
type FakeRunner struct {
	Respond func(name string, args []string) (shell.Result, error)

	mu    sync.Mutex
	calls []Call
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (shell.Result, error) {
	copied := append([]string(nil), args...)
	f.mu.Lock()
	f.calls = append(f.calls, Call{Name: name, Args: copied})
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return shell.Result{ExitCode: -1}, err
	}
	if f.Respond == nil {
		return shell.Result{}, nil
	}
	return f.Respond(name, copied)
}

// Calls returns a copy of the recorded calls.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Lines returns every recorded call as a joined command line.
func (f *FakeRunner) Lines() []string {
	var lines []string
	for _, c := range f.Calls() {
		lines = append(lines, c.Line())
	}
	return lines
}

// Matching returns the recorded lines containing substr.
func (f *FakeRunner) Matching(substr string) []string {
	var lines []string
	for _, l := range f.Lines() {
		if strings.Contains(l, substr) {
			lines = append(lines, l)
		}
	}
	return lines
}
