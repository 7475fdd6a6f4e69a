// Package lab drives the external lab allocation, power and console tools.
package lab

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/buckleypaul/bmtf/internal/fault"
	"github.com/buckleypaul/bmtf/internal/shell"
)

// Default command templates for the lab's "target" tool.
const (
	DefaultReserve   = "target {board} -r now-+{lease}"
	DefaultUnreserve = "target {board} -u {token}"
	DefaultPowerOn   = "target {board} -p on"
	DefaultPowerOff  = "target {board} -p off"
	DefaultConsole   = "target {board}"
	DefaultLease     = "5M"
)

// Templates are the command lines used to talk to the lab. Placeholders
// {board}, {lease} and {token} are substituted per word.
type Templates struct {
	Reserve   string `yaml:"reserve,omitempty"`
	Unreserve string `yaml:"unreserve,omitempty"`
	PowerOn   string `yaml:"power_on,omitempty"`
	PowerOff  string `yaml:"power_off,omitempty"`
	Console   string `yaml:"console,omitempty"`
	Lease     string `yaml:"lease,omitempty"`
}

// DefaultTemplates returns the templates for the stock lab tooling.
func DefaultTemplates() Templates {
	return Templates{
		Reserve:   DefaultReserve,
		Unreserve: DefaultUnreserve,
		PowerOn:   DefaultPowerOn,
		PowerOff:  DefaultPowerOff,
		Console:   DefaultConsole,
		Lease:     DefaultLease,
	}
}

// ErrAlreadyReserved marks a refusal by the allocation tool.
var ErrAlreadyReserved = errors.New("board already reserved")

// Tool runs lab commands through a shell.Runner.
type Tool struct {
	runner shell.Runner
	tmpl   Templates
}

// New returns a Tool. Empty templates fall back to the defaults.
func New(runner shell.Runner, tmpl Templates) *Tool {
	def := DefaultTemplates()
	fill := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	fill(&tmpl.Reserve, def.Reserve)
	fill(&tmpl.Unreserve, def.Unreserve)
	fill(&tmpl.PowerOn, def.PowerOn)
	fill(&tmpl.PowerOff, def.PowerOff)
	fill(&tmpl.Console, def.Console)
	fill(&tmpl.Lease, def.Lease)
	return &Tool{runner: runner, tmpl: tmpl}
}

func (t *Tool) vars(board, token string) map[string]string {
	return map[string]string{"board": board, "lease": t.tmpl.Lease, "token": token}
}

// Allocate reserves board and returns the reservation token printed by the
// allocation tool, which is the text after the last '=' of its output.
func (t *Tool) Allocate(ctx context.Context, board string) (string, error) {
	argv := shell.Expand(t.tmpl.Reserve, t.vars(board, ""))
	res, err := t.runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(res.Output)
	if strings.Contains(strings.ToLower(out), "already reserved") {
		return "", fmt.Errorf("%s: %w", board, ErrAlreadyReserved)
	}
	if !res.OK() {
		return "", fmt.Errorf("reserve %s exited with status %d: %s", board, res.ExitCode, out)
	}
	return ParseToken(out)
}

// ParseToken extracts the reservation id from allocation output.
func ParseToken(output string) (string, error) {
	i := strings.LastIndex(output, "=")
	if i < 0 {
		return "", fmt.Errorf("no reservation id in %q", output)
	}
	token := strings.TrimSpace(output[i+1:])
	if fields := strings.Fields(token); len(fields) > 0 {
		token = fields[0]
	}
	if token == "" {
		return "", fmt.Errorf("empty reservation id in %q", output)
	}
	return token, nil
}

// Deallocate releases the reservation identified by token.
func (t *Tool) Deallocate(ctx context.Context, board, token string) error {
	_, err := shell.RunSimple(ctx, t.runner, shell.Expand(t.tmpl.Unreserve, t.vars(board, token)))
	return err
}

// PowerOn switches the board on.
func (t *Tool) PowerOn(ctx context.Context, board string) error {
	if _, err := shell.RunSimple(ctx, t.runner, shell.Expand(t.tmpl.PowerOn, t.vars(board, ""))); err != nil {
		return fault.New(fault.PowerFailure, board, fault.PhaseBoot, err)
	}
	return nil
}

// PowerOff switches the board off.
func (t *Tool) PowerOff(ctx context.Context, board string) error {
	if _, err := shell.RunSimple(ctx, t.runner, shell.Expand(t.tmpl.PowerOff, t.vars(board, ""))); err != nil {
		return fault.New(fault.PowerFailure, board, fault.PhaseRelease, err)
	}
	return nil
}

// ConsoleCommand returns the argv that attaches to the board's console.
func (t *Tool) ConsoleCommand(board string) []string {
	return shell.Expand(t.tmpl.Console, t.vars(board, ""))
}
