package shell

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result bundles all output from a finished command.
type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Runner executes local commands. The lab CLI, the system ssh/scp tools and
// the IPMI helper scripts all go through it so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// DefaultRunner runs commands with os/exec.
type DefaultRunner struct {
	// Env, when non-nil, replaces the inherited environment.
	Env []string
	// Dir is the working directory; empty means the current one.
	Dir string
}

// Run executes the command and returns its combined output. A non-zero exit
// is reported through Result.ExitCode with a nil error; err is only set when
// the command could not run at all or ctx expired.
func (r DefaultRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	if r.Dir != "" {
		cmd.Dir = r.Dir
	}

	output, err := cmd.CombinedOutput()
	res := Result{Output: string(output), Duration: time.Since(start)}
	if err != nil {
		if ctx.Err() != nil {
			res.ExitCode = -1
			return res, fmt.Errorf("%s: %w", name, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}

// RunSimple executes argv and returns the output, turning a non-zero exit
// into an error that carries the output.
func RunSimple(ctx context.Context, r Runner, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("empty command")
	}
	res, err := r.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		return res.Output, err
	}
	if !res.OK() {
		return res.Output, fmt.Errorf("%s exited with status %d: %s",
			argv[0], res.ExitCode, strings.TrimSpace(res.Output))
	}
	return res.Output, nil
}

// Expand turns a command template such as "target {board} -p on" into argv,
// substituting {key} placeholders per word so values containing spaces stay
// a single argument.
func Expand(template string, vars map[string]string) []string {
	words := strings.Fields(template)
	argv := make([]string, 0, len(words))
	for _, w := range words {
		for k, v := range vars {
			w = strings.ReplaceAll(w, "{"+k+"}", v)
		}
		argv = append(argv, w)
	}
	return argv
}
