// Package remotetest provides an in-memory remote.Remote for tests.
package remotetest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/buckleypaul/bmtf/internal/shell"
)

// Op is one recorded remote operation.
type Op struct {
	Kind    string // run, copy, fetch, forget
	Host    string
	Command string
	Local   []string
	Remote  string
}

// FakeRemote records operations. RunFunc answers Run calls; Files are
// written into the local directory by a successful Fetch.
type FakeRemote struct {
	RunFunc func(host, command string) (shell.Result, error)
	// FailOn makes the first operation whose kind:detail string contains the
	// key fail with the mapped error.
	FailOn map[string]error
	Files  map[string]string

	mu  sync.Mutex
	ops []Op
}

func (f *FakeRemote) record(op Op, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	for key, err := range f.FailOn {
		if strings.Contains(op.Kind+":"+detail, key) {
			return err
		}
	}
	return nil
}

func (f *FakeRemote) Run(ctx context.Context, host, command string) (shell.Result, error) {
	if err := f.record(Op{Kind: "run", Host: host, Command: command}, command); err != nil {
		return shell.Result{ExitCode: -1}, err
	}
	if err := ctx.Err(); err != nil {
		return shell.Result{ExitCode: -1}, err
	}
	if f.RunFunc != nil {
		return f.RunFunc(host, command)
	}
	return shell.Result{}, nil
}

func (f *FakeRemote) CopyTo(ctx context.Context, host string, local []string, remoteDir string) error {
	return f.record(Op{Kind: "copy", Host: host, Local: append([]string(nil), local...), Remote: remoteDir},
		strings.Join(local, " ")+" "+remoteDir)
}

func (f *FakeRemote) Fetch(ctx context.Context, host, pattern, localDir string) error {
	if err := f.record(Op{Kind: "fetch", Host: host, Remote: pattern, Local: []string{localDir}}, pattern); err != nil {
		return err
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return err
	}
	for name, content := range f.Files {
		if err := os.WriteFile(filepath.Join(localDir, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeRemote) ForgetHost(ctx context.Context, host string) error {
	return f.record(Op{Kind: "forget", Host: host}, host)
}

// Ops returns a copy of the recorded operations.
func (f *FakeRemote) Ops() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Op(nil), f.ops...)
}

// Commands returns the commands of every recorded Run.
func (f *FakeRemote) Commands() []string {
	var out []string
	for _, op := range f.Ops() {
		if op.Kind == "run" {
			out = append(out, op.Command)
		}
	}
	return out
}

// Kinds returns the kind of every recorded operation in order.
func (f *FakeRemote) Kinds() []string {
	var out []string
	for _, op := range f.Ops() {
		out = append(out, op.Kind)
	}
	return out
}
