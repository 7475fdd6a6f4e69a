package console

import (
	"errors"
	"io"
	"os/exec"
	"sync"
)

// process is a console reached through a local attach command such as the
// lab's "target <board>". stdout and stderr are merged into one stream.
type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   *io.PipeReader

	closeOnce sync.Once
}

// StartCommand launches argv and returns its stdio as a console stream. The
// process lives until Close.
func StartCommand(argv []string) (io.ReadWriteCloser, error) {
	if len(argv) == 0 {
		return nil, errors.New("console: empty attach command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() {
		// A nil error makes readers see io.EOF once the command exits.
		pw.CloseWithError(cmd.Wait())
	}()
	return &process{cmd: cmd, stdin: stdin, out: pr}, nil
}

func (p *process) Read(b []byte) (int, error) { return p.out.Read(b) }

func (p *process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *process) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		_ = p.out.Close()
	})
	return nil
}
