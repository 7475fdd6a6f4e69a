package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeConsole is an in-memory console. Board output is written to the pipe
// writer; whatever the expecter sends lands in sent.
type pipeConsole struct {
	*io.PipeReader
	sent *bytes.Buffer
}

func (p *pipeConsole) Write(b []byte) (int, error) {
	p.sent.Write(b)
	return len(b), nil
}

func newPipeConsole() (*pipeConsole, *io.PipeWriter) {
	pr, pw := io.Pipe()
	return &pipeConsole{PipeReader: pr, sent: &bytes.Buffer{}}, pw
}

func mustCompile(t *testing.T, patterns ...string) []*regexp.Regexp {
	t.Helper()
	res, err := Compile(patterns...)
	require.NoError(t, err)
	return res
}

func TestExpectMatchesAcrossChunks(t *testing.T) {
	con, boardOut := newPipeConsole()
	var transcript bytes.Buffer
	e := NewExpecter(con, &transcript)
	defer e.Close()

	go func() {
		boardOut.Write([]byte("Hit any key to stop autoboot\nU-"))
		boardOut.Write([]byte("Boot> "))
	}()

	m, err := e.Expect(context.Background(), time.Second, mustCompile(t, `login:`, `U-Boot>`)...)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Index)
	assert.Equal(t, "U-Boot>", m.Text)
	assert.Equal(t, "Hit any key to stop autoboot\n", m.Before)
	assert.Contains(t, transcript.String(), "autoboot")
}

func TestExpectFirstDeclaredPatternWins(t *testing.T) {
	con, boardOut := newPipeConsole()
	e := NewExpecter(con, nil)
	defer e.Close()

	go boardOut.Write([]byte("rpi login: root@rpi:~# "))

	m, err := e.Expect(context.Background(), time.Second, mustCompile(t, `root@rpi:~#`, `login:`)...)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Index)
}

func TestExpectConsumesMatchedOutput(t *testing.T) {
	con, boardOut := newPipeConsole()
	e := NewExpecter(con, nil)
	defer e.Close()

	go boardOut.Write([]byte("U-Boot> U-Boot> "))

	prompt := mustCompile(t, `U-Boot>`)
	_, err := e.Expect(context.Background(), time.Second, prompt...)
	require.NoError(t, err)
	_, err = e.Expect(context.Background(), time.Second, prompt...)
	require.NoError(t, err)

	_, err = e.Expect(context.Background(), 30*time.Millisecond, prompt...)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestDiscardDropsStaleOutput(t *testing.T) {
	con, boardOut := newPipeConsole()
	e := NewExpecter(con, nil)
	defer e.Close()

	prompt := mustCompile(t, `root@board:~#`)
	go boardOut.Write([]byte("root@board:~# \nroot@board:~# "))
	_, err := e.Expect(context.Background(), time.Second, prompt...)
	require.NoError(t, err)

	e.Discard()
	go boardOut.Write([]byte("inet addr:10.0.0.9\nroot@board:~# "))
	m, err := e.Expect(context.Background(), time.Second, prompt...)
	require.NoError(t, err)
	assert.Equal(t, "inet addr:10.0.0.9\n", m.Before)
}

func TestExpectTimeout(t *testing.T) {
	con, boardOut := newPipeConsole()
	e := NewExpecter(con, nil)
	defer e.Close()

	go boardOut.Write([]byte("garbage"))

	m, err := e.Expect(context.Background(), 50*time.Millisecond, mustCompile(t, `U-Boot>`)...)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, -1, m.Index)
}

func TestExpectStreamClosed(t *testing.T) {
	con, boardOut := newPipeConsole()
	e := NewExpecter(con, nil)
	defer e.Close()

	go func() {
		boardOut.Write([]byte("bye"))
		boardOut.Close()
	}()

	_, err := e.Expect(context.Background(), time.Second, mustCompile(t, `U-Boot>`)...)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestExpectContextCancelled(t *testing.T) {
	con, _ := newPipeConsole()
	e := NewExpecter(con, nil)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Expect(ctx, time.Second, mustCompile(t, `x`)...)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSendLine(t *testing.T) {
	con, _ := newPipeConsole()
	e := NewExpecter(con, nil)
	defer e.Close()

	require.NoError(t, e.SendLine("printenv"))
	require.NoError(t, e.Send("\x1d"))
	assert.Equal(t, "printenv\n\x1d", con.sent.String())
	assert.NoError(t, e.Close())
	assert.NoError(t, e.Close())
}

func TestCompileRejectsBadPattern(t *testing.T) {
	_, err := Compile(`ok`, `([`)
	assert.Error(t, err)
}

func TestStartCommand(t *testing.T) {
	rw, err := StartCommand([]string{"sh", "-c", "read line; echo got $line"})
	require.NoError(t, err)
	e := NewExpecter(rw, nil)
	defer e.Close()

	require.NoError(t, e.SendLine("hello"))
	m, err := e.Expect(context.Background(), 5*time.Second, mustCompile(t, `got (\w+)`)...)
	require.NoError(t, err)
	assert.Equal(t, "got hello", m.Text)

	_, err = e.Expect(context.Background(), 5*time.Second, mustCompile(t, `never`)...)
	assert.True(t, errors.Is(err, ErrClosed))

	_, err = StartCommand(nil)
	assert.Error(t, err)
}
