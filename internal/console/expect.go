// Package console drives an interactive board console: it reads the byte
// stream in the background and lets callers block until one of several
// patterns shows up.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned when no pattern matched in time.
	ErrTimeout = errors.New("console: timed out waiting for pattern")
	// ErrClosed is returned when the console stream ended.
	ErrClosed = errors.New("console: stream closed")
)

// maxBuffer bounds the unmatched output kept for matching.
const maxBuffer = 64 * 1024

// Match describes a successful Expect.
type Match struct {
	// Index is the position of the matching pattern in the argument list.
	Index int
	// Before is the output preceding the match.
	Before string
	// Text is the matched text.
	Text string
}

// Expecter matches patterns against console output.
type Expecter struct {
	rw         io.ReadWriteCloser
	transcript io.Writer

	chunks  chan []byte
	readErr error
	done    chan struct{}

	writeMu sync.Mutex
	buf     []byte

	closeOnce sync.Once
	closeErr  error
}

// NewExpecter starts reading rw. Everything read is copied to transcript
// when it is non-nil.
func NewExpecter(rw io.ReadWriteCloser, transcript io.Writer) *Expecter {
	e := &Expecter{
		rw:         rw,
		transcript: transcript,
		chunks:     make(chan []byte, 64),
		done:       make(chan struct{}),
	}
	go e.readLoop()
	return e
}

func (e *Expecter) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := e.rw.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if e.transcript != nil {
				_, _ = e.transcript.Write(chunk)
			}
			select {
			case e.chunks <- chunk:
			case <-e.done:
				err = io.ErrClosedPipe
			}
		}
		if err != nil {
			e.readErr = err
			close(e.chunks)
			return
		}
	}
}

// Expect blocks until one of patterns matches the pending output, the
// timeout elapses, ctx is done or the stream ends. When several patterns
// match, the first one in argument order wins. Output up to the end of the
// match is consumed.
func (e *Expecter) Expect(ctx context.Context, timeout time.Duration, patterns ...*regexp.Regexp) (Match, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if m, ok := e.search(patterns); ok {
			return m, nil
		}
		select {
		case chunk, ok := <-e.chunks:
			if !ok {
				if m, found := e.search(patterns); found {
					return m, nil
				}
				return Match{Index: -1, Before: string(e.buf)}, fmt.Errorf("%w: %v", ErrClosed, e.readErr)
			}
			e.buf = append(e.buf, chunk...)
			if len(e.buf) > maxBuffer {
				e.buf = e.buf[len(e.buf)-maxBuffer:]
			}
		case <-timer.C:
			return Match{Index: -1, Before: string(e.buf)}, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case <-ctx.Done():
			return Match{Index: -1, Before: string(e.buf)}, ctx.Err()
		}
	}
}

func (e *Expecter) search(patterns []*regexp.Regexp) (Match, bool) {
	for i, p := range patterns {
		loc := p.FindIndex(e.buf)
		if loc == nil {
			continue
		}
		m := Match{Index: i, Before: string(e.buf[:loc[0]]), Text: string(e.buf[loc[0]:loc[1]])}
		e.buf = append([]byte(nil), e.buf[loc[1]:]...)
		return m, true
	}
	return Match{}, false
}

// Discard drops the output received so far that no Expect has consumed.
// It is still in the transcript.
func (e *Expecter) Discard() {
	e.buf = nil
	for {
		select {
		case _, ok := <-e.chunks:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Send writes s to the console as is.
func (e *Expecter) Send(s string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_, err := io.WriteString(e.rw, s)
	return err
}

// SendLine writes s followed by a newline.
func (e *Expecter) SendLine(s string) error {
	return e.Send(s + "\n")
}

// Close closes the underlying stream. It is safe to call more than once.
func (e *Expecter) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		e.closeErr = e.rw.Close()
	})
	return e.closeErr
}

// Compile compiles each pattern, naming the offending one on error.
func Compile(patterns ...string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("console pattern %q: %w", p, err)
		}
		out[i] = re
	}
	return out, nil
}
