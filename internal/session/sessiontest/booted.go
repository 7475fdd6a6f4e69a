// Package sessiontest builds sessions that have already booted, for tests of
// the phases that follow boot.
package sessiontest

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/bmtf/internal/board"
	"github.com/buckleypaul/bmtf/internal/logging"
	"github.com/buckleypaul/bmtf/internal/reserve"
	"github.com/buckleypaul/bmtf/internal/session"
	"github.com/buckleypaul/bmtf/internal/shell/shelltest"
)

const consoleDescriptor = `commands:
  ramdisk_boot: ["boot"]
attributes:
  root_prompt: "root@testboard:~#"
  has_ssh: yes
`

// Booted returns a console-booted session in Ready with the given address.
func Booted(t *testing.T, name, address string) *session.Session {
	t.Helper()
	desc, err := board.Parse("testboard", []byte(consoleDescriptor))
	require.NoError(t, err)

	s := session.New("sess-"+name, board.Board{Name: name, Type: "testboard"}, "master", desc,
		&reserve.Reservation{Board: name, Token: "tok", AcquiredAt: time.Now()})
	c := &session.Controller{
		Power:      noPower{},
		ScratchDir: t.TempDir(),
		Timeouts:   session.Timeouts{Console: 5 * time.Second, Prompt: 5 * time.Second, Boot: 5 * time.Second},
		Dial: func(context.Context, board.Board) (io.ReadWriteCloser, error) {
			return newOSConsole(address), nil
		},
	}
	require.NoError(t, c.Boot(context.Background(), s, logging.Discard(), "ramdisk", nil))
	require.Equal(t, address, s.Address())
	return s
}

// IPMI returns an IPMI-managed session in Ready. A non-empty address is the
// management address.
func IPMI(t *testing.T, name, address, runner string) *session.Session {
	t.Helper()
	desc := &board.Descriptor{
		Type: "ipmiboard",
		Commands: board.Commands{IPMI: &board.IPMITools{
			SetupScript:         "true",
			RemoteCommandRunner: runner,
			Address:             address,
		}},
		Attributes: board.Attributes{IPMIManaged: true},
	}
	s := session.New("sess-"+name, board.Board{Name: name, Type: "ipmiboard"}, "master", desc, nil)
	c := &session.Controller{Power: noPower{}, Runner: &shelltest.FakeRunner{}}
	require.NoError(t, c.Boot(context.Background(), s, logging.Discard(), "", nil))
	return s
}

type noPower struct{}

func (noPower) PowerOn(context.Context, string) error { return nil }

// osConsole is a console already sitting at the root prompt.
type osConsole struct {
	pr      *io.PipeReader
	pw      *io.PipeWriter
	address string
	pending strings.Builder
}

func newOSConsole(address string) *osConsole {
	pr, pw := io.Pipe()
	c := &osConsole{pr: pr, pw: pw, address: address}
	go pw.Write([]byte("root@testboard:~# "))
	return c
}

func (c *osConsole) Read(p []byte) (int, error) { return c.pr.Read(p) }

func (c *osConsole) Write(p []byte) (int, error) {
	for _, r := range string(p) {
		if r != '\n' {
			c.pending.WriteRune(r)
			continue
		}
		line := strings.TrimSpace(c.pending.String())
		c.pending.Reset()
		if strings.HasPrefix(line, "ifconfig") {
			out := line + "\n          inet addr:" + c.address + "  Mask:255.255.255.0\nroot@testboard:~# "
			if _, err := c.pw.Write([]byte(out)); err != nil {
				return 0, err
			}
		}
	}
	return len(p), nil
}

func (c *osConsole) Close() error {
	c.pw.Close()
	return c.pr.Close()
}
