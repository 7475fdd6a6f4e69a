package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/bmtf/internal/board"
	"github.com/buckleypaul/bmtf/internal/fault"
	"github.com/buckleypaul/bmtf/internal/logging"
	"github.com/buckleypaul/bmtf/internal/shell"
	"github.com/buckleypaul/bmtf/internal/shell/shelltest"
)

const rpiDescriptor = `commands:
  ramdisk_boot:
    - "setenv bootargs console=ttyS0"
    - "tftp 0x1000000 {IMAGE}"
    - "booti 0x1000000 - 0x2000000"
attributes:
  root_prompt: "root@raspberrypi3-64:~#"
  login_prompt: "raspberrypi3-64 login:"
  has_ssh: yes
`

const ifconfigOutput = "eth0      Link encap:Ethernet  HWaddr b8:27:eb:00:00:01\n" +
	"          inet addr:192.168.1.50  Bcast:192.168.1.255  Mask:255.255.255.0\n"

// scriptedBoard plays the board side of a console. Each complete line the
// controller sends is answered with reply(line).
type scriptedBoard struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	pending strings.Builder
	lines   []string
	reply   func(line string) string
}

func newScriptedBoard(banner string, reply func(string) string) *scriptedBoard {
	pr, pw := io.Pipe()
	b := &scriptedBoard{pr: pr, pw: pw, reply: reply}
	if banner != "" {
		go pw.Write([]byte(banner))
	}
	return b
}

func (b *scriptedBoard) Read(p []byte) (int, error) { return b.pr.Read(p) }

func (b *scriptedBoard) Write(p []byte) (int, error) {
	b.mu.Lock()
	var answers []string
	for _, c := range string(p) {
		if c != '\n' {
			b.pending.WriteRune(c)
			continue
		}
		line := strings.TrimSpace(b.pending.String())
		b.pending.Reset()
		b.lines = append(b.lines, line)
		if b.reply != nil {
			answers = append(answers, b.reply(line))
		}
	}
	b.mu.Unlock()

	for _, a := range answers {
		if a == "" {
			continue
		}
		if _, err := b.pw.Write([]byte(a)); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (b *scriptedBoard) Close() error {
	b.pw.Close()
	return b.pr.Close()
}

func (b *scriptedBoard) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

type fakePower struct {
	err error
	on  []string
}

func (f *fakePower) PowerOn(_ context.Context, board string) error {
	f.on = append(f.on, board)
	return f.err
}

func rpiReply(line string) string {
	switch {
	case strings.HasPrefix(line, "booti"):
		return "Starting kernel ...\n\nPoky (Yocto Project Reference Distro)\nraspberrypi3-64 login: "
	case strings.HasPrefix(line, "setenv"), strings.HasPrefix(line, "tftp"):
		return "U-Boot> "
	case line == "root":
		return "Password-less login\nroot@raspberrypi3-64:~# "
	case line == "ifconfig eth0":
		return "ifconfig eth0\n" + ifconfigOutput + "root@raspberrypi3-64:~# "
	}
	return ""
}

type fixture struct {
	ctrl        *Controller
	power       *fakePower
	runner      *shelltest.FakeRunner
	board       *scriptedBoard
	transitions []Transition
	scratch     string
}

func newFixture(t *testing.T, con *scriptedBoard) *fixture {
	t.Helper()
	f := &fixture{power: &fakePower{}, runner: &shelltest.FakeRunner{}, board: con, scratch: t.TempDir()}
	var mu sync.Mutex
	f.ctrl = &Controller{
		Power:  f.power,
		Runner: f.runner,
		Dial: func(context.Context, board.Board) (io.ReadWriteCloser, error) {
			if f.board == nil {
				return nil, errors.New("no console attached")
			}
			return f.board, nil
		},
		ScratchDir:    f.scratch,
		TranscriptDir: filepath.Join(f.scratch, "logs"),
		Timeouts:      Timeouts{Console: time.Second, Boot: time.Second, Prompt: time.Second},
		Observe: func(tr Transition) {
			mu.Lock()
			f.transitions = append(f.transitions, tr)
			mu.Unlock()
		},
	}
	return f
}

func (f *fixture) states() []State {
	var out []State
	for _, tr := range f.transitions {
		out = append(out, tr.State)
	}
	return out
}

func newSession(t *testing.T, doc string) *Session {
	t.Helper()
	desc, err := board.Parse("raspberrypi3", []byte(doc))
	require.NoError(t, err)
	return New("s-1", board.Board{Name: "rpi3-01", Type: "raspberrypi3"}, "master", desc, nil)
}

var imageParams = map[string]string{"kernel": "Image", "dtb": "rpi.dtb", "rootfs": "rootfs.cpio"}

func TestRamdiskBootReachesReady(t *testing.T) {
	con := newScriptedBoard("U-Boot 2019.07\nHit any key to stop autoboot\nU-Boot> ", rpiReply)
	f := newFixture(t, con)
	s := newSession(t, rpiDescriptor)

	var addrBeforeOS []string
	observe := f.ctrl.Observe
	f.ctrl.Observe = func(tr Transition) {
		if tr.State != IPAcquired && tr.State != Ready && s.Address() != "" {
			addrBeforeOS = append(addrBeforeOS, string(tr.State))
		}
		observe(tr)
	}

	err := f.ctrl.Boot(context.Background(), s, logging.Discard(), "ramdisk", imageParams)
	require.NoError(t, err)

	assert.Equal(t, Ready, s.State())
	assert.Equal(t, "192.168.1.50", s.Address())
	assert.Empty(t, addrBeforeOS)
	assert.Equal(t, []State{ConsoleConnecting, BootloaderPrompt, OSLoginPrompt, OSConsoleReady, IPAcquired, Ready}, f.states())
	assert.Equal(t, []string{"rpi3-01"}, f.power.on)

	lines := con.Lines()
	require.GreaterOrEqual(t, len(lines), 5)
	assert.Equal(t, []string{
		"setenv bootargs console=ttyS0",
		"tftp 0x1000000 Image",
		"booti 0x1000000 - 0x2000000",
		"root",
		"ifconfig eth0",
	}, lines[:5])

	scratch, err := os.ReadFile(filepath.Join(f.scratch, "rpi3-01_ifconfig"))
	require.NoError(t, err)
	assert.Contains(t, string(scratch), "inet addr:192.168.1.50")

	transcript, err := os.ReadFile(filepath.Join(f.scratch, "logs", "rpi3-01.console.log"))
	require.NoError(t, err)
	assert.Contains(t, string(transcript), "Starting kernel")

	for _, tr := range s.Transitions() {
		assert.Equal(t, "rpi3-01", tr.Board)
		assert.Equal(t, "s-1", tr.SessionID)
		assert.False(t, tr.At.IsZero())
	}
}

func TestConsoleTimeoutFails(t *testing.T) {
	con := newScriptedBoard("", nil)
	f := newFixture(t, con)
	f.ctrl.Timeouts.Console = 50 * time.Millisecond
	s := newSession(t, rpiDescriptor)

	err := f.ctrl.Boot(context.Background(), s, logging.Discard(), "ramdisk", imageParams)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.ConsoleTimeout))
	assert.Equal(t, Failed, s.State())
	assert.Equal(t, err, s.Err())
	assert.Empty(t, s.Address())
	assert.Equal(t, []State{ConsoleConnecting, Failed}, f.states())
	assert.Equal(t, string(fault.ConsoleTimeout), f.transitions[1].Reason)
}

func TestQuitBannerWakesConsole(t *testing.T) {
	con := newScriptedBoard("Quit: Ctrl-a q\n", func(line string) string {
		if line == "" {
			return "root@raspberrypi3-64:~# "
		}
		return rpiReply(line)
	})
	f := newFixture(t, con)
	s := newSession(t, rpiDescriptor)

	require.NoError(t, f.ctrl.Boot(context.Background(), s, logging.Discard(), "ramdisk", imageParams))
	assert.Equal(t, []State{ConsoleConnecting, OSConsoleReady, IPAcquired, Ready}, f.states())
	assert.Equal(t, []string{"", "ifconfig eth0"}, con.Lines())
}

func TestRepeatedPromptBeforeAddressQuery(t *testing.T) {
	con := newScriptedBoard("root@raspberrypi3-64:~# \nroot@raspberrypi3-64:~# ", rpiReply)
	f := newFixture(t, con)
	s := newSession(t, rpiDescriptor)

	require.NoError(t, f.ctrl.Boot(context.Background(), s, logging.Discard(), "ramdisk", imageParams))
	assert.Equal(t, []State{ConsoleConnecting, OSConsoleReady, IPAcquired, Ready}, f.states())
	assert.Equal(t, "192.168.1.50", s.Address())
}

func TestAddressQueryWithoutEcho(t *testing.T) {
	con := newScriptedBoard("root@raspberrypi3-64:~# ", func(line string) string {
		if line == "ip -4 addr show eth0" {
			return "    inet 10.20.0.4/16 brd 10.20.255.255 scope global eth0\nroot@raspberrypi3-64:~# "
		}
		return ""
	})
	f := newFixture(t, con)
	s := newSession(t, rpiDescriptor+"  interface_query: \"ip -4 addr show eth0\"\n")

	require.NoError(t, f.ctrl.Boot(context.Background(), s, logging.Discard(), "ramdisk", imageParams))
	assert.Equal(t, "10.20.0.4", s.Address())
}

func TestLoginPromptPath(t *testing.T) {
	con := newScriptedBoard("\nraspberrypi3-64 login: ", rpiReply)
	f := newFixture(t, con)
	s := newSession(t, rpiDescriptor)

	require.NoError(t, f.ctrl.Boot(context.Background(), s, logging.Discard(), "ramdisk", imageParams))
	assert.Equal(t, []State{ConsoleConnecting, OSLoginPrompt, OSConsoleReady, IPAcquired, Ready}, f.states())
	assert.Equal(t, "192.168.1.50", s.Address())
}

func TestClosedBannerIsUnreachable(t *testing.T) {
	con := newScriptedBoard("Connection to lab-gw closed.\n", nil)
	f := newFixture(t, con)
	s := newSession(t, rpiDescriptor)

	err := f.ctrl.Boot(context.Background(), s, logging.Discard(), "ramdisk", imageParams)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.ConsoleUnreachable))
	assert.Equal(t, Failed, s.State())
}

func TestMissingAddressFails(t *testing.T) {
	con := newScriptedBoard("root@raspberrypi3-64:~# ", func(line string) string {
		if line == "ifconfig eth0" {
			return "ifconfig: eth0: error fetching interface information: Device not found\nroot@raspberrypi3-64:~# "
		}
		return ""
	})
	f := newFixture(t, con)
	s := newSession(t, rpiDescriptor)

	err := f.ctrl.Boot(context.Background(), s, logging.Discard(), "ramdisk", imageParams)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.IPAcquisitionFailed))
	assert.Empty(t, s.Address())
	assert.FileExists(t, filepath.Join(f.scratch, "rpi3-01_ifconfig"))
}

func TestDialFailureIsUnreachable(t *testing.T) {
	f := newFixture(t, nil)
	s := newSession(t, rpiDescriptor)

	err := f.ctrl.Boot(context.Background(), s, logging.Discard(), "ramdisk", imageParams)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.ConsoleUnreachable))
}

func TestPowerFailure(t *testing.T) {
	f := newFixture(t, newScriptedBoard("", nil))
	f.power.err = fault.Newf(fault.PowerFailure, "rpi3-01", fault.PhaseBoot, "relay stuck")
	s := newSession(t, rpiDescriptor)

	err := f.ctrl.Boot(context.Background(), s, logging.Discard(), "ramdisk", imageParams)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.PowerFailure))
	assert.Equal(t, []State{Failed}, f.states())
}

func TestUnknownBootMethod(t *testing.T) {
	con := newScriptedBoard("U-Boot> ", rpiReply)
	f := newFixture(t, con)
	s := newSession(t, rpiDescriptor)

	err := f.ctrl.Boot(context.Background(), s, logging.Discard(), "usb", imageParams)
	require.Error(t, err)
	assert.Equal(t, Failed, s.State())
}

const ipmiDescriptor = `commands:
  ipmi_managed:
    setup_script: /opt/lab/setup.sh --board x86-01
    remote_command_runner: /opt/lab/run.sh
    address: 10.0.0.7
attributes:
  ipmi_managed: yes
`

func TestIPMIBypassesConsole(t *testing.T) {
	f := newFixture(t, nil)
	s := newSession(t, ipmiDescriptor)

	require.NoError(t, f.ctrl.Boot(context.Background(), s, logging.Discard(), "", nil))
	assert.Equal(t, []State{IPAcquired, Ready}, f.states())
	assert.Equal(t, "10.0.0.7", s.Address())
	assert.Equal(t, []string{"rpi3-01"}, f.power.on)
	assert.Equal(t, []string{"sh -c /opt/lab/setup.sh --board x86-01"}, f.runner.Lines())
}

func TestIPMIWithoutAddress(t *testing.T) {
	f := newFixture(t, nil)
	s := newSession(t, strings.Replace(ipmiDescriptor, "    address: 10.0.0.7\n", "", 1))

	require.NoError(t, f.ctrl.Boot(context.Background(), s, logging.Discard(), "", nil))
	assert.Equal(t, []State{Ready}, f.states())
	assert.Empty(t, s.Address())
}

func TestIPMISetupFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.Respond = func(string, []string) (shell.Result, error) {
		return shell.Result{Output: "bmc unreachable", ExitCode: 1}, nil
	}
	s := newSession(t, ipmiDescriptor)

	err := f.ctrl.Boot(context.Background(), s, logging.Discard(), "", nil)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.PowerFailure))
	assert.Equal(t, Failed, s.State())
}

func TestIPMIPowerFailureSkipsSetup(t *testing.T) {
	f := newFixture(t, nil)
	f.power.err = fault.Newf(fault.PowerFailure, "rpi3-01", fault.PhaseBoot, "relay stuck")
	s := newSession(t, ipmiDescriptor)

	err := f.ctrl.Boot(context.Background(), s, logging.Discard(), "", nil)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.PowerFailure))
	assert.Equal(t, []State{Failed}, f.states())
	assert.Empty(t, f.runner.Lines())
}

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{"busybox ifconfig", ifconfigOutput, "192.168.1.50", false},
		{"net-tools 2", "eth0: flags=4163<UP>\n        inet 10.1.2.3  netmask 255.255.255.0\n", "10.1.2.3", false},
		{"iproute2", "2: eth0: <BROADCAST,UP> mtu 1500\n    inet 192.168.1.50/24 brd 192.168.1.255 scope global eth0\n", "192.168.1.50", false},
		{"first wins", "inet addr:10.0.0.1\ninet addr:10.0.0.2\n", "10.0.0.1", false},
		{"missing", "eth0 Link encap:Ethernet\n", "", true},
		{"malformed", "inet addr:999.1.1\n", "", true},
		{"malformed prefix", "inet 10.0.0/24 brd 10.0.0.255\n", "", true},
		{"ipv6 only", "inet6 addr: fe80::1/64\n", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractAddress(tt.output)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
