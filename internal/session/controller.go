package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/buckleypaul/bmtf/internal/board"
	"github.com/buckleypaul/bmtf/internal/console"
	"github.com/buckleypaul/bmtf/internal/fault"
	"github.com/buckleypaul/bmtf/internal/metrics"
	"github.com/buckleypaul/bmtf/internal/shell"
)

// Default wait bounds.
const (
	DefaultConsoleTimeout = 60 * time.Second
	DefaultBootTimeout    = 120 * time.Second
	DefaultPromptTimeout  = 30 * time.Second
)

// Timeouts bound every console wait.
type Timeouts struct {
	// Console bounds the first wait after attaching.
	Console time.Duration
	// Boot bounds the wait for the OS login prompt after the boot commands.
	Boot time.Duration
	// Prompt bounds every other prompt wait.
	Prompt time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Console <= 0 {
		t.Console = DefaultConsoleTimeout
	}
	if t.Boot <= 0 {
		t.Boot = DefaultBootTimeout
	}
	if t.Prompt <= 0 {
		t.Prompt = DefaultPromptTimeout
	}
	return t
}

// PowerSwitch turns boards on.
type PowerSwitch interface {
	PowerOn(ctx context.Context, board string) error
}

// Dialer attaches to a board's console.
type Dialer func(ctx context.Context, b board.Board) (io.ReadWriteCloser, error)

// Controller runs the boot state machine for sessions.
type Controller struct {
	Power  PowerSwitch
	Dial   Dialer
	Runner shell.Runner
	// ScratchDir receives the captured interface query output.
	ScratchDir string
	// TranscriptDir, when set, receives <board>.console.log transcripts.
	TranscriptDir string
	Timeouts      Timeouts
	// Observe, when set, is called after every transition.
	Observe func(Transition)
	Now     func() time.Time
}

// addressPattern finds the first IPv4 token of ifconfig or ip output. ip
// prints the address with its prefix length.
var addressPattern = regexp.MustCompile(`inet (?:addr:)?(\S+)`)

type stepFunc func(ctx context.Context) (State, string, error)

// run is the per-boot working state of the controller.
type run struct {
	c       *Controller
	s       *Session
	log     *log.Entry
	method  string
	params  map[string]string
	timeout Timeouts
	prompts board.Prompts
	con     *console.Expecter
	address string
}

// Boot drives s until Ready or Failed. The returned error is the fault that
// moved the session to Failed. The console is always detached on return.
func (c *Controller) Boot(ctx context.Context, s *Session, logger *log.Entry, method string, params map[string]string) error {
	r := &run{
		c:       c,
		s:       s,
		log:     logger.WithField("phase", fault.PhaseBoot),
		method:  method,
		params:  params,
		timeout: c.Timeouts.withDefaults(),
		prompts: s.Descriptor.Prompts(),
	}
	defer r.detach()

	steps := map[State]stepFunc{
		PoweredOff:        r.powerOn,
		ConsoleConnecting: r.connect,
		BootloaderPrompt:  r.bootloader,
		OSLoginPrompt:     r.login,
		OSConsoleReady:    r.queryAddress,
		IPAcquired:        r.ready,
	}
	if s.IPMIManaged() {
		steps[PoweredOff] = r.ipmiSetup
	}

	r.log.WithField("state", s.State()).Info("starting boot")
	for !s.State().Terminal() {
		step, ok := steps[s.State()]
		if !ok {
			err := fault.Newf(fault.ConsoleUnreachable, s.Board.Name, fault.PhaseBoot, "no handler for state %s", s.State())
			r.fail(err)
			return err
		}
		next, reason, err := step(ctx)
		if err != nil {
			r.fail(err)
			return err
		}
		r.enter(next, reason, nil)
	}
	return nil
}

func (r *run) enter(state State, reason string, err error) {
	now := time.Now
	if r.c.Now != nil {
		now = r.c.Now
	}
	t := Transition{SessionID: r.s.ID, Board: r.s.Board.Name, State: state, At: now(), Reason: reason}
	addr := ""
	if state == IPAcquired {
		addr = r.address
	}
	r.s.record(t, addr, err)
	metrics.Transition(r.s.Board.Type, string(state))

	entry := r.log.WithFields(log.Fields{"state": state, "at": t.At.Format(time.RFC3339Nano)})
	if reason != "" {
		entry = entry.WithField("reason", reason)
	}
	if err != nil {
		entry.WithError(err).Error("state transition")
	} else {
		entry.Info("state transition")
	}
	if r.c.Observe != nil {
		r.c.Observe(t)
	}
}

func (r *run) fail(err error) {
	reason := string(fault.KindOf(err))
	if reason == "" {
		reason = err.Error()
	}
	r.enter(Failed, reason, err)
}

func (r *run) faultf(kind fault.Kind, format string, args ...any) error {
	return fault.Newf(kind, r.s.Board.Name, fault.PhaseBoot, format, args...)
}

func (r *run) powerOn(ctx context.Context) (State, string, error) {
	if err := r.c.Power.PowerOn(ctx, r.s.Board.Name); err != nil {
		return "", "", err
	}
	return ConsoleConnecting, "powered on", nil
}

// ipmiSetup replaces console boot for IPMI-managed boards. The board is
// powered on before the setup script runs.
func (r *run) ipmiSetup(ctx context.Context) (State, string, error) {
	if err := r.c.Power.PowerOn(ctx, r.s.Board.Name); err != nil {
		return "", "", err
	}
	tools := r.s.Descriptor.Commands.IPMI
	out, err := shell.RunSimple(ctx, r.c.Runner, []string{"sh", "-c", tools.SetupScript})
	if err != nil {
		return "", "", fault.Wrap(err, fault.PowerFailure, r.s.Board.Name, fault.PhaseBoot, "ipmi setup script")
	}
	r.log.WithField("output", strings.TrimSpace(out)).Debug("ipmi setup finished")
	if tools.Address != "" {
		r.address = tools.Address
		return IPAcquired, "ipmi management address", nil
	}
	return Ready, "ipmi setup done, no management address", nil
}

func (r *run) connect(ctx context.Context) (State, string, error) {
	rw, err := r.c.Dial(ctx, r.s.Board)
	if err != nil {
		return "", "", fault.Wrap(err, fault.ConsoleUnreachable, r.s.Board.Name, fault.PhaseBoot, "attach console")
	}
	var transcript io.Writer
	if r.c.TranscriptDir != "" {
		f, err := openTranscript(r.c.TranscriptDir, r.s.Board.Name)
		if err != nil {
			r.log.WithError(err).Warn("console transcript disabled")
		} else {
			transcript = f
			rw = &closeBoth{ReadWriteCloser: rw, extra: f}
		}
	}
	r.con = console.NewExpecter(rw, transcript)

	patterns, err := console.Compile(r.prompts.Closed, r.prompts.Quit, r.prompts.Bootloader, r.prompts.Login, r.prompts.Root)
	if err != nil {
		return "", "", r.faultf(fault.ConsoleUnreachable, "%v", err)
	}
	deadline := time.Now().Add(r.timeout.Console)
	for {
		m, err := r.con.Expect(ctx, time.Until(deadline), patterns...)
		if err != nil {
			return "", "", r.expectFault(err, "waiting for a console prompt")
		}
		switch m.Index {
		case 0:
			return "", "", r.faultf(fault.ConsoleUnreachable, "console closed: %q", m.Text)
		case 1:
			if err := r.con.SendLine(""); err != nil {
				return "", "", r.faultf(fault.ConsoleUnreachable, "wake console: %v", err)
			}
		case 2:
			return BootloaderPrompt, "bootloader prompt", nil
		case 3:
			return OSLoginPrompt, "login prompt", nil
		case 4:
			return OSConsoleReady, "os prompt", nil
		}
	}
}

// bootloader sends the boot commands word by word, waiting for the
// bootloader prompt between commands but not after the last one.
func (r *run) bootloader(ctx context.Context) (State, string, error) {
	cmds, err := r.s.Descriptor.BootCommands(r.method, r.params)
	if err != nil {
		return "", "", r.faultf(fault.ConsoleUnreachable, "%v", err)
	}
	r.log.WithField("method", r.method).Infof("sending %d boot commands", len(cmds))
	for i, cmd := range cmds {
		for _, word := range strings.Split(cmd, " ") {
			if err := r.con.Send(word + " "); err != nil {
				return "", "", r.faultf(fault.ConsoleUnreachable, "send boot command: %v", err)
			}
		}
		if err := r.con.SendLine(""); err != nil {
			return "", "", r.faultf(fault.ConsoleUnreachable, "send boot command: %v", err)
		}
		if i < len(cmds)-1 {
			if err := r.await(ctx, r.timeout.Prompt, r.prompts.Bootloader); err != nil {
				return "", "", err
			}
		}
	}
	if err := r.await(ctx, r.timeout.Boot, r.prompts.Login); err != nil {
		return "", "", err
	}
	return OSLoginPrompt, "booted to login prompt", nil
}

func (r *run) login(ctx context.Context) (State, string, error) {
	if err := r.con.SendLine(r.s.Descriptor.LoginUser()); err != nil {
		return "", "", r.faultf(fault.ConsoleUnreachable, "send login: %v", err)
	}
	if err := r.await(ctx, r.timeout.Prompt, r.prompts.Root); err != nil {
		return "", "", err
	}
	return OSConsoleReady, "logged in", nil
}

// queryAddress runs the interface query, keeps its output in the scratch
// file and extracts the first address from it. Prompts seen before the
// query are dropped, and so is the echo of the query itself.
func (r *run) queryAddress(ctx context.Context) (State, string, error) {
	query := r.s.Descriptor.InterfaceQuery()
	patterns, err := console.Compile(r.prompts.Closed, regexp.QuoteMeta(query), r.prompts.Root)
	if err != nil {
		return "", "", r.faultf(fault.IPAcquisitionFailed, "%v", err)
	}
	r.con.Discard()
	if err := r.con.SendLine(query); err != nil {
		return "", "", r.faultf(fault.IPAcquisitionFailed, "send %q: %v", query, err)
	}
	m, err := r.con.Expect(ctx, r.timeout.Prompt, patterns...)
	if err == nil && m.Index == 1 {
		m, err = r.con.Expect(ctx, r.timeout.Prompt, patterns[0], patterns[2])
		if m.Index == 1 {
			m.Index = 2
		}
	}
	if err != nil {
		return "", "", fault.Wrap(err, fault.IPAcquisitionFailed, r.s.Board.Name, fault.PhaseBoot, "interface query")
	}
	if m.Index == 0 {
		return "", "", r.faultf(fault.ConsoleUnreachable, "console closed: %q", m.Text)
	}

	scratch := filepath.Join(r.c.ScratchDir, r.s.Board.Name+"_ifconfig")
	if err := os.WriteFile(scratch, []byte(m.Before), 0o644); err != nil {
		return "", "", fault.Wrap(err, fault.IPAcquisitionFailed, r.s.Board.Name, fault.PhaseBoot, "write interface query output")
	}
	addr, err := ExtractAddress(m.Before)
	if err != nil {
		return "", "", fault.New(fault.IPAcquisitionFailed, r.s.Board.Name, fault.PhaseBoot, err)
	}
	r.address = addr
	return IPAcquired, "address " + addr, nil
}

func (r *run) ready(ctx context.Context) (State, string, error) {
	return Ready, "", nil
}

// await waits for pattern, failing early when the console closes.
func (r *run) await(ctx context.Context, timeout time.Duration, pattern string) error {
	patterns, err := console.Compile(r.prompts.Closed, pattern)
	if err != nil {
		return r.faultf(fault.ConsoleUnreachable, "%v", err)
	}
	m, err := r.con.Expect(ctx, timeout, patterns...)
	if err != nil {
		return r.expectFault(err, fmt.Sprintf("waiting for %q", pattern))
	}
	if m.Index == 0 {
		return r.faultf(fault.ConsoleUnreachable, "console closed: %q", m.Text)
	}
	return nil
}

func (r *run) expectFault(err error, what string) error {
	kind := fault.ConsoleTimeout
	if errors.Is(err, console.ErrClosed) {
		kind = fault.ConsoleUnreachable
	}
	return fault.Wrap(err, kind, r.s.Board.Name, fault.PhaseBoot, what)
}

// detach sends the console escape and closes the console.
func (r *run) detach() {
	if r.con == nil {
		return
	}
	if err := r.con.Send(r.s.Descriptor.EscapeSequence()); err != nil {
		r.log.WithError(err).Debug("console escape not sent")
	}
	if err := r.con.Close(); err != nil {
		r.log.WithError(err).Debug("console close")
	}
	r.con = nil
}

// ExtractAddress returns the first interface address in query output.
func ExtractAddress(output string) (string, error) {
	m := addressPattern.FindStringSubmatch(output)
	if m == nil {
		return "", errors.New("no inet address in interface query output")
	}
	token, _, _ := strings.Cut(m[1], "/")
	ip := net.ParseIP(token)
	if ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("malformed address token %q", m[1])
	}
	return ip.String(), nil
}

func openTranscript(dir, boardName string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, boardName+".console.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// closeBoth closes the console and the transcript file together.
type closeBoth struct {
	io.ReadWriteCloser
	extra io.Closer
}

func (c *closeBoth) Close() error {
	err := c.ReadWriteCloser.Close()
	if cerr := c.extra.Close(); err == nil {
		err = cerr
	}
	return err
}
