// Package orchestrator runs test requests end to end: reserve a board, boot
// it, deploy the toolkit, run the tests, harvest results and write reports.
// Every session releases its reservation on every exit path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/buckleypaul/bmtf/internal/board"
	"github.com/buckleypaul/bmtf/internal/config"
	"github.com/buckleypaul/bmtf/internal/console"
	"github.com/buckleypaul/bmtf/internal/deploy"
	"github.com/buckleypaul/bmtf/internal/fault"
	"github.com/buckleypaul/bmtf/internal/harvest"
	"github.com/buckleypaul/bmtf/internal/lab"
	"github.com/buckleypaul/bmtf/internal/logging"
	"github.com/buckleypaul/bmtf/internal/metrics"
	"github.com/buckleypaul/bmtf/internal/remote"
	"github.com/buckleypaul/bmtf/internal/report"
	"github.com/buckleypaul/bmtf/internal/request"
	"github.com/buckleypaul/bmtf/internal/reserve"
	"github.com/buckleypaul/bmtf/internal/serial"
	"github.com/buckleypaul/bmtf/internal/session"
	"github.com/buckleypaul/bmtf/internal/shell"
	"github.com/buckleypaul/bmtf/internal/store"
	"github.com/buckleypaul/bmtf/internal/workspace"
)

// Event reports session progress to observers such as the lab monitor.
type Event struct {
	Request   string
	SessionID string
	Board     string
	Phase     fault.Phase
	State     session.State
	At        time.Time
	Message   string
	Err       error
}

// Lab is the lab tooling the orchestrator needs.
type Lab interface {
	reserve.Allocator
	session.PowerSwitch
	PowerOff(ctx context.Context, board string) error
	ConsoleCommand(board string) []string
}

// Orchestrator owns the shared reservation table and descriptor arena.
type Orchestrator struct {
	cfg          config.Config
	registry     *board.Registry
	lab          Lab
	runner       shell.Runner
	remote       remote.Remote
	reservations *reserve.Manager
	logger       *log.Logger

	// Dial attaches to a board console; nil uses the serial port or the lab
	// console command.
	Dial session.Dialer
	// Observe, when set, receives every event. It must not block.
	Observe func(Event)
	// Clone materialises toolkit repositories; nil uses go-git.
	Clone func(ctx context.Context, ws *workspace.Workspace, repos []string, logger *log.Entry) ([]string, error)
	Now   func() time.Time
	NewID func() string
}

// New wires an orchestrator around one reservation table.
func New(cfg config.Config, registry *board.Registry, l Lab, runner shell.Runner, rem remote.Remote, logger *log.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		lab:      l,
		runner:   runner,
		remote:   rem,
		logger:   logger,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
	opts := reserve.Options{
		Attempts: cfg.Lab.ReserveAttempts,
		Backoff:  cfg.Lab.ReserveBackoff,
	}
	if cfg.Lab.PowerOffOnRelease {
		opts.PowerOff = l.PowerOff
	}
	o.reservations = reserve.NewManager(l, opts)
	return o
}

// Reservations exposes the reservation table.
func (o *Orchestrator) Reservations() *reserve.Manager {
	return o.reservations
}

// Outcome is the result of one request.
type Outcome struct {
	Request   string
	Workspace *workspace.Workspace
	Session   *session.Session
	Reports   []report.Written
	Err       error
}

// RunAll runs every request concurrently, one session per request. Each
// request runs to completion regardless of the others; the outcomes are in
// request order.
func (o *Orchestrator) RunAll(ctx context.Context, reqs []*request.Request) ([]*Outcome, error) {
	outcomes := make([]*Outcome, len(reqs))
	var g errgroup.Group
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			// Errors are carried in the Outcome.
			out, _ := o.Submit(ctx, req)
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}

	var errs []error
	for _, out := range outcomes {
		if out.Err != nil {
			errs = append(errs, fmt.Errorf("request %s: %w", out.Request, out.Err))
		}
	}
	return outcomes, errors.Join(errs...)
}

// Submit runs one request on a board of its master type.
func (o *Orchestrator) Submit(ctx context.Context, req *request.Request) (*Outcome, error) {
	out := &Outcome{Request: req.Name}
	out.Err = o.submit(ctx, req, out)
	return out, out.Err
}

func (o *Orchestrator) submit(ctx context.Context, req *request.Request, out *Outcome) (err error) {
	id := o.NewID()
	entry := o.logger.WithFields(log.Fields{"request": req.Name, "session": id})
	for _, slave := range req.SlaveTypes {
		entry.WithField("board_type", slave).Warn("slave roles are recorded but not driven")
	}

	ws, err := workspace.Create(o.cfg.Workspace.RootPath, o.cfg.Workspace.Dirs, shortID(id), o.Now())
	if err != nil {
		return err
	}
	out.Workspace = ws
	records := store.New(ws.History)

	master := req.Master()
	b, desc, err := o.pick(req)
	if err != nil {
		return err
	}
	candidates := []string{b.Name}
	if master.Board == "" {
		candidates = names(o.cfg.Boards.OfType(req.MasterType))
	}

	start := o.Now()
	o.emit(Event{Request: req.Name, SessionID: id, Phase: fault.PhaseReserve, Message: "reserving"})
	res, err := o.reservations.ReserveAny(ctx, candidates)
	metrics.ObservePhase(string(fault.PhaseReserve), start, err)
	if err != nil {
		entry.WithError(err).Error("reservation failed")
		o.emit(Event{Request: req.Name, SessionID: id, Phase: fault.PhaseReserve, Err: err})
		return err
	}
	b, _ = o.cfg.Boards.Lookup(res.Board)
	if b.Name == "" {
		b = board.Board{Name: res.Board, Type: req.MasterType}
	}
	metrics.SessionStarted()

	s := session.New(id, b, request.MasterRole, desc, res)
	out.Session = s

	slog, err := logging.NewSessionLog(o.logger, filepath.Join(ws.Logs, b.Name+".log"),
		log.Fields{"session": id, "board": b.Name, "role": request.MasterRole, "request": req.Name})
	if err != nil {
		entry.WithError(err).Warn("no per-board log file")
		slog = &logging.SessionLog{Entry: entry.WithField("board", b.Name)}
	} else {
		defer slog.Close()
	}
	logger := slog.Entry

	defer func() {
		// Release is mandatory on every path, so it ignores ctx cancellation.
		relCtx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeouts.Release)
		defer cancel()
		relErr := res.Release(relCtx)
		rec := store.ReservationRecord{Board: res.Board, Token: res.Token, Acquired: res.AcquiredAt, Released: o.Now()}
		if relErr != nil {
			rec.Error = relErr.Error()
			err = errors.Join(err, relErr)
		}
		if serr := records.AddReservation(rec); serr != nil {
			logger.WithError(serr).Warn("could not record reservation")
		}
		metrics.SessionEnded()
		o.emit(Event{Request: req.Name, SessionID: id, Board: b.Name, Phase: fault.PhaseRelease, State: s.State(), Err: err})

		srec := o.sessionRecord(req, s, start, out.Reports, err)
		if serr := records.AddSession(srec); serr != nil {
			logger.WithError(serr).Warn("could not record session")
		}
	}()

	return o.drive(ctx, req, s, ws, logger, out)
}

// drive runs boot, deploy, run, harvest and report for a reserved session.
func (o *Orchestrator) drive(ctx context.Context, req *request.Request, s *session.Session, ws *workspace.Workspace, logger *log.Entry, out *Outcome) error {
	master := req.Master()
	name := s.Board.Name

	ctrl := &session.Controller{
		Power:         o.lab,
		Dial:          o.dialer(),
		Runner:        o.runner,
		ScratchDir:    ws.Temp,
		TranscriptDir: ws.Logs,
		Timeouts:      o.cfg.SessionTimeouts(),
		Now:           o.Now,
		Observe: func(t session.Transition) {
			o.emit(Event{Request: req.Name, SessionID: t.SessionID, Board: t.Board, Phase: fault.PhaseBoot, State: t.State, At: t.At, Message: t.Reason})
		},
	}
	if err := o.phase(fault.PhaseBoot, req, s, func() error {
		return ctrl.Boot(ctx, s, logger, master.BootMethod, master.ImageParams())
	}); err != nil {
		return err
	}

	var errs []error
	skipRemote := s.Address() == ""
	if skipRemote {
		// Only IPMI boards reach Ready without an address.
		err := fault.Newf(fault.ResultFetchFailure, name, fault.PhaseHarvest, "no management address, skipping deployment and result fetch")
		logger.WithError(err).Warn("ipmi board without address")
		errs = append(errs, err)
	} else {
		var repos []string
		if err := o.phase(fault.PhaseDeploy, req, s, func() error {
			var err error
			repos, err = o.clone(ctx, ws, req.Toolkit.GitRepos, logger)
			return fault.Wrap(err, fault.DeploymentStepFailure, name, fault.PhaseDeploy, "materialise toolkit")
		}); err != nil {
			return err
		}
		pipeline := &deploy.Pipeline{
			Remote:     o.remote,
			Layout:     o.cfg.Layout(),
			ScratchDir: ws.Temp,
			Timeout:    o.cfg.Timeouts.RemoteCommand,
			FailFast:   o.cfg.Policy.FailFast,
		}
		var installed *deploy.Outcome
		if err := o.phase(fault.PhaseDeploy, req, s, func() error {
			var err error
			installed, err = pipeline.Deploy(ctx, s, req, repos, logger)
			return err
		}); err != nil {
			return err
		}
		if err := installed.Err(req.MasterTests); err != nil {
			errs = append(errs, err)
		}
	}

	h := &harvest.Harvester{
		Remote:     o.remote,
		Runner:     o.runner,
		Layout:     o.cfg.Layout(),
		ResultsDir: ws.Results,
		Timeout:    o.cfg.Timeouts.RemoteCommand,
		FailFast:   o.cfg.Policy.FailFast,
	}
	runErr := o.phase(fault.PhaseRun, req, s, func() error {
		return h.RunTests(ctx, s, req.MasterTests, logger)
	})
	if runErr != nil {
		errs = append(errs, runErr)
		if o.cfg.Policy.FailFast {
			return errors.Join(errs...)
		}
	}
	if skipRemote {
		return errors.Join(errs...)
	}

	var files []string
	if err := o.phase(fault.PhaseHarvest, req, s, func() error {
		var err error
		files, err = h.FetchResults(ctx, s, logger)
		return err
	}); err != nil {
		return errors.Join(append(errs, err)...)
	}

	if err := o.phase(fault.PhaseReport, req, s, func() error {
		written, err := report.WriteAll(files, ws.Results)
		out.Reports = written
		for _, w := range written {
			logger.WithFields(log.Fields{
				"suite":  w.Suite,
				"pass":   w.Results.Count(report.Pass),
				"fail":   w.Results.Count(report.Fail),
				"skip":   w.Results.Count(report.Skip),
				"report": w.Path,
			}).Info("report written")
		}
		return err
	}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// phase times fn and reports it to observers.
func (o *Orchestrator) phase(p fault.Phase, req *request.Request, s *session.Session, fn func() error) error {
	o.emit(Event{Request: req.Name, SessionID: s.ID, Board: s.Board.Name, Phase: p, State: s.State(), Message: "started"})
	start := o.Now()
	err := fn()
	metrics.ObservePhase(string(p), start, err)
	msg := "done"
	if err != nil {
		msg = "failed"
	}
	o.emit(Event{Request: req.Name, SessionID: s.ID, Board: s.Board.Name, Phase: p, State: s.State(), Message: msg, Err: err})
	return err
}

// pick resolves the master descriptor and, when the request pins one, the
// master board.
func (o *Orchestrator) pick(req *request.Request) (board.Board, *board.Descriptor, error) {
	desc, ok := o.registry.Get(req.MasterType)
	if !ok {
		return board.Board{}, nil, fault.Newf(fault.ReservationFailure, "", fault.PhaseReserve, "no descriptor for board type %q", req.MasterType)
	}
	pinned := req.Master().Board
	if pinned == "" {
		if len(o.cfg.Boards.OfType(req.MasterType)) == 0 {
			return board.Board{}, nil, fault.Newf(fault.ReservationFailure, "", fault.PhaseReserve, "no %s board in the inventory", req.MasterType)
		}
		return board.Board{}, desc, nil
	}
	b, ok := o.cfg.Boards.Lookup(pinned)
	if !ok {
		// Boards outside the inventory are still reservable by name.
		b = board.Board{Name: pinned, Type: req.MasterType}
	}
	if b.Type != req.MasterType {
		return board.Board{}, nil, fault.Newf(fault.ReservationFailure, pinned, fault.PhaseReserve, "board is a %s, request needs %s", b.Type, req.MasterType)
	}
	return b, desc, nil
}

func (o *Orchestrator) dialer() session.Dialer {
	if o.Dial != nil {
		return o.Dial
	}
	return func(ctx context.Context, b board.Board) (io.ReadWriteCloser, error) {
		if b.SerialPort != "" {
			return serial.Open(b.SerialPort, b.BaudRate)
		}
		return console.StartCommand(o.lab.ConsoleCommand(b.Name))
	}
}

func (o *Orchestrator) clone(ctx context.Context, ws *workspace.Workspace, repos []string, logger *log.Entry) ([]string, error) {
	if len(repos) == 0 {
		return nil, nil
	}
	if o.Clone != nil {
		return o.Clone(ctx, ws, repos, logger)
	}
	return ws.Clone(ctx, repos, logger)
}

func (o *Orchestrator) emit(e Event) {
	if o.Observe == nil {
		return
	}
	if e.At.IsZero() {
		e.At = o.Now()
	}
	o.Observe(e)
}

func (o *Orchestrator) sessionRecord(req *request.Request, s *session.Session, start time.Time, reports []report.Written, err error) store.SessionRecord {
	rec := store.SessionRecord{
		ID:          s.ID,
		Request:     req.Name,
		Board:       s.Board.Name,
		BoardType:   s.Board.Type,
		Role:        s.Role,
		BootMethod:  req.Master().BootMethod,
		State:       s.State(),
		Address:     s.Address(),
		HasResults:  s.HasResults(),
		Started:     start,
		Duration:    o.Now().Sub(start).Round(time.Second).String(),
		Transitions: s.Transitions(),
	}
	for _, w := range reports {
		rec.Reports = append(rec.Reports, w.Path)
	}
	rec.Errors = flatten(err)
	return rec
}

// flatten lists the individual messages of a possibly joined error.
func flatten(err error) []string {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []string{err.Error()}
}

func names(boards []board.Board) []string {
	out := make([]string, 0, len(boards))
	for _, b := range boards {
		out = append(out, b.Name)
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var _ Lab = (*lab.Tool)(nil)
