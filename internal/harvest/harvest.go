// Package harvest runs the requested tests on a booted board and brings
// their result files home.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/buckleypaul/bmtf/internal/deploy"
	"github.com/buckleypaul/bmtf/internal/fault"
	"github.com/buckleypaul/bmtf/internal/remote"
	"github.com/buckleypaul/bmtf/internal/session"
	"github.com/buckleypaul/bmtf/internal/shell"
)

// Harvester executes tests and fetches their results.
type Harvester struct {
	Remote remote.Remote
	// Runner executes the IPMI remote-command-runner locally.
	Runner shell.Runner
	Layout deploy.Layout
	// ResultsDir receives the fetched *_test_result files.
	ResultsDir string
	// Timeout bounds each test and the fetch; zero means only ctx bounds them.
	Timeout  time.Duration
	FailFast bool
}

// RunTests runs every test in order. Failures are collected as
// TestExecutionFailure and joined, unless FailFast stops at the first.
func (h *Harvester) RunTests(ctx context.Context, s *session.Session, tests []string, logger *log.Entry) error {
	logger = logger.WithField("phase", fault.PhaseRun)
	var errs []error
	for _, test := range tests {
		entry := logger.WithField("test", test)
		entry.Info("running test")
		start := time.Now()
		res, err := h.runOne(ctx, s, test)
		if err == nil && !res.OK() {
			err = fmt.Errorf("exited with status %d", res.ExitCode)
		}
		if err != nil {
			err = fault.Wrap(err, fault.TestExecutionFailure, s.Board.Name, fault.PhaseRun, "test "+test)
			entry.WithError(err).Error("test run failed")
			errs = append(errs, err)
			if h.FailFast || ctx.Err() != nil {
				break
			}
			continue
		}
		entry.WithField("duration", time.Since(start).Round(time.Millisecond)).Info("test finished")
	}
	return errors.Join(errs...)
}

func (h *Harvester) runOne(ctx context.Context, s *session.Session, test string) (shell.Result, error) {
	ctx, cancel := h.bound(ctx)
	defer cancel()
	if s.IPMIManaged() {
		runner := s.Descriptor.Commands.IPMI.RemoteCommandRunner
		return h.Runner.Run(ctx, runner, "-c", test)
	}
	if s.Address() == "" {
		return shell.Result{ExitCode: -1}, errors.New("no network address")
	}
	return h.Remote.Run(ctx, s.Address(), h.Layout.RunCommand(test))
}

// FetchResults copies every result file from the board into ResultsDir and
// records the outcome on the session. It returns the local result files.
func (h *Harvester) FetchResults(ctx context.Context, s *session.Session, logger *log.Entry) ([]string, error) {
	logger = logger.WithField("phase", fault.PhaseHarvest)
	fail := func(err error, msg string) ([]string, error) {
		s.SetHasResults(false)
		err = fault.Wrap(err, fault.ResultFetchFailure, s.Board.Name, fault.PhaseHarvest, msg)
		logger.WithError(err).Error("result fetch failed")
		return nil, err
	}
	if s.Address() == "" {
		return fail(errors.New("no network address"), "fetch results")
	}

	ctx, cancel := h.bound(ctx)
	defer cancel()
	pattern := h.Layout.ResultPattern()
	if err := h.Remote.Fetch(ctx, s.Address(), pattern, h.ResultsDir); err != nil {
		return fail(err, "fetch "+pattern)
	}
	files, err := ResultFiles(h.ResultsDir)
	if err != nil {
		return fail(err, "list fetched results")
	}
	s.SetHasResults(true)
	logger.WithField("files", len(files)).Info("results fetched")
	return files, nil
}

// ResultFiles lists the result files in dir in name order.
func ResultFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), deploy.ResultSuffix) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func (h *Harvester) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.Timeout > 0 {
		return context.WithTimeout(ctx, h.Timeout)
	}
	return context.WithCancel(ctx)
}
