package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/buckleypaul/bmtf/internal/app"
	"github.com/buckleypaul/bmtf/internal/board"
	"github.com/buckleypaul/bmtf/internal/config"
	"github.com/buckleypaul/bmtf/internal/lab"
	"github.com/buckleypaul/bmtf/internal/metrics"
	"github.com/buckleypaul/bmtf/internal/orchestrator"
	"github.com/buckleypaul/bmtf/internal/pages"
	"github.com/buckleypaul/bmtf/internal/remote"
	"github.com/buckleypaul/bmtf/internal/report"
	"github.com/buckleypaul/bmtf/internal/request"
	"github.com/buckleypaul/bmtf/internal/shell"
)

const monitorLogName = "bmtf-monitor.log"

var (
	requestPaths []string
	useMonitor   bool
	metricsAddr  string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run test requests on lab boards",
		Long: `Run every request concurrently, one board session per request.

Example calls:
$ bmtf run -c lab.yaml -r smoke.yaml
$ bmtf run -c lab.yaml -r smoke.yaml -r stress.yaml --tui --metrics-addr :9100
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequests(cmd.Context())
		},
	}
)

func init() {
	runCmd.Flags().StringArrayVarP(&requestPaths, "request", "r", nil, "Test request file (repeatable)")
	runCmd.Flags().BoolVar(&useMonitor, "tui", false, "Show the lab monitor while requests run")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")
	_ = runCmd.MarkFlagRequired("request")
	rootCmd.AddCommand(runCmd)
}

func runRequests(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	registry, err := board.LoadRegistry(cfg.BoardFilesPath)
	if err != nil {
		return err
	}
	if err := cfg.Boards.Validate(registry); err != nil {
		return err
	}

	var reqs []*request.Request
	for _, path := range requestPaths {
		req, err := request.Load(path)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	runner := shell.DefaultRunner{}
	rem, err := newRemote(cfg, runner)
	if err != nil {
		return err
	}
	orch := orchestrator.New(cfg, registry, lab.New(runner, cfg.Lab.Templates), runner, rem, log.StandardLogger())

	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr); err != nil {
				log.WithError(err).Error("metrics server failed")
			}
		}()
	}

	var outcomes []*orchestrator.Outcome
	if useMonitor {
		outcomes, err = runMonitor(ctx, cfg, orch, reqs)
	} else {
		outcomes, err = orch.RunAll(ctx, reqs)
	}
	summarize(outcomes)
	return err
}

func newRemote(cfg config.Config, runner shell.Runner) (remote.Remote, error) {
	opts := cfg.RemoteOptions()
	if cfg.Remote.Transport == remote.TransportNative {
		n, err := remote.NewNative(opts)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	return remote.NewSystemSSH(runner, opts), nil
}

// runMonitor runs the requests behind the lab monitor. Quitting the monitor
// cancels the run; sessions still release their boards before it returns.
func runMonitor(ctx context.Context, cfg config.Config, orch *orchestrator.Orchestrator, reqs []*request.Request) ([]*orchestrator.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := os.MkdirAll(cfg.Workspace.RootPath, 0o755); err != nil {
		return nil, err
	}
	logPath := filepath.Join(cfg.Workspace.RootPath, monitorLogName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	defer logFile.Close()
	// The alt screen owns the terminal while the monitor runs.
	log.SetOutput(logFile)
	defer log.SetOutput(os.Stderr)

	model := app.New(map[app.PageID]app.Page{
		app.SessionsPage: pages.NewSessionsPage(),
		app.EventsPage:   pages.NewEventsPage(),
		app.BoardsPage:   pages.NewBoardsPage(cfg.Boards, orch.Reservations().Held),
		app.ReportsPage:  pages.NewReportsPage(),
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	orch.Observe = func(e orchestrator.Event) { p.Send(app.EventMsg{Event: e}) }

	var (
		outcomes []*orchestrator.Outcome
		runErr   error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		outcomes, runErr = orch.RunAll(ctx, reqs)
		p.Send(app.RunDoneMsg{Outcomes: outcomes, Err: runErr})
	}()

	_, uiErr := p.Run()
	cancel()
	<-done
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) && !errors.Is(uiErr, tea.ErrInterrupted) {
		runErr = errors.Join(runErr, uiErr)
	}
	return outcomes, runErr
}

func summarize(outcomes []*orchestrator.Outcome) {
	for _, out := range outcomes {
		if out == nil {
			continue
		}
		entry := log.WithField("request", out.Request)
		if out.Workspace != nil {
			entry = entry.WithField("workspace", out.Workspace.Root)
		}
		for _, w := range out.Reports {
			entry.WithFields(log.Fields{
				"suite": w.Suite,
				"pass":  w.Results.Count(report.Pass),
				"fail":  w.Results.Count(report.Fail),
				"skip":  w.Results.Count(report.Skip),
			}).Info(w.Path)
		}
		if out.Err != nil {
			entry.WithError(out.Err).Error("request failed")
			continue
		}
		entry.Info("request passed")
	}
}
