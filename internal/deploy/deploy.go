// Package deploy pushes test artifacts and their environment to a booted
// board and installs the requested test packages.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/buckleypaul/bmtf/internal/fault"
	"github.com/buckleypaul/bmtf/internal/remote"
	"github.com/buckleypaul/bmtf/internal/request"
	"github.com/buckleypaul/bmtf/internal/session"
)

const (
	DefaultBasePath     = "/home/root"
	DefaultRepoListPath = "/etc/apt/sources.list.d/el-repositories.list"
	ProfileName         = "env_vars"
	ResultSuffix        = "_test_result"
)

// Layout names the fixed locations on the board.
type Layout struct {
	BasePath     string
	RepoListPath string
}

func (l Layout) withDefaults() Layout {
	if l.BasePath == "" {
		l.BasePath = DefaultBasePath
	}
	if l.RepoListPath == "" {
		l.RepoListPath = DefaultRepoListPath
	}
	return l
}

// ProfilePath is the environment profile on the board.
func (l Layout) ProfilePath() string {
	return path.Join(l.withDefaults().BasePath, ProfileName)
}

// InstallCommand installs the package of test with installer, after
// sourcing the profile.
func (l Layout) InstallCommand(installer, test string) string {
	l = l.withDefaults()
	inner := fmt.Sprintf("source %s; touch %s; %s %s",
		l.ProfilePath(), l.RepoListPath, path.Join(l.BasePath, installer), test)
	return "bash -c " + remote.Quote(inner)
}

// RunCommand runs test from the base path and tees its output to the
// test's result file.
func (l Layout) RunCommand(test string) string {
	l = l.withDefaults()
	inner := fmt.Sprintf("set -o pipefail; cd %s; source ./%s; %s | tee %s%s",
		l.BasePath, ProfileName, test, test, ResultSuffix)
	return "bash -c " + remote.Quote(inner)
}

// ResultPattern matches every result file on the board.
func (l Layout) ResultPattern() string {
	return path.Join(l.withDefaults().BasePath, "*"+ResultSuffix)
}

// Pipeline deploys to one session's board.
type Pipeline struct {
	Remote remote.Remote
	Layout Layout
	// ScratchDir receives the generated profile and repository list.
	ScratchDir string
	// Timeout bounds each remote operation; zero means no bound besides ctx.
	Timeout time.Duration
	// FailFast aborts on the first failed package installation.
	FailFast bool
}

// Outcome lists the per-test installation results.
type Outcome struct {
	Installed []string
	// Failed maps a test name to its installation error.
	Failed map[string]error
}

// Err joins the installation failures in test order.
func (o *Outcome) Err(tests []string) error {
	var errs []error
	for _, t := range tests {
		if err, ok := o.Failed[t]; ok {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deploy refuses console-booted boards whose descriptor has no ssh. It
// writes the profile and repository list, clears the stale host key,
// copies artifacts and both files to the board, makes the installer
// executable and installs each requested test. Any failure up to and
// including the chmod aborts with DeploymentStepFailure; failed
// installations are collected in the Outcome unless FailFast is set.
func (p *Pipeline) Deploy(ctx context.Context, s *session.Session, req *request.Request, artifacts []string, logger *log.Entry) (*Outcome, error) {
	logger = logger.WithField("phase", fault.PhaseDeploy)
	name := s.Board.Name
	host := s.Address()
	if host == "" {
		return nil, fault.Newf(fault.DeploymentStepFailure, name, fault.PhaseDeploy, "no network address for %s", name)
	}
	if !s.IPMIManaged() && !s.Descriptor.Attributes.HasSSH {
		return nil, fault.Newf(fault.DeploymentStepFailure, name, fault.PhaseDeploy, "board type %s has no ssh (has_ssh: no)", s.Board.Type)
	}
	layout := p.Layout.withDefaults()
	stepErr := func(err error, step string) error {
		return fault.Wrap(err, fault.DeploymentStepFailure, name, fault.PhaseDeploy, step)
	}

	if err := os.MkdirAll(p.ScratchDir, 0o755); err != nil {
		return nil, stepErr(err, "create scratch dir")
	}
	profile := filepath.Join(p.ScratchDir, ProfileName)
	if err := os.WriteFile(profile, []byte(req.EnvProfile()), 0o644); err != nil {
		return nil, stepErr(err, "write environment profile")
	}
	repoList := filepath.Join(p.ScratchDir, path.Base(layout.RepoListPath))
	if err := os.WriteFile(repoList, []byte(req.RepoList()), 0o644); err != nil {
		return nil, stepErr(err, "write repository list")
	}

	if err := p.bounded(ctx, func(ctx context.Context) error { return p.Remote.ForgetHost(ctx, host) }); err != nil {
		return nil, stepErr(err, "clear stale host key")
	}

	copies := []struct {
		what  string
		local []string
		dir   string
	}{
		{"artifacts", artifacts, layout.BasePath},
		{"environment profile", []string{profile}, layout.BasePath},
		{"repository list", []string{repoList}, path.Dir(layout.RepoListPath)},
	}
	for _, c := range copies {
		if len(c.local) == 0 {
			continue
		}
		logger.WithFields(log.Fields{"to": c.dir}).Infof("copying %s", c.what)
		err := p.bounded(ctx, func(ctx context.Context) error { return p.Remote.CopyTo(ctx, host, c.local, c.dir) })
		if err != nil {
			return nil, stepErr(err, "copy "+c.what)
		}
	}

	out := &Outcome{Failed: map[string]error{}}
	if req.Toolkit.PackageInstaller == "" {
		return out, nil
	}

	installer := path.Join(layout.BasePath, req.Toolkit.PackageInstaller)
	if err := p.remoteOK(ctx, host, "chmod +x "+remote.Quote(installer)); err != nil {
		return nil, stepErr(err, "make installer executable")
	}

	for _, test := range req.MasterTests {
		logger.WithField("test", test).Info("installing test package")
		err := p.remoteOK(ctx, host, layout.InstallCommand(req.Toolkit.PackageInstaller, test))
		if err != nil {
			err = fault.Wrap(err, fault.DeploymentStepFailure, name, fault.PhaseDeploy, "install "+test)
			logger.WithField("test", test).WithError(err).Error("test package installation failed")
			out.Failed[test] = err
			if p.FailFast {
				return out, err
			}
			continue
		}
		out.Installed = append(out.Installed, test)
	}
	return out, nil
}

func (p *Pipeline) bounded(ctx context.Context, fn func(context.Context) error) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	return fn(ctx)
}

// remoteOK runs command and turns a non-zero exit into an error.
func (p *Pipeline) remoteOK(ctx context.Context, host, command string) error {
	return p.bounded(ctx, func(ctx context.Context) error {
		res, err := p.Remote.Run(ctx, host, command)
		if err != nil {
			return err
		}
		if !res.OK() {
			return fmt.Errorf("%q exited with status %d: %s", command, res.ExitCode, strings.TrimSpace(res.Output))
		}
		return nil
	})
}
