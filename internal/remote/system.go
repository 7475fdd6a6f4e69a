package remote

import (
	"context"
	"fmt"
	"strconv"

	"github.com/buckleypaul/bmtf/internal/shell"
)

// SystemSSH shells out to the ssh, scp and ssh-keygen binaries, so user
// ssh_config applies.
type SystemSSH struct {
	runner shell.Runner
	opts   Options
}

// NewSystemSSH returns a transport running the system tools through runner.
func NewSystemSSH(runner shell.Runner, opts Options) *SystemSSH {
	return &SystemSSH{runner: runner, opts: opts.withDefaults()}
}

func (s *SystemSSH) commonArgs(portFlag string) []string {
	args := []string{
		"-oBatchMode=yes",
		"-oStrictHostKeyChecking=no",
		"-oConnectTimeout=10",
	}
	if s.opts.KnownHosts != "" {
		args = append(args, "-oUserKnownHostsFile="+s.opts.KnownHosts)
	}
	for _, o := range s.opts.Extra {
		args = append(args, "-o"+o)
	}
	if s.opts.KeyFile != "" {
		args = append(args, "-i", s.opts.KeyFile)
	}
	if s.opts.Port != DefaultPort {
		args = append(args, portFlag, strconv.Itoa(s.opts.Port))
	}
	return args
}

func (s *SystemSSH) dest(host string) string {
	return s.opts.User + "@" + host
}

func (s *SystemSSH) Run(ctx context.Context, host, command string) (shell.Result, error) {
	args := append(s.commonArgs("-p"), s.dest(host), command)
	return s.runner.Run(ctx, "ssh", args...)
}

func (s *SystemSSH) CopyTo(ctx context.Context, host string, local []string, remoteDir string) error {
	args := append(s.commonArgs("-P"), "-r")
	args = append(args, local...)
	args = append(args, s.dest(host)+":"+remoteDir)
	_, err := shell.RunSimple(ctx, s.runner, append([]string{"scp"}, args...))
	return err
}

func (s *SystemSSH) Fetch(ctx context.Context, host, pattern, localDir string) error {
	args := append(s.commonArgs("-P"), s.dest(host)+":"+pattern, localDir)
	_, err := shell.RunSimple(ctx, s.runner, append([]string{"scp"}, args...))
	return err
}

func (s *SystemSSH) ForgetHost(ctx context.Context, host string) error {
	args := []string{"-R", host}
	if s.opts.Port != DefaultPort {
		args[1] = fmt.Sprintf("[%s]:%d", host, s.opts.Port)
	}
	if s.opts.KnownHosts != "" {
		args = append(args, "-f", s.opts.KnownHosts)
	}
	res, err := s.runner.Run(ctx, "ssh-keygen", args...)
	if err != nil {
		return err
	}
	// ssh-keygen exits 255 when the known_hosts file does not exist yet.
	if !res.OK() && res.ExitCode != 255 {
		return fmt.Errorf("ssh-keygen -R %s exited with status %d: %s", host, res.ExitCode, res.Output)
	}
	return nil
}
