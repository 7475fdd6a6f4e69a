// Package remote executes commands on and copies files to and from a booted
// board over ssh.
package remote

import (
	"context"
	"strings"

	"github.com/buckleypaul/bmtf/internal/shell"
)

// Transport names.
const (
	TransportSystem = "system"
	TransportNative = "native"
)

const (
	DefaultUser = "root"
	DefaultPort = 22
)

// Remote is the secure-shell mechanism used by deployment and harvesting.
type Remote interface {
	// Run executes command through the remote login shell.
	Run(ctx context.Context, host, command string) (shell.Result, error)
	// CopyTo copies local files or directory trees into remoteDir.
	CopyTo(ctx context.Context, host string, local []string, remoteDir string) error
	// Fetch copies the remote files matching pattern into localDir.
	Fetch(ctx context.Context, host, pattern, localDir string) error
	// ForgetHost drops any stale host key recorded for host.
	ForgetHost(ctx context.Context, host string) error
}

// Options are shared by both transports.
type Options struct {
	User    string
	Port    int
	KeyFile string
	// KnownHosts is the known_hosts file cleaned by ForgetHost; empty means
	// the user's default.
	KnownHosts string
	// Extra are additional -o options for the system transport.
	Extra []string
}

func (o Options) withDefaults() Options {
	if o.User == "" {
		o.User = DefaultUser
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	return o
}

// Quote wraps s in single quotes for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
