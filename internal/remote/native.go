package remote

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/buckleypaul/bmtf/internal/shell"
)

const dialTimeout = 10 * time.Second

// Native speaks ssh in-process. Files travel as tar streams over an exec
// channel, so the board only needs tar and a POSIX shell.
type Native struct {
	opts   Options
	config *ssh.ClientConfig
}

// NewNative builds a native transport. Boards are re-flashed on every boot,
// so host keys are not checked.
func NewNative(opts Options) (*Native, error) {
	opts = opts.withDefaults()
	var auth []ssh.AuthMethod
	if opts.KeyFile != "" {
		pem, err := os.ReadFile(opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key %s: %w", opts.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	// Development images allow password-less root logins.
	auth = append(auth,
		ssh.Password(""),
		ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			return make([]string, len(questions)), nil
		}),
	)
	return &Native{
		opts: opts,
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            auth,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         dialTimeout,
		},
	}, nil
}

func (n *Native) dial(ctx context.Context, host string) (*ssh.Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(n.opts.Port))
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, n.config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// exec runs command in a new session, wiring stdin and stdout. The session
// is torn down when ctx ends.
func (n *Native) exec(ctx context.Context, host, command string, stdin io.Reader, stdout io.Writer) (int, error) {
	client, err := n.dial(ctx, host)
	if err != nil {
		return -1, err
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return -1, err
	}
	defer sess.Close()

	var stderr bytes.Buffer
	sess.Stdin = stdin
	sess.Stdout = stdout
	sess.Stderr = &stderr
	if stdout == nil {
		sess.Stdout = io.Discard
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()

	err = sess.Run(command)
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), fmt.Errorf("remote %q exited with status %d: %s",
			command, exitErr.ExitStatus(), bytes.TrimSpace(stderr.Bytes()))
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

func (n *Native) Run(ctx context.Context, host, command string) (shell.Result, error) {
	start := time.Now()
	var out bytes.Buffer
	code, err := n.exec(ctx, host, command, nil, &out)
	res := shell.Result{Output: out.String(), ExitCode: code, Duration: time.Since(start)}
	if code > 0 {
		// A non-zero exit is reported through the result, like the system transport.
		return res, nil
	}
	return res, err
}

func (n *Native) CopyTo(ctx context.Context, host string, local []string, remoteDir string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeTar(pw, local))
	}()
	cmd := fmt.Sprintf("mkdir -p %s && tar -C %s -xf -", Quote(remoteDir), Quote(remoteDir))
	_, err := n.exec(ctx, host, cmd, pr, nil)
	pr.Close()
	return err
}

func (n *Native) Fetch(ctx context.Context, host, pattern, localDir string) error {
	dir, glob := path.Split(pattern)
	if dir == "" {
		dir = "."
	}
	// The glob stays unquoted so the remote shell expands it.
	cmd := fmt.Sprintf("cd %s && tar -cf - %s", Quote(dir), glob)
	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		errc <- receiveTar(pr, localDir)
	}()
	_, err := n.exec(ctx, host, cmd, nil, pw)
	pw.Close()
	if xerr := <-errc; err == nil {
		err = xerr
	}
	return err
}

// ForgetHost is a no-op: the native transport keeps no known_hosts.
func (n *Native) ForgetHost(context.Context, string) error {
	return nil
}

// writeTar archives each path under its base name.
func writeTar(w io.Writer, paths []string) error {
	tw := tar.NewWriter(w)
	for _, root := range paths {
		base := filepath.Dir(root)
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if !info.Mode().IsRegular() && !info.IsDir() {
				return nil
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(base, p)
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(rel)
			if info.IsDir() {
				hdr.Name += "/"
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
			return err
		})
		if err != nil {
			return err
		}
	}
	return tw.Close()
}

// receiveTar extracts the archive from pr and then reads the stream to its
// end, so the sender can finish writing the archive's block padding.
func receiveTar(pr *io.PipeReader, dir string) error {
	err := extractTar(pr, dir)
	if err != nil {
		pr.CloseWithError(err)
		return err
	}
	_, err = io.Copy(io.Discard, pr)
	pr.Close()
	return err
}

// extractTar writes the regular files of the archive flat into dir.
func extractTar(r io.Reader, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(filepath.FromSlash(hdr.Name))
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		_, err = io.Copy(f, tr)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
}
