// Package tshclient wraps the remote-access client binary (a tsh-style
// tool) that provides authentication and SSH/SOCKS tunnelling.
//
// This package does not implement any network protocol itself. It shells
// out to the configured client executable, which carries its own credential
// cache, proxy configuration, and browser-based login flow. There are four
// operations the supervision core needs:
//
//   - LoggedIn: a cheap credential check ("status" subcommand, exit 0 means
//     authenticated).
//   - Login / LoginInteractive: the credential bootstrap. The client opens a
//     browser for interactive auth and exits 0 once the flow completes.
//   - CheckConnectivity: an actual SSH command to the jump host ("ssh <host>
//     exit") proving the credentials work end to end, not just locally.
//   - StartTunnel: the long-running SOCKS tunnel process ("ssh -A -N -D
//     <port> <host>"). The returned TunnelProcess hands the exec.Cmd to the
//     supervisor, which owns its lifecycle from then on.
//
// All arguments are passed via argv, never through a shell, so hostnames
// and paths with metacharacters cannot inject commands.
package tshclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/creack/pty"

	"github.com/tunnelbar/tunnelbar/internal/execx"
)

// TunnelProcess is a running tunnel subprocess. The supervisor owns its
// lifecycle: it calls Cmd.Wait (in a goroutine) to observe exit, signals
// Cmd.Process to request termination, and drains Stderr so the child never
// blocks on a full pipe.
type TunnelProcess struct {
	Cmd    *exec.Cmd
	Stderr io.ReadCloser
}

// Client invokes the remote-access client binary at Path. Stateless and
// safe for concurrent use; each call creates an independent command.
type Client struct {
	Path   string
	runner execx.Runner
}

// New creates a client for the binary at path.
func New(path string) *Client {
	return &Client{Path: path, runner: execx.System()}
}

// NewWithRunner creates a client whose short-lived invocations (status,
// login, connectivity) go through the given runner. Used by tests.
func NewWithRunner(path string, runner execx.Runner) *Client {
	return &Client{Path: path, runner: runner}
}

// EnsureClientBinary checks the client executable can be resolved, to fail
// with a clear message at startup rather than a confusing exec error later.
func EnsureClientBinary(path string) error {
	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("remote-access client %q not found", path)
	}
	return nil
}

// LoggedIn reports whether the client holds valid credentials. Any failure
// to run or a nonzero exit reads as "not authenticated".
func (c *Client) LoggedIn(ctx context.Context) bool {
	res, err := c.runner.Run(ctx, c.Path, "status")
	return err == nil && res.ExitCode == 0
}

// Login runs the credential bootstrap against the proxy endpoint. The
// client is expected to open a browser and exit 0 once the interactive flow
// completes.
func (c *Client) Login(ctx context.Context, proxyAddr string) error {
	res, err := c.runner.Run(ctx, c.Path, "login", "--proxy", proxyAddr)
	if err != nil {
		return fmt.Errorf("login could not run: %w", err)
	}
	if res.ExitCode != 0 {
		msg := res.Stderr
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", res.ExitCode)
		}
		return fmt.Errorf("login failed: %s", msg)
	}
	return nil
}

// LoginInteractive runs the login flow attached to the user's terminal via
// a pty, for clients that prompt before opening the browser. Blocks until
// the flow ends; cancelling the context kills the child.
func (c *Client) LoginInteractive(ctx context.Context, proxyAddr string) error {
	cmd := exec.Command(c.Path, "login", "--proxy", proxyAddr)
	f, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start login: %w", err)
	}
	defer f.Close()

	go func() {
		_, _ = io.Copy(f, os.Stdin)
	}()
	_, _ = io.Copy(os.Stdout, f)

	if ctx.Err() != nil {
		_ = cmd.Process.Kill()
	}
	return cmd.Wait()
}

// CheckConnectivity proves the credentials work end to end by running a
// no-op SSH command against the jump host. The caller bounds the context.
func (c *Client) CheckConnectivity(ctx context.Context, jumpHost string) error {
	res, err := c.runner.Run(ctx, c.Path, "ssh", jumpHost, "exit")
	if err != nil {
		return fmt.Errorf("connectivity check could not run: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("connectivity check to %s failed (exit %d)", jumpHost, res.ExitCode)
	}
	return nil
}

// StartTunnel launches the long-running SOCKS tunnel process in the
// background:
//
//	<client> ssh -A -N -D <localPort> <jumpHost>
//
// The process inherits the parent environment so the client finds its
// credential cache and PATH. The ctx is wired through exec.CommandContext;
// cancelling it kills the child, which is the supervisor's last-resort
// teardown path behind the signal escalation.
func (c *Client) StartTunnel(ctx context.Context, localPort int, jumpHost string) (*TunnelProcess, error) {
	cmd := exec.CommandContext(ctx, c.Path, BuildTunnelArgs(localPort, jumpHost)...)
	cmd.Env = os.Environ()

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = io.Discard
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &TunnelProcess{Cmd: cmd, Stderr: stderr}, nil
}

// BuildTunnelArgs composes the tunnel argv without starting a process, for
// display and for testing argument composition independently.
func BuildTunnelArgs(localPort int, jumpHost string) []string {
	return []string{"ssh", "-A", "-N", "-D", strconv.Itoa(localPort), jumpHost}
}
