// Package httpproxy launches the optional local HTTP proxy process.
package httpproxy

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// Process is a running proxy subprocess; the supervisor owns its lifecycle.
type Process struct {
	Cmd    *exec.Cmd
	Stderr io.ReadCloser
}

// Client launches the proxy binary at Path.
type Client struct {
	Path string
}

// New creates a client for the proxy binary at path.
func New(path string) *Client { return &Client{Path: path} }

// Start launches the proxy listening on the given local port:
//
//	<path> -p <port>
//
// Long-running; the caller watches Cmd.Wait for the termination callback.
func (c *Client) Start(ctx context.Context, port int) (*Process, error) {
	cmd := exec.CommandContext(ctx, c.Path, BuildArgs(port)...)
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
	return &Process{Cmd: cmd, Stderr: stderr}, nil
}

// BuildArgs composes the proxy argv without starting a process.
func BuildArgs(port int) []string {
	return []string{"-p", strconv.Itoa(port)}
}
