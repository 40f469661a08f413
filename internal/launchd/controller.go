package launchd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tunnelbar/tunnelbar/internal/execx"
	"github.com/tunnelbar/tunnelbar/internal/model"
	"github.com/tunnelbar/tunnelbar/internal/util"
)

// CommandError is a launchctl invocation that ran but exited nonzero. The
// message prefers the command's trimmed stderr; an empty stderr falls back
// to the bare exit code.
type CommandError struct {
	Code   int
	Stderr string
}

func (e *CommandError) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("launchctl exited with code %d", e.Code)
}

// ProcessError is a launchctl invocation that could not be spawned at all
// (binary missing, permission denied). Kept distinct from CommandError so
// the two failure modes are reported separately.
type ProcessError struct {
	Err error
}

func (e *ProcessError) Error() string { return fmt.Sprintf("launchctl could not run: %v", e.Err) }
func (e *ProcessError) Unwrap() error { return e.Err }

// Controller issues start/stop commands to launchd for managed services.
type Controller struct {
	runner execx.Runner

	// restart composition delays; overridable in tests.
	restartDelay  time.Duration
	fallbackDelay time.Duration
}

// NewController creates a Controller with the standard restart delays.
func NewController(runner execx.Runner) *Controller {
	return &Controller{
		runner:        runner,
		restartDelay:  util.ServiceRestartDelay,
		fallbackDelay: util.ServiceRestartFallbackDelay,
	}
}

// Start asks launchd to start the service.
func (c *Controller) Start(ctx context.Context, svc model.ManagedService) error {
	return c.run(ctx, "start", svc)
}

// Stop asks launchd to stop the service.
func (c *Controller) Stop(ctx context.Context, svc model.ManagedService) error {
	return c.run(ctx, "stop", svc)
}

// Restart composes stop-then-start; launchd has no native restart. A failed
// stop (the service plausibly wasn't running) is logged and the start still
// attempted after a shorter wait, rather than propagating the stop failure.
func (c *Controller) Restart(ctx context.Context, svc model.ManagedService) error {
	delay := c.restartDelay
	if err := c.Stop(ctx, svc); err != nil {
		slog.Warn("stop before restart failed, starting anyway", "label", svc.Label, "error", err)
		delay = c.fallbackDelay
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Start(ctx, svc)
}

func (c *Controller) run(ctx context.Context, subcommand string, svc model.ManagedService) error {
	res, err := c.runner.Run(ctx, "launchctl", subcommand, svc.Label)
	if err != nil {
		return &ProcessError{Err: err}
	}
	if res.ExitCode != 0 {
		return &CommandError{Code: res.ExitCode, Stderr: res.Stderr}
	}
	slog.Info("service command succeeded", "command", subcommand, "label", svc.Label)
	return nil
}
