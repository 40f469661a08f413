package ports

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/tunnelbar/tunnelbar/internal/execx"
	"github.com/tunnelbar/tunnelbar/internal/util"
)

// Terminator sends termination signals to port owners and waits for the OS
// to reclaim the port. Best-effort: one pid's failure does not abort the
// loop, and the only verification is the caller re-running the Inspector.
type Terminator struct {
	runner execx.Runner
	settle time.Duration
}

// NewTerminator creates a Terminator with the standard settle delay.
func NewTerminator(runner execx.Runner) *Terminator {
	return &Terminator{runner: runner, settle: util.PortSettleDelay}
}

// Terminate signals each pid with SIGTERM sequentially, then blocks for the
// settle delay so the kernel can release the port before re-inspection.
func (t *Terminator) Terminate(ctx context.Context, pids []int) {
	for _, pid := range pids {
		res, err := t.runner.Run(ctx, "kill", "-TERM", strconv.Itoa(pid))
		switch {
		case err != nil:
			slog.Warn("failed to signal port owner", "pid", pid, "error", err)
		case res.ExitCode != 0:
			slog.Warn("port owner refused signal", "pid", pid, "exit_code", res.ExitCode)
		default:
			slog.Info("terminated port owner", "pid", pid)
		}
	}
	if len(pids) > 0 && t.settle > 0 {
		select {
		case <-time.After(t.settle):
		case <-ctx.Done():
		}
	}
}
