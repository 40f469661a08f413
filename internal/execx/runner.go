// Package execx runs external commands and captures their results.
//
// Every OS collaborator in this program (launchctl, lsof, kill, the
// remote-access client) is invoked as a subprocess; Runner is the one seam
// through which those invocations flow, so the packages driving them can be
// tested against scripted fakes instead of the real binaries.
package execx

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Result carries the captured output and exit code of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes one external command to completion.
//
// The returned error is non-nil only when the command could not be run at
// all (binary missing, spawn refused, context cancelled). A command that ran
// and exited nonzero returns a nil error with Result.ExitCode set; callers
// decide what a nonzero exit means for them.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

type systemRunner struct{}

// System returns a Runner backed by os/exec.
func System() Runner { return systemRunner{} }

func (systemRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	// A deadline or cancellation kills the child; surface that as a run
	// failure rather than pretending the command exited on its own.
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return Result{}, err
}
