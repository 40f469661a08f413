package ports

import (
	"context"
	"errors"
	"fmt"

	"github.com/tunnelbar/tunnelbar/internal/execx"
)

// ErrStartCancelled is returned when the user declines to resolve a port
// conflict; the start operation is aborted with no side effects.
var ErrStartCancelled = errors.New("start cancelled: port conflict not resolved")

// BusyError reports a port that stayed occupied after a kill attempt.
type BusyError struct {
	Port int
	Pids []int
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("port %d still in use by %v after terminating owners", e.Port, e.Pids)
}

// ConflictDecider resolves a port conflict with the user when automatic
// killing is disabled. Returning true means terminate the owners and
// continue; false cancels the start.
type ConflictDecider interface {
	ResolveConflict(port int, pids []int) bool
}

// DeciderFunc adapts a function to the ConflictDecider interface.
type DeciderFunc func(port int, pids []int) bool

func (f DeciderFunc) ResolveConflict(port int, pids []int) bool { return f(port, pids) }

// Guard runs the port-contention policy for a supervisor: contention must be
// resolved, or explicitly accepted by the user, strictly before the process
// spawn. Spawning first and discovering a bind failure would produce a
// confusing error with no remediation path.
type Guard struct {
	inspector    *Inspector
	terminator   *Terminator
	killExisting bool
	decider      ConflictDecider
}

// NewGuard creates a Guard. decider may be nil, in which case an unresolved
// conflict always cancels the start.
func NewGuard(runner execx.Runner, killExisting, strictInspection bool, decider ConflictDecider) *Guard {
	return &Guard{
		inspector:    NewInspector(runner, strictInspection),
		terminator:   NewTerminator(runner),
		killExisting: killExisting,
		decider:      decider,
	}
}

// Ensure clears the given port for binding:
//
//  1. No owners: proceed.
//  2. Owners and kill-existing is configured: terminate them and re-check;
//     a still-occupied port is a *BusyError.
//  3. Owners and kill-existing is off: put the conflict to the decider;
//     cancel aborts with ErrStartCancelled and no side effects, accept
//     terminates and re-checks as in (2).
func (g *Guard) Ensure(ctx context.Context, port int) error {
	owners := g.inspector.Owners(ctx, port)
	if len(owners) == 0 {
		return nil
	}
	if !g.killExisting {
		if g.decider == nil || !g.decider.ResolveConflict(port, owners) {
			return fmt.Errorf("%w: port %d owned by pids %v", ErrStartCancelled, port, owners)
		}
	}
	g.terminator.Terminate(ctx, owners)
	if remaining := g.inspector.Owners(ctx, port); len(remaining) > 0 {
		return &BusyError{Port: port, Pids: remaining}
	}
	return nil
}
