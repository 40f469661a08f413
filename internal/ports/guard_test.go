// Package ports tests drive the inspector, terminator and guard against a
// scripted fake runner, so no lsof or kill binaries are ever executed. The
// fake returns canned results per call in order and records every argv,
// letting each test assert both the decision taken and the exact commands
// it rested on.
package ports

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tunnelbar/tunnelbar/internal/execx"
)

type fakeRunner struct {
	calls   [][]string
	results []execx.Result
	errs    []error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (execx.Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	idx := len(f.calls) - 1
	var res execx.Result
	if idx < len(f.results) {
		res = f.results[idx]
	}
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	return res, err
}

func TestParsePids(t *testing.T) {
	got := parsePids("123\n456\n\nnot-a-pid\n-5\n")
	if len(got) != 2 || got[0] != 123 || got[1] != 456 {
		t.Fatalf("unexpected pids: %v", got)
	}
}

func TestInspectorOwners(t *testing.T) {
	fr := &fakeRunner{results: []execx.Result{{Stdout: "4821\n"}}}
	i := NewInspector(fr, false)

	got := i.Owners(context.Background(), 1080)
	if len(got) != 1 || got[0] != 4821 {
		t.Fatalf("unexpected owners: %v", got)
	}
	if fr.calls[0][0] != "lsof" || fr.calls[0][1] != "-ti" || fr.calls[0][2] != ":1080" {
		t.Fatalf("unexpected argv: %v", fr.calls[0])
	}
}

// TestInspectorSpawnErrorLenient verifies the default policy: if lsof
// cannot be run at all, the port is assumed free.
func TestInspectorSpawnErrorLenient(t *testing.T) {
	fr := &fakeRunner{errs: []error{errors.New("lsof missing")}}
	i := NewInspector(fr, false)

	if got := i.Owners(context.Background(), 1080); got != nil {
		t.Fatalf("expected nil owners, got %v", got)
	}
}

// TestInspectorSpawnErrorStrict verifies strict mode falls back to the
// kernel connection table instead of assuming the port is free.
func TestInspectorSpawnErrorStrict(t *testing.T) {
	fr := &fakeRunner{errs: []error{errors.New("lsof missing")}}
	i := NewInspector(fr, true)
	i.native = func(port int) ([]int, error) {
		if port != 1080 {
			t.Fatalf("unexpected port: %d", port)
		}
		return []int{777}, nil
	}

	got := i.Owners(context.Background(), 1080)
	if len(got) != 1 || got[0] != 777 {
		t.Fatalf("expected native fallback owners, got %v", got)
	}
}

// newTestGuard builds a guard with the settle delay zeroed so tests run
// without the one-second port-release wait.
func newTestGuard(runner execx.Runner, killExisting bool, decider ConflictDecider) *Guard {
	g := NewGuard(runner, killExisting, false, decider)
	g.terminator.settle = 0
	return g
}

func TestGuardEnsureFreePort(t *testing.T) {
	fr := &fakeRunner{results: []execx.Result{{Stdout: ""}}}
	g := newTestGuard(fr, true, nil)

	if err := g.Ensure(context.Background(), 1080); err != nil {
		t.Fatal(err)
	}
	if len(fr.calls) != 1 {
		t.Fatalf("expected single inspection, got %v", fr.calls)
	}
}

// TestGuardEnsureKillExisting verifies the automatic path: inspect, kill
// each owner, re-inspect clean, proceed.
func TestGuardEnsureKillExisting(t *testing.T) {
	fr := &fakeRunner{results: []execx.Result{
		{Stdout: "100\n200\n"}, // first inspection
		{ExitCode: 0},          // kill 100
		{ExitCode: 0},          // kill 200
		{Stdout: ""},           // re-inspection
	}}
	g := newTestGuard(fr, true, nil)

	if err := g.Ensure(context.Background(), 8888); err != nil {
		t.Fatal(err)
	}
	if len(fr.calls) != 4 {
		t.Fatalf("expected 4 calls, got %v", fr.calls)
	}
	if fr.calls[1][0] != "kill" || fr.calls[1][1] != "-TERM" || fr.calls[1][2] != "100" {
		t.Fatalf("unexpected kill argv: %v", fr.calls[1])
	}
}

// TestGuardEnsureStillBusy verifies a port that survives the kill attempt
// produces a BusyError naming the surviving pids.
func TestGuardEnsureStillBusy(t *testing.T) {
	fr := &fakeRunner{results: []execx.Result{
		{Stdout: "100\n"},
		{ExitCode: 0},
		{Stdout: "100\n"}, // still there
	}}
	g := newTestGuard(fr, true, nil)

	err := g.Ensure(context.Background(), 8888)
	var busy *BusyError
	if !errors.As(err, &busy) {
		t.Fatalf("expected BusyError, got %v", err)
	}
	if busy.Port != 8888 || len(busy.Pids) != 1 || busy.Pids[0] != 100 {
		t.Fatalf("unexpected busy error: %+v", busy)
	}
}

// TestGuardEnsureDeclined verifies that with kill-existing off, a declined
// conflict cancels the start before anything is signalled.
func TestGuardEnsureDeclined(t *testing.T) {
	fr := &fakeRunner{results: []execx.Result{{Stdout: "100\n"}}}
	g := newTestGuard(fr, false, DeciderFunc(func(port int, pids []int) bool { return false }))

	err := g.Ensure(context.Background(), 1080)
	if !errors.Is(err, ErrStartCancelled) {
		t.Fatalf("expected ErrStartCancelled, got %v", err)
	}
	// The cancellation names the owning pids so the status surface can show
	// the user what is squatting on the port.
	if !strings.Contains(err.Error(), "1080") || !strings.Contains(err.Error(), "100") {
		t.Fatalf("cancellation should carry port and pids: %v", err)
	}
	for _, call := range fr.calls {
		if call[0] == "kill" {
			t.Fatalf("kill must not run on a declined conflict: %v", fr.calls)
		}
	}
}

// A nil decider behaves as a standing decline.
func TestGuardEnsureNilDecider(t *testing.T) {
	fr := &fakeRunner{results: []execx.Result{{Stdout: "100\n"}}}
	g := newTestGuard(fr, false, nil)

	if err := g.Ensure(context.Background(), 1080); !errors.Is(err, ErrStartCancelled) {
		t.Fatalf("expected ErrStartCancelled, got %v", err)
	}
}

// TestGuardEnsureAccepted verifies an accepted conflict proceeds through
// the same terminate-and-recheck path as kill-existing.
func TestGuardEnsureAccepted(t *testing.T) {
	asked := false
	fr := &fakeRunner{results: []execx.Result{
		{Stdout: "100\n"},
		{ExitCode: 0},
		{Stdout: ""},
	}}
	g := newTestGuard(fr, false, DeciderFunc(func(port int, pids []int) bool {
		asked = true
		if port != 1080 || len(pids) != 1 || pids[0] != 100 {
			t.Fatalf("decider saw wrong conflict: port=%d pids=%v", port, pids)
		}
		return true
	}))

	if err := g.Ensure(context.Background(), 1080); err != nil {
		t.Fatal(err)
	}
	if !asked {
		t.Fatal("decider was not consulted")
	}
}
