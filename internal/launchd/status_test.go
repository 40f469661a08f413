// Package launchd tests verify the status-parse ladder against the output
// shapes launchctl has produced across macOS releases, and the controller's
// stop/start composition against a scripted fake runner.
//
// The fake runner never executes launchctl; it returns canned results per
// call, letting the tests assert exact argv composition and error mapping
// without depending on the host's launchd state.
package launchd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tunnelbar/tunnelbar/internal/execx"
	"github.com/tunnelbar/tunnelbar/internal/model"
)

// TestParseServiceStatusRunning verifies the plist-style output of a loaded
// and running service resolves to running with the parsed pid.
func TestParseServiceStatusRunning(t *testing.T) {
	out := "{\n\t\"LastExitStatus\" = 0;\n\t\"PID\" = 4821;\n\t\"Label\" = \"com.example.svc\";\n};\n"
	st := ParseServiceStatus(out, 0)
	if st.Kind != model.StatusRunning {
		t.Fatalf("expected running, got %s", st.Kind)
	}
	if st.PID != 4821 {
		t.Fatalf("expected pid 4821, got %d", st.PID)
	}
}

// TestParseServiceStatusNotLoaded verifies a nonzero exit wins over any
// output content: launchctl exits nonzero for an unknown label.
func TestParseServiceStatusNotLoaded(t *testing.T) {
	st := ParseServiceStatus("Could not find service \"com.example.svc\"", 1)
	if st.Kind != model.StatusNotLoaded {
		t.Fatalf("expected not-loaded, got %s", st.Kind)
	}
}

// TestParseServiceStatusFormats verifies all three recognized pid formats
// resolve to the same answer.
func TestParseServiceStatusFormats(t *testing.T) {
	cases := []struct {
		name string
		out  string
	}{
		{"plist", `"PID" = 123;`},
		{"colon", "Label: com.example.svc\nPID: 123\n"},
		{"tab-list", "123\t0\tcom.example.svc\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := ParseServiceStatus(tc.out, 0)
			if st.Kind != model.StatusRunning || st.PID != 123 {
				t.Fatalf("expected running pid 123, got %s pid %d", st.Kind, st.PID)
			}
		})
	}
}

// TestParseServiceStatusNonPositivePid verifies a non-positive pid match
// falls through the ladder instead of reporting a running service. launchd
// reports "PID" = -1 or a dash-column for loaded-but-stopped jobs in some
// releases.
func TestParseServiceStatusNonPositivePid(t *testing.T) {
	st := ParseServiceStatus(`"PID" = -1;`, 0)
	if st.Kind != model.StatusStopped {
		t.Fatalf("expected stopped, got %s", st.Kind)
	}
}

// TestParseServiceStatusStopped verifies zero-exit output without any pid
// reads as loaded but stopped.
func TestParseServiceStatusStopped(t *testing.T) {
	out := "{\n\t\"LastExitStatus\" = 0;\n\t\"Label\" = \"com.example.svc\";\n};\n"
	st := ParseServiceStatus(out, 0)
	if st.Kind != model.StatusStopped {
		t.Fatalf("expected stopped, got %s", st.Kind)
	}
}

// TestParseServiceStatusUnknown verifies empty output on a zero exit is
// reported as unknown rather than guessed at.
func TestParseServiceStatusUnknown(t *testing.T) {
	st := ParseServiceStatus("   \n", 0)
	if st.Kind != model.StatusUnknown {
		t.Fatalf("expected unknown, got %s", st.Kind)
	}
}

// fakeRunner returns canned results in call order and records every argv
// it was asked to run. ProbeAll drives it from concurrent goroutines, so
// call bookkeeping is mutex-guarded.
type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	results []execx.Result
	errs    []error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (execx.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func TestProberProbe(t *testing.T) {
	fr := &fakeRunner{results: []execx.Result{{Stdout: `"PID" = 99;`, ExitCode: 0}}}
	p := NewProber(fr)
	svc := model.ManagedService{ID: "a", Label: "com.example.svc"}

	st := p.Probe(context.Background(), svc)
	if st.Kind != model.StatusRunning || st.PID != 99 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if len(fr.calls) != 1 || fr.calls[0][0] != "launchctl" || fr.calls[0][1] != "list" || fr.calls[0][2] != "com.example.svc" {
		t.Fatalf("unexpected argv: %v", fr.calls)
	}
}

// TestProberProbeRunError verifies a probe that cannot even spawn reads as
// unknown, never as stopped or not-loaded.
func TestProberProbeRunError(t *testing.T) {
	fr := &fakeRunner{errs: []error{errors.New("spawn failed")}}
	p := NewProber(fr)

	st := p.Probe(context.Background(), model.ManagedService{ID: "a", Label: "x"})
	if st.Kind != model.StatusUnknown {
		t.Fatalf("expected unknown, got %s", st.Kind)
	}
}

// TestProberProbeAll verifies concurrent probing keys results by service ID.
func TestProberProbeAll(t *testing.T) {
	fr := &fakeRunner{results: []execx.Result{
		{Stdout: `"PID" = 7;`},
		{Stdout: `"PID" = 8;`},
	}}
	p := NewProber(fr)
	svcs := []model.ManagedService{
		{ID: "id-a", Label: "com.example.a"},
		{ID: "id-b", Label: "com.example.b"},
	}

	got := p.ProbeAll(context.Background(), svcs)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	for _, svc := range svcs {
		if st, ok := got[svc.ID]; !ok || st.Kind != model.StatusRunning {
			t.Fatalf("missing or wrong status for %s: %+v", svc.ID, st)
		}
	}
}

// TestControllerStartStderr verifies a nonzero launchctl exit surfaces the
// trimmed stderr as the error message.
func TestControllerStartStderr(t *testing.T) {
	fr := &fakeRunner{results: []execx.Result{{ExitCode: 3, Stderr: "  Operation not permitted  \n"}}}
	c := NewController(fr)

	err := c.Start(context.Background(), model.ManagedService{Label: "com.example.svc"})
	var cerr *CommandError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cerr.Error() != "Operation not permitted" {
		t.Fatalf("unexpected message: %q", cerr.Error())
	}
}

// TestControllerStartExitCodeFallback verifies an empty stderr falls back
// to the bare exit code message.
func TestControllerStartExitCodeFallback(t *testing.T) {
	fr := &fakeRunner{results: []execx.Result{{ExitCode: 112}}}
	c := NewController(fr)

	err := c.Start(context.Background(), model.ManagedService{Label: "x"})
	if err == nil || err.Error() != "launchctl exited with code 112" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestControllerStopSpawnError(t *testing.T) {
	fr := &fakeRunner{errs: []error{errors.New("no launchctl")}}
	c := NewController(fr)

	err := c.Stop(context.Background(), model.ManagedService{Label: "x"})
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProcessError, got %v", err)
	}
}

// TestControllerRestartComposition verifies restart is stop, delay, start,
// and that a failed stop still proceeds to the start after the shorter
// fallback delay.
func TestControllerRestartComposition(t *testing.T) {
	fr := &fakeRunner{results: []execx.Result{
		{ExitCode: 0}, // stop
		{ExitCode: 0}, // start
	}}
	c := NewController(fr)
	c.restartDelay = time.Millisecond
	c.fallbackDelay = time.Millisecond

	if err := c.Restart(context.Background(), model.ManagedService{Label: "com.example.svc"}); err != nil {
		t.Fatal(err)
	}
	if len(fr.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(fr.calls))
	}
	if fr.calls[0][1] != "stop" || fr.calls[1][1] != "start" {
		t.Fatalf("unexpected composition: %v", fr.calls)
	}

	// Failed stop: the start is still attempted.
	fr2 := &fakeRunner{results: []execx.Result{
		{ExitCode: 3, Stderr: "not running"},
		{ExitCode: 0},
	}}
	c2 := NewController(fr2)
	c2.restartDelay = time.Millisecond
	c2.fallbackDelay = time.Millisecond

	if err := c2.Restart(context.Background(), model.ManagedService{Label: "com.example.svc"}); err != nil {
		t.Fatal(err)
	}
	if len(fr2.calls) != 2 || fr2.calls[1][1] != "start" {
		t.Fatalf("expected start after failed stop, got %v", fr2.calls)
	}
}
