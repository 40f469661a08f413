package supervisor

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
	"github.com/tunnelbar/tunnelbar/internal/httpproxy"
	"github.com/tunnelbar/tunnelbar/internal/model"
)

// fakeProxyStarter spawns "sleep 30" in place of the proxy binary.
type fakeProxyStarter struct {
	mu     sync.Mutex
	fail   error
	starts int
}

func (f *fakeProxyStarter) Start(ctx context.Context, port int) (*httpproxy.Process, error) {
	f.mu.Lock()
	f.starts++
	failErr := f.fail
	f.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}
	cmd := exec.CommandContext(ctx, "sleep", "30")
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &httpproxy.Process{Cmd: cmd, Stderr: stderr}, nil
}

func enabledProxyConfig() appconfig.HTTPProxyConfig {
	return appconfig.HTTPProxyConfig{Enabled: true, LocalPort: 8888, BinaryPath: "hpts"}
}

func newTestProxy(t *testing.T, starter *fakeProxyStarter, guard *fakeGuard, cfg appconfig.HTTPProxyConfig) *ProxySupervisor {
	t.Helper()
	s := NewProxySupervisor(starter, guard, func() appconfig.HTTPProxyConfig { return cfg }, NotifierFunc(func(model.LogLevel, string, string) {}), nil)
	s.restartDelay = time.Millisecond
	s.stopSteps = []escStep{
		{sig: syscall.SIGTERM, grace: 200 * time.Millisecond},
		{sig: syscall.SIGKILL},
	}
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(cancel)
	return s
}

func waitForProxyState(t *testing.T, s *ProxySupervisor, want model.SlotState) model.SlotRuntime {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rt := s.Runtime(context.Background())
		if rt.State == want {
			return rt
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("proxy slot never reached state %s", want)
	return model.SlotRuntime{}
}

// TestProxyDisabledStart verifies starting a disabled proxy is a config
// error and touches neither the guard nor the starter.
func TestProxyDisabledStart(t *testing.T) {
	starter := &fakeProxyStarter{}
	guard := &fakeGuard{}
	cfg := enabledProxyConfig()
	cfg.Enabled = false
	s := newTestProxy(t, starter, guard, cfg)

	err := s.Start(context.Background())
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if guard.count() != 0 || starter.starts != 0 {
		t.Fatal("disabled proxy must not touch guard or starter")
	}
}

func TestProxyStartStopLifecycle(t *testing.T) {
	starter := &fakeProxyStarter{}
	s := newTestProxy(t, starter, &fakeGuard{}, enabledProxyConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rt := waitForProxyState(t, s, model.SlotRunning)
	if rt.PID <= 0 {
		t.Fatalf("expected pid, got %d", rt.PID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	waitForProxyState(t, s, model.SlotIdle)
}

// TestProxyGuardFailure verifies a busy port aborts the start.
func TestProxyGuardFailure(t *testing.T) {
	guardErr := errors.New("port 8888 still in use")
	starter := &fakeProxyStarter{}
	s := newTestProxy(t, starter, &fakeGuard{err: guardErr}, enabledProxyConfig())

	if err := s.Start(context.Background()); !errors.Is(err, guardErr) {
		t.Fatalf("expected guard error, got %v", err)
	}
	if starter.starts != 0 {
		t.Fatal("proxy must not spawn when the guard fails")
	}
}

// TestProxyUnexpectedExit verifies the exit callback returns the slot to
// idle and records the failure.
func TestProxyUnexpectedExit(t *testing.T) {
	starter := &fakeProxyStarter{}
	s := newTestProxy(t, starter, &fakeGuard{}, enabledProxyConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rt := waitForProxyState(t, s, model.SlotRunning)
	if err := syscall.Kill(rt.PID, syscall.SIGKILL); err != nil {
		t.Fatal(err)
	}
	got := waitForProxyState(t, s, model.SlotIdle)
	if got.LastError == "" {
		t.Fatal("expected last error to record the unexpected exit")
	}
}

func TestProxySpawnFailure(t *testing.T) {
	starter := &fakeProxyStarter{fail: errors.New("exec format error")}
	s := newTestProxy(t, starter, &fakeGuard{}, enabledProxyConfig())

	err := s.Start(context.Background())
	var serr *SpawnError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	waitForProxyState(t, s, model.SlotIdle)
}
