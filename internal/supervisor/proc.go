package supervisor

import (
	"bufio"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// procHandle wraps one live supervised subprocess. At most one exists per
// slot; the owning supervisor's run loop is the only writer of the field
// holding it.
type procHandle struct {
	cmd    *exec.Cmd
	stderr io.ReadCloser
	done   chan struct{} // closed once Wait returns
}

func newProcHandle(cmd *exec.Cmd, stderr io.ReadCloser) *procHandle {
	return &procHandle{cmd: cmd, stderr: stderr, done: make(chan struct{})}
}

func (h *procHandle) pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// watch drains the stderr stream into the log, waits for the process to
// exit, and delivers the exit error on exits. The OS-delivered termination
// here is the authoritative "stopped" transition, never the signal send.
func (h *procHandle) watch(slot string, exits chan<- error) {
	if h.stderr != nil {
		sc := bufio.NewScanner(h.stderr)
		for sc.Scan() {
			slog.Debug("process output", "slot", slot, "line", sc.Text())
		}
	}
	err := h.cmd.Wait()
	close(h.done)
	exits <- err
}

func (h *procHandle) signal(sig syscall.Signal) {
	if h.cmd.Process == nil {
		return
	}
	if err := h.cmd.Process.Signal(sig); err != nil {
		slog.Debug("signal failed", "pid", h.pid(), "signal", sig, "error", err)
	}
}

// escStep is one rung of a stop escalation: send the signal, then wait up
// to grace for the process to die before the next rung. A zero grace on the
// final rung sends and returns.
type escStep struct {
	sig   syscall.Signal
	grace time.Duration
}

// escalate walks the escalation ladder, returning early as soon as the
// watcher observes process exit.
func (h *procHandle) escalate(steps []escStep) {
	for _, st := range steps {
		h.signal(st.sig)
		if st.grace <= 0 {
			return
		}
		select {
		case <-h.done:
			return
		case <-time.After(st.grace):
		}
	}
}
