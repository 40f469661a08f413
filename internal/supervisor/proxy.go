package supervisor

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
	"github.com/tunnelbar/tunnelbar/internal/events"
	"github.com/tunnelbar/tunnelbar/internal/httpproxy"
	"github.com/tunnelbar/tunnelbar/internal/model"
	"github.com/tunnelbar/tunnelbar/internal/security"
	"github.com/tunnelbar/tunnelbar/internal/util"
)

// ProxyStarter launches the HTTP proxy process. *httpproxy.Client
// satisfies it.
type ProxyStarter interface {
	Start(ctx context.Context, port int) (*httpproxy.Process, error)
}

const proxySlot = "http-proxy"

// ProxySupervisor manages the local HTTP proxy slot. Same actor shape as
// the tunnel supervisor, without the credential phase: the proxy needs no
// authentication, so a start is guard, spawn, watch.
type ProxySupervisor struct {
	starter  ProxyStarter
	guard    PortGuard
	config   func() appconfig.HTTPProxyConfig
	notifier Notifier
	journal  Journal

	restartDelay time.Duration
	stopSteps    []escStep

	commands     chan slotCmd
	queries      chan chan model.SlotRuntime
	startResults chan proxyStartResult
	procExits    chan error
}

type proxyStartResult struct {
	proc *httpproxy.Process
	err  error
}

// NewProxySupervisor wires the HTTP proxy slot. A nil notifier falls back
// to logging; a nil journal disables the event journal.
func NewProxySupervisor(starter ProxyStarter, guard PortGuard, config func() appconfig.HTTPProxyConfig, notifier Notifier, journal Journal) *ProxySupervisor {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &ProxySupervisor{
		starter:  starter,
		guard:    guard,
		config:   config,
		notifier: notifier,
		journal:  journal,

		restartDelay: util.TunnelRestartDelay,
		stopSteps: []escStep{
			{sig: syscall.SIGTERM, grace: util.ProxyTermGrace},
			{sig: syscall.SIGINT},
		},

		commands:     make(chan slotCmd),
		queries:      make(chan chan model.SlotRuntime),
		startResults: make(chan proxyStartResult, 1),
		procExits:    make(chan error, 1),
	}
}

type proxyState struct {
	state       model.SlotState
	proc        *procHandle
	startedAt   time.Time
	lastErr     string
	cancel      chan struct{}
	startReply  chan error
	stopReplies []chan error
}

// Run is the actor loop; returns when ctx is cancelled.
func (s *ProxySupervisor) Run(ctx context.Context) {
	st := &proxyState{state: model.SlotIdle}
	for {
		select {
		case <-ctx.Done():
			if st.proc != nil {
				st.proc.escalate(s.stopSteps)
			}
			return
		case cmd := <-s.commands:
			s.handleCommand(ctx, st, cmd)
		case reply := <-s.queries:
			reply <- s.snapshot(st)
		case res := <-s.startResults:
			s.handleStartResult(st, res)
		case err := <-s.procExits:
			s.handleProcExit(st, err)
		}
	}
}

// Start brings the proxy up; a start while not idle is a no-op success.
// Starting a disabled proxy is a ConfigError.
func (s *ProxySupervisor) Start(ctx context.Context) error { return s.send(ctx, cmdStart) }

// Stop terminates the proxy and blocks until the process is gone.
func (s *ProxySupervisor) Stop(ctx context.Context) error { return s.send(ctx, cmdStop) }

// Restart stops the proxy, waits out the restart delay, and starts it.
func (s *ProxySupervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.restartDelay):
	}
	return s.Start(ctx)
}

// Runtime returns a point-in-time snapshot of the slot.
func (s *ProxySupervisor) Runtime(ctx context.Context) model.SlotRuntime {
	reply := make(chan model.SlotRuntime, 1)
	select {
	case s.queries <- reply:
	case <-ctx.Done():
		return model.SlotRuntime{Slot: proxySlot, State: model.SlotIdle}
	}
	select {
	case rt := <-reply:
		return rt
	case <-ctx.Done():
		return model.SlotRuntime{Slot: proxySlot, State: model.SlotIdle}
	}
}

func (s *ProxySupervisor) send(ctx context.Context, kind cmdKind) error {
	reply := make(chan error, 1)
	select {
	case s.commands <- slotCmd{kind: kind, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ProxySupervisor) handleCommand(ctx context.Context, st *proxyState, cmd slotCmd) {
	switch cmd.kind {
	case cmdStart:
		if st.state != model.SlotIdle {
			cmd.reply <- nil
			return
		}
		cfg := s.config()
		if err := cfg.Validate(); err != nil {
			cerr := &ConfigError{Reason: err}
			s.notifier.Notify(model.LevelError, "HTTP proxy not started", cerr.Error())
			cmd.reply <- cerr
			return
		}
		st.state = model.SlotStarting
		st.lastErr = ""
		st.cancel = make(chan struct{})
		st.startReply = cmd.reply
		s.record(events.Event{Slot: proxySlot, EventType: "start-requested", State: st.state})
		go s.bringUp(ctx, cfg, st.cancel)

	case cmdStop:
		switch st.state {
		case model.SlotIdle:
			cmd.reply <- nil
		case model.SlotStarting:
			if st.cancel != nil {
				close(st.cancel)
				st.cancel = nil
			}
			st.stopReplies = append(st.stopReplies, cmd.reply)
		case model.SlotRunning:
			st.state = model.SlotStopping
			st.stopReplies = append(st.stopReplies, cmd.reply)
			s.record(events.Event{Slot: proxySlot, EventType: "stop-requested", State: st.state, PID: st.proc.pid()})
			go st.proc.escalate(s.stopSteps)
		case model.SlotStopping:
			st.stopReplies = append(st.stopReplies, cmd.reply)
		}
	}
}

func (s *ProxySupervisor) bringUp(ctx context.Context, cfg appconfig.HTTPProxyConfig, cancel <-chan struct{}) {
	if err := s.guard.Ensure(ctx, cfg.LocalPort); err != nil {
		s.startResults <- proxyStartResult{err: err}
		return
	}
	if aborted(cancel) {
		s.startResults <- proxyStartResult{err: ErrStartAborted}
		return
	}
	proc, err := s.starter.Start(ctx, cfg.LocalPort)
	if err != nil {
		s.startResults <- proxyStartResult{err: &SpawnError{Err: err}}
		return
	}
	s.startResults <- proxyStartResult{proc: proc}
}

func (s *ProxySupervisor) handleStartResult(st *proxyState, res proxyStartResult) {
	st.cancel = nil
	reply := st.startReply
	st.startReply = nil
	stopPending := len(st.stopReplies) > 0

	if res.err != nil {
		st.state = model.SlotIdle
		if !errors.Is(res.err, ErrStartAborted) {
			st.lastErr = res.err.Error()
			s.notifier.Notify(model.LevelError, "HTTP proxy failed to start", security.UserMessage(res.err, true))
			s.record(events.Event{Slot: proxySlot, EventType: "start-failed", Message: res.err.Error()})
		}
		if reply != nil {
			reply <- res.err
		}
		s.resolveStops(st)
		return
	}

	st.proc = newProcHandle(res.proc.Cmd, res.proc.Stderr)
	st.startedAt = time.Now()
	st.state = model.SlotRunning
	go st.proc.watch(proxySlot, s.procExits)
	s.notifier.Notify(model.LevelInfo, "HTTP proxy started", "")
	s.record(events.Event{Slot: proxySlot, EventType: "started", State: st.state, PID: st.proc.pid()})
	if reply != nil {
		reply <- nil
	}
	if stopPending {
		st.state = model.SlotStopping
		go st.proc.escalate(s.stopSteps)
	}
}

func (s *ProxySupervisor) handleProcExit(st *proxyState, exitErr error) {
	pid := 0
	if st.proc != nil {
		pid = st.proc.pid()
	}
	expected := st.state == model.SlotStopping
	st.proc = nil
	st.state = model.SlotIdle
	st.startedAt = time.Time{}

	if expected {
		s.notifier.Notify(model.LevelInfo, "HTTP proxy stopped", "")
		s.record(events.Event{Slot: proxySlot, EventType: "stopped", PID: pid})
	} else {
		msg := "proxy exited unexpectedly"
		if exitErr != nil {
			msg = "proxy exited unexpectedly: " + exitErr.Error()
		}
		st.lastErr = msg
		s.notifier.Notify(model.LevelError, "HTTP proxy down", security.RedactMessage(msg))
		s.record(events.Event{Slot: proxySlot, EventType: "exited", Message: msg, PID: pid})
	}
	s.resolveStops(st)
}

func (s *ProxySupervisor) resolveStops(st *proxyState) {
	for _, r := range st.stopReplies {
		r <- nil
	}
	st.stopReplies = nil
}

func (s *ProxySupervisor) snapshot(st *proxyState) model.SlotRuntime {
	rt := model.SlotRuntime{Slot: proxySlot, State: st.state, LastError: st.lastErr}
	if st.proc != nil {
		rt.PID = st.proc.pid()
	}
	if !st.startedAt.IsZero() {
		rt.StartedAt = st.startedAt
		rt.UptimeSec = int64(time.Since(st.startedAt).Seconds())
	}
	return rt
}

func (s *ProxySupervisor) record(evt events.Event) {
	if s.journal == nil {
		return
	}
	evt.Timestamp = time.Now()
	_ = s.journal.Append(evt)
}
