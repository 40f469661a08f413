// Package supervisor owns the lifecycle of tunnelbar's two long-running
// subprocess slots: the SOCKS tunnel and the local HTTP proxy.
//
// Each supervisor is an actor. A single run loop owns all mutable slot
// state and receives start/stop/restart requests and runtime queries over
// channels; process spawning and the credential-wait retry loop happen on
// worker goroutines that report back to the loop. No mutexes guard the
// slot state because only the loop touches it.
//
// The termination model: a stop request queues its reply and triggers a
// signal escalation, but the slot only transitions to idle when the OS
// reports process exit (observed by the watch goroutine on Cmd.Wait).
// Signal delivery alone never flips the running flag, so the flag clears
// exactly once per process regardless of how the process died.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"syscall"
	"time"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
	"github.com/tunnelbar/tunnelbar/internal/events"
	"github.com/tunnelbar/tunnelbar/internal/model"
	"github.com/tunnelbar/tunnelbar/internal/security"
	"github.com/tunnelbar/tunnelbar/internal/tshclient"
	"github.com/tunnelbar/tunnelbar/internal/util"
)

// ClientAPI is the slice of the remote-access client the tunnel supervisor
// needs. *tshclient.Client satisfies it; tests substitute fakes.
type ClientAPI interface {
	LoggedIn(ctx context.Context) bool
	Login(ctx context.Context, proxyAddr string) error
	CheckConnectivity(ctx context.Context, jumpHost string) error
	StartTunnel(ctx context.Context, localPort int, jumpHost string) (*tshclient.TunnelProcess, error)
}

// PortGuard clears the local port before a slot binds it. *ports.Guard
// satisfies it.
type PortGuard interface {
	Ensure(ctx context.Context, port int) error
}

// Journal records slot lifecycle events. *events.Store satisfies it.
type Journal interface {
	Append(evt events.Event) error
}

const tunnelSlot = "tunnel"

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
)

type slotCmd struct {
	kind  cmdKind
	reply chan error
}

type startResult struct {
	proc   *tshclient.TunnelProcess
	waited bool // went through the credential retry loop
	err    error
}

// TunnelSupervisor manages the SOCKS tunnel slot. Construct with
// NewTunnelSupervisor, then call Run on a goroutine; Start, Stop, Restart
// and Runtime are safe from any goroutine while Run is live.
type TunnelSupervisor struct {
	client   ClientAPI
	guard    PortGuard
	config   func() appconfig.TunnelConfig
	notifier Notifier
	journal  Journal

	// Overridable before Run for tests.
	retryDelays  []time.Duration
	probeTimeout time.Duration
	connTimeout  time.Duration
	restartDelay time.Duration
	resumeDelay  time.Duration
	stopSteps    []escStep

	commands     chan slotCmd
	queries      chan chan model.SlotRuntime
	startResults chan startResult
	stateUpdates chan model.SlotState
	procExits    chan error
}

// NewTunnelSupervisor wires a tunnel slot. A nil notifier falls back to
// logging; a nil journal disables the event journal.
func NewTunnelSupervisor(client ClientAPI, guard PortGuard, config func() appconfig.TunnelConfig, notifier Notifier, journal Journal) *TunnelSupervisor {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &TunnelSupervisor{
		client:   client,
		guard:    guard,
		config:   config,
		notifier: notifier,
		journal:  journal,

		retryDelays:  util.CredentialRetryDelays(),
		probeTimeout: util.StatusProbeTimeout,
		connTimeout:  util.ConnectivityTimeout,
		restartDelay: util.TunnelRestartDelay,
		resumeDelay:  util.NotifyResumeDelay,
		stopSteps: []escStep{
			{sig: syscall.SIGTERM, grace: util.TunnelTermGrace},
			{sig: syscall.SIGINT, grace: util.TunnelIntGrace},
			{sig: syscall.SIGTERM},
		},

		commands:     make(chan slotCmd),
		queries:      make(chan chan model.SlotRuntime),
		startResults: make(chan startResult, 1),
		stateUpdates: make(chan model.SlotState, 4),
		procExits:    make(chan error, 1),
	}
}

// tunnelState is the loop-owned mutable state. Nothing outside Run and its
// handle* helpers may touch it.
type tunnelState struct {
	state       model.SlotState
	proc        *procHandle
	startedAt   time.Time
	lastErr     string
	suppressTo  time.Time
	retryCancel chan struct{}
	startReply  chan error
	stopReplies []chan error
}

// Run is the actor loop. It returns when ctx is cancelled; a still-running
// process gets the full stop escalation on the way out.
func (s *TunnelSupervisor) Run(ctx context.Context) {
	st := &tunnelState{state: model.SlotIdle}
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
		case upd := <-s.stateUpdates:
			if st.state == model.SlotStarting {
				st.state = upd
				s.record(events.Event{Slot: tunnelSlot, EventType: "state", State: upd})
			}
		case res := <-s.startResults:
			s.handleStartResult(st, res)
		case err := <-s.procExits:
			s.handleProcExit(st, err)
		}
	}
}

// Start requests the tunnel come up and blocks until the attempt resolves.
// A start while the slot is not idle is a no-op success.
func (s *TunnelSupervisor) Start(ctx context.Context) error {
	return s.send(ctx, cmdStart)
}

// Stop requests termination and blocks until the process is gone (or an
// in-flight start has been abandoned).
func (s *TunnelSupervisor) Stop(ctx context.Context) error {
	return s.send(ctx, cmdStop)
}

// Restart stops the tunnel, waits out the restart delay, and starts it.
func (s *TunnelSupervisor) Restart(ctx context.Context) error {
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
func (s *TunnelSupervisor) Runtime(ctx context.Context) model.SlotRuntime {
	reply := make(chan model.SlotRuntime, 1)
	select {
	case s.queries <- reply:
	case <-ctx.Done():
		return model.SlotRuntime{Slot: tunnelSlot, State: model.SlotIdle}
	}
	select {
	case rt := <-reply:
		return rt
	case <-ctx.Done():
		return model.SlotRuntime{Slot: tunnelSlot, State: model.SlotIdle}
	}
}

func (s *TunnelSupervisor) send(ctx context.Context, kind cmdKind) error {
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

func (s *TunnelSupervisor) handleCommand(ctx context.Context, st *tunnelState, cmd slotCmd) {
	switch cmd.kind {
	case cmdStart:
		if st.state != model.SlotIdle {
			cmd.reply <- nil
			return
		}
		cfg := s.config()
		if err := cfg.Validate(); err != nil {
			cerr := &ConfigError{Reason: err}
			s.notifier.Notify(model.LevelError, "Tunnel not started", cerr.Error())
			cmd.reply <- cerr
			return
		}
		st.state = model.SlotStarting
		st.lastErr = ""
		st.retryCancel = make(chan struct{})
		st.startReply = cmd.reply
		s.record(events.Event{Slot: tunnelSlot, EventType: "start-requested", State: st.state})
		go s.bringUp(ctx, cfg, st.retryCancel)

	case cmdStop:
		switch st.state {
		case model.SlotIdle:
			cmd.reply <- nil
		case model.SlotStarting, model.SlotWaitingCredentials:
			if st.retryCancel != nil {
				close(st.retryCancel)
				st.retryCancel = nil
			}
			st.stopReplies = append(st.stopReplies, cmd.reply)
		case model.SlotRunning:
			st.state = model.SlotStopping
			st.stopReplies = append(st.stopReplies, cmd.reply)
			s.record(events.Event{Slot: tunnelSlot, EventType: "stop-requested", State: st.state, PID: st.proc.pid()})
			go st.proc.escalate(s.stopSteps)
		case model.SlotStopping:
			st.stopReplies = append(st.stopReplies, cmd.reply)
		}
	}
}

// bringUp runs off-loop: port guard, credential check, the retry schedule,
// then the actual spawn. cancel is closed by a stop request; it is checked
// between phases, so an in-flight subprocess probe still runs to
// completion before the abort is honoured.
func (s *TunnelSupervisor) bringUp(ctx context.Context, cfg appconfig.TunnelConfig, cancel <-chan struct{}) {
	proc, waited, err := s.establish(ctx, cfg, cancel)
	s.startResults <- startResult{proc: proc, waited: waited, err: err}
}

func (s *TunnelSupervisor) establish(ctx context.Context, cfg appconfig.TunnelConfig, cancel <-chan struct{}) (*tshclient.TunnelProcess, bool, error) {
	if err := s.guard.Ensure(ctx, cfg.Port()); err != nil {
		return nil, false, err
	}
	if aborted(cancel) {
		return nil, false, ErrStartAborted
	}

	waited := false
	if !s.loggedIn(ctx) {
		waited = true
		s.stateUpdates <- model.SlotWaitingCredentials
		// The retry ladder exists to wait out the browser flow after a login
		// that exited cleanly; a login that failed outright will not become
		// ready by waiting.
		if err := s.client.Login(ctx, cfg.ProxyAddr); err != nil {
			return nil, waited, err
		}
		ready := false
		for _, delay := range s.retryDelays {
			select {
			case <-cancel:
				return nil, waited, ErrStartAborted
			case <-ctx.Done():
				return nil, waited, ctx.Err()
			case <-time.After(delay):
			}
			if !s.loggedIn(ctx) {
				continue
			}
			if err := s.connectivity(ctx, cfg.JumpHost); err != nil {
				slog.Debug("connectivity not ready", "error", err)
				continue
			}
			ready = true
			break
		}
		if !ready {
			return nil, waited, ErrCredentialsNotReady
		}
	}
	if aborted(cancel) {
		return nil, waited, ErrStartAborted
	}

	proc, err := s.client.StartTunnel(ctx, cfg.Port(), cfg.JumpHost)
	if err != nil {
		return nil, waited, &SpawnError{Err: err}
	}
	return proc, waited, nil
}

func (s *TunnelSupervisor) loggedIn(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	return s.client.LoggedIn(pctx)
}

func (s *TunnelSupervisor) connectivity(ctx context.Context, jumpHost string) error {
	cctx, cancel := context.WithTimeout(ctx, s.connTimeout)
	defer cancel()
	return s.client.CheckConnectivity(cctx, jumpHost)
}

func (s *TunnelSupervisor) handleStartResult(st *tunnelState, res startResult) {
	st.retryCancel = nil
	reply := st.startReply
	st.startReply = nil
	stopPending := len(st.stopReplies) > 0

	if res.err != nil {
		st.state = model.SlotIdle
		st.suppressTo = time.Time{}
		if errors.Is(res.err, ErrStartAborted) {
			s.record(events.Event{Slot: tunnelSlot, EventType: "start-aborted"})
		} else {
			st.lastErr = res.err.Error()
			s.notifier.Notify(model.LevelError, "Tunnel failed to start", security.UserMessage(res.err, true))
			s.record(events.Event{Slot: tunnelSlot, EventType: "start-failed", Message: res.err.Error()})
		}
		if reply != nil {
			reply <- res.err
		}
		s.resolveStops(st, nil)
		return
	}

	st.proc = newProcHandle(res.proc.Cmd, res.proc.Stderr)
	st.startedAt = time.Now()
	st.state = model.SlotRunning
	if res.waited {
		st.suppressTo = time.Now().Add(s.resumeDelay)
	}
	go st.proc.watch(tunnelSlot, s.procExits)
	s.notifier.Notify(model.LevelInfo, "Tunnel started", "")
	s.record(events.Event{Slot: tunnelSlot, EventType: "started", State: st.state, PID: st.proc.pid()})
	if reply != nil {
		reply <- nil
	}

	// A stop raced the start and lost; honour it against the fresh process.
	if stopPending {
		st.state = model.SlotStopping
		go st.proc.escalate(s.stopSteps)
	}
}

func (s *TunnelSupervisor) handleProcExit(st *tunnelState, exitErr error) {
	pid := 0
	if st.proc != nil {
		pid = st.proc.pid()
	}
	expected := st.state == model.SlotStopping
	st.proc = nil
	st.state = model.SlotIdle
	st.startedAt = time.Time{}

	if expected {
		s.notifier.Notify(model.LevelInfo, "Tunnel stopped", "")
		s.record(events.Event{Slot: tunnelSlot, EventType: "stopped", PID: pid})
	} else {
		msg := "tunnel exited unexpectedly"
		if exitErr != nil {
			msg = "tunnel exited unexpectedly: " + exitErr.Error()
		}
		st.lastErr = msg
		if time.Now().After(st.suppressTo) {
			s.notifier.Notify(model.LevelError, "Tunnel down", security.RedactMessage(msg))
		}
		s.record(events.Event{Slot: tunnelSlot, EventType: "exited", Message: msg, PID: pid})
	}
	s.resolveStops(st, nil)
}

func (s *TunnelSupervisor) resolveStops(st *tunnelState, err error) {
	for _, r := range st.stopReplies {
		r <- err
	}
	st.stopReplies = nil
}

func (s *TunnelSupervisor) snapshot(st *tunnelState) model.SlotRuntime {
	rt := model.SlotRuntime{Slot: tunnelSlot, State: st.state, LastError: st.lastErr}
	if st.proc != nil {
		rt.PID = st.proc.pid()
	}
	if !st.startedAt.IsZero() {
		rt.StartedAt = st.startedAt
		rt.UptimeSec = int64(time.Since(st.startedAt).Seconds())
	}
	return rt
}

func (s *TunnelSupervisor) record(evt events.Event) {
	if s.journal == nil {
		return
	}
	evt.Timestamp = time.Now()
	if err := s.journal.Append(evt); err != nil {
		slog.Debug("journal append failed", "error", err)
	}
}

func aborted(cancel <-chan struct{}) bool {
	select {
	case <-cancel:
		return true
	default:
		return false
	}
}
