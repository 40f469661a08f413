// Package util provides common utility functions and constants used across
// the tunnelbar application. This package is intentionally kept
// dependency-free (no imports from other internal/* packages) to serve as a
// shared foundation without introducing circular dependencies.
package util

import "time"

const (
	// DefaultRefreshSeconds is the fallback interval for the status
	// dashboard's periodic service re-probe. Used when config.yaml has an
	// invalid or missing refresh_seconds value. Five seconds keeps the
	// rendered statuses close to reality without hammering launchctl.
	DefaultRefreshSeconds = 5

	// StatusProbeTimeout bounds one launchctl list query and one
	// remote-access client "status" check. A healthy query answers in well
	// under a second; past five seconds the probe is cancelled and the
	// result reported as unknown rather than leaking a blocked wait.
	StatusProbeTimeout = 5 * time.Second

	// ConnectivityTimeout bounds the post-login connectivity probe (an
	// actual SSH command to the jump host). This crosses the network, so it
	// gets double the local probe budget.
	ConnectivityTimeout = 10 * time.Second

	// PortSettleDelay is how long the terminator waits after signalling
	// port owners before the caller re-inspects the port. One second gives
	// the kernel time to tear down the listening socket.
	PortSettleDelay = 1 * time.Second

	// TunnelRestartDelay separates stop() from start() in a tunnel restart.
	TunnelRestartDelay = 3 * time.Second

	// ServiceRestartDelay separates a successful launchctl stop from the
	// follow-up start. ServiceRestartFallbackDelay is the shorter wait used
	// when the stop failed (the service plausibly wasn't running) and the
	// start is attempted anyway.
	ServiceRestartDelay         = 1 * time.Second
	ServiceRestartFallbackDelay = 500 * time.Millisecond

	// Tunnel stop escalation: TERM, wait TunnelTermGrace, INT, wait
	// TunnelIntGrace, TERM again. The supervised process is a shell
	// wrapping the real client binary and may not forward the first signal
	// promptly.
	TunnelTermGrace = 2 * time.Second
	TunnelIntGrace  = 1 * time.Second

	// ProxyTermGrace is the single escalation step for the HTTP proxy
	// slot: TERM, wait, INT.
	ProxyTermGrace = 1 * time.Second

	// NotifyResumeDelay is how long error notifications for a slot stay
	// suppressed after a successful late start out of the credential retry
	// loop. Transient sub-check failures inside the same logical retry
	// window would otherwise flood the user with duplicate alerts.
	NotifyResumeDelay = 10 * time.Second

	// LogRingCapacity is the size of the bounded in-process log ring;
	// oldest entries are evicted first.
	LogRingCapacity = 1000
)

// CredentialRetryDelays is the literal escalating delay schedule of the
// credential-wait retry loop: at most len(CredentialRetryDelays) attempts,
// each preceded by its delay. The first attempt where both the login status
// check and the jump-host connectivity check succeed ends the loop.
func CredentialRetryDelays() []time.Duration {
	return []time.Duration{
		3 * time.Second,
		5 * time.Second,
		7 * time.Second,
		10 * time.Second,
		12 * time.Second,
		15 * time.Second,
	}
}
