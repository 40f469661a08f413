package doctor

import (
	"context"
	"fmt"
	"os/exec"
	"sort"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
	"github.com/tunnelbar/tunnelbar/internal/model"
	"github.com/tunnelbar/tunnelbar/internal/security"
	"github.com/tunnelbar/tunnelbar/internal/tshclient"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// Run executes local diagnostics for tunnelbar operations: required system
// binaries, config validity, duplicate port claims, service label sanity,
// and the filesystem security audit.
func Run(ctx context.Context, prober StatusProber) (Report, error) {
	var issues []Issue

	cfg, err := appconfig.Load()
	if err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "config-load",
			Target:         "config.yaml",
			Message:        err.Error(),
			Recommendation: "fix or remove the malformed config file",
		})
		cfg = appconfig.Default()
	}

	issues = append(issues, binaryIssues(cfg)...)
	issues = append(issues, configIssues(cfg)...)
	issues = append(issues, serviceIssues(ctx, cfg, prober)...)

	if audit, err := security.RunLocalAudit(); err == nil {
		for _, f := range audit.Findings {
			issues = append(issues, Issue{
				Severity:       Severity(f.Severity),
				Check:          "security-audit",
				Target:         f.Target,
				Message:        f.Message,
				Recommendation: f.Recommendation,
			})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}, nil
}

// StatusProber is the slice of the launchd prober the doctor needs to
// check whether configured services are loadable at all.
type StatusProber interface {
	Probe(ctx context.Context, svc model.ManagedService) model.ServiceStatus
}

func binaryIssues(cfg appconfig.Config) []Issue {
	var issues []Issue

	for _, bin := range []string{"lsof", "launchctl", "kill"} {
		if _, err := exec.LookPath(bin); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "system-binary",
				Target:         bin,
				Message:        fmt.Sprintf("%s not found on PATH", bin),
				Recommendation: "tunnelbar shells out to this binary; ensure it is installed and on PATH",
			})
		}
	}

	if err := tshclient.EnsureClientBinary(cfg.Tunnel.ClientPath); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "client-binary",
			Target:         cfg.Tunnel.ClientPath,
			Message:        err.Error(),
			Recommendation: "install the remote-access client or set tunnel.client_path",
		})
	}
	if cfg.HTTPProxy.Enabled && cfg.HTTPProxy.BinaryPath != "" {
		if _, err := exec.LookPath(cfg.HTTPProxy.BinaryPath); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "proxy-binary",
				Target:         cfg.HTTPProxy.BinaryPath,
				Message:        "HTTP proxy binary not found",
				Recommendation: "install the proxy binary or disable http_proxy.enabled",
			})
		}
	}
	return issues
}

func configIssues(cfg appconfig.Config) []Issue {
	var issues []Issue
	if err := cfg.Tunnel.Validate(); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityMedium,
			Check:          "tunnel-config",
			Target:         "tunnel",
			Message:        err.Error(),
			Recommendation: "complete the tunnel settings before starting the tunnel slot",
		})
	}
	// A disabled proxy is a valid configuration, not a finding.
	if cfg.HTTPProxy.Enabled {
		if err := cfg.HTTPProxy.Validate(); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "proxy-config",
				Target:         "http_proxy",
				Message:        err.Error(),
				Recommendation: "fix the HTTP proxy settings or disable it",
			})
		}
	}
	return issues
}

// serviceIssues probes every configured service once; a service that parses
// as not-loaded is flagged since start/stop will fail until its plist is
// loaded into launchd.
func serviceIssues(ctx context.Context, cfg appconfig.Config, prober StatusProber) []Issue {
	var issues []Issue
	seen := map[string]string{}
	for _, svc := range cfg.Services {
		if prev, ok := seen[svc.Label]; ok {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "duplicate-label",
				Target:         svc.Label,
				Message:        fmt.Sprintf("label also used by service %q", prev),
				Recommendation: "remove one of the duplicate service entries",
			})
		}
		seen[svc.Label] = svc.Name

		if prober == nil || !svc.Enabled {
			continue
		}
		if st := prober.Probe(ctx, svc); st.Kind == model.StatusNotLoaded {
			issues = append(issues, Issue{
				Severity:       SeverityLow,
				Check:          "service-not-loaded",
				Target:         svc.Label,
				Message:        "service is not loaded into launchd",
				Recommendation: "load the agent plist (launchctl load) before managing it here",
			})
		}
	}
	return issues
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

