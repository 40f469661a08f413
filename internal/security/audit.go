package security

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Finding struct {
	Severity       Severity `json:"severity"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type AuditReport struct {
	Findings []Finding `json:"findings"`
}

func (r AuditReport) HasHigh() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// RunLocalAudit inspects tunnelbar's local file and configuration posture:
// settings that leak or collide, and binaries the supervisors will execute.
func RunLocalAudit() (AuditReport, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return AuditReport{}, err
	}

	var findings []Finding

	cfgDir, err := appconfig.ConfigDir()
	if err == nil {
		checkPathPerm(&findings, cfgDir, 0o700, false)
		checkPathPerm(&findings, filepath.Join(cfgDir, "config.yaml"), 0o600, true)
		checkPathPerm(&findings, filepath.Join(cfgDir, "events.jsonl"), 0o600, true)
	}

	checkExecutable(&findings, "remote-access client", cfg.Tunnel.ClientPath)
	if cfg.HTTPProxy.Enabled {
		checkExecutable(&findings, "http proxy binary", cfg.HTTPProxy.BinaryPath)
	}

	findings = append(findings, duplicatePortFindings(cfg)...)

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return severityRank(findings[i].Severity) > severityRank(findings[j].Severity)
		}
		if findings[i].Target != findings[j].Target {
			return findings[i].Target < findings[j].Target
		}
		return findings[i].Message < findings[j].Message
	})
	return AuditReport{Findings: findings}, nil
}

// duplicatePortFindings flags local ports claimed by more than one
// configured slot or service; two claimants guarantee a contention fight at
// start time.
func duplicatePortFindings(cfg appconfig.Config) []Finding {
	claims := map[int][]string{}
	if p := cfg.Tunnel.Port(); p > 0 {
		claims[p] = append(claims[p], "tunnel")
	}
	if cfg.HTTPProxy.Enabled && cfg.HTTPProxy.LocalPort > 0 {
		claims[cfg.HTTPProxy.LocalPort] = append(claims[cfg.HTTPProxy.LocalPort], "http-proxy")
	}
	for _, svc := range cfg.Services {
		if svc.Port > 0 {
			claims[svc.Port] = append(claims[svc.Port], svc.Label)
		}
	}
	var findings []Finding
	for port, owners := range claims {
		if len(owners) < 2 {
			continue
		}
		findings = append(findings, Finding{
			Severity:       SeverityHigh,
			Target:         fmt.Sprintf("port %d", port),
			Message:        fmt.Sprintf("port is assigned to %d targets: %v", len(owners), owners),
			Recommendation: "give each tunnel, proxy, and service a unique local port",
		})
	}
	return findings
}

func checkExecutable(findings *[]Finding, what, path string) {
	if path == "" {
		return
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		*findings = append(*findings, Finding{
			Severity:       SeverityMedium,
			Target:         path,
			Message:        fmt.Sprintf("%s cannot be resolved", what),
			Recommendation: "install the binary or fix the configured path",
		})
		return
	}
	st, err := os.Stat(resolved)
	if err != nil {
		return
	}
	if st.Mode().Perm()&0o002 != 0 {
		*findings = append(*findings, Finding{
			Severity:       SeverityHigh,
			Target:         resolved,
			Message:        fmt.Sprintf("%s is world-writable", what),
			Recommendation: "remove world write permission; a writable supervised binary is an escalation path",
		})
	}
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

func checkPathPerm(findings *[]Finding, path string, max os.FileMode, isFile bool) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityLow,
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
			Recommendation: "verify path and permissions manually",
		})
		return
	}
	mode := st.Mode().Perm()
	if mode&^max != 0 {
		kind := "directory"
		if isFile {
			kind = "file"
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityMedium,
			Target:         path,
			Message:        fmt.Sprintf("%s permissions are too broad (%#o)", kind, mode),
			Recommendation: fmt.Sprintf("restrict permissions to %#o or tighter", max),
		})
	}
}
