package launchd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tunnelbar/tunnelbar/internal/execx"
	"github.com/tunnelbar/tunnelbar/internal/model"
	"github.com/tunnelbar/tunnelbar/internal/util"
)

// Prober derives the run state of managed services by querying launchctl.
// Results are ephemeral; callers recompute them every poll cycle.
type Prober struct {
	runner  execx.Runner
	timeout time.Duration
}

// NewProber creates a Prober with the standard probe timeout.
func NewProber(runner execx.Runner) *Prober {
	return &Prober{runner: runner, timeout: util.StatusProbeTimeout}
}

// Probe queries one service synchronously. The query is cancelled (and the
// child signalled) when the probe timeout elapses; a query that could not
// run at all yields Unknown.
func (p *Prober) Probe(ctx context.Context, svc model.ManagedService) model.ServiceStatus {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	res, err := p.runner.Run(ctx, "launchctl", "list", svc.Label)
	if err != nil {
		slog.Warn("service probe failed", "label", svc.Label, "error", err)
		return model.UnknownStatus()
	}
	return ParseServiceStatus(res.Stdout, res.ExitCode)
}

// ProbeAsync queries one service on a background worker and delivers the
// result on the returned channel. Semantics match Probe exactly.
func (p *Prober) ProbeAsync(ctx context.Context, svc model.ManagedService) <-chan model.ServiceStatus {
	out := make(chan model.ServiceStatus, 1)
	go func() {
		out <- p.Probe(ctx, svc)
		close(out)
	}()
	return out
}

// ProbeAll queries all services concurrently and returns statuses keyed by
// service ID. Per-service independence: one slow or failing probe does not
// delay the rest beyond the shared timeout.
func (p *Prober) ProbeAll(ctx context.Context, svcs []model.ManagedService) map[string]model.ServiceStatus {
	statuses := make(map[string]model.ServiceStatus, len(svcs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, svc := range svcs {
		wg.Add(1)
		go func(svc model.ManagedService) {
			defer wg.Done()
			st := p.Probe(ctx, svc)
			mu.Lock()
			statuses[svc.ID] = st
			mu.Unlock()
		}(svc)
	}
	wg.Wait()
	return statuses
}
