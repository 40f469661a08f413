// Package cli provides the command-line interface for tunnelbar.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
	"github.com/tunnelbar/tunnelbar/internal/doctor"
	"github.com/tunnelbar/tunnelbar/internal/events"
	"github.com/tunnelbar/tunnelbar/internal/execx"
	"github.com/tunnelbar/tunnelbar/internal/launchd"
	"github.com/tunnelbar/tunnelbar/internal/model"
	"github.com/tunnelbar/tunnelbar/internal/ports"
	"github.com/tunnelbar/tunnelbar/internal/tshclient"
	"github.com/tunnelbar/tunnelbar/internal/ui"
	"github.com/tunnelbar/tunnelbar/internal/util"
)

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tunnelbar",
		Short: "Local service, tunnel and proxy supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ui.Run()
		},
	}

	root.AddCommand(newStatusCmd())
	root.AddCommand(newLoginCmd())
	root.AddCommand(newServiceCmd())
	root.AddCommand(newTunnelCmd())
	root.AddCommand(newProxyCmd())
	root.AddCommand(newProfileCmd())
	root.AddCommand(newEventsCmd())
	root.AddCommand(newDoctorCmd())
	return root
}

type statusRow struct {
	Service string              `json:"service"`
	Label   string              `json:"label"`
	Port    int                 `json:"port"`
	Status  model.ServiceStatus `json:"status"`
}

func newStatusCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of all configured services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			prober := launchd.NewProber(execx.System())
			model.SortServices(cfg.Services)
			statuses := prober.ProbeAll(cmd.Context(), cfg.Services)

			rows := make([]statusRow, 0, len(cfg.Services))
			for _, svc := range cfg.Services {
				rows = append(rows, statusRow{Service: svc.Name, Label: svc.Label, Port: svc.Port, Status: statuses[svc.ID]})
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			fmt.Printf("%-24s %-11s %-8s %-8s %s\n", "SERVICE", "STATUS", "PID", "PORT", "LABEL")
			for _, r := range rows {
				pid := "-"
				if r.Status.PID > 0 {
					pid = fmt.Sprintf("%d", r.Status.PID)
				}
				fmt.Printf("%-24s %-11s %-8s %-8d %s\n", r.Service, r.Status, pid, r.Port, r.Label)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Run the interactive remote-access login flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			if err := cfg.Tunnel.Validate(); err != nil {
				return err
			}
			if err := tshclient.EnsureClientBinary(cfg.Tunnel.ClientPath); err != nil {
				return err
			}
			client := tshclient.New(cfg.Tunnel.ClientPath)
			return client.LoginInteractive(cmd.Context(), cfg.Tunnel.ProxyAddr)
		},
	}
}

func newEventsCmd() *cobra.Command {
	var slot string
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent supervision events",
		RunE: func(cmd *cobra.Command, args []string) error {
			evts, err := events.NewStore().Read(events.Query{Slot: slot, Limit: limit})
			if err != nil {
				return err
			}
			for _, e := range evts {
				line := fmt.Sprintf("%s %-10s %-16s", e.Timestamp.Format("2006-01-02 15:04:05"), e.Slot, e.EventType)
				if e.Service != "" {
					line += " service=" + e.Service
				}
				if e.PID > 0 {
					line += fmt.Sprintf(" pid=%d", e.PID)
				}
				if e.Message != "" {
					line += " " + e.Message
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "filter by slot (tunnel, http-proxy, service)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show")
	return cmd
}

func newDoctorCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the local setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := doctor.Run(cmd.Context(), launchd.NewProber(execx.System()))
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			if len(report.Issues) == 0 {
				fmt.Println("no issues found")
				return nil
			}
			for _, is := range report.Issues {
				fmt.Printf("[%s] %s (%s): %s\n", strings.ToUpper(string(is.Severity)), is.Check, is.Target, is.Message)
				if is.Recommendation != "" {
					fmt.Printf("        -> %s\n", is.Recommendation)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

// promptDecider asks on the terminal before killing the owners of a busy
// port. Used by the foreground slot commands when kill_existing is off.
func promptDecider() ports.ConflictDecider {
	return ports.DeciderFunc(func(port int, pids []int) bool {
		fmt.Fprintf(os.Stderr, "port %d is in use by pid(s) %v. Terminate them? [y/N] ", port, pids)
		sc := bufio.NewScanner(os.Stdin)
		if !sc.Scan() {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(sc.Text()))
		return answer == "y" || answer == "yes"
	})
}

// newGuard builds the port guard used by the foreground slot commands,
// honouring the configured contention policy.
func newGuard(cfg appconfig.Config) *ports.Guard {
	return ports.NewGuard(execx.System(), cfg.Contention.KillExisting, cfg.Contention.StrictInspection, promptDecider())
}

// waitForShutdown blocks until ctx is cancelled (Ctrl+C / SIGTERM), then
// runs stop with a fresh bounded context so teardown is not cut short by
// the cancelled signal context.
func waitForShutdown(ctx context.Context, stop func(context.Context) error) error {
	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "shutting down...")
	stopCtx, cancel := context.WithTimeout(context.Background(), util.TunnelTermGrace+util.TunnelIntGrace+5*util.PortSettleDelay)
	defer cancel()
	return stop(stopCtx)
}
