package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
	"github.com/tunnelbar/tunnelbar/internal/events"
	"github.com/tunnelbar/tunnelbar/internal/execx"
	"github.com/tunnelbar/tunnelbar/internal/httpproxy"
	"github.com/tunnelbar/tunnelbar/internal/ports"
	"github.com/tunnelbar/tunnelbar/internal/supervisor"
	"github.com/tunnelbar/tunnelbar/internal/tshclient"
	"github.com/tunnelbar/tunnelbar/internal/util"
)

func newTunnelCmd() *cobra.Command {
	root := &cobra.Command{Use: "tunnel", Short: "Manage the SOCKS tunnel"}
	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Bring the tunnel up and keep it in the foreground until interrupted",
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

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := tshclient.New(cfg.Tunnel.ClientPath)
			sup := supervisor.NewTunnelSupervisor(client, newGuard(cfg),
				func() appconfig.TunnelConfig { return cfg.Tunnel }, nil, events.NewStore())

			runCtx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go sup.Run(runCtx)

			if err := sup.Start(ctx); err != nil {
				return err
			}
			rt := sup.Runtime(ctx)
			fmt.Printf("tunnel up on 127.0.0.1:%d (pid %d); Ctrl+C to stop\n", cfg.Tunnel.Port(), rt.PID)
			return waitForShutdown(ctx, sup.Stop)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Terminate whatever owns the configured tunnel port",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			return slotDown(cmd.Context(), "tunnel", cfg.Tunnel.Port(), cfg.Contention.StrictInspection)
		},
	})
	return root
}

// slotDown reclaims a slot port from outside the supervising process: the
// foreground `up` command owns its supervisor, so a separate invocation can
// only find the process by its port and ask it to exit.
func slotDown(ctx context.Context, name string, port int, strict bool) error {
	if err := util.ValidatePort(port); err != nil {
		return fmt.Errorf("%s port: %w", name, err)
	}
	runner := execx.System()
	inspector := ports.NewInspector(runner, strict)
	pids := inspector.Owners(ctx, port)
	if len(pids) == 0 {
		fmt.Printf("%s is not running (port %d is free)\n", name, port)
		return nil
	}
	ports.NewTerminator(runner).Terminate(ctx, pids)
	if remaining := inspector.Owners(ctx, port); len(remaining) > 0 {
		return fmt.Errorf("%s still holds port %d (pids %v)", name, port, remaining)
	}
	fmt.Printf("%s stopped (port %d released)\n", name, port)
	return nil
}

func newProxyCmd() *cobra.Command {
	root := &cobra.Command{Use: "proxy", Short: "Manage the local HTTP proxy"}
	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Bring the HTTP proxy up and keep it in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			if err := cfg.HTTPProxy.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sup := supervisor.NewProxySupervisor(httpproxy.New(cfg.HTTPProxy.BinaryPath), newGuard(cfg),
				func() appconfig.HTTPProxyConfig { return cfg.HTTPProxy }, nil, events.NewStore())

			runCtx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go sup.Run(runCtx)

			if err := sup.Start(ctx); err != nil {
				return err
			}
			rt := sup.Runtime(ctx)
			fmt.Printf("http proxy up on 127.0.0.1:%d (pid %d); Ctrl+C to stop\n", cfg.HTTPProxy.LocalPort, rt.PID)
			return waitForShutdown(ctx, sup.Stop)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Terminate whatever owns the configured proxy port",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			return slotDown(cmd.Context(), "http proxy", cfg.HTTPProxy.LocalPort, cfg.Contention.StrictInspection)
		},
	})
	return root
}
