package cli

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
	"github.com/tunnelbar/tunnelbar/internal/execx"
	"github.com/tunnelbar/tunnelbar/internal/history"
	"github.com/tunnelbar/tunnelbar/internal/launchd"
	"github.com/tunnelbar/tunnelbar/internal/model"
	"github.com/tunnelbar/tunnelbar/internal/profile"
)

func newProfileCmd() *cobra.Command {
	root := &cobra.Command{Use: "profile", Short: "Manage named groups of services"}
	root.AddCommand(
		newProfileListCmd(),
		newProfileCreateCmd(),
		newProfileDeleteCmd(),
		newProfileUpCmd(),
	)
	return root
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := profile.LoadAll()
			if err != nil {
				return err
			}
			fmt.Printf("%-20s %-8s %-8s %s\n", "PROFILE", "TUNNEL", "PROXY", "SERVICES")
			for _, def := range defs {
				fmt.Printf("%-20s %-8t %-8t %s\n", def.Name, def.Tunnel, def.HTTPProxy, strings.Join(def.Services, ", "))
			}
			return nil
		},
	}
}

func newProfileCreateCmd() *cobra.Command {
	var (
		services  []string
		tunnelOn  bool
		httpProxy bool
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a profile from configured service names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			for _, name := range services {
				if _, ok := cfg.FindService(name); !ok {
					return fmt.Errorf("unknown service: %s", name)
				}
			}
			def := profile.Definition{Name: args[0], Services: services, Tunnel: tunnelOn, HTTPProxy: httpProxy}
			if err := profile.Create(def); err != nil {
				return err
			}
			fmt.Printf("created profile %s\n", def.Name)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&services, "service", nil, "service name/label to include (repeatable)")
	cmd.Flags().BoolVar(&tunnelOn, "tunnel", false, "profile also brings up the SOCKS tunnel")
	cmd.Flags().BoolVar(&httpProxy, "proxy", false, "profile also brings up the HTTP proxy")
	return cmd
}

func newProfileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := profile.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted profile %s\n", args[0])
			return nil
		},
	}
}

// newProfileUpCmd starts every service in the profile concurrently; a
// failed service is reported but does not block the others.
func newProfileUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up <name>",
		Short: "Start all services in a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			def, err := profile.Get(args[0])
			if err != nil {
				return err
			}
			var svcs []model.ManagedService
			for _, name := range def.Services {
				svc, ok := cfg.FindService(name)
				if !ok {
					fmt.Fprintf(os.Stderr, "skip unknown service %s\n", name)
					continue
				}
				svcs = append(svcs, svc)
			}

			ctrl := launchd.NewController(execx.System())
			var wg sync.WaitGroup
			var mu sync.Mutex
			failed := 0
			for _, svc := range svcs {
				wg.Add(1)
				go func(svc model.ManagedService) {
					defer wg.Done()
					if err := ctrl.Start(cmd.Context(), svc); err != nil {
						mu.Lock()
						failed++
						mu.Unlock()
						fmt.Fprintf(os.Stderr, "start %s: %v\n", svc.Name, err)
						return
					}
					_ = history.Touch(svc.Label)
					fmt.Printf("started %s\n", svc.Name)
				}(svc)
			}
			wg.Wait()

			if def.Tunnel {
				fmt.Println("profile requests the tunnel; run `tunnelbar tunnel up` (foreground) or use the dashboard")
			}
			if def.HTTPProxy {
				fmt.Println("profile requests the HTTP proxy; run `tunnelbar proxy up` (foreground) or use the dashboard")
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d services failed to start", failed, len(svcs))
			}
			return nil
		},
	}
}
