package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
	"github.com/tunnelbar/tunnelbar/internal/discover"
	"github.com/tunnelbar/tunnelbar/internal/execx"
	"github.com/tunnelbar/tunnelbar/internal/history"
	"github.com/tunnelbar/tunnelbar/internal/launchd"
	"github.com/tunnelbar/tunnelbar/internal/model"
	"github.com/tunnelbar/tunnelbar/internal/util"
)

func newServiceCmd() *cobra.Command {
	root := &cobra.Command{Use: "service", Short: "Manage launchd services"}
	root.AddCommand(
		newServiceListCmd(),
		newServiceStatusCmd(),
		newServiceCtlCmd("start", "Start a service"),
		newServiceCtlCmd("stop", "Stop a service"),
		newServiceCtlCmd("restart", "Restart a service"),
		newServiceAddCmd(),
		newServiceRemoveCmd(),
		newServiceDiscoverCmd(),
	)
	return root
}

func newServiceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			model.SortServices(cfg.Services)
			fmt.Printf("%-24s %-12s %-8s %-9s %s\n", "SERVICE", "CATEGORY", "PORT", "ENABLED", "LABEL")
			for _, svc := range cfg.Services {
				fmt.Printf("%-24s %-12s %-8d %-9t %s\n", svc.Name, svc.Category, svc.Port, svc.Enabled, svc.Label)
			}
			return nil
		},
	}
}

func newServiceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <name|label|id>",
		Short: "Probe a single service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			svc, ok := cfg.FindService(args[0])
			if !ok {
				return fmt.Errorf("unknown service: %s", args[0])
			}
			st := launchd.NewProber(execx.System()).Probe(cmd.Context(), svc)
			if st.IsRunning() {
				fmt.Printf("%s: %s (pid %d)\n", svc.Name, st, st.PID)
			} else {
				fmt.Printf("%s: %s\n", svc.Name, st)
			}
			return nil
		},
	}
}

// newServiceCtlCmd builds start/stop/restart, which share everything but
// the controller call.
func newServiceCtlCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name|label|id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			svc, ok := cfg.FindService(args[0])
			if !ok {
				return fmt.Errorf("service not found: %s", args[0])
			}
			ctrl := launchd.NewController(execx.System())
			switch verb {
			case "start":
				err = ctrl.Start(cmd.Context(), svc)
			case "stop":
				err = ctrl.Stop(cmd.Context(), svc)
			case "restart":
				err = ctrl.Restart(cmd.Context(), svc)
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", verb, svc.Name, err)
			}
			if verb != "stop" {
				if herr := history.Touch(svc.Label); herr != nil {
					fmt.Fprintf(os.Stderr, "warning: could not record history: %v\n", herr)
				}
			}
			fmt.Printf("%s %s: ok (%s)\n", verb, svc.Name, svc.Label)
			return nil
		},
	}
}

func newServiceAddCmd() *cobra.Command {
	var (
		label    string
		portArg  int
		category string
		desc     string
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a managed service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			if err := util.ValidatePort(portArg); err != nil {
				return err
			}
			svc := model.ManagedService{
				Name:        args[0],
				Label:       label,
				Port:        portArg,
				Category:    model.ParseCategory(category),
				Description: desc,
				Enabled:     !disabled,
			}
			added, err := cfg.AddService(svc)
			if err != nil {
				return err
			}
			if err := appconfig.Save(cfg); err != nil {
				return err
			}
			fmt.Printf("added %s id=%s\n", added.Name, added.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "launchd label (required)")
	cmd.Flags().IntVar(&portArg, "port", 0, "service port (required)")
	cmd.Flags().StringVar(&category, "category", "general", "category: proxy|tunnel|database|development|general")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "add the service disabled")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

func newServiceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name|label|id>",
		Short: "Remove a managed service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			svc, ok := cfg.FindService(args[0])
			if !ok {
				return fmt.Errorf("service not found: %s", args[0])
			}
			if err := cfg.RemoveService(svc.ID); err != nil {
				return err
			}
			if err := appconfig.Save(cfg); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", svc.Name)
			return nil
		},
	}
}

func newServiceDiscoverCmd() *cobra.Command {
	var add bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover launchd agents not yet managed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			res, err := discover.Scan(cmd.Context(), execx.System())
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(os.Stderr, "warning: %s\n", w)
			}
			suggestions := discover.Suggest(res, cfg.Services)
			if len(suggestions) == 0 {
				fmt.Println("no unmanaged agents found")
				return nil
			}
			fmt.Printf("%-24s %s\n", "NAME", "LABEL")
			for _, svc := range suggestions {
				fmt.Printf("%-24s %s\n", svc.Name, svc.Label)
			}
			if !add {
				fmt.Println("\nrun with --add to add these as disabled services (set ports afterwards)")
				return nil
			}
			for _, svc := range suggestions {
				// Discovered agents have no known port; park them on an
				// unused high port until the user edits the entry.
				svc.Port = util.MaxPort
				if _, err := cfg.AddService(svc); err != nil {
					fmt.Fprintf(os.Stderr, "skip %s: %v\n", svc.Label, err)
				}
			}
			if err := appconfig.Save(cfg); err != nil {
				return err
			}
			fmt.Printf("added %d services (disabled)\n", len(suggestions))
			return nil
		},
	}
	cmd.Flags().BoolVar(&add, "add", false, "add discovered agents to config as disabled services")
	return cmd
}
