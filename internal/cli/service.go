package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"toaster/pkg/systemdmanager"
)

func newServiceCommand(o *Options) *cobra.Command {
	var (
		unit string
		user bool
	)
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the toasterd systemd unit",
	}
	cmd.PersistentFlags().StringVar(&unit, "unit", systemdmanager.DefaultUnit, "systemd unit name")
	cmd.PersistentFlags().BoolVar(&user, "user", false, "use the user service manager")

	withManager := func(cmd *cobra.Command, fn func(ctx context.Context, sm *systemdmanager.Manager) error) error {
		ctx := commandContext(cmd)
		sm, err := systemdmanager.New(ctx, user)
		if err != nil {
			return err
		}
		defer sm.Close()
		return fn(ctx, sm)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the unit state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, sm *systemdmanager.Manager) error {
				st, err := sm.Status(ctx, unit)
				if err != nil {
					return err
				}
				o.printStatus(cmd, st)
				return nil
			})
		},
	})

	actions := []struct {
		name  string
		short string
		run   func(*systemdmanager.Manager, context.Context, string) error
	}{
		{"start", "Start the unit", (*systemdmanager.Manager).Start},
		{"stop", "Stop the unit", (*systemdmanager.Manager).Stop},
		{"restart", "Restart the unit", (*systemdmanager.Manager).Restart},
	}
	for _, a := range actions {
		a := a
		cmd.AddCommand(&cobra.Command{
			Use:   a.name,
			Short: a.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd, func(ctx context.Context, sm *systemdmanager.Manager) error {
					err := a.run(sm, ctx, unit)
					msg := systemdmanager.FormatActionResult(systemdmanager.UnitName(unit), a.name, err)
					if err != nil {
						return fmt.Errorf("%s", msg)
					}
					o.paint(cmd.OutOrStdout(), color.FgGreen)("%s\n", msg)
					return nil
				})
			},
		})
	}
	return cmd
}

func (o *Options) printStatus(cmd *cobra.Command, st *systemdmanager.ServiceStatus) {
	w := cmd.OutOrStdout()
	state := o.paint(w, color.FgRed)
	if st.Running() {
		state = o.paint(w, color.FgGreen)
	}
	fmt.Fprintf(w, "%s: ", st.Name)
	state("%s (%s)\n", st.Active, st.SubState)
	if !st.Found() {
		return
	}
	fmt.Fprintf(w, "  description: %s\n", st.Description)
	fmt.Fprintf(w, "  enabled:     %t\n", st.Enabled)
	if st.Running() {
		fmt.Fprintf(w, "  pid:         %d\n", st.MainPID)
		fmt.Fprintf(w, "  uptime:      %s\n", st.Uptime(time.Now()).Truncate(time.Second))
		if st.Memory > 0 {
			fmt.Fprintf(w, "  memory:      %s\n", humanize.IBytes(st.Memory))
		}
	} else if !st.StateChange.IsZero() {
		fmt.Fprintf(w, "  since:       %s\n", humanize.Time(st.StateChange))
	}
}
