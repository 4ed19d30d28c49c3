package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"toaster/internal/storage"
	logx "toaster/pkg/logx"
)

func newHistoryCommand(o *Options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [system]",
		Short: "Show recent stage runs recorded by the daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := o.loadModel()
			if err != nil {
				return err
			}
			st, err := storage.Open(storage.Config{
				Driver:      m.Storage.Driver,
				Path:        m.Storage.Path,
				BusyTimeout: m.Storage.BusyTimeout,
			}, logx.Nop())
			if err != nil {
				return err
			}
			if st == nil {
				return storage.ErrDisabled
			}
			defer st.Close()

			job := ""
			if len(args) == 1 {
				job = args[0]
			}
			runs, err := st.RecentRuns(commandContext(cmd), job, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "no runs recorded")
				return nil
			}
			ok := o.paint(w, color.FgGreen)
			bad := o.paint(w, color.FgRed)
			now := time.Now()
			for _, r := range runs {
				when := humanize.RelTime(r.Started, now, "ago", "from now")
				line := fmt.Sprintf("%-19s %-14s %-12s stage %d  exit %-3d %8s  %s",
					r.Started.In(m.Location).Format(time.DateTime), when, r.Job, r.Stage, r.ExitCode,
					humanize.IBytes(uint64(r.Bytes)), r.Command)
				if r.OK() {
					ok("%s\n", line)
				} else if r.Error != "" {
					bad("%s  (%s)\n", line, r.Error)
				} else {
					bad("%s\n", line)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show")
	return cmd
}
