package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newListCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the configured jobs and commands",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := o.loadModel()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			head := o.paint(w, color.FgCyan)
			head("systems (%d)\n", len(m.Jobs))
			for _, j := range m.Jobs {
				fmt.Fprintf(w, "  %-16s %d stage(s)  %s\n", j.Name, len(j.Stages), j.Description)
				for _, st := range j.Stages {
					fmt.Fprintf(w, "    %d. every %-12s %s\n", st.ID, st.Every.Duration(), st.Command)
				}
			}
			head("commands (%d)\n", len(m.Commands))
			for _, c := range m.Commands {
				fmt.Fprintf(w, "  %-16s %d stage(s)  %s\n", c.Name, len(c.Stages), c.Description)
			}
			return nil
		},
	}
}
