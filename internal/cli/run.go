package cli

import (
	"github.com/spf13/cobra"

	"toaster/internal/adhoc"
)

func newRunCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "run <command>",
		Short: "Run an on-demand command from the config file",
		Long: `Run executes the stages of a [command.<name>] entry one after another
and prints their output. Stage output is colored and optionally sorted and
grouped as declared by the stage's %[color:...,o:...] prefix.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := o.loadModel()
			if err != nil {
				return err
			}
			c, err := adhoc.Lookup(m, args[0])
			if err != nil {
				return err
			}
			r := adhoc.NewRunner()
			r.Out = cmd.OutOrStdout()
			r.Err = cmd.ErrOrStderr()
			r.NoColor = o.NoColor
			return r.Run(commandContext(cmd), c)
		},
	}
}
