package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"toaster/internal/control"
)

func newPingCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that toasterd is answering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.send(cmd, control.TokenPing, control.ReplyPong)
		},
	}
}

func newReloadCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the config file and restart every job",
		Long: `Reload flushes pending output, recompiles the config file and restarts
every job with fresh schedules. An invalid config is rejected and the running
jobs are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.send(cmd, control.TokenReload, control.ReplyOK)
		},
	}
}

func newFlushCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Write buffered job output to today's log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.send(cmd, control.TokenFlush, control.ReplyOK)
		},
	}
}

// send delivers token and prints the reply. Any reply other than want is an error.
func (o *Options) send(cmd *cobra.Command, token, want string) error {
	ctx := commandContext(cmd)
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}
	socket := o.socketPath()
	reply, err := control.Send(ctx, socket, token)
	if err != nil {
		return fmt.Errorf("%s via %s: %w (is toasterd running?)", token, socket, err)
	}
	if reply != want {
		return fmt.Errorf("%s: %s", token, strings.TrimPrefix(reply, "error: "))
	}
	o.paint(cmd.OutOrStdout(), color.FgGreen)("%s\n", reply)
	return nil
}
