// Package cli implements the toaster client commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"toaster/internal/config"
)

// Options are the global flags shared by every subcommand.
type Options struct {
	ConfigPath string
	Socket     string
	NoColor    bool
	Timeout    time.Duration
}

// NewRootCommand builds the toaster command tree.
func NewRootCommand() *cobra.Command {
	o := &Options{}
	cmd := &cobra.Command{
		Use:   "toaster",
		Short: "toaster - control the toasterd job daemon",
		Long: `toaster talks to a running toasterd over its unix control socket and
works with the files it owns: the daily output logs and the run history.

Config is read from $TOASTER_HOME/toaster.toml (default ~/.toaster).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&o.ConfigPath, "config", "c", "", "path to config file (default: $TOASTER_HOME/toaster.toml)")
	cmd.PersistentFlags().StringVarP(&o.Socket, "socket", "s", "", "control socket (default: $TOASTER_SOCKET, then control.socket)")
	cmd.PersistentFlags().BoolVar(&o.NoColor, "no-color", color.NoColor, "disable colored output")
	cmd.PersistentFlags().DurationVar(&o.Timeout, "timeout", 30*time.Second, "control request timeout")

	cmd.AddCommand(
		newPingCommand(o),
		newReloadCommand(o),
		newFlushCommand(o),
		newRunCommand(o),
		newListCommand(o),
		newTailCommand(o),
		newHistoryCommand(o),
		newServiceCommand(o),
	)
	return cmd
}

// Execute runs the command tree and reports failures on stderr.
func Execute(ctx context.Context) int {
	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error: ")+err.Error())
		return 1
	}
	return 0
}

func (o *Options) configPath() (string, error) {
	if p := strings.TrimSpace(o.ConfigPath); p != "" {
		return p, nil
	}
	return config.DefaultPath()
}

// loadModel compiles the config file without creating it.
func (o *Options) loadModel() (*config.Model, error) {
	path, err := o.configPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config.NewManager(path).Load()
}

// socketPath resolves the control socket: flag, then environment, then the
// config file, then the built-in default.
func (o *Options) socketPath() string {
	if s := strings.TrimSpace(o.Socket); s != "" {
		return s
	}
	if s := strings.TrimSpace(os.Getenv(config.EnvSocket)); s != "" {
		return s
	}
	if m, err := o.loadModel(); err == nil {
		return m.Socket
	}
	return config.DefaultSocketPath
}

func (o *Options) paint(w io.Writer, attr color.Attribute) func(format string, a ...any) {
	c := color.New(attr)
	if o.NoColor {
		c.DisableColor()
	} else {
		c.EnableColor()
	}
	return func(format string, a ...any) { c.Fprintf(w, format, a...) }
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
