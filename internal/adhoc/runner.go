// Package adhoc runs the on-demand commands declared under [command.*] and
// prints their output to the terminal.
package adhoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/fatih/color"

	"toaster/internal/config"
)

// ErrUnknownCommand is returned by Lookup when no command has the given name.
var ErrUnknownCommand = errors.New("unknown command")

var palette = map[string]color.Attribute{
	"red":          color.FgRed,
	"green":        color.FgGreen,
	"blue":         color.FgBlue,
	"yellow":       color.FgYellow,
	"magenta":      color.FgMagenta,
	"cyan":         color.FgCyan,
	"white":        color.FgWhite,
	"black":        color.FgBlack,
	"bright_green": color.FgHiGreen,
	"bright_red":   color.FgHiRed,
}

// ExecFunc runs one stage and returns its stdout and stderr. A non-zero exit
// is not an error.
type ExecFunc func(ctx context.Context, shell, command string) (stdout, stderr []byte, err error)

// Runner executes command stages one after another.
type Runner struct {
	Out     io.Writer
	Err     io.Writer
	NoColor bool
	Exec    ExecFunc
}

func NewRunner() *Runner {
	return &Runner{Out: os.Stdout, Err: os.Stderr, NoColor: color.NoColor, Exec: shellExec}
}

// Lookup finds a command by name in m.
func Lookup(m *config.Model, name string) (config.Command, error) {
	c, ok := m.Command(name)
	if !ok {
		return config.Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return c, nil
}

// Run executes every stage of c in order. It stops at the first stage whose
// shell cannot be started.
func (r *Runner) Run(ctx context.Context, c config.Command) error {
	run := r.Exec
	if run == nil {
		run = shellExec
	}
	for _, st := range c.Stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		stdout, stderr, err := run(ctx, c.Shell, st.Command)
		if err != nil {
			return fmt.Errorf("%s stage %d: %w", c.Name, st.ID, err)
		}
		r.print(st, string(stdout), string(stderr))
	}
	return nil
}

func (r *Runner) print(st config.CommandStage, stdout, stderr string) {
	if stdout != "" {
		out := r.paint(palette[st.Color])
		if st.Sort != nil && st.Sort.Sorting {
			for _, line := range Group(stdout, st.Sort.ItemsPerLine) {
				out.Fprintln(r.Out, line)
			}
		} else {
			out.Fprintln(r.Out, strings.TrimRight(stdout, "\n"))
		}
	}
	if stderr != "" {
		r.paint(color.FgRed).Fprint(r.Err, stderr)
	}
}

func (r *Runner) paint(attr color.Attribute) *color.Color {
	if attr == 0 {
		attr = color.FgWhite
	}
	c := color.New(attr)
	if r.NoColor {
		c.DisableColor()
	} else {
		c.EnableColor()
	}
	return c
}

// Group sorts the whitespace-separated tokens of text and joins them with ", ",
// perLine tokens to a line.
func Group(text string, perLine int) []string {
	if perLine <= 0 {
		perLine = config.DefaultRowLength
	}
	tokens := strings.Fields(text)
	sort.Strings(tokens)
	lines := make([]string, 0, (len(tokens)+perLine-1)/perLine)
	for len(tokens) > 0 {
		n := min(perLine, len(tokens))
		lines = append(lines, strings.Join(tokens[:n], ", "))
		tokens = tokens[n:]
	}
	return lines
}

func shellExec(ctx context.Context, shell, command string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var ee *exec.ExitError
	if err != nil && !errors.As(err, &ee) {
		return nil, nil, err
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}
