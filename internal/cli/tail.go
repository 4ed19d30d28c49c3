package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"toaster/internal/output"
)

func newTailCommand(o *Options) *cobra.Command {
	var (
		lines int
		day   string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the last lines of a daily output log",
		Long: `Tail prints the end of Logs/output-<day>.log. Output still buffered in the
daemon is not shown; run "toaster flush" first to see it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := o.loadModel()
			if err != nil {
				return err
			}
			when := time.Now().In(m.Location)
			if day != "" {
				when, err = time.ParseInLocation(time.DateOnly, day, m.Location)
				if err != nil {
					return fmt.Errorf("--day: want YYYY-MM-DD: %w", err)
				}
			}
			path := output.LogPath(m.LogDir(), when)
			got, err := lastLines(path, lines)
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("no log for %s (%s)", when.Format(time.DateOnly), path)
			}
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, l := range got {
				fmt.Fprintln(w, l)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of lines to print (0 prints all)")
	cmd.Flags().StringVar(&day, "day", "", "log day as YYYY-MM-DD (default: today)")
	return cmd
}

// lastLines returns the final n lines of path, or every line when n <= 0.
func lastLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ring []string
	next := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if n <= 0 || len(ring) < n {
			ring = append(ring, sc.Text())
			continue
		}
		ring[next] = sc.Text()
		next = (next + 1) % n
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if next == 0 {
		return ring, nil
	}
	return append(ring[next:], ring[:next]...), nil
}
