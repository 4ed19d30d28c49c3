package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "toaster/pkg/logx"
)

// Retention deletes daily log files older than a fixed number of days.
type Retention struct {
	dir  string
	days int
	loc  *time.Location
	log  logx.Logger
	now  func() time.Time

	c *cron.Cron
}

func NewRetention(dir string, days int, loc *time.Location, log logx.Logger) *Retention {
	if loc == nil {
		loc = time.UTC
	}
	return &Retention{
		dir:  dir,
		days: days,
		loc:  loc,
		log:  log.With(logx.String("comp", "retention")),
		now:  time.Now,
	}
}

// Start prunes once and then every day at midnight. It is a no-op when days <= 0.
func (r *Retention) Start() error {
	if r.days <= 0 {
		return nil
	}
	r.prune()

	cl := cronLogger{r.log}
	c := cron.New(cron.WithLocation(r.loc), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	if _, err := c.AddFunc("@daily", r.prune); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}
	c.Start()
	r.c = c
	r.log.Info("log retention enabled", logx.Int("days", r.days))
	return nil
}

// Stop halts the schedule; a running prune finishes in the background.
func (r *Retention) Stop() {
	if r.c != nil {
		r.c.Stop()
		r.c = nil
	}
}

func (r *Retention) prune() {
	removed, err := r.Prune()
	if err != nil {
		r.log.Warn("log retention failed", logx.Err(err))
		return
	}
	if removed > 0 {
		r.log.Info("old logs removed", logx.Int("files", removed))
	}
}

// Prune removes output-YYYY-MM-DD.log files dated more than days before today.
func (r *Retention) Prune() (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	today := r.now().In(r.loc)
	cutoff := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, r.loc).AddDate(0, 0, -r.days)

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		day, ok := logDay(e.Name(), r.loc)
		if !ok || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, e.Name())); err != nil {
			r.log.Warn("remove old log failed", logx.String("file", e.Name()), logx.Err(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func logDay(name string, loc *time.Location) (time.Time, bool) {
	if !strings.HasPrefix(name, "output-") || !strings.HasSuffix(name, ".log") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, "output-"), ".log")
	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// cronLogger sends scheduler chatter to debug and recovered panics to error.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, cronFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(cronFields(keysAndValues), logx.Err(err))...)
}

func cronFields(kv []interface{}) []logx.Field {
	fields := make([]logx.Field, 0, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
