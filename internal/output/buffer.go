package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"toaster/internal/eventbus"
	rtsup "toaster/internal/runtime/supervisor"
	logx "toaster/pkg/logx"
)

const (
	// PollInterval is how often the flusher checks the flush flag. RequestFlush
	// waits the same amount so the flusher has a chance to notice.
	PollInterval = 20 * time.Millisecond

	separator = " :::: "
)

// Record is one pushed line waiting to be flushed.
type Record struct {
	ID        string
	Timestamp int64 // epoch seconds
	Text      string
}

type Option func(*Buffer)

// WithLocation sets the timezone used for file names and line timestamps (default UTC).
func WithLocation(loc *time.Location) Option {
	return func(b *Buffer) {
		if loc != nil {
			b.loc.Store(loc)
		}
	}
}

func WithLogger(log logx.Logger) Option { return func(b *Buffer) { b.log = log } }

func WithBus(bus eventbus.Bus) Option {
	return func(b *Buffer) {
		if bus != nil {
			b.bus = bus
		}
	}
}

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}

// Buffer collects output records in memory and appends them to daily log files
// under dir when a flush is requested.
type Buffer struct {
	dir string
	loc atomic.Pointer[time.Location]
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	mu      sync.Mutex
	records []Record

	flush atomic.Bool

	// drainMu serializes drains; the flusher and a direct Drain never interleave writes.
	drainMu sync.Mutex

	lastMu sync.RWMutex
	last   string
}

func NewBuffer(dir string, opts ...Option) *Buffer {
	b := &Buffer{
		dir: dir,
		bus: eventbus.Nop(),
		now: time.Now,
	}
	b.loc.Store(time.UTC)
	for _, o := range opts {
		o(b)
	}
	b.log = b.log.With(logx.String("comp", "output"))
	return b
}

func (b *Buffer) Dir() string { return b.dir }

// SetLocation changes the timezone for records drained from now on.
func (b *Buffer) SetLocation(loc *time.Location) {
	if loc != nil {
		b.loc.Store(loc)
	}
}

// Push stamps text with a fresh id and the current second and queues it.
func (b *Buffer) Push(text string) {
	rec := Record{ID: uuid.NewString(), Timestamp: b.now().Unix(), Text: text}
	b.mu.Lock()
	b.records = append(b.records, rec)
	b.mu.Unlock()
}

// Len returns the number of records waiting for a flush.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// RequestFlush raises the flush flag and waits one poll interval.
// It does not wait for the drain to finish.
func (b *Buffer) RequestFlush() {
	b.flush.Store(true)
	time.Sleep(PollInterval)
}

// FlushRequested reports whether a flush is pending.
func (b *Buffer) FlushRequested() bool { return b.flush.Load() }

// LastFlushed returns the last line written to disk, without its trailing newline.
func (b *Buffer) LastFlushed() string {
	b.lastMu.RLock()
	defer b.lastMu.RUnlock()
	return b.last
}

// Start runs the flusher until ctx is done. The flusher is restarted if it panics.
func (b *Buffer) Start(ctx context.Context) {
	sup := rtsup.New(ctx, rtsup.WithLogger(b.log))
	sup.GoRestart("output.flusher", b.loop, rtsup.WithRestartBackoff(PollInterval, time.Second))
}

func (b *Buffer) loop(ctx context.Context) error {
	t := time.NewTicker(PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			// a request raised while draining is kept for the next tick
			if b.flush.Swap(false) {
				b.Drain()
			}
		}
	}
}

func (b *Buffer) take() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	recs := b.records
	b.records = nil
	return recs
}

// Drain writes every record queued at the moment it starts and reports how many
// reached disk. Records that cannot be written are logged and dropped.
func (b *Buffer) Drain() int {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()

	recs := b.take()
	if len(recs) == 0 {
		return 0
	}

	files := map[string]*os.File{}
	defer func() {
		for path, f := range files {
			if err := f.Close(); err != nil {
				b.log.Warn("close log file failed", logx.String("path", path), logx.Err(err))
			}
		}
	}()

	loc := b.loc.Load()
	written := 0
	var last string
	for _, rec := range recs {
		ts := time.Unix(rec.Timestamp, 0).In(loc)
		path := LogPath(b.dir, ts)
		f, ok := files[path]
		if !ok {
			var err error
			f, err = openAppend(path)
			if err != nil {
				b.log.Error("open log file failed; record dropped", logx.String("path", path), logx.String("id", rec.ID), logx.Err(err))
				continue
			}
			files[path] = f
		}
		line := FormatLine(ts, rec.Text)
		if _, err := f.WriteString(line); err != nil {
			b.log.Error("write log file failed; record dropped", logx.String("path", path), logx.String("id", rec.ID), logx.Err(err))
			continue
		}
		written++
		last = line[:len(line)-1]
	}

	if written > 0 {
		b.lastMu.Lock()
		b.last = last
		b.lastMu.Unlock()
	}
	b.bus.Publish(eventbus.Event{Type: eventbus.OutputFlushed, Data: FlushEvent{Records: len(recs), Written: written}})
	b.log.Debug("flushed", logx.Int("records", len(recs)), logx.Int("written", written))
	return written
}

// FlushEvent is published after every non-empty drain.
type FlushEvent struct {
	Records int `json:"records"`
	Written int `json:"written"`
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// LogPath returns <dir>/output-YYYY-MM-DD.log for the calendar day of t.
func LogPath(dir string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("output-%s.log", t.Format(time.DateOnly)))
}

// FormatLine renders "HH:MM:SS :::: text\n".
func FormatLine(t time.Time, text string) string {
	return t.Format(time.TimeOnly) + separator + text + "\n"
}
