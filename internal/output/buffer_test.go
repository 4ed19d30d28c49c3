package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"toaster/internal/eventbus"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	s := strings.TrimSuffix(string(b), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestDrainWritesFormattedLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	at := time.Date(2024, 3, 9, 7, 5, 2, 0, time.UTC)
	b := NewBuffer(dir, WithClock(fixedClock(at)))

	b.Push("backup: Output: done")
	b.Push("SYSTEM: hello")
	if got := b.Drain(); got != 2 {
		t.Fatalf("Drain = %d, want 2", got)
	}

	lines := readLines(t, filepath.Join(dir, "output-2024-03-09.log"))
	want := []string{"07:05:02 :::: backup: Output: done", "07:05:02 :::: SYSTEM: hello"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
	if b.LastFlushed() != want[1] {
		t.Fatalf("LastFlushed = %q", b.LastFlushed())
	}
	if b.Len() != 0 {
		t.Fatalf("Len = %d after drain", b.Len())
	}
	if b.Drain() != 0 {
		t.Fatal("second drain wrote records again")
	}
}

func TestRecordsGoToTheirOwnDay(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var (
		mu  sync.Mutex
		now = time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	b := NewBuffer(dir, WithClock(clock))

	b.Push("old year")
	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()
	b.Push("new year")
	b.Drain()

	if lines := readLines(t, filepath.Join(dir, "output-2024-12-31.log")); len(lines) != 1 || lines[0] != "23:59:59 :::: old year" {
		t.Fatalf("2024-12-31 = %q", lines)
	}
	if lines := readLines(t, filepath.Join(dir, "output-2025-01-01.log")); len(lines) != 1 || lines[0] != "00:00:01 :::: new year" {
		t.Fatalf("2025-01-01 = %q", lines)
	}
}

func TestLocationControlsDayAndTime(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	loc := time.FixedZone("UTC+7", 7*3600)
	b := NewBuffer(dir, WithLocation(loc), WithClock(fixedClock(time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC))))
	b.Push("x")
	b.Drain()
	if lines := readLines(t, filepath.Join(dir, "output-2024-05-02.log")); len(lines) != 1 || lines[0] != "03:00:00 :::: x" {
		t.Fatalf("lines = %q", lines)
	}
}

func TestFlusherWritesEachRecordOnce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()
	b := NewBuffer(dir, WithClock(fixedClock(at)), WithBus(bus))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	const pushers, perPusher = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < pushers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPusher; i++ {
				b.Push(fmt.Sprintf("p%d-%d", p, i))
				if i == perPusher/2 {
					b.RequestFlush()
				}
			}
		}(p)
	}
	wg.Wait()
	// two rapid requests must not duplicate or lose anything
	b.RequestFlush()
	b.RequestFlush()

	deadline := time.Now().Add(3 * time.Second)
	for (b.Len() > 0 || b.FlushRequested()) && time.Now().Before(deadline) {
		time.Sleep(PollInterval)
	}
	// the last drain may still be writing after the flag cleared
	time.Sleep(5 * PollInterval)

	lines := readLines(t, LogPath(dir, at))
	if len(lines) != pushers*perPusher {
		t.Fatalf("lines = %d, want %d", len(lines), pushers*perPusher)
	}
	seen := map[string]bool{}
	for _, l := range lines {
		if seen[l] {
			t.Fatalf("duplicate line %q", l)
		}
		seen[l] = true
	}

	select {
	case ev := <-events:
		if ev.Type != eventbus.OutputFlushed {
			t.Fatalf("event = %s", ev.Type)
		}
	default:
		t.Fatal("no flush event published")
	}
}

func TestWriteFailureDropsRecordAndContinues(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	blocker := filepath.Join(root, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	b := NewBuffer(filepath.Join(blocker, "Logs"))

	b.Push("lost")
	if got := b.Drain(); got != 0 {
		t.Fatalf("Drain = %d, want 0", got)
	}
	if b.Len() != 0 {
		t.Fatal("failed record was not dropped")
	}
	if b.LastFlushed() != "" {
		t.Fatalf("LastFlushed = %q", b.LastFlushed())
	}

	b.Push("again")
	if got := b.Drain(); got != 0 {
		t.Fatalf("Drain = %d, want 0", got)
	}
}

func TestRecordsGetUniqueIDs(t *testing.T) {
	t.Parallel()
	b := NewBuffer(t.TempDir())
	b.Push("a")
	b.Push("a")
	recs := b.take()
	if len(recs) != 2 || recs[0].ID == "" || recs[0].ID == recs[1].ID {
		t.Fatalf("records = %+v", recs)
	}
}
