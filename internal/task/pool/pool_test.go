package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "toaster/pkg/logx"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestExecuteRunsAllTasks(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(ctx, 3, logx.Nop())

	var n atomic.Int32
	for i := 0; i < 50; i++ {
		p.Execute(Task{Name: "inc", Run: func(context.Context) error {
			n.Add(1)
			return nil
		}})
	}
	waitFor(t, "50 tasks", func() bool { return n.Load() == 50 })
	waitFor(t, "completed counter", func() bool { return p.Snapshot().Completed == 50 })
}

func TestExecuteDoesNotBlockWhenWorkersBusy(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(ctx, 1, logx.Nop())

	release := make(chan struct{})
	p.Execute(Task{Name: "block", Run: func(context.Context) error {
		<-release
		return nil
	}})
	waitFor(t, "worker busy", func() bool { return p.Snapshot().Busy == 1 })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			p.Execute(Task{Name: "queued", Run: func(context.Context) error { return nil }})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute blocked while the only worker was busy")
	}
	if got := p.Snapshot().Queued; got != 1000 {
		t.Fatalf("queued = %d, want 1000", got)
	}
	close(release)
	waitFor(t, "queue drained", func() bool { return p.Snapshot().Queued == 0 })
}

func TestFIFOOrderSingleWorker(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(ctx, 1, logx.Nop())

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 10; i++ {
		i := i
		p.Execute(Task{Name: "order", Run: func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}})
	}
	waitFor(t, "10 tasks", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 10
	})
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
}

func TestPanickingTaskKeepsWorker(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(ctx, 1, logx.Nop())

	p.Execute(Task{Name: "boom", Run: func(context.Context) error { panic("boom") }})
	ran := make(chan struct{})
	p.Execute(Task{Name: "after", Run: func(context.Context) error {
		close(ran)
		return nil
	}})
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
	if got := p.Snapshot().Panics; got != 1 {
		t.Fatalf("panics = %d, want 1", got)
	}
}

func TestZeroSizeMeansOneWorker(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(ctx, 0, logx.Nop())
	if got := p.Snapshot().Workers; got != 1 {
		t.Fatalf("workers = %d, want 1", got)
	}
	if p.Snapshot().Generation == 0 {
		t.Fatal("generation not assigned")
	}
}
