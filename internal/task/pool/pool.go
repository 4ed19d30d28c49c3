package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	rtsup "toaster/internal/runtime/supervisor"
	logx "toaster/pkg/logx"
)

// Task is a unit of work run by a pool worker. Job executors never return
// on their own, so a busy worker is usually busy for good.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Generation uint64 `json:"generation"`
	Workers    int    `json:"workers"`
	Busy       int    `json:"busy"`
	Queued     int    `json:"queued"`
	Started    uint64 `json:"started"`
	Completed  uint64 `json:"completed"`
	Panics     uint64 `json:"panics"`
}

var generations atomic.Uint64

// Pool is a fixed set of workers fed from an unbounded FIFO queue.
//
// Pools have no Stop. A pool replaced by a reload is dropped and the
// tasks it is running keep going.
type Pool struct {
	gen     uint64
	workers int
	log     logx.Logger
	sup     *rtsup.Supervisor

	mu     sync.Mutex
	queue  []Task
	signal chan struct{}

	busy      atomic.Int32
	started   atomic.Uint64
	completed atomic.Uint64
	panics    atomic.Uint64
}

// New starts size workers (at least one) bound to ctx.
func New(ctx context.Context, size int, log logx.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		gen:     generations.Add(1),
		workers: size,
		signal:  make(chan struct{}, 1),
	}
	p.log = log.With(logx.String("comp", "pool"), logx.Uint64("gen", p.gen))
	p.sup = rtsup.New(ctx, rtsup.WithLogger(p.log))
	for i := 0; i < size; i++ {
		p.sup.GoRestart(fmt.Sprintf("pool.%d.worker.%d", p.gen, i), p.worker,
			rtsup.WithRestartBackoff(100*time.Millisecond, 5*time.Second))
	}
	p.log.Debug("pool started", logx.Int("workers", size))
	return p
}

// Execute queues t and returns immediately.
func (p *Pool) Execute(t Task) {
	if t.Run == nil {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, t)
	p.mu.Unlock()
	p.wake()
}

func (p *Pool) wake() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Pool) next(ctx context.Context) (Task, bool) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			t := p.queue[0]
			p.queue[0] = Task{}
			p.queue = p.queue[1:]
			more := len(p.queue) > 0
			p.mu.Unlock()
			if more {
				p.wake()
			}
			return t, true
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return Task{}, false
		case <-p.signal:
		}
	}
}

func (p *Pool) worker(ctx context.Context) error {
	for {
		t, ok := p.next(ctx)
		if !ok {
			return ctx.Err()
		}
		p.run(ctx, t)
	}
}

func (p *Pool) run(ctx context.Context, t Task) {
	p.started.Add(1)
	p.busy.Add(1)
	defer func() {
		p.busy.Add(-1)
		p.completed.Add(1)
	}()

	// a panicking task must not take its worker with it
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	if err := t.Run(ctx); err != nil && ctx.Err() == nil {
		p.log.Warn("task.failed", logx.String("task", t.Name), logx.Err(err))
		return
	}
	p.log.Debug("task.completed", logx.String("task", t.Name))
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	queued := len(p.queue)
	p.mu.Unlock()
	return Snapshot{
		Generation: p.gen,
		Workers:    p.workers,
		Busy:       int(p.busy.Load()),
		Queued:     queued,
		Started:    p.started.Load(),
		Completed:  p.completed.Load(),
		Panics:     p.panics.Load(),
	}
}
