package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"toaster/internal/config"
	"toaster/internal/eventbus"
	logx "toaster/pkg/logx"
)

// StageInterval is the pause after every stage evaluation, due or not.
// A job with N stages checks the same stage at most once every N*StageInterval.
const StageInterval = 100 * time.Millisecond

// ErrSpawn is wrapped by Runner errors when the shell could not be started.
var ErrSpawn = errors.New("spawn failed")

// Result is the outcome of one stage command. A non-zero exit is not an error.
type Result struct {
	Stdout   []byte
	ExitCode int
}

// Runner launches a stage command and waits for it.
// It returns an error only when the process could not be run at all.
type Runner interface {
	Run(ctx context.Context, shell, command string) (Result, error)
}

// Sink receives formatted job output.
type Sink interface {
	Push(text string)
}

// Clock abstracts time so executors can be driven deterministically.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

type Deps struct {
	Runner Runner
	Sink   Sink
	Bus    eventbus.Bus
	Log    logx.Logger
	Clock  Clock
}

// StageEvent is published on the bus after every stage execution attempt.
type StageEvent struct {
	RunID    string        `json:"run_id"`
	Job      string        `json:"job"`
	Stage    int           `json:"stage"`
	Command  string        `json:"command"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	ExitCode int           `json:"exit_code"`
	Bytes    int           `json:"bytes"`
	Error    string        `json:"error,omitempty"`
}

// ShellRunner runs "<shell> -c <command>", capturing stdout and discarding stderr.
type ShellRunner struct{}

func (ShellRunner) Run(ctx context.Context, shell, command string) (Result, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Stdout = &out
	err := cmd.Run()
	if err == nil {
		return Result{Stdout: out.Bytes()}, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return Result{Stdout: out.Bytes(), ExitCode: ee.ExitCode()}, nil
	}
	return Result{}, fmt.Errorf("%w: %s -c %q: %v", ErrSpawn, shell, command, err)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Executor drives one job: it cycles through the stages forever and runs
// whichever is due. It owns its lastRun table; nothing else touches it.
type Executor struct {
	job    config.Job
	runner Runner
	sink   Sink
	bus    eventbus.Bus
	log    logx.Logger
	clock  Clock

	lastRun map[int]int64

	// a stage that cannot spawn is retried on every pass
	spawnLog   *rate.Limiter
	suppressed int
}

// New returns an executor for a private copy of job.
func New(job config.Job, deps Deps) *Executor {
	e := &Executor{
		job:      job.Clone(),
		runner:   deps.Runner,
		sink:     deps.Sink,
		bus:      deps.Bus,
		log:      deps.Log.With(logx.String("job", job.Name)),
		clock:    deps.Clock,
		lastRun:  make(map[int]int64, len(job.Stages)),
		spawnLog: rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
	if e.runner == nil {
		e.runner = ShellRunner{}
	}
	if e.clock == nil {
		e.clock = wallClock{}
	}
	if e.bus == nil {
		e.bus = eventbus.Nop()
	}
	return e
}

func (e *Executor) Name() string { return e.job.Name }

// Run loops over the stages until ctx is done.
func (e *Executor) Run(ctx context.Context) error {
	e.log.Info("job started", logx.Int("stages", len(e.job.Stages)), logx.String("shell", e.job.Shell))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(e.job.Stages) == 0 {
			e.clock.Sleep(ctx, StageInterval)
			continue
		}
		e.pass(ctx)
	}
}

// pass evaluates every stage once, in ID order, sleeping after each.
func (e *Executor) pass(ctx context.Context) {
	for _, st := range e.job.Stages {
		if ctx.Err() != nil {
			return
		}
		e.step(ctx, st)
		e.clock.Sleep(ctx, StageInterval)
	}
}

// step runs st if it is due and reports whether it ran.
func (e *Executor) step(ctx context.Context, st config.Stage) bool {
	now := e.clock.Now().Unix()
	if !st.Every.Due(e.lastRun[st.ID], now) {
		return false
	}

	started := e.clock.Now()
	ev := StageEvent{
		RunID:   uuid.NewString(),
		Job:     e.job.Name,
		Stage:   st.ID,
		Command: st.Command,
		Started: started,
	}

	res, err := e.runner.Run(ctx, e.job.Shell, st.Command)
	ev.Duration = e.clock.Now().Sub(started)
	if err != nil {
		ev.Error = err.Error()
		ev.ExitCode = -1
		e.spawnFailed(st, err)
		e.bus.Publish(eventbus.Event{Type: eventbus.StageFailed, Time: started, Data: ev})
		return false
	}

	e.sink.Push(fmt.Sprintf("%s: Output: %s", e.job.Name, res.Stdout))
	e.lastRun[st.ID] = now

	ev.ExitCode = res.ExitCode
	ev.Bytes = len(res.Stdout)
	e.bus.Publish(eventbus.Event{Type: eventbus.StageFinished, Time: started, Data: ev})
	e.log.Debug("stage ran", logx.Int("stage", st.ID), logx.Int("exit_code", res.ExitCode), logx.Duration("dur", ev.Duration))
	return true
}

func (e *Executor) spawnFailed(st config.Stage, err error) {
	if !e.spawnLog.Allow() {
		e.suppressed++
		return
	}
	e.log.Warn("stage spawn failed", logx.Int("stage", st.ID), logx.Err(err), logx.Int("suppressed", e.suppressed))
	e.suppressed = 0
}
