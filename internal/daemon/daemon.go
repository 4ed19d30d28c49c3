package daemon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"

	"toaster/internal/config"
	"toaster/internal/control"
	"toaster/internal/eventbus"
	"toaster/internal/observability/pprof"
	"toaster/internal/output"
	rtsup "toaster/internal/runtime/supervisor"
	"toaster/internal/storage"
	"toaster/internal/task/executor"
	"toaster/internal/task/pool"
	logx "toaster/pkg/logx"
)

const (
	// AutoFlushAfter is how long output may sit in memory before the next
	// control command triggers a flush on its own.
	AutoFlushAfter = 45 * time.Second

	StartMessage = "SYSTEM: Starting toaster..."
)

// Options tune a Daemon. The zero value is what toasterd uses.
type Options struct {
	// Socket overrides the configured control socket path.
	Socket string
	// Runner and Clock are handed to every job executor.
	Runner executor.Runner
	Clock  executor.Clock
	// Now drives the auto-flush timer.
	Now func() time.Time
	// Notify reports state to the service manager; defaults to sd_notify.
	Notify func(state string)
	// Log is used until the configured logger is built.
	Log logx.Logger
}

// Daemon owns the live state: the compiled config, the worker pool running
// one executor per job, the output buffer and the control server.
type Daemon struct {
	opts   Options
	cfg    *config.Manager
	logSvc *logx.Service
	log    logx.Logger
	bus    eventbus.Bus
	buf    *output.Buffer

	store     storage.Store
	retention *output.Retention
	debug     *pprof.Service
	socket    string
	started   time.Time

	modelMu sync.RWMutex
	model   *config.Model

	poolMu sync.RWMutex
	pool   *pool.Pool

	// reloadMu serializes whole reloads; each swap is still guarded by its own lock.
	reloadMu sync.Mutex

	// process lifetime; reloads never cancel it
	ctx context.Context

	// start of the auto-flush window: last flush or recognized command, unix nanos
	lastFlush atomic.Int64
	reloads   atomic.Uint64

	ready     chan struct{}
	readyOnce sync.Once
}

// New prepares the daemon: it creates the config root and default config when
// missing, then loads and compiles the config. A config error is returned as is
// and must be treated as fatal.
func New(cfgPath string, opts Options) (*Daemon, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notify == nil {
		opts.Notify = sdNotify
	}
	boot := opts.Log
	if boot.IsZero() {
		boot = logx.NewConsole("info")
	}

	created, err := config.EnsureDefault(cfgPath)
	if err != nil {
		return nil, err
	}
	if created {
		boot.Info("default config written", logx.String("path", cfgPath))
	}

	mgr := config.NewManager(cfgPath)
	model, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(model.Logging)
	if !opts.Log.IsZero() {
		log = opts.Log
	}
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()
	d := &Daemon{
		opts:   opts,
		cfg:    mgr,
		logSvc: logSvc,
		log:    log.With(logx.String("comp", "daemon")),
		bus:    bus,
		model:  model,
		socket: strings.TrimSpace(opts.Socket),
		ready:  make(chan struct{}),
	}
	if d.socket == "" {
		d.socket = model.Socket
	}
	d.buf = output.NewBuffer(model.LogDir(),
		output.WithLocation(model.Location),
		output.WithLogger(log),
		output.WithBus(bus),
		output.WithClock(opts.Now),
	)
	d.debug = pprof.New(log, func() any { return d.Status() })
	d.retention = output.NewRetention(model.LogDir(), model.Settings.LogRetentionDays, model.Location, log)

	st, err := storage.Open(storage.Config{
		Driver:      model.Storage.Driver,
		Path:        model.Storage.Path,
		BusyTimeout: model.Storage.BusyTimeout,
	}, log)
	if err != nil {
		// history is optional; the daemon still runs without it
		d.log.Warn("run history disabled", logx.String("driver", model.Storage.Driver), logx.Err(err))
	} else {
		d.store = st
	}
	d.lastFlush.Store(opts.Now().UnixNano())
	return d, nil
}

// Start brings the daemon up and serves control requests until ctx is done.
// A socket bind failure is returned immediately.
func (d *Daemon) Start(ctx context.Context) error {
	d.ctx = ctx
	d.started = d.opts.Now()
	sup := rtsup.New(ctx, rtsup.WithLogger(d.log))

	d.buf.Start(ctx)
	if d.store != nil {
		rec := newRecorder(d.bus, d.store, d.log)
		sup.GoRestart("history.recorder", rec.Run)
	}
	if err := d.retention.Start(); err != nil {
		d.log.Warn("log retention not scheduled", logx.Err(err))
	}

	d.buf.Push(StartMessage)
	d.flush()

	model := d.Model()
	d.startJobs(model)

	ln, err := control.Listen(d.socket)
	if err != nil {
		return err
	}
	srv := control.NewServer(ln, d, d.log)

	if model.Settings.WatchConfig {
		d.watchConfig(sup)
	}
	_ = d.debug.Reconfigure(ctx, debugConfig(model.Debug))

	d.opts.Notify(sddaemon.SdNotifyReady)
	d.opts.Notify(fmt.Sprintf("STATUS=running %d jobs", len(model.Jobs)))
	d.log.Info("toaster started",
		logx.String("config", model.Path),
		logx.String("socket", d.socket),
		logx.Int("jobs", len(model.Jobs)),
		logx.Int("threads", int(model.Settings.Threads)),
	)
	d.readyOnce.Do(func() { close(d.ready) })

	err = srv.Serve(ctx)
	d.debug.Stop()
	d.retention.Stop()
	if d.store != nil {
		_ = d.store.Close()
	}
	return err
}

// Ready is closed once the control socket is accepting connections.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

func (d *Daemon) Socket() string { return d.socket }

func (d *Daemon) Buffer() *output.Buffer { return d.buf }

func (d *Daemon) Bus() eventbus.Bus { return d.bus }

// Close releases the logging sinks.
func (d *Daemon) Close() error {
	if d.logSvc == nil {
		return nil
	}
	return d.logSvc.Close()
}

func (d *Daemon) Model() *config.Model {
	d.modelMu.RLock()
	defer d.modelMu.RUnlock()
	return d.model
}

func (d *Daemon) Pool() *pool.Pool {
	d.poolMu.RLock()
	defer d.poolMu.RUnlock()
	return d.pool
}

// startJobs builds a new pool sized from m, queues a fresh executor per job and
// swaps it in. The previous pool is dropped; its executors keep running.
func (d *Daemon) startJobs(m *config.Model) {
	p := pool.New(d.ctx, int(m.Settings.Threads), d.log)
	for _, job := range m.Jobs {
		ex := executor.New(job, executor.Deps{
			Runner: d.opts.Runner,
			Sink:   d.buf,
			Bus:    d.bus,
			Log:    d.log,
			Clock:  d.opts.Clock,
		})
		p.Execute(pool.Task{Name: "job." + job.Name, Run: ex.Run})
	}
	if len(m.Jobs) > int(m.Settings.Threads) {
		d.log.Warn("more jobs than threads; some jobs will wait for a free worker",
			logx.Int("jobs", len(m.Jobs)), logx.Int("threads", int(m.Settings.Threads)))
	}

	d.poolMu.Lock()
	d.pool = p
	d.poolMu.Unlock()
}

// Reload flushes, recompiles the config file and restarts every job on a new pool.
// An invalid config leaves the running state untouched.
func (d *Daemon) Reload() error {
	d.flush()
	m, err := d.cfg.Load()
	if err != nil {
		d.log.Warn("reload rejected", logx.Err(err))
		return err
	}
	d.apply(m, "control")
	return nil
}

func (d *Daemon) apply(m *config.Model, source string) {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	old := d.Model()
	d.modelMu.Lock()
	d.model = m
	d.modelMu.Unlock()

	if d.logSvc != nil {
		d.logSvc.Apply(m.Logging)
	}
	d.buf.SetLocation(m.Location)
	d.startJobs(m)
	if d.ctx != nil {
		_ = d.debug.Reconfigure(d.ctx, debugConfig(m.Debug))
	}
	n := d.reloads.Add(1)

	sections, attrs, jobs := config.Summarize(old, m)
	fields := append([]logx.Field{
		logx.String("source", source),
		logx.Uint64("reload", n),
		logx.String("sections", strings.Join(sections, ",")),
		logx.String("jobs_changed", strings.Join(jobs, ",")),
	}, attrs...)
	d.log.Info("config reloaded", fields...)
	if old != nil && old.Socket != m.Socket {
		d.log.Warn("control socket change applies on restart", logx.String("socket", d.socket))
	}
	d.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	d.opts.Notify(fmt.Sprintf("STATUS=running %d jobs (reload %d)", len(m.Jobs), n))
}

func (d *Daemon) watchConfig(sup *rtsup.Supervisor) {
	ch := d.cfg.Subscribe(1)
	sup.GoRestart("config.watch", d.cfg.Watch)
	sup.Go0("config.apply", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				d.flush()
				d.apply(m, "watch")
			}
		}
	})
}

// Flush implements control.Handler.
func (d *Daemon) Flush() { d.flush() }

// BeforeCommand flushes on behalf of the client when output has been waiting
// longer than AutoFlushAfter. flush and reload flush by themselves. Any
// recognized command restarts the window; unknown tokens leave it alone.
func (d *Daemon) BeforeCommand(token string) {
	if token == control.TokenFlush || token == control.TokenReload {
		return
	}
	now := d.opts.Now()
	last := time.Unix(0, d.lastFlush.Load())
	if now.Sub(last) > AutoFlushAfter {
		d.log.Debug("auto flush", logx.Duration("since_last", now.Sub(last)))
		d.flush()
		return
	}
	if token == control.TokenPing {
		d.lastFlush.Store(now.UnixNano())
	}
}

func (d *Daemon) flush() {
	d.lastFlush.Store(d.opts.Now().UnixNano())
	d.buf.RequestFlush()
}

// Status is the snapshot served on the debug endpoint.
type Status struct {
	Config      string        `json:"config"`
	Socket      string        `json:"socket"`
	Uptime      string        `json:"uptime"`
	Jobs        []string      `json:"jobs"`
	Reloads     uint64        `json:"reloads"`
	Pool        pool.Snapshot `json:"pool"`
	Buffered    int           `json:"buffered"`
	LastFlush   time.Time     `json:"last_flush"`
	LastWritten string        `json:"last_written,omitempty"`
	BusDropped  uint64        `json:"bus_dropped"`
	History     string        `json:"history"`
}

func (d *Daemon) Status() Status {
	m := d.Model()
	st := Status{
		Config:      m.Path,
		Socket:      d.socket,
		Reloads:     d.reloads.Load(),
		Buffered:    d.buf.Len(),
		LastFlush:   time.Unix(0, d.lastFlush.Load()),
		LastWritten: d.buf.LastFlushed(),
		BusDropped:  eventbus.Dropped(d.bus),
		History:     "disabled",
	}
	if !d.started.IsZero() {
		st.Uptime = d.opts.Now().Sub(d.started).Truncate(time.Second).String()
	}
	for _, j := range m.Jobs {
		st.Jobs = append(st.Jobs, j.Name)
	}
	if p := d.Pool(); p != nil {
		st.Pool = p.Snapshot()
	}
	if d.store != nil {
		st.History = m.Storage.Driver
	}
	return st
}

func debugConfig(c config.Debug) pprof.Config {
	return pprof.Config{Addr: c.Addr, Token: c.Token, AllowInsecure: c.AllowInsecure}
}

// Notify through sd_notify when NOTIFY_SOCKET is set; otherwise a no-op.
func sdNotify(state string) {
	_, _ = sddaemon.SdNotify(false, state)
}

var _ control.Handler = (*Daemon)(nil)
