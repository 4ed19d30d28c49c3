package daemon

import (
	"context"
	"time"

	"toaster/internal/eventbus"
	"toaster/internal/storage"
	"toaster/internal/task/executor"
	logx "toaster/pkg/logx"
)

// recorder copies stage events from the bus into the run history store.
type recorder struct {
	bus   eventbus.Bus
	store storage.Store
	log   logx.Logger
}

func newRecorder(bus eventbus.Bus, store storage.Store, log logx.Logger) *recorder {
	return &recorder{bus: bus, store: store, log: log.With(logx.String("comp", "history"))}
}

func (r *recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Type != eventbus.StageFinished && ev.Type != eventbus.StageFailed {
				continue
			}
			se, ok := ev.Data.(executor.StageEvent)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := r.store.AppendRun(wctx, runRecord(se))
			cancel()
			if err != nil {
				r.log.Warn("append run failed", logx.String("job", se.Job), logx.Int("stage", se.Stage), logx.Err(err))
			}
		}
	}
}

func runRecord(se executor.StageEvent) storage.RunRecord {
	return storage.RunRecord{
		ID:         se.RunID,
		Job:        se.Job,
		Stage:      se.Stage,
		Command:    se.Command,
		Started:    se.Started,
		DurationMS: se.Duration.Milliseconds(),
		ExitCode:   se.ExitCode,
		Bytes:      se.Bytes,
		Error:      se.Error,
	}
}
