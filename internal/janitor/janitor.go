// Package janitor periodically removes terminal job registry entries
// that have aged past their retention window.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"studyflow/internal/registry"
)

// Janitor runs registry sweeps on a cron schedule.
type Janitor struct {
	cron      *cron.Cron
	registry  *registry.Registry
	log       *slog.Logger
	retention time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a janitor. schedule uses cron syntax, "@every 1h" style
// shorthands included. Overlapping sweeps are skipped rather than
// queued.
func New(reg *registry.Registry, schedule string, retention time.Duration, log *slog.Logger) (*Janitor, error) {
	if log == nil {
		log = slog.Default()
	}
	j := &Janitor{
		registry:  reg,
		log:       log,
		retention: retention,
	}
	cl := cronLogger{log: log.With(slog.String("component", "janitor"))}
	j.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
	)
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, err
	}
	return j, nil
}

// Start begins scheduling sweeps. Idempotent.
func (j *Janitor) Start() {
	j.startOnce.Do(func() {
		j.log.Info("janitor started", slog.Duration("retention", j.retention))
		j.cron.Start()
	})
}

// Stop halts scheduling and waits for a running sweep to finish.
// Idempotent.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		<-j.cron.Stop().Done()
		j.log.Info("janitor stopped")
	})
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	j.Sweep(ctx)
}

// Sweep prunes aged terminal entries once and returns how many were
// removed.
func (j *Janitor) Sweep(ctx context.Context) int64 {
	n := j.registry.Prune(ctx, j.retention)
	j.log.Debug("sweep finished", slog.Int64("removed", n))
	return n
}

// cronLogger routes the cron library's logging through slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.LogAttrs(context.Background(), slog.LevelDebug, msg, kvAttrs(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	attrs := append([]slog.Attr{slog.Any("error", err)}, kvAttrs(kv)...)
	l.log.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

func kvAttrs(kv []interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, kv[i+1]))
	}
	return attrs
}
