package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	xlog "github.com/cradlewatch/cradlewatch/internal/log"
)

const defaultSettle = 30 * time.Second

// Watcher observes a camera upload directory and triggers a processing run
// once new recordings stop arriving. Camera uploads land in bursts, so each
// filesystem event restarts the settle timer instead of firing immediately.
type Watcher struct {
	Orchestrator *Orchestrator
	Dir          string
	// Settle is how long the directory must stay quiet before a run starts.
	Settle time.Duration
}

// Run blocks until ctx is cancelled, triggering runs as uploads settle.
// An already-running pipeline is left alone; the pending trigger is dropped
// because the active run will pick the new files up or the next event will.
func (w *Watcher) Run(ctx context.Context) error {
	settle := w.Settle
	if settle <= 0 {
		settle = defaultSettle
	}
	logger := xlog.WithComponent("watch")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.Dir); err != nil {
		return err
	}
	logger.Info().
		Str(xlog.FieldPath, w.Dir).
		Str(xlog.FieldEvent, "watch.started").
		Dur("settle", settle).
		Msg("watching for new recordings")

	timer := time.NewTimer(settle)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if strings.ToLower(filepath.Ext(ev.Name)) != ".mp4" {
				continue
			}
			if armed && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(settle)
			armed = true

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			logger.Warn().Err(err).Str(xlog.FieldEvent, "watch.error").Msg("watcher error")

		case <-timer.C:
			armed = false
			logger.Info().Str(xlog.FieldEvent, "watch.trigger").Msg("uploads settled, starting run")
			summary, err := w.Orchestrator.Process(ctx, RunOptions{Source: w.Dir})
			switch {
			case errors.Is(err, ErrRunInFlight):
				logger.Debug().Str(xlog.FieldEvent, "watch.busy").Msg("run already in flight")
			case err != nil && !errors.Is(err, context.Canceled):
				logger.Error().Err(err).Str(xlog.FieldEvent, "watch.run_failed").Msg("triggered run failed")
			case err == nil:
				logger.Info().
					Str(xlog.FieldRunID, summary.RunID).
					Int("processed", summary.Processed).
					Int("skipped", summary.Skipped).
					Str(xlog.FieldEvent, "watch.run_done").
					Msg("triggered run complete")
			}
		}
	}
}
