package tuning

import (
	"context"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/hybridlat/latcontrol/logging"
	"github.com/hybridlat/latcontrol/utils"
)

const notifyOps = fsnotify.Create | fsnotify.Write | fsnotify.Rename

// settleTime is how long a directory must stay quiet before a burst of events is reported.
const settleTime = 50 * time.Millisecond

// dirWatcher calls onChange once a burst of file creations, writes or moves in a directory has
// settled, so an editor that truncates and rewrites a file is seen as a single change.
// onChange runs on a timer goroutine and must not block.
type dirWatcher struct {
	watcher *fsnotify.Watcher
	workers utils.StoppableWorkers
}

func newDirWatcher(dir string, onChange func(name string), logger logging.Logger) (*dirWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}
	if err := w.Add(dir); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "failed to watch %q", dir), w.Close())
	}
	dw := &dirWatcher{watcher: w}
	settled := debounce.New(settleTime)
	dw.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&notifyOps != 0 {
					name := ev.Name
					settled(func() { onChange(name) })
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warnw("file watcher error", "dir", dir, "error", err)
			}
		}
	})
	return dw, nil
}

// Close stops the watcher goroutine and releases the OS watch.
func (dw *dirWatcher) Close() error {
	dw.workers.Stop()
	return dw.watcher.Close()
}
