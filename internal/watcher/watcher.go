// Package watcher turns fsnotify notifications under the mapped source
// directories into debounced batches of pak.InputEvent.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/pak"
	"github.com/fahadfarid28/home-sub000/internal/scanner"
)

// Handler receives one debounced batch. Batches are delivered one at a time.
type Handler func(ctx context.Context, events []pak.InputEvent) error

// Watcher watches every mapping's disk root recursively.
type Watcher struct {
	logger    logging.Logger
	fs        *fsnotify.Watcher
	mappings  pak.PathMappings
	debouncer *Debouncer
}

// New creates a watcher over mappings. Batches are flushed once no event
// arrived for delay.
func New(logger logging.Logger, mappings pak.PathMappings, delay time.Duration) (*Watcher, error) {
	if err := mappings.Validate(); err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeWatchFailed, "creating file watcher")
	}

	w := &Watcher{
		logger:    logger.WithComponent("watcher"),
		fs:        fw,
		mappings:  mappings,
		debouncer: NewDebouncer(delay),
	}
	for _, m := range mappings {
		if err := w.addRecursive(string(m.DiskPrefix)); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}

	return w, nil
}

// addRecursive watches root and every directory below it.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return errors.WrapIO(err, errors.ErrCodeWatchFailed, "walking source directory").WithPath(p)
			}
			w.logger.Warn(context.Background(), err, "skipping unreadable path", "path", p)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && scanner.ShouldIgnore(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(p); err != nil {
			return errors.WrapIO(err, errors.ErrCodeWatchFailed, "watching directory").WithPath(p)
		}
		return nil
	})
}

// Run delivers batches to h until ctx is done or h fails.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	defer w.debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ie, ok := w.translate(ev); ok {
				w.debouncer.Add(ie)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, err, "file watcher error")
		case batch := <-w.debouncer.Output():
			w.logger.Debug(ctx, "changes detected", "events", len(batch))
			if err := h(ctx, batch); err != nil {
				return errors.Propagate(err, "handling changes")
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.debouncer.Stop()
	return w.fs.Close()
}

// translate maps one fsnotify event to an input event. New directories are
// watched as well; the builder expands a created directory into its files.
func (w *Watcher) translate(ev fsnotify.Event) (pak.InputEvent, bool) {
	if scanner.ShouldIgnore(filepath.Base(ev.Name)) {
		return pak.InputEvent{}, false
	}
	ip, err := w.mappings.ToInputPath(pak.DiskPath(ev.Name))
	if err != nil {
		w.logger.Debug(context.Background(), "ignoring unmapped path", "path", ev.Name)
		return pak.InputEvent{}, false
	}

	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn(context.Background(), err, "could not watch new directory", "path", ev.Name)
			}
		}
		return pak.Created(ip), true
	case ev.Has(fsnotify.Write):
		return pak.Modified(ip), true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return pak.Removed(ip), true
	default:
		// Chmod alone does not change content.
		return pak.InputEvent{}, false
	}
}

// Debouncer groups rapid events into one batch.
type Debouncer struct {
	delay   time.Duration
	output  chan []pak.InputEvent
	mu      sync.Mutex
	timer   *time.Timer
	pending []pak.InputEvent
}

// NewDebouncer creates a debouncer flushing after delay of quiet.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:  delay,
		output: make(chan []pak.InputEvent, 1),
	}
}

// Add queues ev and restarts the quiet period.
func (d *Debouncer) Add(ev pak.InputEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, ev)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

// Output is where batches are delivered.
func (d *Debouncer) Output() <-chan []pak.InputEvent { return d.output }

// Stop cancels a pending flush.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	select {
	case d.output <- d.pending:
		d.pending = nil
	default:
		// Consumer busy with the previous batch; keep accumulating.
		d.timer = time.AfterFunc(d.delay, d.flush)
	}
	d.mu.Unlock()
}
