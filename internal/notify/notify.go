// Package notify watches a directory tree with kernel change notifications.
//
// Watches are registered per directory; the kernel reports create, write,
// remove and rename events for the directory's entries. Events are buffered
// by a pump goroutine and handed out in batches by Drain, which never
// blocks. Ready signals that a batch is waiting.
package notify

import (
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/vango-dev/hotreload/internal/errors"
	"github.com/vango-dev/hotreload/internal/metrics"
	"github.com/vango-dev/hotreload/internal/walk"
)

// DefaultMaxPending caps buffered events between drains. Events beyond the
// cap are dropped and the batch is marked as overflowed.
const DefaultMaxPending = 4096

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithMetrics records drained events and overflows.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) {
		w.metrics = m
	}
}

// WithMaxPending sets the pending event cap.
func WithMaxPending(n int) Option {
	return func(w *Watcher) {
		w.maxPending = n
	}
}

// Batch is the result of one drain.
type Batch struct {
	// Events that passed the extension filter.
	Events []fsnotify.Event

	// Overflow is set when the kernel queue or the pending buffer
	// overflowed and events were lost.
	Overflow bool

	// Dropped counts raw events rejected by the filter.
	Dropped int
}

// Changed reports whether the batch should count as a change.
func (b Batch) Changed() bool {
	return len(b.Events) > 0 || b.Overflow
}

// Watcher delivers filtered change events for one tree.
type Watcher struct {
	fsw        *fsnotify.Watcher
	walker     *walk.Walker
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxPending int

	ready chan struct{}

	mu       sync.Mutex
	pending  []fsnotify.Event
	overflow bool
	dirs     map[string]struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New registers watches on every directory under root. Either all
// watches are registered or none are: a failure closes the watcher and
// returns E100 for an unreadable root or E101 when the OS refuses a watch.
func New(root string, exts []string, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		walker:     walk.New(afero.NewOsFs(), root, exts),
		maxPending: DefaultMaxPending,
		ready:      make(chan struct{}, 1),
		dirs:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	dirs, err := w.walker.Dirs()
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.New("E101").Wrap(err)
	}
	w.fsw = fsw

	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, errors.New("E101").WithPath(dir).Wrap(err)
		}
		w.dirs[dir] = struct{}{}
	}

	w.wg.Add(1)
	go w.pump()
	return w, nil
}

// Ready is signalled when events are waiting. It holds at most one
// pending signal.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// WatchCount returns the number of watched directories.
func (w *Watcher) WatchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Root returns the watched root.
func (w *Watcher) Root() string {
	return w.walker.Root()
}

// Drain takes every buffered event without blocking. Directories created
// since the last drain are added to the watch set, together with any
// subdirectories they already contain.
func (w *Watcher) Drain() Batch {
	w.mu.Lock()
	raw := w.pending
	overflow := w.overflow
	w.pending = nil
	w.overflow = false
	w.mu.Unlock()

	batch := Batch{Overflow: overflow}
	for _, ev := range raw {
		if w.accept(ev) {
			batch.Events = append(batch.Events, ev)
		} else {
			batch.Dropped++
		}
	}

	w.metrics.AddNotifyEvents(len(batch.Events))
	if overflow {
		w.metrics.IncOverflow()
		w.logger.Warn("notify queue overflow, events lost", "root", w.walker.Root())
	}
	return batch
}

// accept applies the extension filter and keeps the watch set in step with
// directory creation and removal. Directory events always pass.
func (w *Watcher) accept(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.mu.Lock()
		_, wasDir := w.dirs[ev.Name]
		if wasDir {
			delete(w.dirs, ev.Name)
		}
		w.mu.Unlock()
		if wasDir {
			return true
		}
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			w.addTree(ev.Name)
			return true
		}
	}

	return w.walker.Match(filepath.Base(ev.Name))
}

func (w *Watcher) addTree(dir string) {
	dirs, err := walk.New(afero.NewOsFs(), dir, nil).Dirs()
	if err != nil {
		// Removed again before we got to it.
		return
	}
	for _, d := range dirs {
		w.mu.Lock()
		_, seen := w.dirs[d]
		w.mu.Unlock()
		if seen {
			continue
		}
		if err := w.fsw.Add(d); err != nil {
			w.logger.Warn("cannot watch new directory",
				"path", d,
				"error", errors.New("E101").WithPath(d).Wrap(err))
			continue
		}
		w.mu.Lock()
		w.dirs[d] = struct{}{}
		w.mu.Unlock()
	}
}

func (w *Watcher) pump() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.mu.Lock()
			if len(w.pending) < w.maxPending {
				w.pending = append(w.pending, ev)
			} else {
				w.overflow = true
			}
			w.mu.Unlock()
			w.signal()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if stderrors.Is(err, fsnotify.ErrEventOverflow) {
				w.mu.Lock()
				w.overflow = true
				w.mu.Unlock()
				w.signal()
				continue
			}
			w.logger.Warn("notify error", "root", w.walker.Root(), "error", err)
		}
	}
}

func (w *Watcher) signal() {
	select {
	case w.ready <- struct{}{}:
	default:
	}
}

// Close releases every OS watch and stops the pump.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fsw.Close()
		w.wg.Wait()
	})
	return w.closeErr
}

var (
	supportedOnce sync.Once
	supported     bool
)

// Supported reports whether this platform can deliver change
// notifications. The probe runs once per process.
func Supported() bool {
	supportedOnce.Do(func() {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return
		}
		fsw.Close()
		supported = true
	})
	return supported
}
