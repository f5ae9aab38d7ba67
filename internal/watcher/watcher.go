// Package watcher turns filesystem notifications under a directory into
// debounced change batches.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	DefaultDebounce = 2 * time.Second
	eventBufferSize = 64
)

var ErrStarted = errors.New("watcher: already started")

// FilterFunc returns true if the event on path should be dropped.
type FilterFunc func(path string) bool

// Watcher collects raw events for a directory tree and emits the set of
// touched paths once no event arrived for the debounce window.
type Watcher struct {
	dir      string
	debounce time.Duration
	filter   FilterFunc

	rawEvents chan notify.EventInfo
	changes   chan []string
	done      chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	started bool
	closed  bool
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithFilter(fn FilterFunc) Option {
	return func(w *Watcher) {
		w.filter = fn
	}
}

func New(dir string, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		debounce: DefaultDebounce,
		changes:  make(chan []string, 1),
		done:     make(chan struct{}),
		pending:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start watches the tree recursively. Changes is closed once the watcher stops.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrStarted
	}
	w.started = true
	w.mu.Unlock()

	slog.Info("watcher start", "dir", w.dir, "debounce", w.debounce)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	if err := notify.Watch(filepath.Join(w.dir, "..."), w.rawEvents, notify.All); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.collect(ctx)
	return nil
}

func (w *Watcher) Stop() {
	select {
	case <-w.done:
		return
	default:
	}
	close(w.done)
	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()
	slog.Info("watcher stopped", "dir", w.dir)
}

func (w *Watcher) Changes() <-chan []string {
	return w.changes
}

func (w *Watcher) collect(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.closed = true
		close(w.changes)
		w.mu.Unlock()
		w.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}
			if w.filter != nil && w.filter(event.Path()) {
				continue
			}
			w.record(event.Path())
		}
	}
}

// record adds path to the pending batch and restarts the quiet timer
func (w *Watcher) record(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || len(w.pending) == 0 {
		return
	}
	batch := make([]string, 0, len(w.pending))
	for p := range w.pending {
		batch = append(batch, p)
	}
	clear(w.pending)
	w.timer = nil
	sort.Strings(batch)

	select {
	case w.changes <- batch:
		slog.Debug("watcher changes", "paths", len(batch))
	default:
		// a batch is already queued and triggers the same full run
		slog.Debug("watcher changes coalesced", "paths", len(batch))
	}
}
