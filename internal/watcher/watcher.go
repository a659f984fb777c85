// Package watcher turns file system events under a workspace into save and
// delete triggers.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a path must stay quiet before it is handled.
const DefaultDebounce = 500 * time.Millisecond

// ErrAlreadyRunning indicates Start was called twice.
var ErrAlreadyRunning = errors.New("watcher already running")

// Handler receives debounced changes.
type Handler interface {
	Saved(ctx context.Context, path string)
	Deleted(ctx context.Context, paths []string)
}

type changeKind int

const (
	changeSaved changeKind = iota + 1
	changeDeleted
)

// Watcher monitors a directory tree and reports settled changes.
type Watcher struct {
	root    string
	handler Handler
	filter  func(path string) bool
	delay   time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]changeKind
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// flushMu keeps handler calls sequential.
	flushMu sync.Mutex
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithFilter restricts watched directories and reported paths to those
// filter accepts.
func WithFilter(filter func(path string) bool) Option {
	return func(w *Watcher) { w.filter = filter }
}

// New creates a watcher for root. Call Start to begin.
func New(root string, handler Handler, logger *zap.Logger, opts ...Option) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		root:    filepath.Clean(root),
		handler: handler,
		delay:   DefaultDebounce,
		logger:  logger.With(zap.String("component", "watcher")),
		pending: make(map[string]changeKind),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start adds root and its subdirectories and processes events until ctx
// is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw != nil {
		return ErrAlreadyRunning
	}

	info, err := os.Stat(w.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "watch", Path: w.root, Err: errors.New("not a directory")}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.root); err != nil {
		fsw.Close()
		return err
	}

	w.fsw = fsw
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.addRecursive(w.root)

	go w.loop(w.ctx, fsw, w.done)

	w.logger.Info("watching workspace", zap.String("root", w.root), zap.Duration("debounce", w.delay))
	return nil
}

// Stop closes the watcher and drops pending changes. It returns once any
// handler call already in progress has finished.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	w.cancel()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = make(map[string]changeKind)
	if err := w.fsw.Close(); err != nil {
		w.logger.Warn("error closing watcher", zap.Error(err))
	}
	done := w.done
	w.fsw = nil
	w.mu.Unlock()

	<-done

	// A flush that has not reached the handler yet sees the cancelled
	// context and returns.
	w.flushMu.Lock()
	w.flushMu.Unlock()

	w.logger.Info("watcher stopped")
}

// addRecursive adds dir and its subdirectories. The root is never
// filtered. Called with mu held.
func (w *Watcher) addRecursive(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != w.root && w.filter != nil && !w.filter(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Debug("failed to watch directory", zap.String("path", p), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if isTemporary(filepath.Base(event.Name)) {
		return
	}
	if w.filter != nil && !w.filter(event.Name) {
		return
	}

	var kind changeKind
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		kind = changeDeleted
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if event.Has(fsnotify.Create) {
				w.mu.Lock()
				if w.fsw != nil {
					w.addRecursive(event.Name)
				}
				w.mu.Unlock()
			}
			return
		}
		kind = changeSaved
	default:
		return
	}

	w.logger.Debug("file event", zap.String("path", event.Name), zap.String("op", event.Op.String()))
	w.enqueue(event.Name, kind)
}

// enqueue records the latest change for path and restarts the quiet period.
func (w *Watcher) enqueue(path string, kind changeKind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = kind
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.flush)
}

// flush hands every pending change to the handler: saves one by one in
// path order, then deletes as one batch.
func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]changeKind)
	w.timer = nil
	ctx := w.ctx
	w.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var saved, deleted []string
	for p, kind := range pending {
		if kind == changeDeleted {
			deleted = append(deleted, p)
		} else {
			saved = append(saved, p)
		}
	}
	sort.Strings(saved)
	sort.Strings(deleted)

	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	for _, p := range saved {
		if ctx.Err() != nil {
			return
		}
		w.handler.Saved(ctx, p)
	}
	if len(deleted) > 0 && ctx.Err() == nil {
		w.handler.Deleted(ctx, deleted)
	}
}

var temporarySuffixes = []string{
	".tmp", ".temp", ".swp", ".swo", ".swx", "~",
	".partial", ".crdownload", ".part",
}

var systemNames = map[string]bool{
	"desktop.ini": true,
	"Thumbs.db":   true,
	".DS_Store":   true,
}

// isTemporary reports editor swap files and OS metadata files.
func isTemporary(name string) bool {
	if systemNames[name] || strings.HasPrefix(name, ".#") {
		return true
	}
	for _, suffix := range temporarySuffixes {
		if len(name) > len(suffix) && strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
