// Package watcher keeps live directories ingested: new and changed files are
// indexed after a per-path debounce, removed and renamed files are deleted.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/semret/internal/models"
	"github.com/hyperjump/semret/internal/storage"
)

const defaultDebounce = 500 * time.Millisecond

// Sink receives the watcher's file events. *indexer.Indexer implements it.
type Sink interface {
	Accepts(path string) bool
	IndexFile(ctx context.Context, path string) (*models.IngestResult, error)
	DeleteFile(ctx context.Context, path string) (*models.Allocation, error)
}

// Watcher watches directories and forwards file changes to a Sink.
type Watcher struct {
	sink      Sink
	roots     []string
	recursive bool
	debounce  time.Duration
	logger    *zap.Logger

	mu        sync.Mutex
	ctx       context.Context
	watcher   *fsnotify.Watcher
	pending   map[string]*time.Timer
	rootPaths map[string][]string // root -> directories added for it
	done      chan struct{}
	started   bool
	stopOnce  sync.Once
	inflight  sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for watch events and sink failures.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a path must be quiet before it is indexed.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRecursive controls whether subdirectories are watched. Default true.
func WithRecursive(recursive bool) WatcherOption {
	return func(w *Watcher) { w.recursive = recursive }
}

// NewWatcher creates a watcher over roots. Nothing is watched until Start.
func NewWatcher(sink Sink, roots []string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		sink:      sink,
		recursive: true,
		debounce:  defaultDebounce,
		logger:    zap.NewNop(),
		pending:   make(map[string]*time.Timer),
		rootPaths: make(map[string][]string),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			w.roots = append(w.roots, filepath.Clean(abs))
		}
	}
	return w
}

// Start begins watching. It runs until ctx is canceled or Stop is called.
// Missing roots are created.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	w.ctx = ctx
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = fw.Close()
			w.watcher = nil
			return err
		}
	}
	w.started = true
	w.logger.Info("watching directories", zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive))
	go w.run(ctx, fw.Events, fw.Errors)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) || hidden(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancelPending(path)
		if w.sink.Accepts(path) {
			w.dispatch(func(ctx context.Context) { w.remove(ctx, path) })
		}
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.handleNewDirectory(path)
			}
			return
		}
		if info.Mode().IsRegular() && w.sink.Accepts(path) {
			w.schedule(path)
		}
	}
}

// handleNewDirectory watches a directory created or moved under a root and
// schedules the files already in it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	fw := w.watcher
	recursive := w.recursive
	w.mu.Unlock()
	if fw == nil {
		return
	}
	if recursive {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if path != dir && hidden(path) {
				return filepath.SkipDir
			}
			if err := fw.Add(path); err != nil {
				w.logger.Debug("failed to watch directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		})
	}
	w.syncDirectory(dir)
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if inDir(root, path) {
			if !w.recursive && filepath.Dir(path) != root && path != root {
				continue
			}
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// schedule indexes path once it has been quiet for the debounce interval.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.dispatch(func(ctx context.Context) { w.index(ctx, path) })
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// dispatch runs fn with the watcher's context unless the watcher has stopped.
func (w *Watcher) dispatch(fn func(ctx context.Context)) {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	ctx := w.ctx
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()
	fn(ctx)
}

func (w *Watcher) index(ctx context.Context, path string) {
	res, err := w.sink.IndexFile(ctx, path)
	if err != nil {
		w.logger.Warn("failed to index file", zap.String("path", path), zap.Error(err))
		return
	}
	if res.Skipped {
		w.logger.Debug("file already ingested", zap.String("path", path))
		return
	}
	w.logger.Info("indexed file", zap.String("path", path), zap.Int("chunks", res.Chunks))
}

func (w *Watcher) remove(ctx context.Context, path string) {
	alloc, err := w.sink.DeleteFile(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		w.logger.Warn("failed to delete file", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("deleted file", zap.String("path", path), zap.Int("chunks", len(alloc.ChunkIDs)))
}

// AddDirectory watches another root. With syncExisting the files already in
// it are scheduled for indexing.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return errors.New("watcher not started")
	}
	for _, r := range w.roots {
		if r == abs {
			w.mu.Unlock()
			return nil
		}
	}
	if err := w.addRootLocked(abs); err != nil {
		w.mu.Unlock()
		return err
	}
	w.roots = append(w.roots, abs)
	w.mu.Unlock()

	w.logger.Info("watching directory", zap.String("path", abs))
	if syncExisting {
		w.syncDirectory(abs)
	}
	return nil
}

func (w *Watcher) addRootLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	var paths []string
	if !w.recursive {
		if err := w.watcher.Add(root); err != nil {
			return err
		}
		w.rootPaths[root] = []string{root}
		return nil
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return err
	}
	w.rootPaths[root] = paths
	return nil
}

// syncDirectory schedules every accepted file under dir.
func (w *Watcher) syncDirectory(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != dir && hidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.sink.Accepts(path) {
			w.schedule(path)
		}
		return nil
	})
}

// RemoveDirectory stops watching root. Ingested files stay in the index.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, r := range w.roots {
		if r == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if w.watcher != nil {
		for _, p := range w.rootPaths[abs] {
			_ = w.watcher.Remove(p)
		}
	}
	delete(w.rootPaths, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Info("stopped watching directory", zap.String("path", abs))
	return nil
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles schedules every accepted file already under the roots.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

// Stop stops watching, drops pending work and waits for in-flight sink calls.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	w.inflight.Wait()
}
