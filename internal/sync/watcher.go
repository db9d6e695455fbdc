package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultRequeueDelay is how long a watcher waits before re-buffering a
// batch the store refused, giving a busy or briefly unavailable store room
// to recover.
const defaultRequeueDelay = 5 * time.Second

// fsEventSource abstracts the filesystem notification backend so tests can
// inject scripted events. The production implementation wraps
// *fsnotify.Watcher.
type fsEventSource interface {
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Add(path string) error
	Close() error
}

type fsnotifySource struct {
	w *fsnotify.Watcher
}

// newFsnotifySource opens a kernel-backed event source.
func newFsnotifySource() (fsEventSource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &fsnotifySource{w: w}, nil
}

func (s *fsnotifySource) Events() <-chan fsnotify.Event { return s.w.Events }
func (s *fsnotifySource) Errors() <-chan error          { return s.w.Errors }
func (s *fsnotifySource) Add(path string) error         { return s.w.Add(path) }
func (s *fsnotifySource) Close() error                  { return s.w.Close() }

// Watcher keeps one project converged: it subscribes to the project tree,
// funnels relevant events through the debounce buffer, and turns each
// settled batch into a single reconciliation pass. Restart policy lives in
// the supervisor; a watcher runs until its context is canceled or its event
// source fails, and never restarts itself.
type Watcher struct {
	project    *Project
	filter     *Filter
	reconciler *Reconciler
	buffer     *Buffer
	source     fsEventSource
	logger     *slog.Logger

	window     time.Duration
	retryDelay time.Duration

	// syncMu is shared with the supervisor's resync path so at most one
	// reconciliation pass runs per project at a time.
	syncMu *sync.Mutex

	lastSync atomic.Int64 // Unix nanoseconds of the last durable pass
}

// NewWatcher wires a watcher for one project. The caller owns the event
// source lifetime until Run is called; Run closes it on exit.
func NewWatcher(project *Project, filter *Filter, reconciler *Reconciler, source fsEventSource, syncMu *sync.Mutex, logger *slog.Logger) *Watcher {
	return &Watcher{
		project:    project,
		filter:     filter,
		reconciler: reconciler,
		buffer:     NewBuffer(logger),
		source:     source,
		logger:     logger,
		window:     DefaultDebounceWindow,
		retryDelay: defaultRequeueDelay,
		syncMu:     syncMu,
	}
}

// LastSyncAt returns the Unix-nanosecond time of the last pass that reached
// the store, zero before the first one. Safe for concurrent use.
func (w *Watcher) LastSyncAt() int64 {
	return w.lastSync.Load()
}

// Run subscribes to the tree, converges it with an initial full sync, and
// then processes debounced batches until the context is canceled. Any
// returned error is a watcher fault the supervisor counts toward restart
// backoff; a canceled context returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.source.Close()

	// Subscribe before the initial sync so changes made while syncing are
	// buffered rather than lost.
	if err := w.watchTree(); err != nil {
		return fmt.Errorf("subscribe %s: %w", w.project.Root, err)
	}

	if err := w.syncFull(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("initial sync: %w", err)
	}

	batches := w.buffer.FlushDebounced(ctx, w.window)

	w.logger.Info("watcher running",
		"project", w.project.Key, "root", w.project.Root)

	return w.watchLoop(ctx, batches)
}

// watchTree registers the project root and every non-denied directory
// below it with the event source. Unreadable or unsubscribable subtrees
// are logged and skipped; only the root itself is fatal.
func (w *Watcher) watchTree() error {
	root := w.project.Root

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}

			w.logger.Warn("skipping unreadable subtree",
				"project", w.project.Key, "path", path, "error", walkErr)

			if d != nil && d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		if !d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}

		rel := filepath.ToSlash(relPath)
		if rel != "." && !w.filter.ShouldTrack(rel, true) {
			return fs.SkipDir
		}

		if err := w.source.Add(path); err != nil {
			if path == root {
				return err
			}

			// Likely an inotify watch limit; events from this subtree are
			// lost until the next full sync.
			w.logger.Warn("failed to add watch",
				"project", w.project.Key, "path", path, "error", err)
		}

		return nil
	})
}

// syncFull runs one full reconciliation pass under the project sync lock.
func (w *Watcher) syncFull(ctx context.Context) error {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	if _, err := w.reconciler.FullSync(ctx, w.project); err != nil {
		return err
	}

	w.lastSync.Store(NowNano())

	return nil
}

// watchLoop is the main select loop: filesystem events feed the buffer,
// settled batches feed the reconciler, and the first event-source error
// ends the watcher.
func (w *Watcher) watchLoop(ctx context.Context, batches <-chan []string) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.source.Events():
			if !ok {
				return errors.New("event source closed")
			}

			w.handleEvent(ctx, ev)

		case err, ok := <-w.source.Errors():
			if !ok {
				return errors.New("event source closed")
			}

			return fmt.Errorf("event source: %w", err)

		case batch, ok := <-batches:
			if !ok {
				return nil
			}

			w.processBatch(ctx, batch)
		}
	}
}

// handleEvent routes one filesystem event. Chmod-only events are mode
// noise; everything else funnels into the buffer after filtering.
func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	relPath, err := filepath.Rel(w.project.Root, ev.Name)
	if err != nil {
		w.logger.Warn("failed to compute relative path",
			"project", w.project.Key, "path", ev.Name, "error", err)

		return
	}

	rel := filepath.ToSlash(relPath)

	switch {
	case ev.Has(fsnotify.Create):
		w.handleCreate(ctx, ev.Name, rel)

	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A removed or renamed-away path stats as missing during the
		// pass and deletes its record; the rename target arrives as a
		// separate create.
		w.enqueue(rel)
	}
}

// handleCreate distinguishes new directories (subscribe + enqueue their
// contents) from new files (enqueue).
func (w *Watcher) handleCreate(ctx context.Context, fsPath, rel string) {
	info, err := os.Stat(fsPath)
	if err != nil {
		// Gone again before we could look; a later event or pass settles it.
		w.logger.Debug("stat failed for created path",
			"project", w.project.Key, "path", rel, "error", err)

		return
	}

	if !info.IsDir() {
		w.enqueue(rel)
		return
	}

	if !w.filter.ShouldTrack(rel, true) {
		return
	}

	if err := w.source.Add(fsPath); err != nil {
		w.logger.Warn("failed to add watch on new directory",
			"project", w.project.Key, "path", rel, "error", err)
	}

	// Files created before the watch registered would otherwise be missed.
	// Duplicates are collapsed by the buffer.
	w.enqueueTree(ctx, fsPath, rel)
}

// enqueueTree walks a newly-created directory, subscribing nested
// directories and buffering the files already present.
func (w *Watcher) enqueueTree(ctx context.Context, dirPath, dirRel string) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		w.logger.Debug("scan new directory failed",
			"project", w.project.Key, "path", dirRel, "error", err)

		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		rel := dirRel + "/" + entry.Name()

		if entry.IsDir() {
			if !w.filter.ShouldTrack(rel, true) {
				continue
			}

			fsPath := filepath.Join(dirPath, entry.Name())
			if err := w.source.Add(fsPath); err != nil {
				w.logger.Warn("failed to add watch on nested directory",
					"project", w.project.Key, "path", rel, "error", err)
			}

			w.enqueueTree(ctx, fsPath, rel)

			continue
		}

		w.enqueue(rel)
	}
}

// enqueue buffers one file path if the project filter tracks it.
func (w *Watcher) enqueue(rel string) {
	if !w.filter.ShouldTrack(rel, false) {
		return
	}

	w.buffer.Add(rel)
}

// processBatch turns one settled batch into a reconciliation pass. A store
// failure is not a watcher fault: the batch is requeued after a delay and
// the watcher keeps running.
func (w *Watcher) processBatch(ctx context.Context, batch []string) {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	if _, err := w.reconciler.SyncPaths(ctx, w.project, batch); err != nil {
		if ctx.Err() != nil {
			return
		}

		w.logger.Warn("batch not persisted, requeueing",
			"project", w.project.Key, "paths", len(batch), "error", err)

		go w.requeue(ctx, batch)

		return
	}

	w.lastSync.Store(NowNano())
}

// requeue re-buffers a failed batch after the retry delay, unless the
// watcher is shutting down.
func (w *Watcher) requeue(ctx context.Context, batch []string) {
	if err := timeSleep(ctx, w.retryDelay); err != nil {
		return
	}

	w.buffer.AddAll(batch)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
