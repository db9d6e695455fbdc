package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	gosync "sync"
	"time"

	"github.com/docmirror/docmirror/internal/crashlog"
)

// Restart policy for failed watchers: up to restartCeiling scheduled
// restarts with delays of base, 2x base, 4x base. Overridden only in tests.
const (
	restartBase    = 5 * time.Second
	restartCeiling = 3
)

// watcherRunner is the interface the Supervisor runs per project.
// Implemented by *Watcher; mock implementations are used in tests.
type watcherRunner interface {
	Run(ctx context.Context) error
	LastSyncAt() int64
}

// watcherFactory builds a runner for one project. The real implementation
// opens a kernel event source; tests inject scripted runners.
type watcherFactory func(h *projectHandle) (watcherRunner, error)

// projectHandle is the supervisor's per-project state. project, store,
// filter, reconciler, and syncMu are set once at registration; the mutable
// fields are guarded by Supervisor.mu.
type projectHandle struct {
	project    *Project
	store      Store
	filter     *Filter
	reconciler *Reconciler
	syncMu     *gosync.Mutex

	status      WatcherStatus
	failures    int
	nextRetryAt time.Time
	lastSyncAt  int64
	lastErr     string
	watcher     watcherRunner
	cancel      context.CancelFunc
	done        chan struct{}
	retryTimer  *time.Timer
}

// Supervisor owns one watcher per registered project and restarts failed
// ones on per-project timers with exponential backoff. Projects are
// isolated: one project's faults never stop or delay another's watcher.
type Supervisor struct {
	stores   *StoreManager
	reporter *crashlog.Reporter
	logger   *slog.Logger

	factory watcherFactory
	nowFunc func() time.Time // injectable for testing

	base    time.Duration // restart backoff base, overridden in tests
	ceiling int           // scheduled restarts before giving up

	mu      gosync.Mutex
	handles map[string]*projectHandle
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
}

// NewSupervisor creates a Supervisor with the production watcher factory.
// Tests override factory, nowFunc, and the backoff constants after
// construction. The reporter may be nil; panics are then logged only.
func NewSupervisor(stores *StoreManager, reporter *crashlog.Reporter, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		stores:   stores,
		reporter: reporter,
		logger:   logger,
		nowFunc:  time.Now,
		base:     restartBase,
		ceiling:  restartCeiling,
		handles:  make(map[string]*projectHandle),
	}
	s.factory = s.newWatcher

	return s
}

// newWatcher is the production factory: one kernel event source per project.
func (s *Supervisor) newWatcher(h *projectHandle) (watcherRunner, error) {
	source, err := newFsnotifySource()
	if err != nil {
		return nil, err
	}

	return NewWatcher(h.project, h.filter, h.reconciler, source, h.syncMu, s.logger), nil
}

// Start launches one watcher per registered project. A project whose store
// cannot be opened is marked failed immediately; the others proceed. Start
// returns once all watchers are launched; it does not wait for them.
func (s *Supervisor) Start(ctx context.Context, projects []*Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("supervisor already started")
	}

	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("supervisor starting", "projects", len(projects))

	for _, p := range projects {
		s.addProjectLocked(p)
	}

	return nil
}

// addProjectLocked registers a project and launches its watcher. Root,
// store, and ignore-file failures disable only this project.
func (s *Supervisor) addProjectLocked(p *Project) {
	h := &projectHandle{
		project: p,
		syncMu:  &gosync.Mutex{},
		status:  StatusStarting,
	}
	s.handles[p.Key] = h

	if err := CheckWatchRoot(p.Root, s.logger); err != nil {
		h.status = StatusFailed
		h.lastErr = err.Error()
		s.logger.Error("project root unusable, project disabled",
			"project", p.Key, "root", p.Root, "error", err)

		return
	}

	store, err := s.stores.Get(p.StorePath)
	if err != nil {
		h.status = StatusFailed
		h.lastErr = err.Error()
		s.logger.Error("store unavailable, project disabled",
			"project", p.Key, "store", p.StorePath, "error", err)

		return
	}

	ignoreLines, err := LoadIgnoreLines(p.Root, p.IgnoreFile)
	if err != nil {
		// Scanning without the deny rules could mirror files the project
		// meant to exclude.
		h.status = StatusFailed
		h.lastErr = err.Error()
		s.logger.Error("ignore file unreadable, project disabled",
			"project", p.Key, "error", err)

		return
	}

	h.store = store
	h.filter = NewFilter(p.AllowPatterns, ignoreLines, s.logger)
	h.reconciler = NewReconciler(store, NewScanner(h.filter, s.logger), s.logger)

	s.launchLocked(h)
}

// launchLocked builds a watcher for the handle and runs it in its own
// goroutine. A factory failure counts toward the restart backoff.
func (s *Supervisor) launchLocked(h *projectHandle) {
	w, err := s.factory(h)
	if err != nil {
		s.noteFailureLocked(h, fmt.Errorf("start watcher: %w", err))
		return
	}

	hctx, hcancel := context.WithCancel(s.ctx)
	h.watcher = w
	h.cancel = hcancel
	h.done = make(chan struct{})
	h.status = StatusRunning
	h.nextRetryAt = time.Time{}

	s.logger.Info("watcher started", "project", h.project.Key, "attempt", h.failures+1)

	go s.runWatcher(hctx, h, w)
}

// runWatcher runs one watcher instance to completion and settles the
// handle. Panics are captured as crash reports and counted as failures.
func (s *Supervisor) runWatcher(ctx context.Context, h *projectHandle, w watcherRunner) {
	defer close(h.done)

	var runErr error

	func() {
		defer s.reporter.Recover(s.logger, func(err error) { runErr = err })
		runErr = w.Run(ctx)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if at := w.LastSyncAt(); at > h.lastSyncAt {
		h.lastSyncAt = at
	}

	h.watcher = nil
	h.cancel = nil

	if ctx.Err() != nil || s.closed {
		if h.status != StatusFailed {
			h.status = StatusStopped
		}

		return
	}

	if runErr == nil {
		runErr = errors.New("watcher stopped unexpectedly")
	}

	// A watcher that converged at least once had a healthy start; this
	// failure opens a fresh episode rather than extending the last one.
	if w.LastSyncAt() > 0 {
		h.failures = 0
	}

	s.noteFailureLocked(h, runErr)
}

// noteFailureLocked counts one consecutive failure and either schedules a
// restart on the project's own timer or marks the project failed for good.
func (s *Supervisor) noteFailureLocked(h *projectHandle, err error) {
	h.failures++
	h.lastErr = err.Error()

	if h.failures > s.ceiling {
		h.status = StatusFailed
		h.nextRetryAt = time.Time{}
		s.logger.Error("watcher failed permanently, project disabled",
			"project", h.project.Key, "failures", h.failures, "error", err)

		return
	}

	delay := s.base << (h.failures - 1)
	h.status = StatusBackingOff
	h.nextRetryAt = s.nowFunc().Add(delay)

	s.logger.Warn("watcher failed, restart scheduled",
		"project", h.project.Key, "attempt", h.failures, "retry_in", delay, "error", err)

	key := h.project.Key
	h.retryTimer = time.AfterFunc(delay, func() { s.restart(key) })
}

// restart fires from a backoff timer. The status guard makes stale timers
// harmless: a project that was stopped, removed, or re-added meanwhile is
// left alone.
func (s *Supervisor) restart(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[key]
	if !ok || s.closed || h.status != StatusBackingOff {
		return
	}

	if s.ctx.Err() != nil {
		h.status = StatusStopped
		return
	}

	s.launchLocked(h)
}

// Reload reconciles the watcher set against a re-read registry: removed
// projects are stopped, new ones started, surviving ones left untouched.
func (s *Supervisor) Reload(ctx context.Context, projects []*Project) {
	s.mu.Lock()

	if !s.started {
		s.mu.Unlock()
		s.logger.Warn("reload before start ignored")

		return
	}

	next := make(map[string]*Project, len(projects))
	for _, p := range projects {
		next[p.Key] = p
	}

	var removed []*projectHandle

	for key, h := range s.handles {
		if _, ok := next[key]; ok {
			continue
		}

		s.detachLocked(h)
		delete(s.handles, key)
		removed = append(removed, h)
	}

	s.mu.Unlock()

	for _, h := range removed {
		s.awaitHandle(ctx, h)
		s.logger.Info("watcher stopped for removed project", "project", h.project.Key)
	}

	s.mu.Lock()

	var added int

	for key, p := range next {
		if _, ok := s.handles[key]; ok {
			continue
		}

		s.addProjectLocked(p)
		added++
	}

	s.mu.Unlock()

	s.logger.Info("project reload complete",
		"added", added, "removed", len(removed), "active", len(next))
}

// ResyncAll runs a full reconciliation pass for every project with a usable
// store, regardless of watcher health. This is the recovery path for
// drifted or lost state. Per-project errors are joined, not short-circuited.
func (s *Supervisor) ResyncAll(ctx context.Context) error {
	s.mu.Lock()

	handles := make([]*projectHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}

	s.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool {
		return handles[i].project.Key < handles[j].project.Key
	})

	var errs []error

	for _, h := range handles {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		if h.reconciler == nil {
			errs = append(errs, fmt.Errorf("%s: store unavailable", h.project.Key))
			continue
		}

		h.syncMu.Lock()
		stats, err := h.reconciler.FullSync(ctx, h.project)
		h.syncMu.Unlock()

		if err != nil {
			s.logger.Warn("resync failed", "project", h.project.Key, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.project.Key, err))

			s.mu.Lock()
			h.lastErr = err.Error()
			s.mu.Unlock()

			continue
		}

		s.mu.Lock()
		h.lastSyncAt = NowNano()
		s.mu.Unlock()

		s.logger.Info("resync complete", "project", h.project.Key,
			"new", stats.New, "modified", stats.Modified, "deleted", stats.Deleted,
			"unchanged", stats.Unchanged, "skipped", stats.Skipped)
	}

	return errors.Join(errs...)
}

// Status reports one row per registered project, sorted by key. Document
// counts come straight from the store; a project without a store reports
// zero.
func (s *Supervisor) Status(ctx context.Context) []*ProjectStatus {
	s.mu.Lock()

	rows := make([]*ProjectStatus, 0, len(s.handles))
	stores := make([]Store, 0, len(s.handles))

	for _, h := range s.handles {
		row := &ProjectStatus{
			Project:    h.project.Key,
			Root:       h.project.Root,
			State:      h.status,
			Failures:   h.failures,
			LastSyncAt: h.lastSyncAt,
			LastError:  h.lastErr,
		}

		if !h.nextRetryAt.IsZero() {
			row.NextRetryAt = h.nextRetryAt.UnixNano()
		}

		if w := h.watcher; w != nil {
			if at := w.LastSyncAt(); at > row.LastSyncAt {
				row.LastSyncAt = at
			}
		}

		rows = append(rows, row)
		stores = append(stores, h.store)
	}

	s.mu.Unlock()

	for i, row := range rows {
		if stores[i] == nil {
			continue
		}

		n, err := stores[i].CountDocuments(ctx, row.Project)
		if err != nil {
			s.logger.Warn("document count failed", "project", row.Project, "error", err)
			continue
		}

		row.Documents = n
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Project < rows[j].Project })

	return rows
}

// Stop cancels every watcher and pending restart timer and waits for the
// watcher goroutines, bounded by the caller's context.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()

	s.closed = true

	if s.cancel != nil {
		s.cancel()
	}

	handles := make([]*projectHandle, 0, len(s.handles))

	for _, h := range s.handles {
		s.detachLocked(h)
		handles = append(handles, h)
	}

	s.mu.Unlock()

	for _, h := range handles {
		s.awaitHandle(ctx, h)
	}

	s.logger.Info("supervisor stopped", "projects", len(handles))
}

// detachLocked stops a handle's restart timer and cancels its watcher
// context. Failed stays failed; everything else becomes stopped.
func (s *Supervisor) detachLocked(h *projectHandle) {
	if h.retryTimer != nil {
		h.retryTimer.Stop()
		h.retryTimer = nil
	}

	if h.cancel != nil {
		h.cancel()
	}

	if h.status != StatusFailed {
		h.status = StatusStopped
	}
}

// awaitHandle waits for a detached handle's watcher goroutine to finish.
func (s *Supervisor) awaitHandle(ctx context.Context, h *projectHandle) {
	if h.done == nil {
		return
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		s.logger.Warn("timed out waiting for watcher to stop",
			"project", h.project.Key)
	}
}
