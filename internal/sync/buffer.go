// Buffer coalesces change notifications by path, preparing them for the
// reconciler. It sits between the filesystem watcher and the reconciler:
// the watcher reports paths as events arrive, the buffer deduplicates them,
// and the reconciler consumes whole batches once the tree settles.
// Thread-safe for concurrent watcher output.
package sync

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultDebounceWindow is how long the tree must stay quiet before a
// buffered batch is emitted. Editors and generators burst writes; one
// settled batch per burst keeps reconciliation passes cheap.
const DefaultDebounceWindow = 300 * time.Millisecond

// Buffer collects changed paths and emits them as sorted, deduplicated
// batches. All methods are safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	pending map[string]struct{}
	notify  chan struct{} // signaled on Add when FlushDebounced is active; nil otherwise
	logger  *slog.Logger
}

// NewBuffer creates an empty Buffer ready to accept paths.
func NewBuffer(logger *slog.Logger) *Buffer {
	logger.Debug("buffer created")

	return &Buffer{
		pending: make(map[string]struct{}),
		logger:  logger,
	}
}

// Add records one changed path. Repeated adds of the same path within a
// window collapse into a single batch entry.
func (b *Buffer) Add(relPath string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[relPath] = struct{}{}

	b.logger.Debug("path buffered", "path", relPath)

	b.signalNew()
}

// AddAll records a batch of paths under a single lock acquisition.
func (b *Buffer) AddAll(relPaths []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range relPaths {
		b.pending[p] = struct{}{}
	}

	b.logger.Debug("paths buffered", "count", len(relPaths))

	b.signalNew()
}

// FlushImmediate returns all buffered paths sorted (deterministic ordering
// for the reconciler) and clears the buffer. Returns nil for an empty buffer.
func (b *Buffer) FlushImmediate() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}

	result := make([]string, 0, len(b.pending))
	for p := range b.pending {
		result = append(result, p)
	}

	sort.Strings(result)

	b.pending = make(map[string]struct{})

	b.logger.Debug("buffer flushed", "paths", len(result))

	return result
}

// Len returns the number of distinct paths currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending)
}

// FlushDebounced returns a channel that emits a batch after the debounce
// window elapses with no new paths. Each batch is equivalent to calling
// FlushImmediate(). The debounce timer resets on every Add. The output
// channel is closed when the context is canceled; any remaining paths are
// drained in a final batch.
func (b *Buffer) FlushDebounced(ctx context.Context, debounce time.Duration) <-chan []string {
	out := make(chan []string, 1)

	b.mu.Lock()
	b.notify = make(chan struct{}, 1)
	b.mu.Unlock()

	go b.debounceLoop(ctx, debounce, out)

	return out
}

// debounceLoop is the goroutine driving FlushDebounced. It waits for
// new-path signals, resets the debounce timer, and flushes when the timer
// expires.
func (b *Buffer) debounceLoop(ctx context.Context, debounce time.Duration, out chan<- []string) {
	defer close(out)

	timer := time.NewTimer(debounce)
	timer.Stop() // start idle, no paths yet
	defer timer.Stop()

	timerActive := false

	for {
		select {
		case <-ctx.Done():
			// Drain remaining paths. Use a non-blocking send because the
			// consumer may have stopped reading.
			if batch := b.FlushImmediate(); batch != nil {
				select {
				case out <- batch:
				default:
					b.logger.Warn("final drain discarded: output channel full",
						slog.Int("paths", len(batch)),
					)
				}
			}

			return

		case _, ok := <-b.notify:
			if !ok {
				return
			}

			// New path arrived, reset the debounce timer.
			if !timer.Stop() && timerActive {
				<-timer.C
			}

			timer.Reset(debounce)
			timerActive = true

		case <-timer.C:
			timerActive = false

			if batch := b.FlushImmediate(); batch != nil {
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// signalNew sends a non-blocking notification to the debounce goroutine.
// Called while the mutex is held. The notify channel is nil until
// FlushDebounced() is called, so one-shot mode (FlushImmediate only) pays
// no cost.
func (b *Buffer) signalNew() {
	if b.notify == nil {
		return
	}

	select {
	case b.notify <- struct{}{}:
	default:
		// Already signaled; the debounce goroutine hasn't consumed yet.
	}
}
