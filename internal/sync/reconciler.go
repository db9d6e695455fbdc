package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Reconciler converges the store with the tree on disk. Each pass classifies
// paths as new, modified, unchanged, or deleted by fingerprint comparison,
// collects the writes into one ChangeSet, and commits it through a single
// store transaction. A pass that changes nothing performs no writes, so
// repeated passes over an unchanged tree are free.
type Reconciler struct {
	store   Store
	scanner *Scanner
	logger  *slog.Logger
}

// NewReconciler creates a Reconciler that reads and writes document state
// through the given store and scans files with the given scanner.
func NewReconciler(store Store, scanner *Scanner, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		store:   store,
		scanner: scanner,
		logger:  logger,
	}
}

// FullSync scans everything under the project root and diffs the result
// against the stored document set. Paths present only on disk become
// upserts, paths present only in the store become deletes, and fingerprint
// mismatches become upserts. Renames show up as a delete plus a create.
func (r *Reconciler) FullSync(ctx context.Context, project *Project) (*SyncStats, error) {
	r.logger.Info("full sync started", "project", project.Key, "root", project.Root)

	scanned, skipped, err := r.scanner.ScanRoot(ctx, project.Root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", project.Root, err)
	}

	stored, err := r.store.ListDocuments(ctx, project.Key)
	if err != nil {
		return nil, fmt.Errorf("list documents for %s: %w", project.Key, err)
	}

	storedByPath := make(map[string]*Document, len(stored))
	for _, doc := range stored {
		storedByPath[doc.RelPath] = doc
	}

	stats := &SyncStats{Skipped: skipped}
	set := &ChangeSet{}

	for relPath, scan := range scanned {
		existing, ok := storedByPath[relPath]

		switch {
		case !ok:
			stats.New++
			set.Upserts = append(set.Upserts, scan)
		case existing.Fingerprint != scan.Fingerprint:
			stats.Modified++
			set.Upserts = append(set.Upserts, scan)
		default:
			stats.Unchanged++
		}
	}

	for relPath := range storedByPath {
		if _, ok := scanned[relPath]; !ok {
			stats.Deleted++
			set.Deletes = append(set.Deletes, relPath)
		}
	}

	if err := r.apply(ctx, project.Key, set); err != nil {
		return nil, err
	}

	r.logger.Info("full sync complete",
		"project", project.Key,
		"new", stats.New, "modified", stats.Modified,
		"unchanged", stats.Unchanged, "deleted", stats.Deleted,
		"skipped", stats.Skipped,
	)

	return stats, nil
}

// SyncPaths reconciles only the given paths, as reported by the watcher.
// A missing path deletes its record if one exists (the old side of a rename
// degrades to a delete; the new side arrives as a create). Paths are
// expected to have passed the project filter already; duplicates are
// collapsed. Unreadable files are skipped with a warning and picked up by
// a later pass.
func (r *Reconciler) SyncPaths(ctx context.Context, project *Project, paths []string) (*SyncStats, error) {
	r.logger.Debug("incremental sync started",
		"project", project.Key, "paths", len(paths))

	stats := &SyncStats{}
	set := &ChangeSet{}
	seen := make(map[string]struct{}, len(paths))

	for _, relPath := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, dup := seen[relPath]; dup {
			continue
		}

		seen[relPath] = struct{}{}

		if err := r.syncPath(ctx, project, relPath, stats, set); err != nil {
			return nil, err
		}
	}

	if err := r.apply(ctx, project.Key, set); err != nil {
		return nil, err
	}

	if stats.Changed() > 0 {
		r.logger.Info("incremental sync complete",
			"project", project.Key,
			"new", stats.New, "modified", stats.Modified,
			"deleted", stats.Deleted, "skipped", stats.Skipped,
		)
	} else {
		r.logger.Debug("incremental sync complete, no changes",
			"project", project.Key, "paths", len(paths))
	}

	return stats, nil
}

// syncPath classifies one reported path into the pass's stats and change set.
func (r *Reconciler) syncPath(ctx context.Context, project *Project, relPath string, stats *SyncStats, set *ChangeSet) error {
	full := filepath.Join(project.Root, filepath.FromSlash(relPath))

	info, err := os.Stat(full)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		existing, getErr := r.store.GetDocument(ctx, project.Key, relPath)
		if getErr != nil {
			return getErr
		}

		if existing != nil {
			stats.Deleted++
			set.Deletes = append(set.Deletes, relPath)
		}

		return nil

	case err != nil:
		r.logger.Warn("skipping unreadable path",
			"project", project.Key, "path", relPath, "error", err)
		stats.Skipped++

		return nil

	case info.IsDir():
		// Directories are not documents; their files arrive as own events.
		return nil
	}

	scan, err := r.scanner.ScanFile(project.Root, relPath)
	if err != nil {
		r.logger.Warn("skipping unreadable file",
			"project", project.Key, "path", relPath, "error", err)
		stats.Skipped++

		return nil
	}

	existing, err := r.store.GetDocument(ctx, project.Key, relPath)
	if err != nil {
		return err
	}

	switch {
	case existing == nil:
		stats.New++
		set.Upserts = append(set.Upserts, scan)
	case existing.Fingerprint != scan.Fingerprint:
		stats.Modified++
		set.Upserts = append(set.Upserts, scan)
	default:
		stats.Unchanged++
	}

	return nil
}

// apply commits a non-empty set in deterministic path order.
func (r *Reconciler) apply(ctx context.Context, projectID string, set *ChangeSet) error {
	if set.Empty() {
		return nil
	}

	sort.Slice(set.Upserts, func(i, j int) bool {
		return set.Upserts[i].RelPath < set.Upserts[j].RelPath
	})
	sort.Strings(set.Deletes)

	if err := r.store.Apply(ctx, projectID, set); err != nil {
		return fmt.Errorf("apply changes for %s: %w", projectID, err)
	}

	return nil
}
