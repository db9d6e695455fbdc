// Package sync implements the filesystem-to-store mirror engine for docmirror.
// It provides pattern filtering, document scanning, front-matter and marker
// extraction, reconciliation, debounced change buffering, supervised
// per-project watchers, and the SQLite-backed document store: the full
// pipeline that keeps the relational mirror converged with the trees on disk.
package sync

import (
	"context"
	"time"
)

// MarkerKind distinguishes who authored an inline annotation.
type MarkerKind string

// Marker kinds as stored in the markers.kind column.
const (
	MarkerHuman MarkerKind = "human"
	MarkerAgent MarkerKind = "agent"
)

// Document represents one tracked file mirrored into the store.
// Front-matter fields carry documented defaults when the file has no
// front matter or omits a recognized key (status "draft", version "0.1.0",
// empty summary and lists).
type Document struct {
	// Identity
	ID        int64
	ProjectID string // registry key of the owning project
	RelPath   string // slash-separated path relative to the project root
	Filename  string

	// Change detection
	Fingerprint string // hex SHA-256 of the file bytes
	Size        int64

	// Recognized front-matter fields
	Status    string
	Version   string
	Summary   string
	Modules   []string // module tags
	DependsOn []string // dependency references
	Authors   []string

	// Round-tripping
	Extra          map[string]any // unrecognized front-matter keys, verbatim
	RawFrontMatter string         // raw block text including delimiters
	HasFrontMatter bool

	// Row metadata (Unix nanoseconds)
	LastScannedAt int64 // time of the scan that last wrote this row
	CreatedAt     int64
	UpdatedAt     int64
}

// Marker represents one inline annotation anchored to a document line.
// The resolved flag is user-controlled: rescans preserve it whenever an
// identical (kind, line, text) marker survives, and reset it otherwise.
type Marker struct {
	ID         int64
	DocumentID int64
	Kind       MarkerKind
	Line       int // 1-based, counted over the whole file
	Text       string
	Resolved   bool
	CreatedAt  int64
	UpdatedAt  int64
}

// FrontMatter holds the parsed metadata block of a document.
type FrontMatter struct {
	Status    string
	Version   string
	Summary   string
	Modules   []string
	DependsOn []string
	Authors   []string
	Extra     map[string]any // unrecognized keys, preserved but not interpreted
	Raw       string         // raw block text including delimiters
}

// MarkerScan is a marker as discovered by the scanner, before it has
// store identity. Resolved state is decided at apply time.
type MarkerScan struct {
	Kind MarkerKind
	Line int
	Text string
}

// DocumentScan is the scanner's candidate record for one file.
type DocumentScan struct {
	RelPath        string
	Filename       string
	Fingerprint    string
	Size           int64
	FrontMatter    FrontMatter
	HasFrontMatter bool
	Markers        []MarkerScan
}

// ChangeSet is the minimal set of store mutations one reconciliation pass
// produced. The store applies the whole set as a single transaction.
type ChangeSet struct {
	Upserts []*DocumentScan // new and modified paths
	Deletes []string        // rel paths whose records must be removed
}

// Empty reports whether the set contains no mutations.
func (c *ChangeSet) Empty() bool {
	return len(c.Upserts) == 0 && len(c.Deletes) == 0
}

// SyncStats summarizes the classification outcome of one reconciliation pass.
type SyncStats struct {
	New       int
	Modified  int
	Unchanged int
	Deleted   int
	Skipped   int // unreadable files, reported and left for the next pass
}

// Changed returns the number of paths that produced store writes.
func (s *SyncStats) Changed() int {
	return s.New + s.Modified + s.Deleted
}

// WatcherStatus is the lifecycle state of one project's watcher.
type WatcherStatus string

// Watcher states reported by the supervisor status query.
const (
	StatusStarting   WatcherStatus = "starting"
	StatusRunning    WatcherStatus = "running"
	StatusBackingOff WatcherStatus = "backing-off"
	StatusFailed     WatcherStatus = "failed"
	StatusStopped    WatcherStatus = "stopped"
)

// Project is a resolved project registration handed to the engine.
// Shared store mode has already been resolved to a concrete path.
type Project struct {
	Key           string
	Root          string   // absolute path of the tree to mirror
	StorePath     string   // absolute path of the SQLite database
	AllowPatterns []string // nil means the documented defaults
	IgnoreFile    string   // per-project ignore file name, empty means default
}

// ProjectStatus is one row of the supervisor's status query.
type ProjectStatus struct {
	Project     string        `json:"project"`
	Root        string        `json:"root"`
	State       WatcherStatus `json:"state"`
	Failures    int           `json:"failures"`
	NextRetryAt int64         `json:"next_retry_at,omitempty"` // Unix nanoseconds, zero when none
	LastSyncAt  int64         `json:"last_sync_at,omitempty"`  // Unix nanoseconds, zero until first pass
	Documents   int64         `json:"documents"`
	LastError   string        `json:"last_error,omitempty"`
}

// Store is the interface for the document mirror database. All engine
// components operate against this interface rather than the concrete
// SQLite implementation.
type Store interface {
	// Documents
	ListDocuments(ctx context.Context, projectID string) ([]*Document, error)
	GetDocument(ctx context.Context, projectID, relPath string) (*Document, error)
	CountDocuments(ctx context.Context, projectID string) (int64, error)

	// Markers
	ListMarkers(ctx context.Context, documentID int64) ([]*Marker, error)
	ListProjectMarkers(ctx context.Context, projectID string) ([]*Marker, error)
	ResolveMarker(ctx context.Context, projectID string, markerID int64, resolved bool) error

	// Apply commits one reconciliation pass atomically. A failure rolls the
	// whole pass back; the previous state stays intact and the caller retries
	// on a later pass.
	Apply(ctx context.Context, projectID string, set *ChangeSet) error

	// Maintenance
	Checkpoint() error
	Close() error
}

// --- Timestamp helpers ---
// All internal code uses int64 Unix nanoseconds; conversion to time.Time
// happens at display boundaries only.

// NowNano returns the current time as Unix nanoseconds.
func NowNano() int64 {
	return time.Now().UnixNano()
}
