package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	sqlite "modernc.org/sqlite"
)

// ErrMarkerNotFound is returned when a marker ID does not exist within the
// given project.
var ErrMarkerNotFound = errors.New("marker not found")

const (
	walJournalSizeLimit = 67108864 // 64 MiB WAL journal size limit

	// SQLite primary result codes that indicate transient lock contention.
	sqliteBusy   = 5
	sqliteLocked = 6

	// Write retry policy. Contention is rare (writes are serialized per
	// store within the process) so a short fibonacci ramp is enough to
	// ride out an external reader holding the lock.
	writeRetryBase = 50 * time.Millisecond
	writeRetryMax  = 5
)

// SQLiteStore implements the Store interface using an embedded SQLite
// database with WAL mode. One instance mirrors one database file; projects
// in shared store mode receive the same instance from the StoreManager.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// writeMu serializes mutating calls. WAL allows one writer at a time;
	// taking the lock in-process avoids SQLITE_BUSY between our own
	// connections when several projects share a store.
	writeMu sync.Mutex

	docStmts    documentStatements
	markerStmts markerStatements
}

// Statement groups, one per table.
type documentStatements struct {
	upsert, getID, get, list, count, deleteByPath *sql.Stmt
}

type markerStatements struct {
	insert, deleteByDoc, listByDoc, listByProject, resolve *sql.Stmt
}

// NewSQLiteStore opens the database at dbPath, applies migrations, and
// prepares all repeated statements. Use ":memory:" for tests.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	logger.Info("opening document store", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// An in-memory database exists per connection; cap the pool at one
	// so every statement sees the same database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := setPragmas(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.prepareAllStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	logger.Info("document store ready", "path", dbPath)

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// --- SQL ---

const (
	sqlDocumentColumns = `id, project_id, rel_path, filename, fingerprint,
		size, status, version, summary, modules, depends_on, authors,
		extra, raw_front_matter, has_front_matter,
		last_scanned_at, created_at, updated_at`

	// created_at survives updates; everything else reflects the latest scan.
	sqlUpsertDocument = `INSERT INTO documents
		(project_id, rel_path, filename, fingerprint, size,
		 status, version, summary, modules, depends_on, authors,
		 extra, raw_front_matter, has_front_matter,
		 last_scanned_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, rel_path) DO UPDATE SET
			filename         = excluded.filename,
			fingerprint      = excluded.fingerprint,
			size             = excluded.size,
			status           = excluded.status,
			version          = excluded.version,
			summary          = excluded.summary,
			modules          = excluded.modules,
			depends_on       = excluded.depends_on,
			authors          = excluded.authors,
			extra            = excluded.extra,
			raw_front_matter = excluded.raw_front_matter,
			has_front_matter = excluded.has_front_matter,
			last_scanned_at  = excluded.last_scanned_at,
			updated_at       = excluded.updated_at`

	sqlGetDocumentID = `SELECT id FROM documents
		WHERE project_id = ? AND rel_path = ?`

	sqlGetDocument = `SELECT ` + sqlDocumentColumns +
		` FROM documents WHERE project_id = ? AND rel_path = ?`

	sqlListDocuments = `SELECT ` + sqlDocumentColumns +
		` FROM documents WHERE project_id = ? ORDER BY rel_path`

	sqlCountDocuments = `SELECT COUNT(*) FROM documents WHERE project_id = ?`

	sqlDeleteDocument = `DELETE FROM documents
		WHERE project_id = ? AND rel_path = ?`
)

const (
	sqlMarkerColumns = `id, document_id, kind, line, text, resolved,
		created_at, updated_at`

	sqlInsertMarker = `INSERT INTO markers
		(document_id, kind, line, text, resolved, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlDeleteDocMarkers = `DELETE FROM markers WHERE document_id = ?`

	sqlListMarkers = `SELECT ` + sqlMarkerColumns +
		` FROM markers WHERE document_id = ? ORDER BY line, id`

	sqlListProjectMarkers = `SELECT m.id, m.document_id, m.kind, m.line,
		m.text, m.resolved, m.created_at, m.updated_at
		FROM markers m
		JOIN documents d ON d.id = m.document_id
		WHERE d.project_id = ?
		ORDER BY d.rel_path, m.line, m.id`

	sqlResolveMarker = `UPDATE markers SET resolved = ?, updated_at = ?
		WHERE id = ? AND document_id IN
			(SELECT id FROM documents WHERE project_id = ?)`
)

// stmtDef maps a SQL string to the prepared statement pointer it should
// populate. Used by the generic prepare helper to eliminate repetitive
// error handling.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

func (s *SQLiteStore) prepareAllStatements(ctx context.Context) error {
	if err := prepareAll(ctx, s.db, []stmtDef{
		{&s.docStmts.upsert, sqlUpsertDocument, "upsertDocument"},
		{&s.docStmts.getID, sqlGetDocumentID, "getDocumentID"},
		{&s.docStmts.get, sqlGetDocument, "getDocument"},
		{&s.docStmts.list, sqlListDocuments, "listDocuments"},
		{&s.docStmts.count, sqlCountDocuments, "countDocuments"},
		{&s.docStmts.deleteByPath, sqlDeleteDocument, "deleteDocument"},
	}); err != nil {
		return err
	}

	return prepareAll(ctx, s.db, []stmtDef{
		{&s.markerStmts.insert, sqlInsertMarker, "insertMarker"},
		{&s.markerStmts.deleteByDoc, sqlDeleteDocMarkers, "deleteDocMarkers"},
		{&s.markerStmts.listByDoc, sqlListMarkers, "listMarkers"},
		{&s.markerStmts.listByProject, sqlListProjectMarkers, "listProjectMarkers"},
		{&s.markerStmts.resolve, sqlResolveMarker, "resolveMarker"},
	})
}

// --- JSON column helpers ---
// List and map front-matter fields are stored as JSON text columns.

func encodeStringList(list []string) (string, error) {
	if len(list) == 0 {
		return "[]", nil
	}

	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encode string list: %w", err)
	}

	return string(b), nil
}

func decodeStringList(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}

	return list, nil
}

func encodeExtra(extra map[string]any) (string, error) {
	if len(extra) == 0 {
		return "{}", nil
	}

	b, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("encode extra front matter: %w", err)
	}

	return string(b), nil
}

func decodeExtra(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}

	var extra map[string]any
	if err := json.Unmarshal([]byte(raw), &extra); err != nil {
		return nil, fmt.Errorf("decode extra front matter: %w", err)
	}

	return extra, nil
}

// --- Row scanning helpers ---

// scanDocument scans a full document row into a Document struct. Used by
// all document-returning queries to avoid duplicated column scanning.
func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	doc := &Document{}

	var modules, dependsOn, authors, extra string

	err := row.Scan(
		&doc.ID, &doc.ProjectID, &doc.RelPath, &doc.Filename,
		&doc.Fingerprint, &doc.Size,
		&doc.Status, &doc.Version, &doc.Summary,
		&modules, &dependsOn, &authors, &extra,
		&doc.RawFrontMatter, &doc.HasFrontMatter,
		&doc.LastScannedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if doc.Modules, err = decodeStringList(modules); err != nil {
		return nil, err
	}

	if doc.DependsOn, err = decodeStringList(dependsOn); err != nil {
		return nil, err
	}

	if doc.Authors, err = decodeStringList(authors); err != nil {
		return nil, err
	}

	if doc.Extra, err = decodeExtra(extra); err != nil {
		return nil, err
	}

	return doc, nil
}

// scanDocumentRows iterates over sql.Rows and collects Documents.
func scanDocumentRows(rows *sql.Rows) ([]*Document, error) {
	var docs []*Document

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}

		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}

	return docs, nil
}

func scanMarker(row interface{ Scan(...any) error }) (*Marker, error) {
	m := &Marker{}

	err := row.Scan(
		&m.ID, &m.DocumentID, &m.Kind, &m.Line, &m.Text,
		&m.Resolved, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func scanMarkerRows(rows *sql.Rows) ([]*Marker, error) {
	defer rows.Close()

	var markers []*Marker

	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan marker row: %w", err)
		}

		markers = append(markers, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate marker rows: %w", err)
	}

	return markers, nil
}

// upsertDocumentArgs returns the argument slice for the upsert prepared
// statement. now stamps last_scanned_at and both row timestamps; created_at
// is ignored on conflict.
func upsertDocumentArgs(projectID string, scan *DocumentScan, now int64) ([]any, error) {
	modules, err := encodeStringList(scan.FrontMatter.Modules)
	if err != nil {
		return nil, err
	}

	dependsOn, err := encodeStringList(scan.FrontMatter.DependsOn)
	if err != nil {
		return nil, err
	}

	authors, err := encodeStringList(scan.FrontMatter.Authors)
	if err != nil {
		return nil, err
	}

	extra, err := encodeExtra(scan.FrontMatter.Extra)
	if err != nil {
		return nil, err
	}

	return []any{
		projectID, scan.RelPath, scan.Filename, scan.Fingerprint, scan.Size,
		scan.FrontMatter.Status, scan.FrontMatter.Version, scan.FrontMatter.Summary,
		modules, dependsOn, authors,
		extra, scan.FrontMatter.Raw, scan.HasFrontMatter,
		now, now, now,
	}, nil
}

// --- Document queries ---

// GetDocument retrieves a single document by project and relative path.
// Returns (nil, nil) if no document exists so callers can distinguish
// "not tracked" from a query failure.
func (s *SQLiteStore) GetDocument(ctx context.Context, projectID, relPath string) (*Document, error) {
	s.logger.Debug("getting document", "project_id", projectID, "rel_path", relPath)

	doc, err := scanDocument(s.docStmts.get.QueryRowContext(ctx, projectID, relPath))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get document %s/%s: %w", projectID, relPath, err)
	}

	return doc, nil
}

// ListDocuments returns all documents of one project ordered by path.
func (s *SQLiteStore) ListDocuments(ctx context.Context, projectID string) ([]*Document, error) {
	s.logger.Debug("listing documents", "project_id", projectID)

	rows, err := s.docStmts.list.QueryContext(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents %s: %w", projectID, err)
	}
	defer rows.Close()

	return scanDocumentRows(rows)
}

// CountDocuments returns the number of tracked documents in one project.
func (s *SQLiteStore) CountDocuments(ctx context.Context, projectID string) (int64, error) {
	var count int64

	err := s.docStmts.count.QueryRowContext(ctx, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count documents %s: %w", projectID, err)
	}

	return count, nil
}

// --- Marker queries ---

// ListMarkers returns all markers of one document ordered by line.
func (s *SQLiteStore) ListMarkers(ctx context.Context, documentID int64) ([]*Marker, error) {
	s.logger.Debug("listing markers", "document_id", documentID)

	rows, err := s.markerStmts.listByDoc.QueryContext(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list markers for document %d: %w", documentID, err)
	}

	return scanMarkerRows(rows)
}

// ListProjectMarkers returns every marker of one project ordered by
// document path and line.
func (s *SQLiteStore) ListProjectMarkers(ctx context.Context, projectID string) ([]*Marker, error) {
	s.logger.Debug("listing project markers", "project_id", projectID)

	rows, err := s.markerStmts.listByProject.QueryContext(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list markers for project %s: %w", projectID, err)
	}

	return scanMarkerRows(rows)
}

// ResolveMarker flips the user-controlled resolved flag on one marker.
// The project scope guards against resolving another project's marker ID.
func (s *SQLiteStore) ResolveMarker(ctx context.Context, projectID string, markerID int64, resolved bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.logger.Debug("resolving marker",
		"project_id", projectID, "marker_id", markerID, "resolved", resolved)

	res, err := s.markerStmts.resolve.ExecContext(ctx, resolved, NowNano(), markerID, projectID)
	if err != nil {
		return fmt.Errorf("resolve marker %d: %w", markerID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve marker %d: rows affected: %w", markerID, err)
	}

	if n == 0 {
		return fmt.Errorf("marker %d in project %s: %w", markerID, projectID, ErrMarkerNotFound)
	}

	return nil
}

// --- Apply ---

// markerIdentity keys a marker by everything except store identity.
// A rescan preserves resolved state and creation time for markers whose
// identity survives unchanged.
type markerIdentity struct {
	kind MarkerKind
	line int
	text string
}

type markerCarry struct {
	resolved  bool
	createdAt int64
}

// Apply commits one reconciliation pass as a single transaction. A failure
// anywhere rolls the whole pass back, leaving the previous consistent state
// for the next pass to redo. Transient lock contention is retried with a
// fibonacci backoff before the error is surfaced.
func (s *SQLiteStore) Apply(ctx context.Context, projectID string, set *ChangeSet) error {
	if set == nil || set.Empty() {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.logger.Debug("applying change set",
		"project_id", projectID,
		"upserts", len(set.Upserts), "deletes", len(set.Deletes))

	backoff := retry.WithMaxRetries(writeRetryMax, retry.NewFibonacci(writeRetryBase))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.applyOnce(ctx, projectID, set)
		if err != nil && isBusyErr(err) {
			s.logger.Warn("store busy, retrying apply",
				"project_id", projectID, "error", err)
			return retry.RetryableError(err)
		}

		return err
	})
}

func (s *SQLiteStore) applyOnce(ctx context.Context, projectID string, set *ChangeSet) error {
	now := NowNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply tx: %w", err)
	}

	if err := s.applyInTx(ctx, tx, projectID, set, now); err != nil {
		rollbackErr := tx.Rollback()
		return fmt.Errorf("apply change set for %s: %w (rollback: %v)",
			projectID, err, rollbackErr)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}

	s.logger.Debug("change set applied",
		"project_id", projectID,
		"upserts", len(set.Upserts), "deletes", len(set.Deletes))

	return nil
}

func (s *SQLiteStore) applyInTx(ctx context.Context, tx *sql.Tx, projectID string, set *ChangeSet, now int64) error {
	upsert := tx.StmtContext(ctx, s.docStmts.upsert)
	getID := tx.StmtContext(ctx, s.docStmts.getID)
	deleteDoc := tx.StmtContext(ctx, s.docStmts.deleteByPath)
	listMarkers := tx.StmtContext(ctx, s.markerStmts.listByDoc)
	deleteMarkers := tx.StmtContext(ctx, s.markerStmts.deleteByDoc)
	insertMarker := tx.StmtContext(ctx, s.markerStmts.insert)

	for _, scan := range set.Upserts {
		args, err := upsertDocumentArgs(projectID, scan, now)
		if err != nil {
			return fmt.Errorf("document %s: %w", scan.RelPath, err)
		}

		if _, err := upsert.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("upsert document %s: %w", scan.RelPath, err)
		}

		var docID int64
		if err := getID.QueryRowContext(ctx, projectID, scan.RelPath).Scan(&docID); err != nil {
			return fmt.Errorf("resolve document id %s: %w", scan.RelPath, err)
		}

		if err := rebuildMarkers(ctx, listMarkers, deleteMarkers, insertMarker, docID, scan.Markers, now); err != nil {
			return fmt.Errorf("rebuild markers for %s: %w", scan.RelPath, err)
		}
	}

	// Marker rows go with the document via ON DELETE CASCADE.
	for _, relPath := range set.Deletes {
		if _, err := deleteDoc.ExecContext(ctx, projectID, relPath); err != nil {
			return fmt.Errorf("delete document %s: %w", relPath, err)
		}
	}

	return nil
}

// rebuildMarkers replaces a document's markers with the scanned set,
// carrying over the resolved flag and creation time of any marker whose
// (kind, line, text) identity is unchanged.
func rebuildMarkers(ctx context.Context, list, del, ins *sql.Stmt, docID int64, scans []MarkerScan, now int64) error {
	rows, err := list.QueryContext(ctx, docID)
	if err != nil {
		return fmt.Errorf("list existing markers: %w", err)
	}

	existing, err := scanMarkerRows(rows)
	if err != nil {
		return err
	}

	carry := make(map[markerIdentity]markerCarry, len(existing))
	for _, m := range existing {
		carry[markerIdentity{m.Kind, m.Line, m.Text}] = markerCarry{m.Resolved, m.CreatedAt}
	}

	if _, err := del.ExecContext(ctx, docID); err != nil {
		return fmt.Errorf("clear markers: %w", err)
	}

	for _, scan := range scans {
		resolved := false
		createdAt := now

		if prev, ok := carry[markerIdentity{scan.Kind, scan.Line, scan.Text}]; ok {
			resolved = prev.resolved
			createdAt = prev.createdAt
		}

		if _, err := ins.ExecContext(ctx, docID, string(scan.Kind), scan.Line, scan.Text, resolved, createdAt, now); err != nil {
			return fmt.Errorf("insert marker at line %d: %w", scan.Line, err)
		}
	}

	return nil
}

// isBusyErr reports whether err is a transient SQLite lock error.
func isBusyErr(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code() & 0xff // primary result code
		return code == sqliteBusy || code == sqliteLocked
	}

	return false
}

// --- Maintenance ---

// Checkpoint forces a WAL checkpoint to consolidate the WAL file into the
// main database.
func (s *SQLiteStore) Checkpoint() error {
	s.logger.Debug("running WAL checkpoint")

	_, err := s.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}

	return nil
}

// Close closes all prepared statements and the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing document store")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

// closeStatements closes all prepared statements, collecting errors.
func (s *SQLiteStore) closeStatements() error {
	stmts := []*sql.Stmt{
		s.docStmts.upsert, s.docStmts.getID, s.docStmts.get,
		s.docStmts.list, s.docStmts.count, s.docStmts.deleteByPath,
		s.markerStmts.insert, s.markerStmts.deleteByDoc,
		s.markerStmts.listByDoc, s.markerStmts.listByProject,
		s.markerStmts.resolve,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close statements: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// --- StoreManager ---

// StoreManager opens at most one store per database file. Projects in
// shared store mode resolve to the same file and therefore the same
// adapter, whose write mutex serializes their reconciliation passes.
// Stores live until CloseAll; a project removed on reload keeps its
// store open for the remaining sharers.
type StoreManager struct {
	mu     sync.Mutex
	logger *slog.Logger
	stores map[string]*SQLiteStore
}

// NewStoreManager creates an empty manager.
func NewStoreManager(logger *slog.Logger) *StoreManager {
	return &StoreManager{
		logger: logger,
		stores: make(map[string]*SQLiteStore),
	}
}

// Get returns the store for dbPath, opening it on first use. Paths are
// normalized so dedup works across spellings of the same file.
func (m *StoreManager) Get(dbPath string) (*SQLiteStore, error) {
	key := dbPath
	if dbPath != ":memory:" {
		abs, err := filepath.Abs(dbPath)
		if err != nil {
			return nil, fmt.Errorf("resolve store path %s: %w", dbPath, err)
		}

		key = filepath.Clean(abs)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[key]; ok {
		return store, nil
	}

	if key != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(key), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	store, err := NewSQLiteStore(key, m.logger)
	if err != nil {
		return nil, err
	}

	m.stores[key] = store

	return store, nil
}

// Checkpoint flushes every open store's WAL.
func (m *StoreManager) Checkpoint() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []string

	for path, store := range m.stores {
		if err := store.Checkpoint(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", path, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("checkpoint stores: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CloseAll closes every open store. The manager is unusable afterwards.
func (m *StoreManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []string

	for path, store := range m.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", path, err))
		}
	}

	m.stores = make(map[string]*SQLiteStore)

	if len(errs) > 0 {
		return fmt.Errorf("close stores: %s", strings.Join(errs, "; "))
	}

	return nil
}
