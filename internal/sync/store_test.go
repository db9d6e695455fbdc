package sync

import (
	"context"
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates an in-memory SQLiteStore for testing.
// Uses testLogger from filter_test.go (same package).
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(":memory:", testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

// makeDocScan creates a minimal DocumentScan with defaults populated.
func makeDocScan(relPath, fingerprint string) *DocumentScan {
	return &DocumentScan{
		RelPath:     relPath,
		Filename:    path.Base(relPath),
		Fingerprint: fingerprint,
		Size:        int64(len(fingerprint)),
		FrontMatter: FrontMatter{
			Status:  DefaultStatus,
			Version: DefaultVersion,
		},
	}
}

func TestNewSQLiteStore(t *testing.T) {
	t.Run("opens in-memory database", func(t *testing.T) {
		store := newTestStore(t)
		assert.NotNil(t, store.db)
	})

	t.Run("migration creates tables", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()

		for _, table := range []string{"documents", "markers"} {
			var name string
			err := store.db.QueryRowContext(ctx,
				"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
				table).Scan(&name)
			require.NoError(t, err, "table %s missing", table)
			assert.Equal(t, table, name)
		}
	})

	t.Run("foreign keys enabled", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()

		var on int
		err := store.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&on)
		require.NoError(t, err)
		assert.Equal(t, 1, on)
	})
}

func TestApply_InsertDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	scan := makeDocScan("docs/a.md", "fp-a")
	scan.FrontMatter.Summary = "design notes"
	scan.FrontMatter.Modules = []string{"core", "api"}
	scan.FrontMatter.DependsOn = []string{"docs/b.md"}
	scan.FrontMatter.Authors = []string{"ann"}
	scan.FrontMatter.Extra = map[string]any{"owner": "platform"}
	scan.FrontMatter.Raw = "---\nsummary: design notes\n---\n"
	scan.HasFrontMatter = true
	scan.Markers = []MarkerScan{
		{Kind: MarkerHuman, Line: 4, Text: "revisit wording"},
		{Kind: MarkerAgent, Line: 9, Text: "verify example"},
	}

	set := &ChangeSet{Upserts: []*DocumentScan{scan, makeDocScan("zz.md", "fp-z")}}
	require.NoError(t, store.Apply(ctx, "proj", set))

	count, err := store.CountDocuments(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	docs, err := store.ListDocuments(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, docs, 2)

	// Ordered by rel_path.
	doc := docs[0]
	assert.Equal(t, "docs/a.md", doc.RelPath)
	assert.Equal(t, "a.md", doc.Filename)
	assert.Equal(t, "fp-a", doc.Fingerprint)
	assert.Equal(t, DefaultStatus, doc.Status)
	assert.Equal(t, DefaultVersion, doc.Version)
	assert.Equal(t, "design notes", doc.Summary)
	assert.Equal(t, []string{"core", "api"}, doc.Modules)
	assert.Equal(t, []string{"docs/b.md"}, doc.DependsOn)
	assert.Equal(t, []string{"ann"}, doc.Authors)
	assert.Equal(t, map[string]any{"owner": "platform"}, doc.Extra)
	assert.True(t, doc.HasFrontMatter)
	assert.Positive(t, doc.LastScannedAt)
	assert.Positive(t, doc.CreatedAt)

	markers, err := store.ListMarkers(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, markers, 2)
	assert.Equal(t, MarkerHuman, markers[0].Kind)
	assert.Equal(t, 4, markers[0].Line)
	assert.Equal(t, "revisit wording", markers[0].Text)
	assert.False(t, markers[0].Resolved)
	assert.Equal(t, MarkerAgent, markers[1].Kind)
}

func TestApply_EmptySet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Apply(ctx, "proj", &ChangeSet{}))
	require.NoError(t, store.Apply(ctx, "proj", nil))

	count, err := store.CountDocuments(ctx, "proj")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestApply_UpdatePreservesCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Apply(ctx, "proj",
		&ChangeSet{Upserts: []*DocumentScan{makeDocScan("a.md", "fp-1")}}))

	before, err := store.GetDocument(ctx, "proj", "a.md")
	require.NoError(t, err)
	require.NotNil(t, before)

	require.NoError(t, store.Apply(ctx, "proj",
		&ChangeSet{Upserts: []*DocumentScan{makeDocScan("a.md", "fp-2")}}))

	after, err := store.GetDocument(ctx, "proj", "a.md")
	require.NoError(t, err)
	require.NotNil(t, after)

	assert.Equal(t, "fp-2", after.Fingerprint)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, before.ID, after.ID, "update must not change row identity")
	assert.GreaterOrEqual(t, after.UpdatedAt, before.UpdatedAt)
	assert.GreaterOrEqual(t, after.LastScannedAt, before.LastScannedAt)
}

func TestApply_DeleteCascadesMarkers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	scan := makeDocScan("a.md", "fp-1")
	scan.Markers = []MarkerScan{{Kind: MarkerHuman, Line: 2, Text: "check"}}
	require.NoError(t, store.Apply(ctx, "proj", &ChangeSet{Upserts: []*DocumentScan{scan}}))

	require.NoError(t, store.Apply(ctx, "proj", &ChangeSet{Deletes: []string{"a.md"}}))

	doc, err := store.GetDocument(ctx, "proj", "a.md")
	require.NoError(t, err)
	assert.Nil(t, doc)

	markers, err := store.ListProjectMarkers(ctx, "proj")
	require.NoError(t, err)
	assert.Empty(t, markers, "markers must cascade with the document")
}

func TestApply_MarkerResolvedCarryover(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	scan := makeDocScan("a.md", "fp-1")
	scan.Markers = []MarkerScan{{Kind: MarkerHuman, Line: 3, Text: "fix heading"}}
	require.NoError(t, store.Apply(ctx, "proj", &ChangeSet{Upserts: []*DocumentScan{scan}}))

	doc, err := store.GetDocument(ctx, "proj", "a.md")
	require.NoError(t, err)
	markers, err := store.ListMarkers(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, markers, 1)

	require.NoError(t, store.ResolveMarker(ctx, "proj", markers[0].ID, true))

	t.Run("identical marker survives a rescan resolved", func(t *testing.T) {
		rescanned := makeDocScan("a.md", "fp-2")
		rescanned.Markers = []MarkerScan{{Kind: MarkerHuman, Line: 3, Text: "fix heading"}}
		require.NoError(t, store.Apply(ctx, "proj", &ChangeSet{Upserts: []*DocumentScan{rescanned}}))

		after, err := store.ListMarkers(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.True(t, after[0].Resolved)
		assert.Equal(t, markers[0].CreatedAt, after[0].CreatedAt)
	})

	t.Run("changed text resets resolved", func(t *testing.T) {
		rescanned := makeDocScan("a.md", "fp-3")
		rescanned.Markers = []MarkerScan{{Kind: MarkerHuman, Line: 3, Text: "fix heading properly"}}
		require.NoError(t, store.Apply(ctx, "proj", &ChangeSet{Upserts: []*DocumentScan{rescanned}}))

		after, err := store.ListMarkers(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.False(t, after[0].Resolved)
	})
}

func TestApply_MarkerMovedLineResetsResolved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	scan := makeDocScan("a.md", "fp-1")
	scan.Markers = []MarkerScan{{Kind: MarkerAgent, Line: 5, Text: "expand section"}}
	require.NoError(t, store.Apply(ctx, "proj", &ChangeSet{Upserts: []*DocumentScan{scan}}))

	doc, err := store.GetDocument(ctx, "proj", "a.md")
	require.NoError(t, err)
	markers, err := store.ListMarkers(ctx, doc.ID)
	require.NoError(t, err)
	require.NoError(t, store.ResolveMarker(ctx, "proj", markers[0].ID, true))

	moved := makeDocScan("a.md", "fp-2")
	moved.Markers = []MarkerScan{{Kind: MarkerAgent, Line: 8, Text: "expand section"}}
	require.NoError(t, store.Apply(ctx, "proj", &ChangeSet{Upserts: []*DocumentScan{moved}}))

	after, err := store.ListMarkers(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, 8, after[0].Line)
	assert.False(t, after[0].Resolved, "identity includes the line number")
}

func TestApply_RollbackOnFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Apply(ctx, "proj",
		&ChangeSet{Upserts: []*DocumentScan{makeDocScan("a.md", "fp-old")}}))

	// The second upsert violates the marker kind CHECK constraint, so the
	// whole pass must roll back, including the first upsert.
	bad := makeDocScan("a.md", "fp-new")
	bad.Markers = []MarkerScan{{Kind: MarkerKind("robot"), Line: 1, Text: "invalid"}}

	set := &ChangeSet{
		Upserts: []*DocumentScan{makeDocScan("b.md", "fp-b"), bad},
	}
	require.Error(t, store.Apply(ctx, "proj", set))

	doc, err := store.GetDocument(ctx, "proj", "a.md")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "fp-old", doc.Fingerprint, "failed pass must not change existing rows")

	added, err := store.GetDocument(ctx, "proj", "b.md")
	require.NoError(t, err)
	assert.Nil(t, added, "failed pass must not leave partial inserts")
}

func TestApply_ProjectIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Apply(ctx, "alpha",
		&ChangeSet{Upserts: []*DocumentScan{makeDocScan("shared.md", "fp-alpha")}}))
	require.NoError(t, store.Apply(ctx, "beta",
		&ChangeSet{Upserts: []*DocumentScan{makeDocScan("shared.md", "fp-beta")}}))

	// Deleting alpha's path must not touch beta's row.
	require.NoError(t, store.Apply(ctx, "alpha", &ChangeSet{Deletes: []string{"shared.md"}}))

	gone, err := store.GetDocument(ctx, "alpha", "shared.md")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := store.GetDocument(ctx, "beta", "shared.md")
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, "fp-beta", kept.Fingerprint)
}

func TestGetDocument_NotFound(t *testing.T) {
	store := newTestStore(t)

	doc, err := store.GetDocument(context.Background(), "proj", "missing.md")
	assert.NoError(t, err)
	assert.Nil(t, doc)
}

func TestResolveMarker_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.ResolveMarker(ctx, "proj", 12345, true)
	assert.ErrorIs(t, err, ErrMarkerNotFound)

	// A marker ID from another project is out of scope too.
	scan := makeDocScan("a.md", "fp-1")
	scan.Markers = []MarkerScan{{Kind: MarkerHuman, Line: 1, Text: "x"}}
	require.NoError(t, store.Apply(ctx, "alpha", &ChangeSet{Upserts: []*DocumentScan{scan}}))

	markers, err := store.ListProjectMarkers(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, markers, 1)

	err = store.ResolveMarker(ctx, "beta", markers[0].ID, true)
	assert.ErrorIs(t, err, ErrMarkerNotFound)
}

func TestListProjectMarkers_Ordering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := makeDocScan("a.md", "fp-a")
	first.Markers = []MarkerScan{
		{Kind: MarkerHuman, Line: 9, Text: "later"},
		{Kind: MarkerHuman, Line: 2, Text: "earlier"},
	}

	second := makeDocScan("b.md", "fp-b")
	second.Markers = []MarkerScan{{Kind: MarkerAgent, Line: 1, Text: "other doc"}}

	require.NoError(t, store.Apply(ctx, "proj",
		&ChangeSet{Upserts: []*DocumentScan{second, first}}))

	markers, err := store.ListProjectMarkers(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, markers, 3)

	assert.Equal(t, "earlier", markers[0].Text)
	assert.Equal(t, "later", markers[1].Text)
	assert.Equal(t, "other doc", markers[2].Text)
}

func TestCheckpoint(t *testing.T) {
	dir := t.TempDir()

	store, err := NewSQLiteStore(filepath.Join(dir, "index.db"), testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	require.NoError(t, store.Apply(context.Background(), "proj",
		&ChangeSet{Upserts: []*DocumentScan{makeDocScan("a.md", "fp-1")}}))

	assert.NoError(t, store.Checkpoint())
}

func TestStoreManager(t *testing.T) {
	dir := t.TempDir()
	manager := NewStoreManager(testLogger(t))

	t.Cleanup(func() {
		require.NoError(t, manager.CloseAll())
	})

	t.Run("same path yields same instance", func(t *testing.T) {
		a, err := manager.Get(filepath.Join(dir, "one.db"))
		require.NoError(t, err)
		b, err := manager.Get(filepath.Join(dir, "one.db"))
		require.NoError(t, err)
		assert.Same(t, a, b)
	})

	t.Run("unclean spelling of same path dedups", func(t *testing.T) {
		a, err := manager.Get(filepath.Join(dir, "two.db"))
		require.NoError(t, err)
		b, err := manager.Get(dir + "/sub/../two.db")
		require.NoError(t, err)
		assert.Same(t, a, b)
	})

	t.Run("different paths yield different instances", func(t *testing.T) {
		a, err := manager.Get(filepath.Join(dir, "one.db"))
		require.NoError(t, err)
		b, err := manager.Get(filepath.Join(dir, "three.db"))
		require.NoError(t, err)
		assert.NotSame(t, a, b)
	})
}
