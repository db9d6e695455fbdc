package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func newTestScanner(t *testing.T) *Scanner {
	t.Helper()

	filter := NewFilter(nil, nil, testLogger(t))

	return NewScanner(filter, testLogger(t))
}

func writeTestFile(t *testing.T, root, relPath, content string) {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", relPath, err)
	}
}

func TestScanFile_PlainDocument(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	content := "# Notes\n\nJust prose, no metadata.\n"
	writeTestFile(t, root, "notes.md", content)

	scanner := newTestScanner(t)

	doc, err := scanner.ScanFile(root, "notes.md")
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}

	sum := sha256.Sum256([]byte(content))
	if doc.Fingerprint != hex.EncodeToString(sum[:]) {
		t.Errorf("Fingerprint = %q, want sha256 of content", doc.Fingerprint)
	}

	if doc.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", doc.Size, len(content))
	}

	if doc.Filename != "notes.md" {
		t.Errorf("Filename = %q", doc.Filename)
	}

	if doc.HasFrontMatter {
		t.Error("HasFrontMatter = true, want false")
	}

	if doc.FrontMatter.Status != DefaultStatus {
		t.Errorf("Status = %q, want default", doc.FrontMatter.Status)
	}

	if len(doc.Markers) != 0 {
		t.Errorf("Markers = %v, want none", doc.Markers)
	}
}

func TestScanFile_FrontMatterAndMarkers(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	content := `---
status: review
version: 1.2.0
---
# Design

<!-- NOTE: revisit the retry budget -->

Some prose.
<!-- AI: generated section below -->
`
	writeTestFile(t, root, "docs/design.md", content)

	scanner := newTestScanner(t)

	doc, err := scanner.ScanFile(root, "docs/design.md")
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}

	if !doc.HasFrontMatter {
		t.Fatal("HasFrontMatter = false, want true")
	}

	if doc.FrontMatter.Status != "review" {
		t.Errorf("Status = %q, want review", doc.FrontMatter.Status)
	}

	if len(doc.Markers) != 2 {
		t.Fatalf("len(Markers) = %d, want 2 (%v)", len(doc.Markers), doc.Markers)
	}

	if doc.Markers[0].Kind != MarkerHuman || doc.Markers[0].Line != 7 {
		t.Errorf("Markers[0] = %+v, want human at line 7", doc.Markers[0])
	}

	if doc.Markers[0].Text != "revisit the retry budget" {
		t.Errorf("Markers[0].Text = %q", doc.Markers[0].Text)
	}

	if doc.Markers[1].Kind != MarkerAgent || doc.Markers[1].Line != 10 {
		t.Errorf("Markers[1] = %+v, want agent at line 10", doc.Markers[1])
	}
}

func TestScanFile_MarkersInsideFrontMatterIgnored(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	content := `---
summary: "<!-- NOTE: not a marker -->"
---
<!-- NOTE: real marker -->
`
	writeTestFile(t, root, "a.md", content)

	scanner := newTestScanner(t)

	doc, err := scanner.ScanFile(root, "a.md")
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}

	if len(doc.Markers) != 1 {
		t.Fatalf("len(Markers) = %d, want 1 (%v)", len(doc.Markers), doc.Markers)
	}

	if doc.Markers[0].Line != 4 || doc.Markers[0].Text != "real marker" {
		t.Errorf("Markers[0] = %+v", doc.Markers[0])
	}
}

func TestScanFile_MarkerTagsCaseInsensitive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTestFile(t, root, "a.md", "<!-- Note: mixed case -->\n<!-- ai: lower -->\n")

	scanner := newTestScanner(t)

	doc, err := scanner.ScanFile(root, "a.md")
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}

	if len(doc.Markers) != 2 {
		t.Fatalf("len(Markers) = %d, want 2", len(doc.Markers))
	}

	if doc.Markers[0].Kind != MarkerHuman {
		t.Errorf("Markers[0].Kind = %q, want human", doc.Markers[0].Kind)
	}

	if doc.Markers[1].Kind != MarkerAgent {
		t.Errorf("Markers[1].Kind = %q, want agent", doc.Markers[1].Kind)
	}
}

func TestScanFile_MultipleMarkersOneLine(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTestFile(t, root, "a.md", "<!-- NOTE: first --> text <!-- NOTE: second -->\n")

	scanner := newTestScanner(t)

	doc, err := scanner.ScanFile(root, "a.md")
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}

	if len(doc.Markers) != 2 {
		t.Fatalf("len(Markers) = %d, want 2", len(doc.Markers))
	}

	if doc.Markers[0].Text != "first" || doc.Markers[1].Text != "second" {
		t.Errorf("texts = %q, %q", doc.Markers[0].Text, doc.Markers[1].Text)
	}

	if doc.Markers[0].Line != 1 || doc.Markers[1].Line != 1 {
		t.Errorf("lines = %d, %d, want both 1", doc.Markers[0].Line, doc.Markers[1].Line)
	}
}

func TestScanFile_MissingFile(t *testing.T) {
	t.Parallel()

	scanner := newTestScanner(t)

	_, err := scanner.ScanFile(t.TempDir(), "gone.md")
	if err == nil {
		t.Fatal("ScanFile on missing file: want error, got nil")
	}
}

func TestScanRoot_WalksTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTestFile(t, root, "readme.md", "# top\n")
	writeTestFile(t, root, "docs/guide.md", "# guide\n")
	writeTestFile(t, root, "docs/deep/spec.feature", "Feature: deep\n")
	writeTestFile(t, root, "main.go", "package main\n")
	writeTestFile(t, root, "node_modules/pkg/readme.md", "# vendored\n")

	scanner := newTestScanner(t)

	docs, skipped, err := scanner.ScanRoot(context.Background(), root)
	if err != nil {
		t.Fatalf("ScanRoot: %v", err)
	}

	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}

	want := []string{"docs/deep/spec.feature", "docs/guide.md", "readme.md"}
	if len(docs) != len(want) {
		t.Fatalf("len(docs) = %d, want %d (%v)", len(docs), len(want), docs)
	}

	for _, rel := range want {
		if _, ok := docs[rel]; !ok {
			t.Errorf("missing %s in scan results", rel)
		}
	}
}

func TestScanRoot_DeniedDirPruned(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTestFile(t, root, "keep.md", "# keep\n")
	writeTestFile(t, root, "build/out.md", "# generated\n")

	filter := NewFilter(nil, []string{"build/"}, testLogger(t))
	scanner := NewScanner(filter, testLogger(t))

	docs, _, err := scanner.ScanRoot(context.Background(), root)
	if err != nil {
		t.Fatalf("ScanRoot: %v", err)
	}

	if _, ok := docs["build/out.md"]; ok {
		t.Error("build/out.md scanned, want pruned")
	}

	if _, ok := docs["keep.md"]; !ok {
		t.Error("keep.md missing from scan results")
	}
}

func TestScanRoot_MissingRoot(t *testing.T) {
	t.Parallel()

	scanner := newTestScanner(t)

	_, _, err := scanner.ScanRoot(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatal("ScanRoot on missing root: want error, got nil")
	}
}

func TestScanRoot_CancelledContext(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTestFile(t, root, "a.md", "# a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := newTestScanner(t)

	_, _, err := scanner.ScanRoot(ctx, root)
	if err == nil {
		t.Fatal("ScanRoot with cancelled context: want error, got nil")
	}
}
