package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// Marker syntaxes. A line can carry several markers; each match records the
// 1-based file line and the inner text. Tags are case-insensitive.
var (
	humanMarkerRe = regexp.MustCompile(`<!--\s*(?i:note):\s*(.*?)\s*-->`)
	agentMarkerRe = regexp.MustCompile(`<!--\s*(?i:ai):\s*(.*?)\s*-->`)
)

// Scanner turns files under a project root into DocumentScan candidates.
// It holds no store state; the reconciler decides what the results mean.
type Scanner struct {
	filter *Filter
	logger *slog.Logger
}

// NewScanner creates a scanner that tracks paths accepted by filter.
func NewScanner(filter *Filter, logger *slog.Logger) *Scanner {
	return &Scanner{filter: filter, logger: logger}
}

// ScanRoot walks root and scans every tracked file, returning candidates
// keyed by slash-separated relative path plus the number of files skipped
// because they could not be read. Denied directories are pruned from the
// walk; unreadable files and subdirectories are skipped with a warning.
func (s *Scanner) ScanRoot(ctx context.Context, root string) (map[string]*DocumentScan, int, error) {
	results := make(map[string]*DocumentScan)
	skipped := 0

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if p == root {
				return err
			}

			// A subtree that cannot be read is skipped, not fatal.
			s.logger.Warn("skipping unreadable path during walk", "path", p, "error", err)

			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return fmt.Errorf("relativize %s: %w", p, relErr)
		}

		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if !s.filter.ShouldTrack(rel, true) {
				return fs.SkipDir
			}

			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		if !s.filter.ShouldTrack(rel, false) {
			return nil
		}

		scan, scanErr := s.ScanFile(root, rel)
		if scanErr != nil {
			s.logger.Warn("skipping unreadable file", "path", rel, "error", scanErr)
			skipped++

			return nil
		}

		results[rel] = scan

		return nil
	})
	if walkErr != nil {
		return nil, skipped, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	s.logger.Debug("scan complete", "root", root, "documents", len(results), "skipped", skipped)

	return results, skipped, nil
}

// ScanFile reads and parses a single file into a candidate record. The
// returned error means the file could not be read (permissions, deleted
// mid-scan); callers treat it as a skip, never as a fatal fault.
func (s *Scanner) ScanFile(root, relPath string) (*DocumentScan, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", relPath, err)
	}

	sum := sha256.Sum256(data)
	rel := filepath.ToSlash(relPath)

	fm, bodyStart, hasFM := splitFrontMatter(data, rel, s.logger)

	return &DocumentScan{
		RelPath:        rel,
		Filename:       path.Base(rel),
		Fingerprint:    hex.EncodeToString(sum[:]),
		Size:           int64(len(data)),
		FrontMatter:    fm,
		HasFrontMatter: hasFM,
		Markers:        extractMarkers(string(data), bodyStart),
	}, nil
}

// extractMarkers scans body lines for the two marker syntaxes. bodyStart is
// the 1-based file line where the body begins, so reported line numbers are
// positions in the file, not offsets into the body.
func extractMarkers(content string, bodyStart int) []MarkerScan {
	var markers []MarkerScan

	lines := strings.Split(content, "\n")
	for i := bodyStart - 1; i >= 0 && i < len(lines); i++ {
		lineNo := i + 1

		for _, m := range humanMarkerRe.FindAllStringSubmatch(lines[i], -1) {
			markers = append(markers, MarkerScan{Kind: MarkerHuman, Line: lineNo, Text: m[1]})
		}

		for _, m := range agentMarkerRe.FindAllStringSubmatch(lines[i], -1) {
			markers = append(markers, MarkerScan{Kind: MarkerAgent, Line: lineNo, Text: m[1]})
		}
	}

	return markers
}
