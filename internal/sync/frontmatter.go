package sync

import (
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"
)

// Documented defaults for recognized front-matter fields.
const (
	DefaultStatus  = "draft"
	DefaultVersion = "0.1.0"
)

// frontMatterDelim is the line that opens and closes a front-matter block.
const frontMatterDelim = "---"

// defaultFrontMatter returns the field values used when a document has no
// front matter or omits a recognized key.
func defaultFrontMatter() FrontMatter {
	return FrontMatter{
		Status:  DefaultStatus,
		Version: DefaultVersion,
	}
}

// splitFrontMatter extracts the leading front-matter block from a document.
// It returns the parsed fields, the 1-based line number where the body
// starts, and whether a block was found. Malformed or unterminated blocks
// degrade to "no front matter" with a diagnostic log; they never fail a scan.
func splitFrontMatter(data []byte, path string, logger *slog.Logger) (FrontMatter, int, bool) {
	fm := defaultFrontMatter()

	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r") != frontMatterDelim {
		return fm, 1, false
	}

	closing := -1

	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r") == frontMatterDelim {
			closing = i
			break
		}
	}

	if closing < 0 {
		logger.Debug("unterminated front-matter block, treating as content", "path", path)
		return fm, 1, false
	}

	// Strip CR terminators so CRLF files parse as clean YAML.
	blockLines := make([]string, 0, closing-1)
	for _, l := range lines[1:closing] {
		blockLines = append(blockLines, strings.TrimRight(l, "\r"))
	}

	block := strings.Join(blockLines, "\n")

	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(block), &parsed); err != nil {
		logger.Debug("malformed front matter, treating as content", "path", path, "error", err)
		return fm, 1, false
	}

	fm.Raw = strings.Join(lines[:closing+1], "\n")
	populateFrontMatter(&fm, parsed)

	// The body begins on the line after the closing delimiter.
	return fm, closing + 2, true
}

// populateFrontMatter fills recognized fields from the parsed mapping and
// collects everything else verbatim into Extra.
func populateFrontMatter(fm *FrontMatter, parsed map[string]any) {
	for key, value := range parsed {
		switch key {
		case "status":
			if s := stringValue(value); s != "" {
				fm.Status = s
			}
		case "version":
			if s := stringValue(value); s != "" {
				fm.Version = s
			}
		case "summary":
			fm.Summary = stringValue(value)
		case "modules":
			fm.Modules = stringListValue(value)
		case "depends_on":
			fm.DependsOn = stringListValue(value)
		case "authors":
			fm.Authors = stringListValue(value)
		default:
			if fm.Extra == nil {
				fm.Extra = make(map[string]any)
			}

			fm.Extra[key] = value
		}
	}
}

// stringValue renders a YAML scalar as a string.
func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// stringListValue accepts both a YAML sequence and a bare scalar, so
// "authors: jdoe" and "authors: [jdoe, asmith]" parse the same way.
func stringListValue(v any) []string {
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, stringValue(item))
		}

		return out
	case nil:
		return nil
	default:
		return []string{stringValue(v)}
	}
}
