package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// projectSectionName is the TOML table that holds project registrations.
const projectSectionName = "project"

// knownSectionKeys maps each global section to its valid keys.
var knownSectionKeys = map[string]map[string]bool{
	"logging": {
		"log_level": true, "log_file": true, "log_format": true,
		"log_max_size_mb": true, "log_max_backups": true,
	},
	"scan": {
		"allow_patterns": true, "ignore_file": true,
	},
	"daemon": {
		"shutdown_timeout": true, "status_interval": true,
	},
}

// knownProjectKeys are the valid keys inside a [project.<key>] section.
var knownProjectKeys = map[string]bool{
	"root": true, "store": true, "allow_patterns": true, "ignore_file": true,
}

// knownSectionNames is the sorted list of valid top-level sections, used for
// Levenshtein matching against misspelled section headers.
var knownSectionNames = func() []string {
	names := make([]string, 0, len(knownSectionKeys)+1)
	for name := range knownSectionKeys {
		names = append(names, name)
	}

	names = append(names, projectSectionName)
	sort.Strings(names)

	return names
}()

// sortedKeys returns the sorted slice form of a key set for deterministic
// suggestions when two candidates have the same edit distance.
func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		if err := buildUnknownKeyError(key.String()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// buildUnknownKeyError creates a descriptive error for an undecoded key,
// suggesting the closest known key within the relevant section.
func buildUnknownKeyError(keyStr string) error {
	parts := strings.Split(keyStr, ".")
	section := parts[0]

	// A bare top-level key is either a misspelled section header or a key
	// that belongs inside a section.
	if len(parts) == 1 {
		if suggestion := closestMatch(section, knownSectionNames); suggestion != "" {
			return fmt.Errorf("unknown config section %q (did you mean [%s]?)", section, suggestion)
		}

		return fmt.Errorf("unknown config key %q", keyStr)
	}

	// Keys inside a project section: project.<key>.<field>.
	if section == projectSectionName {
		leaf := parts[len(parts)-1]
		if suggestion := closestMatch(leaf, sortedKeys(knownProjectKeys)); suggestion != "" {
			return fmt.Errorf("unknown key %q in %q (did you mean %q?)",
				leaf, strings.Join(parts[:len(parts)-1], "."), suggestion)
		}

		return fmt.Errorf("unknown key %q in %q", leaf, strings.Join(parts[:len(parts)-1], "."))
	}

	// Keys inside a known global section.
	if known, ok := knownSectionKeys[section]; ok {
		leaf := parts[len(parts)-1]
		if suggestion := closestMatch(leaf, sortedKeys(known)); suggestion != "" {
			return fmt.Errorf("unknown key %q in [%s] (did you mean %q?)", leaf, section, suggestion)
		}

		return fmt.Errorf("unknown key %q in [%s]", leaf, section)
	}

	// An entire unknown section.
	if suggestion := closestMatch(section, knownSectionNames); suggestion != "" {
		return fmt.Errorf("unknown config section %q (did you mean [%s]?)", section, suggestion)
	}

	return fmt.Errorf("unknown config section %q", section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
