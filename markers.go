package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/docmirror/docmirror/internal/sync"
)

// openProjectStore resolves a registered project and opens its store for a
// read-mostly CLI query. The cleanup closes the underlying manager.
func openProjectStore(cc *CLIContext, key string) (*sync.Project, *sync.SQLiteStore, func(), error) {
	p := cc.Cfg.ResolveProject(key)
	if p == nil {
		return nil, nil, nil, fmt.Errorf("project %q is not registered (see 'docmirror projects')", key)
	}

	stores := sync.NewStoreManager(cc.Logger)

	store, err := stores.Get(p.StorePath)
	if err != nil {
		stores.CloseAll()

		return nil, nil, nil, fmt.Errorf("opening store: %w", err)
	}

	cleanup := func() {
		if err := stores.CloseAll(); err != nil {
			cc.Logger.Warn("closing store", "error", err)
		}
	}

	return p, store, cleanup, nil
}

// docListing is the JSON shape for the docs command.
type docListing struct {
	Path           string         `json:"path"`
	Filename       string         `json:"filename"`
	Status         string         `json:"status"`
	Version        string         `json:"version"`
	Summary        string         `json:"summary,omitempty"`
	Modules        []string       `json:"modules,omitempty"`
	DependsOn      []string       `json:"depends_on,omitempty"`
	Authors        []string       `json:"authors,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
	Fingerprint    string         `json:"fingerprint"`
	Size           int64          `json:"size"`
	HasFrontMatter bool           `json:"has_front_matter"`
	ScannedAt      string         `json:"scanned_at"`
	UpdatedAt      string         `json:"updated_at"`
}

func newDocsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "docs <key>",
		Short: "List a project's mirrored documents",
		Long: `List every document currently mirrored in the project's store, with
the metadata extracted from front matter.

The listing reflects the last reconciliation pass, not the live tree; run
'docmirror scan <key>' first if no daemon is keeping the store current.`,
		Args: cobra.ExactArgs(1),
		RunE: runDocs,
	}
}

func runDocs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	p, store, cleanup, err := openProjectStore(cc, args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	docs, err := store.ListDocuments(cmd.Context(), p.Key)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}

	if len(docs) == 0 && !cc.Flags.JSON {
		fmt.Printf("No documents mirrored for project %s. Run 'docmirror scan %s' first.\n", p.Key, p.Key)

		return nil
	}

	if cc.Flags.JSON {
		listings := make([]docListing, 0, len(docs))
		for _, d := range docs {
			listings = append(listings, docListing{
				Path:           d.RelPath,
				Filename:       d.Filename,
				Status:         d.Status,
				Version:        d.Version,
				Summary:        d.Summary,
				Modules:        d.Modules,
				DependsOn:      d.DependsOn,
				Authors:        d.Authors,
				Extra:          d.Extra,
				Fingerprint:    d.Fingerprint,
				Size:           d.Size,
				HasFrontMatter: d.HasFrontMatter,
				ScannedAt:      formatUnixNano(d.LastScannedAt),
				UpdatedAt:      formatUnixNano(d.UpdatedAt),
			})
		}

		return printJSON(listings)
	}

	headers := []string{"PATH", "STATUS", "VERSION", "SIZE", "MODIFIED"}
	rows := make([][]string, 0, len(docs))

	for _, d := range docs {
		rows = append(rows, []string{
			d.RelPath,
			d.Status,
			d.Version,
			formatSize(d.Size),
			formatTime(time.Unix(0, d.UpdatedAt)),
		})
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

// markerListing is the JSON shape for the markers command.
type markerListing struct {
	ID       int64  `json:"id"`
	Document string `json:"document"`
	Line     int    `json:"line"`
	Kind     string `json:"kind"`
	Text     string `json:"text"`
	Resolved bool   `json:"resolved"`
}

func newMarkersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "markers <key>",
		Short: "List a project's annotation markers",
		Long: `List the inline annotation markers extracted from the project's
documents, with their anchor position and resolved state.

Use 'docmirror resolve' to flip a marker's resolved flag.`,
		Args: cobra.ExactArgs(1),
		RunE: runMarkers,
	}
}

func runMarkers(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	p, store, cleanup, err := openProjectStore(cc, args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	markers, err := store.ListProjectMarkers(cmd.Context(), p.Key)
	if err != nil {
		return fmt.Errorf("listing markers: %w", err)
	}

	if len(markers) == 0 && !cc.Flags.JSON {
		fmt.Printf("No markers recorded for project %s.\n", p.Key)

		return nil
	}

	// Marker rows carry document IDs; map them back to paths for display.
	docs, err := store.ListDocuments(cmd.Context(), p.Key)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}

	pathByID := make(map[int64]string, len(docs))
	for _, d := range docs {
		pathByID[d.ID] = d.RelPath
	}

	if cc.Flags.JSON {
		listings := make([]markerListing, 0, len(markers))
		for _, m := range markers {
			listings = append(listings, markerListing{
				ID:       m.ID,
				Document: pathByID[m.DocumentID],
				Line:     m.Line,
				Kind:     string(m.Kind),
				Text:     m.Text,
				Resolved: m.Resolved,
			})
		}

		return printJSON(listings)
	}

	headers := []string{"ID", "WHERE", "KIND", "RESOLVED", "TEXT"}
	rows := make([][]string, 0, len(markers))

	for _, m := range markers {
		resolved := "no"
		if m.Resolved {
			resolved = "yes"
		}

		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10),
			fmt.Sprintf("%s:%d", pathByID[m.DocumentID], m.Line),
			string(m.Kind),
			resolved,
			m.Text,
		})
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

func newResolveCmd() *cobra.Command {
	var unresolve bool

	cmd := &cobra.Command{
		Use:   "resolve <key> <marker-id>",
		Short: "Mark an annotation marker as resolved",
		Long: `Set a marker's resolved flag. The flag is user-controlled: rescans
preserve it as long as the marker text stays put in the document.

Marker IDs come from 'docmirror markers <key>'.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, args[0], args[1], !unresolve)
		},
	}

	cmd.Flags().BoolVar(&unresolve, "unresolve", false, "clear the resolved flag instead of setting it")

	return cmd
}

func runResolve(cmd *cobra.Command, key, rawID string, resolved bool) error {
	cc := mustCLIContext(cmd.Context())

	markerID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid marker ID %q: %w", rawID, err)
	}

	p, store, cleanup, err := openProjectStore(cc, key)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.ResolveMarker(cmd.Context(), p.Key, markerID, resolved); err != nil {
		return fmt.Errorf("updating marker %d: %w", markerID, err)
	}

	if resolved {
		fmt.Printf("Marker %d resolved.\n", markerID)
	} else {
		fmt.Printf("Marker %d reopened.\n", markerID)
	}

	return nil
}

// formatUnixNano renders a Unix-nanosecond timestamp as RFC 3339 UTC.
func formatUnixNano(ns int64) string {
	if ns == 0 {
		return ""
	}

	return time.Unix(0, ns).UTC().Format(time.RFC3339)
}
