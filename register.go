package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docmirror/docmirror/internal/config"
)

func newRegisterCmd() *cobra.Command {
	var (
		storePath string
		shared    bool
	)

	cmd := &cobra.Command{
		Use:   "register <key> <root>",
		Short: "Register a project directory for mirroring",
		Long: `Add a project to the registry: <key> names it, <root> is the directory
tree to mirror.

By default each project gets a dedicated store database under
<root>/.docmirror/. Use --store to point several projects at one shared
database, or --shared to reuse the store of the nearest registered project
whose root contains this one.

A running daemon is notified and picks the project up immediately.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd, args[0], args[1], storePath, shared)
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "", "path to a shared store database")
	cmd.Flags().BoolVar(&shared, "shared", false, "share the nearest registered ancestor project's store")
	cmd.MarkFlagsMutuallyExclusive("store", "shared")

	return cmd
}

func runRegister(cmd *cobra.Command, key, root, storePath string, shared bool) error {
	cc := mustCLIContext(cmd.Context())

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return fmt.Errorf("project root: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("project root %s is not a directory", absRoot)
	}

	store := storePath
	if shared {
		ancestor, ok := nearestAncestorStore(cc.Cfg, absRoot)
		if !ok {
			return fmt.Errorf(
				"--shared: no registered project is an ancestor of %s (use --store to name a database explicitly)",
				absRoot)
		}

		store = ancestor
	}

	// Leave ~ paths for config-time expansion; absolutize the rest so the
	// registry never depends on the daemon's working directory.
	if store != "" && !strings.HasPrefix(store, "~/") {
		store, err = filepath.Abs(store)
		if err != nil {
			return fmt.Errorf("resolving store path: %w", err)
		}
	}

	if err := config.RegisterProject(cc.CfgPath, key, absRoot, store); err != nil {
		return err
	}

	// Reload to report the resolved store path, dedicated or shared.
	cfg, err := config.LoadOrDefault(cc.CfgPath)
	if err != nil {
		return fmt.Errorf("reloading config after registration: %w", err)
	}

	proj := cfg.ResolveProject(key)
	if proj == nil {
		return fmt.Errorf("project %q missing after registration", key)
	}

	fmt.Printf("Registered project %s.\n", key)
	fmt.Printf("  root:  %s\n", proj.Root)
	fmt.Printf("  store: %s\n", proj.StorePath)

	notifyDaemon(cc.Flags.Quiet)

	return nil
}

// nearestAncestorStore returns the resolved store path of the registered
// project whose root is the closest proper ancestor of root. The lookup runs
// against the registry as loaded at startup, before this registration is
// written.
func nearestAncestorStore(cfg *config.Config, root string) (string, bool) {
	bestLen := -1
	bestStore := ""

	for _, p := range cfg.ResolveProjects() {
		rel, err := filepath.Rel(p.Root, root)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}

		if len(p.Root) > bestLen {
			bestLen = len(p.Root)
			bestStore = p.StorePath
		}
	}

	return bestStore, bestLen >= 0
}

func newUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <key>",
		Short: "Remove a project from the registry",
		Long: `Remove a project's section from the config file.

The store database is left on disk; delete it manually once the mirrored
data is no longer needed.`,
		Args: cobra.ExactArgs(1),
		RunE: runUnregister,
	}
}

func runUnregister(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	key := args[0]

	if err := config.UnregisterProject(cc.CfgPath, key); err != nil {
		return err
	}

	fmt.Printf("Unregistered project %s. Store database left untouched.\n", key)

	notifyDaemon(cc.Flags.Quiet)

	return nil
}

// projectListing is the JSON shape for the projects command.
type projectListing struct {
	Key           string   `json:"key"`
	Root          string   `json:"root"`
	Store         string   `json:"store"`
	AllowPatterns []string `json:"allow_patterns,omitempty"`
	IgnoreFile    string   `json:"ignore_file,omitempty"`
}

func newProjectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List registered projects",
		Args:  cobra.NoArgs,
		RunE:  runProjects,
	}
}

func runProjects(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	projects := cc.Cfg.ResolveProjects()
	if len(projects) == 0 && !cc.Flags.JSON {
		fmt.Println("No projects registered. Run 'docmirror register <key> <root>' to add one.")

		return nil
	}

	if cc.Flags.JSON {
		listings := make([]projectListing, 0, len(projects))
		for _, p := range projects {
			listings = append(listings, projectListing{
				Key:           p.Key,
				Root:          p.Root,
				Store:         p.StorePath,
				AllowPatterns: p.AllowPatterns,
				IgnoreFile:    p.IgnoreFile,
			})
		}

		return printJSON(listings)
	}

	headers := []string{"KEY", "ROOT", "STORE"}
	rows := make([][]string, 0, len(projects))

	for _, p := range projects {
		rows = append(rows, []string{p.Key, p.Root, p.StorePath})
	}

	printTable(os.Stdout, headers, rows)

	return nil
}
