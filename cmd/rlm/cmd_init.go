package main

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"rlm/internal/store"
	"rlm/internal/world"
)

// =============================================================================
// SESSION INITIALIZATION
// =============================================================================

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <context_path>",
		Short: "Initialize state from a context file",
		Long: `Reads a single file (logs, configs, data) into a fresh session, replacing
any existing state at --state. Invalid UTF-8 is replaced, not rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: runE(runInit),
	}
	cmd.Flags().Int64("max-bytes", 0, "Cap on bytes read from the context file (0 = no cap)")
	return cmd
}

func newInitDirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-dir <directory>",
		Short: "Initialize state from a directory tree",
		Long: `Concatenates every matching file under the directory into one session,
each preceded by a header naming it. Build, VCS and dependency directories
(.git, node_modules, vendor, ...) are skipped at any depth.`,
		Args: cobra.ExactArgs(1),
		RunE: runE(runInitDir),
	}
	cmd.Flags().String("pattern", "", "Glob for files to include, relative to the directory (default: world.pattern)")
	cmd.Flags().StringSlice("exclude", nil, "Additional directory names to exclude")
	cmd.Flags().Int64("max-bytes", 0, "Stop loading after this many total bytes (0 = no cap)")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	maxBytes, _ := cmd.Flags().GetInt64("max-bytes")

	ctx, err := world.LoadFile(args[0], maxBytes)
	if err != nil {
		return err
	}
	st := sessionStore()
	if err := st.Save(store.NewSession(ctx, store.Source{Kind: store.SourceFile, MaxBytes: maxBytes})); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized RLM REPL state at: %s\n", st.Path())
	fmt.Fprintf(out, "Loaded context: %s (%s chars)\n", ctx.Path, thousands(utf8.RuneCountInString(ctx.Content)))
	return nil
}

func runInitDir(cmd *cobra.Command, args []string) error {
	pattern, _ := cmd.Flags().GetString("pattern")
	extra, _ := cmd.Flags().GetStringSlice("exclude")
	maxBytes, _ := cmd.Flags().GetInt64("max-bytes")
	if pattern == "" {
		pattern = cfg.World.Pattern
	}
	exclude := mergeExclude(cfg.World.ExcludeDirs, extra)

	src := store.Source{Kind: store.SourceDir, Pattern: pattern, Exclude: exclude, MaxBytes: maxBytes}
	ctx, err := world.Reload(cmd.Context(), args[0], src, cfg.World.Workers)
	if err != nil {
		return err
	}
	st := sessionStore()
	if err := st.Save(store.NewSession(ctx, src)); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized RLM REPL state at: %s\n", st.Path())
	fmt.Fprintf(out, "Loaded directory: %s\n", ctx.Path)
	fmt.Fprintf(out, "  Files: %d\n", len(ctx.Files))
	fmt.Fprintf(out, "  Total chars: %s\n", thousands(utf8.RuneCountInString(ctx.Content)))
	fmt.Fprintf(out, "  Excluded dirs: %s\n", strings.Join(exclude, ", "))
	return nil
}

// mergeExclude returns the sorted union of the configured and extra names.
func mergeExclude(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	var out []string
	for _, list := range [][]string{base, extra} {
		for _, name := range list {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
