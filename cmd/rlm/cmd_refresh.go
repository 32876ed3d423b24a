package main

import (
	"context"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"rlm/internal/logging"
	"rlm/internal/store"
	"rlm/internal/world"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload the context from its source, keeping buffers and variables",
		Args:  cobra.NoArgs,
		RunE:  runE(runRefresh),
	}
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh the context whenever its source changes",
		Long: `Watches the file or directory the session was initialized from and reloads
the context after each burst of changes, with the same loader options.
Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runE(runWatch),
	}
	cmd.Flags().Duration("debounce", world.DefaultDebounce, "Quiet period before a burst of changes triggers a refresh")
	return cmd
}

func runRefresh(cmd *cobra.Command, args []string) error {
	return refresh(cmd.Context(), sessionStore(), cmd.OutOrStdout())
}

// refresh reloads the stored session, rebuilds its context and saves it.
// The session is re-read each time so runs between refreshes are kept.
func refresh(ctx context.Context, st *store.SessionStore, out io.Writer) error {
	sess, err := st.Load()
	if err != nil {
		return err
	}
	loaded, err := world.Reload(ctx, sess.Context.Path, sess.Source, cfg.World.Workers)
	if err != nil {
		return fmt.Errorf("failed to reload %s: %w", sess.Context.Path, err)
	}
	sess.Context = loaded
	if err := st.Save(sess); err != nil {
		return err
	}

	fmt.Fprintf(out, "Refreshed context: %s (%s chars", loaded.Path, thousands(utf8.RuneCountInString(loaded.Content)))
	if len(loaded.Files) > 0 {
		fmt.Fprintf(out, ", %d files", len(loaded.Files))
	}
	fmt.Fprintln(out, ")")
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	debounce, _ := cmd.Flags().GetDuration("debounce")

	st := sessionStore()
	sess, err := st.Load()
	if err != nil {
		return err
	}

	kind := sess.Source.Kind
	if kind == "" {
		kind = store.SourceFile
	}
	w, err := world.NewWatcher(sess.Context.Path, kind, world.WatchOptions{
		Exclude:  sess.Source.Exclude,
		Ignore:   stateFiles(st),
		Debounce: debounce,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s (Ctrl-C to stop)\n", sess.Context.Path)
	return w.Run(cmd.Context(), func() error {
		start := time.Now()
		err := refresh(cmd.Context(), st, out)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "refresh failed: %v\n", err)
		}
		logging.WorldDebug("Refresh took %s", time.Since(start))
		return err
	})
}

// stateFiles are the paths a save touches; a watched tree that contains the
// store must not refresh on its own writes.
func stateFiles(st *store.SessionStore) []string {
	p := st.Path()
	return []string{p, p + ".tmp", p + ".tmp-journal", p + "-journal", st.ChunksDir()}
}
