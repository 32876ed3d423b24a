package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"rlm/internal/accessors"
	"rlm/internal/logging"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show current state summary",
		Args:  cobra.NoArgs,
		RunE:  runE(runStatus),
	}
	cmd.Flags().Bool("show-vars", false, "List persisted variable names")
	return cmd
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the session state and its chunks directory",
		Args:  cobra.NoArgs,
		RunE:  runE(runReset),
	}
}

func newExportBuffersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-buffers <out_path>",
		Short: "Write all buffers to a text file, separated by blank lines",
		Args:  cobra.ExactArgs(1),
		RunE:  runE(runExportBuffers),
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	showVars, _ := cmd.Flags().GetBool("show-vars")

	st := sessionStore()
	sess, err := st.Load()
	if err != nil {
		return err
	}
	stats := accessors.Bind(&sess.Context, &sess.Buffers).Stats()

	out := cmd.OutOrStdout()
	r := lipgloss.NewRenderer(out)
	title := r.NewStyle().Bold(true)
	label := r.NewStyle().Faint(true)
	line := func(name, value string) {
		fmt.Fprintf(out, "  %s %s\n", label.Render(name+":"), value)
	}

	fmt.Fprintln(out, title.Render("RLM REPL status"))
	line("State file", st.Path())
	line("Session", sess.ID)
	line("Context path", sess.Context.Path)
	line("Loaded at", sess.Context.LoadedAt.Format("2006-01-02 15:04:05"))
	line("Context chars", thousands(stats.TotalChars))
	line("Context lines", thousands(stats.TotalLines))
	if len(sess.Context.Files) > 0 {
		line("Files", fmt.Sprint(len(sess.Context.Files)))
	}
	line("Buffers", fmt.Sprint(len(sess.Buffers)))
	line("Persisted vars", fmt.Sprint(len(sess.Variables)))
	if showVars {
		for _, name := range sess.VariableNames() {
			fmt.Fprintf(out, "    - %s\n", name)
		}
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	report, err := sessionStore().Reset()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if report.StateDeleted {
		fmt.Fprintf(out, "Deleted state: %s\n", report.StatePath)
	} else {
		fmt.Fprintf(out, "No state to delete at: %s\n", report.StatePath)
	}
	if report.ChunksDeleted {
		fmt.Fprintf(out, "Deleted chunks directory: %s\n", report.ChunksDir)
	}
	return nil
}

func runExportBuffers(cmd *cobra.Command, args []string) error {
	sess, err := sessionStore().Load()
	if err != nil {
		return err
	}

	outPath := args[0]
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(outPath, []byte(strings.Join(sess.Buffers, "\n\n")), 0644); err != nil {
		return fmt.Errorf("failed to write buffers: %w", err)
	}
	logging.Session("Exported %d buffers to %s", len(sess.Buffers), outPath)

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d buffers to: %s\n", len(sess.Buffers), outPath)
	return nil
}
