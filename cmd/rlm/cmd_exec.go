package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"rlm/internal/session"
)

func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Execute Go code against the persisted session",
		Long: `Runs Go source (from -c or standard input) with the session bound in scope:
Context, Content, Buffers and the accessors (Peek, Search, SearchCount,
FindLines, ChunkSpans, WriteChunks, AddBuffer, ExtractJSONObjects,
ExtractYAMLDocuments, ParseYAMLDocuments, TimeRange, Stats).

Top-level variables persist to the next run when their values are plain
data (numbers, strings, bools, slices and string-keyed maps of those).
Errors and panics in the code are reported on stderr; the session is saved
either way.`,
		Args: cobra.NoArgs,
		RunE: runE(runExec),
	}
	cmd.Flags().StringP("code", "c", "", "Inline code to execute (default: read standard input)")
	cmd.Flags().Int("max-output-chars", 0, "Truncate stdout and stderr to this many characters (default: max_output_chars)")
	cmd.Flags().Bool("warn-dropped", false, "Report variables that could not be persisted")
	return cmd
}

func runExec(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")
	if !cmd.Flags().Changed("code") {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read code from stdin: %w", err)
		}
		code = string(data)
	}

	opts := session.Options{
		MaxOutputChars: cfg.MaxOutputChars,
		WarnDropped:    cfg.WarnDropped,
		Imports:        cfg.Exec.Imports,
		Timeout:        cfg.Exec.GetTimeout(),
	}
	if cmd.Flags().Changed("max-output-chars") {
		opts.MaxOutputChars, _ = cmd.Flags().GetInt("max-output-chars")
	}
	if cmd.Flags().Changed("warn-dropped") {
		opts.WarnDropped, _ = cmd.Flags().GetBool("warn-dropped")
	}

	res, err := session.NewRunner(sessionStore(), opts).Exec(cmd.Context(), code)
	if err != nil {
		return err
	}

	if res.Stdout != "" {
		fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
	}
	return nil
}
