// Package main is the rlm command: a persistent workbench for exploring a
// large text body (logs, configs, source trees) with small Go snippets whose
// variables survive between invocations.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"rlm/internal/config"
	"rlm/internal/logging"
	"rlm/internal/store"
)

var (
	// Global flags
	statePath  string
	configPath string
	verbose    bool
	timeout    time.Duration

	// cfg is resolved in PersistentPreRunE from the config file, the
	// environment and the flags above.
	cfg *config.Config
)

// DefaultConfigPath is read when --config is not given.
const DefaultConfigPath = ".rlm/config.yaml"

// newRootCmd builds the command tree. Flags are bound afresh on every call so
// repeated executions (tests) start from defaults.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rlm",
		Short: "Persistent text-analysis workbench",
		Long: `rlm loads a file or directory tree into a session and runs Go snippets
against it. Variables declared at top level persist between runs; the loaded
text is available as Content and through accessors such as Search, FindLines,
ChunkSpans, ExtractJSONObjects, TimeRange and Stats.

Examples:
  rlm init large-file.txt
  rlm init-dir ./src --pattern "**/*.go"
  rlm status
  rlm exec -c 'fmt.Println(Stats())'
  rlm exec -c 'hits, _ := Search("ERROR", Limit(10)); fmt.Println(len(hits))'
  rlm exec <<'GO'
  fmt.Println(Peek(0, 2000))
  GO`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(configPath)
			if err != nil {
				return fatal(err)
			}
			if cmd.Flags().Changed("state") {
				c.StatePath = statePath
			}
			if cmd.Flags().Changed("timeout") {
				c.Exec.Timeout = timeout.String()
			}
			if verbose {
				c.Logging.DebugMode = true
				c.Logging.Level = "debug"
			}
			if err := c.Validate(); err != nil {
				return fatal(err)
			}
			if err := logging.Initialize(c.Logging.ToLogging()); err != nil {
				return fatal(err)
			}
			cfg = c
			logging.Boot("rlm %s (state: %s)", cmd.Name(), c.StatePath)
			if cmd.Flags().Changed("config") {
				if _, err := os.Stat(configPath); os.IsNotExist(err) {
					logging.BootWarn("Config file %s not found, using defaults", configPath)
				}
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.Sync()
		},
	}

	root.PersistentFlags().StringVar(&statePath, "state", config.DefaultStatePath, "Path to the session store")
	root.PersistentFlags().StringVar(&configPath, "config", DefaultConfigPath, "Path to the YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging to stderr (or logging.file)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Bound each exec run (0 = config default)")

	root.AddCommand(
		newInitCmd(),
		newInitDirCmd(),
		newExecCmd(),
		newStatusCmd(),
		newResetCmd(),
		newExportBuffersCmd(),
		newRefreshCmd(),
		newWatchCmd(),
	)
	return root
}

// fatalError marks a failure of the operation itself, as opposed to a
// usage error reported by cobra before any command ran.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// runE adapts a command body so its errors are reported as fatal.
func runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return fatal(fn(cmd, args))
	}
}

// exitCode maps an Execute error to the process status: 2 for failed
// operations (missing or corrupt state included), 1 for usage errors.
func exitCode(err error) int {
	var f *fatalError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &f):
		return 2
	default:
		return 1
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	switch code := exitCode(err); code {
	case 0:
	case 2:
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(code)
	default:
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "Run 'rlm --help' for usage.")
		os.Exit(code)
	}
}

func sessionStore() *store.SessionStore {
	return store.NewSessionStore(cfg.StatePath)
}

var numbers = message.NewPrinter(language.English)

// thousands formats n with digit grouping.
func thousands(n int) string {
	return numbers.Sprintf("%d", n)
}
