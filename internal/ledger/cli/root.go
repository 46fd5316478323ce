package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// NewRootCommand creates the ledger command tree. Diagnostics and prompts go
// to errOut.
func NewRootCommand(errOut io.Writer) *cobra.Command {
	opts := &RootOptions{}
	app := &App{opts: opts, errOut: errOut}

	cmd := &cobra.Command{
		Use:           "ledger",
		Short:         "Encrypted personal ledger",
		Long:          "ledger keeps typed, tagged, append-only entries in a single encrypted file.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError{fmt.Errorf("unknown command %q", args[0])}
			}
			return nil
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError{fmt.Errorf("missing command")}
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a JSON config file")
	pf.StringVar(&opts.StorePath, "store", "", "store file (default from config or LEDGER_PATH)")
	pf.IntVar(&opts.CacheTTL, "cache-ttl", 0, "session cache TTL in seconds, 0 disables caching")
	pf.BoolVar(&opts.NoCache, "no-cache", false, "do not use the session cache")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	pf.BoolVar(&opts.JSON, "json", false, "print JSON instead of text")

	cmd.AddCommand(
		newInitCommand(app),
		newAddCommand(app),
		newEditCommand(app),
		newShowCommand(app),
		newListCommand(app),
		newSearchCommand(app),
		newHistoryCommand(app),
		newTypeCommand(app),
		newTemplateCommand(app),
		newCompositionCommand(app),
		newTodoCommand(app),
		newCheckCommand(app),
		newDoctorCommand(app),
		newRepairCommand(app),
		newExportCommand(app),
		newImportCommand(app),
		newBackupCommand(app),
		newLockCommand(app),
		newVersionCommand(app),
		newCacheDaemonCommand(app),
	)
	return cmd
}

// Execute runs the command line args and returns the exit code.
func Execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	cmd := NewRootCommand(errOut)
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
	}
	return ExitCode(err)
}
