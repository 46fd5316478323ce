package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/ledger/internal/buildinfo"
	"github.com/dmitrijs2005/ledger/internal/cache/client"
	"github.com/dmitrijs2005/ledger/internal/cache/daemon"
	"github.com/dmitrijs2005/ledger/internal/cache/protocol"
	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/filex"
	"github.com/dmitrijs2005/ledger/internal/ledger/engine"
	"github.com/dmitrijs2005/ledger/internal/ledger/export"
	"github.com/dmitrijs2005/ledger/internal/ledger/services"
	"github.com/dmitrijs2005/ledger/internal/logging"
	"github.com/spf13/cobra"
)

const exportPerm = 0o600

// skipLoad replaces the root PersistentPreRunE for commands that need no
// configuration.
func skipLoad(*cobra.Command, []string) error { return nil }

func newInitCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new empty store",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pass, err := app.unlocker().NewPassphrase(app.cfg.MinPassphraseLength)
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pass)

			if err := engine.New(app.engineOptions()...).Create(ctx, app.cfg.StorePath, pass); err != nil {
				return err
			}
			fmt.Fprintf(app.out, "created %s\n", app.cfg.StorePath)
			return nil
		},
	}
}

// checkStore runs an integrity check of the configured store. A report
// with issues comes back with ErrIntegrity; other errors leave it nil.
func checkStore(ctx context.Context, app *App) (*services.Report, error) {
	var (
		report   *services.Report
		checkErr error
	)
	err := app.unlocker().Unlock(ctx, app.cfg.StorePath, func(pass []byte) error {
		report, checkErr = engine.CheckFile(ctx, app.cfg.StorePath, pass, app.engineOptions()...)
		if errors.Is(checkErr, common.ErrIntegrity) && report != nil {
			// The passphrase was right; the findings are reported by the caller.
			return nil
		}
		return checkErr
	})
	if err != nil {
		return nil, err
	}
	return report, checkErr
}

func newCheckCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the store without modifying it",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, checkErr := checkStore(cmd.Context(), app)
			if report == nil {
				return checkErr
			}
			if app.opts.JSON {
				if err := printJSON(app.out, report); err != nil {
					return err
				}
			} else if err := printReport(app.out, report); err != nil {
				return err
			}
			return checkErr
		},
	}
}

type doctorResult struct {
	Config    string           `json:"config"`
	Store     string           `json:"store"`
	Integrity *services.Report `json:"integrity"`
}

// newDoctorCommand checks the setup end to end: the config loaded (done by
// the root pre-run), the store file exists and opens, and the store passes
// the integrity check.
func newDoctorCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, store and integrity",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := doctorResult{Config: app.opts.ConfigPath, Store: app.cfg.StorePath}
			if res.Config == "" {
				res.Config = "defaults"
			}
			if _, err := os.Stat(res.Store); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("%w: %s", common.ErrStoreNotFound, res.Store)
				}
				return err
			}
			report, err := checkStore(cmd.Context(), app)
			if report == nil {
				return err
			}
			res.Integrity = report

			if app.opts.JSON {
				if perr := printJSON(app.out, res); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				fmt.Fprintln(app.out, "Doctor: FAILED")
			} else {
				fmt.Fprintln(app.out, "Doctor: OK")
			}
			fmt.Fprintf(app.out, "- config: OK (%s)\n", res.Config)
			fmt.Fprintf(app.out, "- store: OK (%s)\n", res.Store)
			if err != nil {
				fmt.Fprintln(app.out, "- integrity: FAILED")
				if perr := printReport(app.out, report); perr != nil {
					return perr
				}
				return err
			}
			fmt.Fprintln(app.out, "- integrity: OK")
			return nil
		},
	}
}

func printReport(w io.Writer, r *services.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "format version\t%d\n", r.FormatVersion)
	fmt.Fprintf(tw, "entries\t%d\n", r.Entries)
	fmt.Fprintf(tw, "entry types\t%d\n", r.EntryTypes)
	fmt.Fprintf(tw, "templates\t%d\n", r.Templates)
	fmt.Fprintf(tw, "compositions\t%d\n", r.Compositions)
	if len(r.OrphanedRevisions) > 0 {
		fmt.Fprintf(tw, "orphaned revisions\t%d\n", len(r.OrphanedRevisions))
	}
	if len(r.Forks) > 0 {
		fmt.Fprintf(tw, "forks\t%d\n", len(r.Forks))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, is := range r.Issues {
		fmt.Fprintf(w, "issue: %s: %s\n", is.Kind, is.Detail)
	}
	if r.OK() {
		fmt.Fprintln(w, "ok")
	}
	return nil
}

func newRepairCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Rebuild the full-text index",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				n, err := svc.Integrity.RebuildIndex(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(app.out, "reindexed %d entries\n", n)
				return nil
			})
		},
	}
}

func newExportCommand(app *App) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the decrypted store as JSON",
		Long: `Write every entry type, template, composition and entry revision as
plaintext JSON (--format json) or JSON Lines (--format jsonl). The output is
not encrypted.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return usageError{err}
			}
			return app.session(cmd.Context(), false, func(ctx context.Context, e *engine.Engine, _ *services.Services) error {
				db, err := e.DB()
				if err != nil {
					return err
				}
				doc, err := export.Export(ctx, db, time.Now())
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					return doc.Write(app.out, f)
				}

				var buf bytes.Buffer
				if err := doc.Write(&buf, f); err != nil {
					return err
				}
				defer common.WipeByteArray(buf.Bytes())
				if err := filex.WriteAtomic(output, buf.Bytes(), exportPerm); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				app.log.Info(ctx, "exported", "path", output, "entries", len(doc.Entries))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json or jsonl")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newImportCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load an export into an empty store",
		Long: `Load a JSON or JSON Lines export into the store. The store must be empty
(run init first); the import is all or nothing.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			doc, err := export.Read(in)
			if err != nil {
				return err
			}
			return app.session(cmd.Context(), true, func(ctx context.Context, e *engine.Engine, _ *services.Services) error {
				db, err := e.DB()
				if err != nil {
					return err
				}
				stats, err := export.Import(ctx, db, doc, time.Now())
				if err != nil {
					return err
				}
				if app.opts.JSON {
					return printJSON(app.out, stats)
				}
				fmt.Fprintf(app.out, "imported %d entry types, %d templates, %d compositions, %d entries\n",
					stats.EntryTypes, stats.Templates, stats.Compositions, stats.Entries)
				return nil
			})
		},
	}
}

func newBackupCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <dest>",
		Short: "Copy the encrypted store",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := engine.Backup(app.cfg.StorePath, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(app.out, "backed up to %s\n", args[0])
			return nil
		},
	}
}

func newLockCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Forget cached passphrases and stop the cache daemon",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(app.socketPath())
			if err := c.Clear(cmd.Context()); err != nil {
				if errors.Is(err, common.ErrCacheUnavailable) {
					app.log.Debug(cmd.Context(), "cache daemon not running", "error", err)
					return nil
				}
				return err
			}
			return nil
		},
	}
}

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print build information",
		Args:              exactArgs(0),
		PersistentPreRunE: skipLoad,
		RunE: func(cmd *cobra.Command, args []string) error {
			buildinfo.PrintBuildData(cmd.OutOrStdout())
			return nil
		},
	}
}

func newCacheDaemonCommand(app *App) *cobra.Command {
	var (
		socket   string
		ttl      int
		idle     time.Duration
		logLevel string
	)
	cmd := &cobra.Command{
		Use:               "cache-daemon",
		Short:             "Run the passphrase cache daemon",
		Hidden:            true,
		Args:              exactArgs(0),
		PersistentPreRunE: skipLoad,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logging.New(app.errOut, logLevel, true)
			if err != nil {
				return usageError{err}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if socket == "" {
				socket = protocol.DefaultSocketPath()
			}
			srv := daemon.New(daemon.Options{
				SocketPath: socket,
				TTL:        secondsToDuration(ttl),
				IdleGrace:  idle,
				Log:        log.With("component", "cache-daemon"),
			})
			return srv.Run(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&socket, "socket", "", "socket path (default per user runtime dir)")
	f.IntVar(&ttl, "ttl", int(daemon.DefaultTTL/time.Second), "default secret lifetime in seconds")
	f.DurationVar(&idle, "idle-grace", daemon.DefaultIdleGrace, "exit after this long with nothing cached")
	f.StringVar(&logLevel, "daemon-log-level", "info", "log level")
	return cmd
}
