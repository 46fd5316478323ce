package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/engine"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/services"
	"github.com/spf13/cobra"
)

func newCompositionCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "composition",
		Aliases: []string{"comp"},
		Short:   "Manage compositions (named groups of entries)",
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError{fmt.Errorf("missing subcommand")}
		},
	}
	cmd.AddCommand(
		newCompositionAddCommand(app),
		newCompositionListCommand(app),
		newCompositionRenameCommand(app),
		newCompositionDeleteCommand(app),
		newCompositionAttachCommand(app, true),
		newCompositionAttachCommand(app, false),
		newCompositionMembersCommand(app),
	)
	return cmd
}

func newCompositionAddCommand(app *App) *cobra.Command {
	var desc, meta string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a composition",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := models.NewComposition{Name: args[0], Description: desc}
			if meta != "" {
				if !json.Valid([]byte(meta)) {
					return fmt.Errorf("%w: --metadata is not valid JSON", common.ErrValidation)
				}
				in.Metadata = json.RawMessage(meta)
			}
			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				c, err := svc.Compositions.Create(ctx, in)
				if err != nil {
					return err
				}
				if app.opts.JSON {
					return printJSON(app.out, c)
				}
				fmt.Fprintln(app.out, c.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&meta, "metadata", "", "JSON metadata")
	return cmd
}

func newCompositionListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List compositions",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), false, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				list, err := svc.Compositions.List(ctx)
				if err != nil {
					return err
				}
				if app.opts.JSON {
					if list == nil {
						list = []models.Composition{}
					}
					return printJSON(app.out, list)
				}
				tw := tabwriter.NewWriter(app.out, 0, 4, 2, ' ', 0)
				for _, c := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, c.Description, c.ID)
				}
				return tw.Flush()
			})
		},
	}
}

func newCompositionRenameCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <name|id> <new-name>",
		Short: "Rename a composition",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				return svc.Compositions.Rename(ctx, args[0], args[1])
			})
		},
	}
}

func newCompositionDeleteCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name|id>",
		Short: "Delete a composition, keeping its entries",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				return svc.Compositions.Delete(ctx, args[0])
			})
		},
	}
}

// newCompositionAttachCommand builds attach, or detach when attach is false.
func newCompositionAttachCommand(app *App, attach bool) *cobra.Command {
	use, short := "attach", "Add entries to a composition"
	if !attach {
		use, short = "detach", "Remove entries from a composition"
	}
	return &cobra.Command{
		Use:   use + " <composition> <entry-id>...",
		Short: short,
		Args:  minArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				for _, id := range args[1:] {
					var err error
					if attach {
						err = svc.Compositions.Attach(ctx, id, args[0])
					} else {
						err = svc.Compositions.Detach(ctx, id, args[0])
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newCompositionMembersCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "members <name|id>",
		Short: "List the current entries of a composition",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), false, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				list, err := svc.Compositions.Members(ctx, args[0])
				if err != nil {
					return err
				}
				return printEntries(app.out, list, nameLookup(ctx, svc), app.opts.JSON)
			})
		},
	}
}
