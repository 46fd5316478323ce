package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/engine"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/services"
	"github.com/spf13/cobra"
)

// payloadFlags are the template body flags shared by add and update.
type payloadFlags struct {
	defaults, tags, comps, prompts, enums, unset []string
}

func (p *payloadFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringArrayVarP(&p.defaults, "field", "f", nil, "default value as name=value (repeatable)")
	f.StringArrayVarP(&p.tags, "tag", "t", nil, "default tag (repeatable)")
	f.StringArrayVar(&p.comps, "composition", nil, "default composition (repeatable)")
	f.StringArrayVar(&p.prompts, "prompt", nil, "prompt text as field=text (repeatable)")
	f.StringArrayVar(&p.enums, "enum", nil, "extra enum values as field=a|b (repeatable)")
}

func splitPairs(pairs []string, what string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: %s %q must be field=value", common.ErrValidation, what, p)
		}
		out[k] = v
	}
	return out, nil
}

// apply overlays the flags that were given on cmd onto base.
func (p *payloadFlags) apply(cmd *cobra.Command, et *models.EntryType, base models.TemplatePayload) (models.TemplatePayload, error) {
	changed := cmd.Flags().Changed
	if changed("field") || len(p.unset) > 0 {
		defaults := map[string]any{}
		for k, v := range base.Defaults {
			defaults[k] = v
		}
		values, err := parseFields(et, p.defaults)
		if err != nil {
			return base, err
		}
		for k, v := range values {
			defaults[k] = v
		}
		for _, k := range p.unset {
			delete(defaults, k)
		}
		base.Defaults = defaults
	}
	if changed("tag") {
		base.DefaultTags = p.tags
	}
	if changed("composition") {
		base.DefaultCompositions = p.comps
	}
	if changed("prompt") {
		prompts, err := splitPairs(p.prompts, "prompt")
		if err != nil {
			return base, err
		}
		base.PromptOverrides = prompts
	}
	if changed("enum") {
		enums, err := splitPairs(p.enums, "enum")
		if err != nil {
			return base, err
		}
		base.EnumValues = make(map[string][]string, len(enums))
		for k, v := range enums {
			base.EnumValues[k] = strings.Split(v, "|")
		}
	}
	return base, nil
}

func newTemplateCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template",
		Aliases: []string{"tpl"},
		Short:   "Manage entry templates",
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError{fmt.Errorf("missing subcommand")}
		},
	}
	cmd.AddCommand(
		newTemplateAddCommand(app),
		newTemplateUpdateCommand(app),
		newTemplateListCommand(app),
		newTemplateShowCommand(app),
		newTemplateDeleteCommand(app),
		newTemplateSetDefaultCommand(app),
		newTemplateClearDefaultCommand(app),
	)
	return cmd
}

func newTemplateAddCommand(app *App) *cobra.Command {
	var (
		typ, desc string
		pf        payloadFlags
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a template for an entry type",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if typ == "" {
				return usageError{fmt.Errorf("--type is required")}
			}
			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				et, err := svc.Types.Get(ctx, typ)
				if err != nil {
					return err
				}
				payload, err := pf.apply(cmd, et, models.TemplatePayload{})
				if err != nil {
					return err
				}
				t, err := svc.Templates.Create(ctx, models.NewTemplate{
					Name: args[0], EntryType: et.ID, Description: desc, Payload: payload,
				})
				if err != nil {
					return err
				}
				if app.opts.JSON {
					return printJSON(app.out, t)
				}
				fmt.Fprintln(app.out, t.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "entry type the template fills")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	pf.register(cmd)
	return cmd
}

func newTemplateUpdateCommand(app *App) *cobra.Command {
	var pf payloadFlags
	cmd := &cobra.Command{
		Use:   "update <name|id>",
		Short: "Write a new version of a template",
		Long: `Write a new active version of a template. Parts not named by a flag are
copied from the current version.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				t, err := svc.Templates.Get(ctx, args[0])
				if err != nil {
					return err
				}
				et, err := svc.Types.Get(ctx, t.EntryTypeID)
				if err != nil {
					return err
				}
				var base models.TemplatePayload
				if t.Active != nil {
					base = t.Active.Payload
				}
				payload, err := pf.apply(cmd, et, base)
				if err != nil {
					return err
				}
				t, err = svc.Templates.Update(ctx, t.ID, payload)
				if err != nil {
					return err
				}
				if app.opts.JSON {
					return printJSON(app.out, t)
				}
				if t.Active != nil {
					fmt.Fprintf(app.out, "%s v%d\n", t.Name, t.Active.Version)
				}
				return nil
			})
		},
	}
	pf.register(cmd)
	cmd.Flags().StringArrayVar(&pf.unset, "unset", nil, "drop a default value (repeatable)")
	return cmd
}

func newTemplateListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), false, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				list, err := svc.Templates.List(ctx)
				if err != nil {
					return err
				}
				if app.opts.JSON {
					if list == nil {
						list = []models.Template{}
					}
					return printJSON(app.out, list)
				}
				name := nameLookup(ctx, svc)
				tw := tabwriter.NewWriter(app.out, 0, 4, 2, ' ', 0)
				for _, t := range list {
					version := 0
					if t.Active != nil {
						version = t.Active.Version
					}
					fmt.Fprintf(tw, "%s\t%s\tv%d\t%s\t%s\n", t.Name, name(t.EntryTypeID), version, t.Description, t.ID)
				}
				return tw.Flush()
			})
		},
	}
}

func newTemplateShowCommand(app *App) *cobra.Command {
	var versions bool
	cmd := &cobra.Command{
		Use:   "show <name|id>",
		Short: "Show a template",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), false, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				t, err := svc.Templates.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if versions {
					list, err := svc.Templates.Versions(ctx, t.ID)
					if err != nil {
						return err
					}
					return printJSON(app.out, list)
				}
				return printJSON(app.out, t)
			})
		},
	}
	cmd.Flags().BoolVar(&versions, "versions", false, "show every version")
	return cmd
}

func newTemplateDeleteCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name|id>",
		Short: "Delete a template and its versions",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				return svc.Templates.Delete(ctx, args[0])
			})
		},
	}
}

func newTemplateSetDefaultCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "set-default <type> <template>",
		Short: "Make a template the default for an entry type",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				return svc.Templates.SetDefault(ctx, args[0], args[1])
			})
		},
	}
}

func newTemplateClearDefaultCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-default <type>",
		Short: "Remove the default template of an entry type",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				return svc.Templates.ClearDefault(ctx, args[0])
			})
		},
	}
}
