package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/engine"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/schema"
	"github.com/dmitrijs2005/ledger/internal/ledger/services"
	"github.com/spf13/cobra"
)

// parseFieldSpec reads name:kind[:option...]. Options are required,
// nullable, values=a|b, min=N, max=N, maxlen=N and pattern=RE. A pattern
// takes the rest of the spec, colons included.
func parseFieldSpec(spec string) (schema.FieldDef, error) {
	bad := func(format string, args ...any) (schema.FieldDef, error) {
		return schema.FieldDef{}, fmt.Errorf("%w: field %q: %s", common.ErrValidation, spec, fmt.Sprintf(format, args...))
	}
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return bad("want name:kind[:option...]")
	}
	f := schema.FieldDef{Name: parts[0], Kind: schema.Kind(parts[1])}

	for i := 2; i < len(parts); i++ {
		key, value, _ := strings.Cut(parts[i], "=")
		switch key {
		case "required":
			f.Required = true
		case "nullable":
			f.Nullable = true
		case "values":
			f.Values = strings.Split(value, "|")
		case "min", "max":
			x, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return bad("%s is not a number", key)
			}
			if key == "min" {
				f.Min = &x
			} else {
				f.Max = &x
			}
		case "maxlen":
			n, err := strconv.Atoi(value)
			if err != nil {
				return bad("maxlen is not an integer")
			}
			f.MaxLength = n
		case "pattern":
			rest := strings.Join(parts[i:], ":")
			f.Pattern = strings.TrimPrefix(rest, "pattern=")
			i = len(parts)
		case "desc":
			f.Description = value
		default:
			return bad("unknown option %q", key)
		}
	}
	return f, nil
}

func readFieldsFile(path string) ([]schema.FieldDef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fields []schema.FieldDef
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrValidation, path, err)
	}
	return fields, nil
}

func newTypeCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "type",
		Short: "Manage entry types",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError{fmt.Errorf("missing subcommand")}
		},
	}
	cmd.AddCommand(newTypeAddCommand(app), newTypeListCommand(app), newTypeShowCommand(app))
	return cmd
}

func newTypeAddCommand(app *App) *cobra.Command {
	var (
		specs              []string
		fromFile, defaultC string
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create an entry type or a new version of it",
		Long: `Create an entry type. When the name exists a new version is added and
becomes active; earlier entries keep the version they were written with.

Fields are given as name:kind[:option...], for example
  --field title:string:required:maxlen=120
  --field mood:enum:values=ok|good|great`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := models.NewEntryType{Name: args[0], DefaultComposition: defaultC}
			if fromFile != "" {
				fields, err := readFieldsFile(fromFile)
				if err != nil {
					return err
				}
				in.Fields = fields
			}
			for _, s := range specs {
				f, err := parseFieldSpec(s)
				if err != nil {
					return err
				}
				in.Fields = append(in.Fields, f)
			}

			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				et, err := svc.Types.Create(ctx, in)
				if err != nil {
					return err
				}
				if app.opts.JSON {
					return printJSON(app.out, et)
				}
				fmt.Fprintf(app.out, "%s v%d (%s)\n", et.Name, et.Version, et.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&specs, "field", nil, "field as name:kind[:option...] (repeatable)")
	f.StringVar(&fromFile, "fields-file", "", "JSON file with a list of field definitions")
	f.StringVar(&defaultC, "default-composition", "", "composition new entries join unless defaults are skipped")
	return cmd
}

func newTypeListCommand(app *App) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entry types",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), false, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				list, err := svc.Types.List(ctx, all)
				if err != nil {
					return err
				}
				if app.opts.JSON {
					if list == nil {
						list = []models.EntryType{}
					}
					return printJSON(app.out, list)
				}
				tw := tabwriter.NewWriter(app.out, 0, 4, 2, ' ', 0)
				for _, et := range list {
					active := ""
					if et.Active {
						active = "active"
					}
					fmt.Fprintf(tw, "%s\tv%d\t%d fields\t%s\t%s\n", et.Name, et.Version, len(et.Schema.Fields), active, et.ID)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive versions")
	return cmd
}

func newTypeShowCommand(app *App) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "show <name|id>",
		Short: "Show the fields of an entry type",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), false, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				et, err := svc.Types.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if version > 0 && version != et.Version {
					if et, err = svc.Types.GetVersion(ctx, et.ID, version); err != nil {
						return err
					}
				}
				if app.opts.JSON {
					return printJSON(app.out, et)
				}

				fmt.Fprintf(app.out, "%s v%d (%s)\n", et.Name, et.Version, et.ID)
				if et.Schema.DefaultComposition != "" {
					fmt.Fprintf(app.out, "default composition: %s\n", et.Schema.DefaultComposition)
				}
				tw := tabwriter.NewWriter(app.out, 0, 4, 2, ' ', 0)
				for _, f := range et.Schema.Fields {
					var flags []string
					if f.Required {
						flags = append(flags, "required")
					}
					if f.Nullable {
						flags = append(flags, "nullable")
					}
					if len(f.Values) > 0 {
						flags = append(flags, strings.Join(f.Values, "|"))
					}
					fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", f.Name, f.Kind, strings.Join(flags, " "), f.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "show this version instead of the active one")
	return cmd
}
