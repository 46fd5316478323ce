package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/engine"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/schema"
	"github.com/dmitrijs2005/ledger/internal/ledger/services"
	"github.com/spf13/cobra"
)

// parseFields turns name=value pairs into values of the field kinds of et.
// Names et does not know are passed through for the resolver to reject.
func parseFields(et *models.EntryType, pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: field %q must be name=value", common.ErrValidation, p)
		}
		f, known := et.Schema.Field(name)
		if !known {
			out[name] = value
			continue
		}
		v, err := parseValue(f, value)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func parseValue(f schema.FieldDef, s string) (any, error) {
	if s == "null" && f.Nullable {
		return nil, nil
	}
	return f.ParseInput(s)
}

// parseWhen accepts RFC 3339 timestamps and plain dates (midnight UTC).
func parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	t, err := models.ParseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a date or RFC 3339 time", common.ErrValidation, s)
	}
	return t, nil
}

func nameLookup(ctx context.Context, svc *services.Services) typeNames {
	names := map[string]string{}
	if list, err := svc.Types.List(ctx, false); err == nil {
		for _, t := range list {
			names[t.ID] = t.Name
		}
	}
	return func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}
}

func newAddCommand(app *App) *cobra.Command {
	var (
		fields, tags, comps []string
		template, at        string
		noDefaults          bool
	)
	cmd := &cobra.Command{
		Use:   "add <type>",
		Short: "Add an entry",
		Long: `Add an entry of the given type. Values not given with -f come from the
template, then from an interactive prompt.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				et, err := svc.Types.Get(ctx, args[0])
				if err != nil {
					return err
				}
				values, err := parseFields(et, fields)
				if err != nil {
					return err
				}
				in := models.NewEntry{
					EntryType:    et.ID,
					Fields:       values,
					Tags:         tags,
					Compositions: comps,
					Template:     template,
					SkipDefaults: noDefaults,
				}
				if at != "" {
					if in.CreatedAt, err = parseWhen(at); err != nil {
						return err
					}
				}
				e, err := svc.Entries.Insert(ctx, in, app.prompter())
				if err != nil {
					return err
				}
				if app.opts.JSON {
					return printJSON(app.out, e)
				}
				fmt.Fprintln(app.out, e.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&fields, "field", "f", nil, "field value as name=value, JSON accepted (repeatable)")
	f.StringArrayVarP(&tags, "tag", "t", nil, "tag (repeatable)")
	f.StringArrayVar(&comps, "composition", nil, "attach to composition (repeatable)")
	f.StringVar(&template, "template", "", "template to take defaults from")
	f.BoolVar(&noDefaults, "no-defaults", false, "ignore templates and default compositions")
	f.StringVar(&at, "at", "", "backdate the entry (YYYY-MM-DD or RFC 3339)")
	return cmd
}

func newEditCommand(app *App) *cobra.Command {
	var fields, tags, unset []string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Write a revision of an entry",
		Long: `Write a new revision that supersedes <id>. Unchanged fields, tags and
compositions are carried over; the entry is migrated to the active version of
its type and fields that version no longer has are dropped.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				old, err := svc.Entries.Get(ctx, args[0])
				if err != nil {
					return err
				}
				et, err := svc.Types.Get(ctx, old.EntryTypeID)
				if err != nil {
					return err
				}

				data := map[string]any{}
				dec := json.NewDecoder(bytes.NewReader(old.Data))
				dec.UseNumber()
				if err := dec.Decode(&data); err != nil {
					return fmt.Errorf("decode entry %s: %w", old.ID, err)
				}
				for k := range data {
					if _, ok := et.Schema.Field(k); !ok {
						app.log.Info(ctx, "dropping field missing from the active type version", "field", k)
						delete(data, k)
					}
				}
				values, err := parseFields(et, fields)
				if err != nil {
					return err
				}
				maps.Copy(data, values)
				for _, k := range unset {
					delete(data, k)
				}

				in := models.NewEntry{EntryType: et.ID, Fields: data, Tags: old.Tags, SkipDefaults: true}
				if cmd.Flags().Changed("tag") {
					in.Tags = tags
				}
				comps, err := svc.Entries.Compositions(ctx, old.ID)
				if err != nil {
					return err
				}
				for _, c := range comps {
					in.Compositions = append(in.Compositions, c.ID)
				}

				e, err := svc.Entries.Supersede(ctx, old.ID, in, app.prompter())
				if err != nil {
					return err
				}
				if app.opts.JSON {
					return printJSON(app.out, e)
				}
				fmt.Fprintln(app.out, e.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&fields, "field", "f", nil, "changed field as name=value (repeatable)")
	f.StringArrayVarP(&tags, "tag", "t", nil, "replace the tags (repeatable)")
	f.StringArrayVar(&unset, "unset", nil, "remove a field (repeatable)")
	return cmd
}

func newShowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an entry",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), false, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				e, err := svc.Entries.Get(ctx, args[0])
				if err != nil {
					return err
				}
				name := e.EntryTypeID
				if et, err := svc.Types.GetVersion(ctx, e.EntryTypeID, e.SchemaVersion); err == nil {
					name = et.Name
				}
				comps, err := svc.Entries.Compositions(ctx, e.ID)
				if err != nil {
					return err
				}
				return printEntry(app.out, e, name, comps, app.opts.JSON)
			})
		},
	}
}

func newListCommand(app *App) *cobra.Command {
	var (
		typ, comp, since, until string
		tags                    []string
		history                 bool
		limit                   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries, newest first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), false, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				f := models.EntryFilter{Tags: tags, IncludeHistory: history, Limit: limit}
				if typ != "" {
					et, err := svc.Types.Get(ctx, typ)
					if err != nil {
						return err
					}
					f.EntryTypeID = et.ID
				}
				if comp != "" {
					c, err := svc.Compositions.Get(ctx, comp)
					if err != nil {
						return err
					}
					f.CompositionID = c.ID
				}
				for _, b := range []struct {
					raw string
					dst **time.Time
				}{{since, &f.Since}, {until, &f.Until}} {
					if b.raw == "" {
						continue
					}
					t, err := parseWhen(b.raw)
					if err != nil {
						return err
					}
					*b.dst = &t
				}

				list, err := svc.Entries.Query(ctx, f)
				if err != nil {
					return err
				}
				return printEntries(app.out, list, nameLookup(ctx, svc), app.opts.JSON)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&typ, "type", "", "only entries of this type")
	fl.StringArrayVarP(&tags, "tag", "t", nil, "only entries with this tag (repeatable, all must match)")
	fl.StringVar(&comp, "composition", "", "only entries in this composition")
	fl.StringVar(&since, "since", "", "created at or after (YYYY-MM-DD or RFC 3339)")
	fl.StringVar(&until, "until", "", "created before (YYYY-MM-DD or RFC 3339)")
	fl.BoolVar(&history, "history", false, "include superseded revisions")
	fl.IntVarP(&limit, "limit", "n", 50, "maximum number of entries, 0 for all")
	return cmd
}

func newSearchCommand(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <text>...",
		Short: "Full-text search over current entries",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), false, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				list, err := svc.Entries.Search(ctx, strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				return printEntries(app.out, list, nameLookup(ctx, svc), app.opts.JSON)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of results")
	return cmd
}

func newHistoryCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show every revision of an entry, newest first",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), false, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				list, err := svc.Entries.History(ctx, args[0])
				if err != nil {
					return err
				}
				return printEntries(app.out, list, nameLookup(ctx, svc), app.opts.JSON)
			})
		},
	}
}
