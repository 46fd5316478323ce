package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/ledger/internal/ledger/models"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// summary is a one-line preview of an entry's data.
func summary(e models.Entry, width int) string {
	var m map[string]any
	s := string(e.Data)
	if json.Unmarshal(e.Data, &m) == nil {
		for _, k := range []string{"title", "body"} {
			if v, ok := m[k].(string); ok && v != "" {
				s = v
				break
			}
		}
	}
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > width {
		s = string(r[:width-1]) + "…"
	}
	return s
}

type typeNames func(id string) string

func printEntries(w io.Writer, list []models.Entry, name typeNames, asJSON bool) error {
	if asJSON {
		if list == nil {
			list = []models.Entry{}
		}
		return printJSON(w, list)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ID, models.FormatTime(e.CreatedAt), name(e.EntryTypeID), strings.Join(e.Tags, ","), summary(e, 60))
	}
	return tw.Flush()
}

func printEntry(w io.Writer, e *models.Entry, typeName string, comps []models.Composition, asJSON bool) error {
	if asJSON {
		return printJSON(w, struct {
			*models.Entry
			Compositions []models.Composition `json:"compositions"`
		}{e, comps})
	}
	fmt.Fprintf(w, "id:       %s\n", e.ID)
	fmt.Fprintf(w, "type:     %s v%d\n", typeName, e.SchemaVersion)
	fmt.Fprintf(w, "created:  %s\n", models.FormatTime(e.CreatedAt))
	if len(e.Tags) > 0 {
		fmt.Fprintf(w, "tags:     %s\n", strings.Join(e.Tags, ", "))
	}
	if e.Supersedes != nil {
		fmt.Fprintf(w, "revises:  %s\n", *e.Supersedes)
	}
	if len(comps) > 0 {
		names := make([]string, 0, len(comps))
		for _, c := range comps {
			names = append(names, c.Name)
		}
		fmt.Fprintf(w, "in:       %s\n", strings.Join(names, ", "))
	}

	var data map[string]any
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return fmt.Errorf("decode entry data: %w", err)
	}
	pretty, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", pretty)
	return nil
}
