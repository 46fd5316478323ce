// Package export dumps a whole store to a plaintext document and rebuilds a
// store from one. Two encodings are supported: a single JSON document and
// JSON Lines where every line is a record tagged with its kind.
package export

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/dbx"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/compositions"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/entries"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/entrytypes"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/fts"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/metadata"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/templates"
	"github.com/dmitrijs2005/ledger/internal/ledger/tags"
)

// Version of the export document layout.
const Version = 1

type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

// ParseFormat accepts the names used on the command line.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatJSONL:
		return FormatJSONL, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", common.ErrValidation, s)
}

// Template is a template with every version it has had.
type Template struct {
	models.Template
	Versions []models.TemplateVersion `json:"versions"`
}

// Document is the full plaintext content of a store. Entries include
// superseded revisions, oldest first.
type Document struct {
	Version          int                      `json:"version"`
	ExportedAt       time.Time                `json:"exported_at"`
	Metadata         map[string]string        `json:"metadata"`
	EntryTypes       []models.EntryType       `json:"entry_types"`
	Templates        []Template               `json:"templates"`
	DefaultTemplates []models.DefaultTemplate `json:"default_templates"`
	Compositions     []models.Composition     `json:"compositions"`
	Memberships      []models.Membership      `json:"memberships"`
	Entries          []models.Entry           `json:"entries"`
}

// Stats counts what an import wrote.
type Stats struct {
	EntryTypes   int `json:"entry_types"`
	Templates    int `json:"templates"`
	Compositions int `json:"compositions"`
	Memberships  int `json:"memberships"`
	Entries      int `json:"entries"`
}

// Export reads every row of the store behind db.
func Export(ctx context.Context, db dbx.DBTX, now time.Time) (*Document, error) {
	doc := &Document{
		Version:    Version,
		ExportedAt: now.UTC().Truncate(time.Millisecond),
	}
	var err error

	if doc.Metadata, err = metadata.NewSQLiteRepository(db).List(ctx); err != nil {
		return nil, err
	}

	if doc.EntryTypes, err = entrytypes.NewSQLiteRepository(db).List(ctx, true); err != nil {
		return nil, err
	}
	slices.SortStableFunc(doc.EntryTypes, func(a, b models.EntryType) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return a.Version - b.Version
	})

	tr := templates.NewSQLiteRepository(db)
	list, err := tr.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range list {
		t.Active = nil
		versions, err := tr.Versions(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		slices.SortFunc(versions, func(a, b models.TemplateVersion) int { return a.Version - b.Version })
		doc.Templates = append(doc.Templates, Template{Template: t, Versions: versions})
	}
	if doc.DefaultTemplates, err = tr.Mappings(ctx); err != nil {
		return nil, err
	}

	cr := compositions.NewSQLiteRepository(db)
	if doc.Compositions, err = cr.List(ctx); err != nil {
		return nil, err
	}
	if doc.Memberships, err = cr.Memberships(ctx); err != nil {
		return nil, err
	}

	if doc.Entries, err = entries.NewSQLiteRepository(db).All(ctx); err != nil {
		return nil, err
	}
	return doc, nil
}

// WriteJSON writes doc as one indented JSON document.
func (d *Document) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// Write encodes doc in the given format.
func (d *Document) Write(w io.Writer, f Format) error {
	if f == FormatJSONL {
		return d.WriteJSONL(w)
	}
	return d.WriteJSON(w)
}

// Read decodes a document in either format. The first JSON value decides:
// a value carrying a kind field starts a JSON Lines stream.
func Read(r io.Reader) (*Document, error) {
	br := bufio.NewReader(r)
	dec := json.NewDecoder(br)
	var first json.RawMessage
	if err := dec.Decode(&first); err != nil {
		return nil, fmt.Errorf("%w: decode export: %v", common.ErrValidation, err)
	}
	var head struct {
		Kind *string `json:"kind"`
	}
	if err := json.Unmarshal(first, &head); err != nil {
		return nil, fmt.Errorf("%w: export must be a JSON object: %v", common.ErrValidation, err)
	}

	var (
		doc *Document
		err error
	)
	if head.Kind != nil {
		doc, err = readJSONL(first, dec)
	} else {
		doc = &Document{}
		if err = strictUnmarshal(first, doc); err != nil {
			err = fmt.Errorf("%w: decode export: %v", common.ErrValidation, err)
		}
	}
	if err != nil {
		return nil, err
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("%w: export version %d", common.ErrUnsupportedFormat, doc.Version)
	}
	return doc, nil
}

func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Import writes doc into an empty store in one transaction. Identifiers,
// versions and timestamps are kept; the full-text index is rebuilt from the
// imported entries.
func Import(ctx context.Context, db *sql.DB, doc *Document, now time.Time) (*Stats, error) {
	if doc.Version != Version {
		return nil, fmt.Errorf("%w: export version %d", common.ErrUnsupportedFormat, doc.Version)
	}
	stats := &Stats{}
	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) (err error) {
		if err := expectEmpty(ctx, tx); err != nil {
			return err
		}

		types := entrytypes.NewSQLiteRepository(tx)
		schemas := map[string]models.EntryType{}
		seen := map[string]bool{}
		for i := range doc.EntryTypes {
			et := doc.EntryTypes[i]
			if !seen[et.ID] {
				if err := types.CreateType(ctx, et.ID, et.Name, et.CreatedAt, et.DeviceID); err != nil {
					return err
				}
				seen[et.ID] = true
				stats.EntryTypes++
			}
			if err := et.Schema.Check(); err != nil {
				return fmt.Errorf("entry type %s v%d: %w", et.Name, et.Version, err)
			}
			if err := types.InsertVersion(ctx, &et); err != nil {
				return err
			}
			schemas[versionKey(et.ID, et.Version)] = et
		}

		tr := templates.NewSQLiteRepository(tx)
		for _, t := range doc.Templates {
			tpl := t.Template
			tpl.Active = nil
			if err := tr.Create(ctx, &tpl); err != nil {
				return err
			}
			for _, v := range t.Versions {
				v.TemplateID = tpl.ID
				if err := tr.InsertVersion(ctx, &v); err != nil {
					return err
				}
			}
			stats.Templates++
		}
		for _, m := range doc.DefaultTemplates {
			if err := tr.InsertMapping(ctx, m); err != nil {
				return err
			}
		}

		cr := compositions.NewSQLiteRepository(tx)
		for _, c := range doc.Compositions {
			if c.Metadata, err = compact(c.Metadata); err != nil {
				return fmt.Errorf("%w: composition %s metadata: %v", common.ErrValidation, c.ID, err)
			}
			if err := cr.Create(ctx, &c); err != nil {
				return err
			}
			stats.Compositions++
		}

		extra := templateEnums(doc.Templates)
		er := entries.NewSQLiteRepository(tx)
		idx := fts.NewSQLiteRepository(tx)
		for _, e := range doc.Entries {
			if e.Data, err = compact(e.Data); err != nil {
				return fmt.Errorf("%w: entry %s data: %v", common.ErrValidation, e.ID, err)
			}
			if err := checkEntry(e, schemas, extra); err != nil {
				return err
			}
			if err := er.Insert(ctx, &e); err != nil {
				return err
			}
			if err := idx.Index(ctx, e.ID, fts.Content(e.Data)); err != nil {
				return err
			}
			stats.Entries++
		}

		for _, m := range doc.Memberships {
			if err := cr.Attach(ctx, m.EntryID, m.CompositionID, m.AddedAt); err != nil {
				return err
			}
			stats.Memberships++
		}

		return metadata.NewSQLiteRepository(tx).Set(ctx, models.MetaLastModified, models.FormatTime(now))
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func expectEmpty(ctx context.Context, db dbx.DBTX) error {
	for _, table := range []string{"entry_types", "templates", "compositions", "entries"} {
		var n int
		// table names come from the fixed list above
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return fmt.Errorf("count %s: %w", table, err)
		}
		if n > 0 {
			return fmt.Errorf("%w: import needs an empty store, %s has %d rows", common.ErrInvalidState, table, n)
		}
	}
	return nil
}

// compact undoes the indentation WriteJSON applies to embedded JSON.
func compact(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func versionKey(id string, version int) string {
	return fmt.Sprintf("%s@%d", id, version)
}

func checkEntry(e models.Entry, schemas map[string]models.EntryType, extra map[string]map[string][]string) error {
	et, ok := schemas[versionKey(e.EntryTypeID, e.SchemaVersion)]
	if !ok {
		return fmt.Errorf("%w: entry %s references unknown type version %s v%d",
			common.ErrValidation, e.ID, e.EntryTypeID, e.SchemaVersion)
	}
	if len(e.Data) > models.MaxEntryDataBytes {
		return fmt.Errorf("%w: entry %s data exceeds %d bytes", common.ErrValidation, e.ID, models.MaxEntryDataBytes)
	}
	normalized, err := tags.NormalizeAll(e.Tags)
	if err != nil {
		return fmt.Errorf("entry %s: %w", e.ID, err)
	}
	if !slices.Equal(normalized, e.Tags) && !(len(normalized) == 0 && len(e.Tags) == 0) {
		return fmt.Errorf("%w: entry %s tags are not normalized", common.ErrValidation, e.ID)
	}
	if err := et.Schema.Validate(e.Data, extra[e.EntryTypeID]); err != nil {
		return fmt.Errorf("entry %s: %w", e.ID, err)
	}
	return nil
}

// templateEnums collects, per entry type, every enum value any template
// version ever added. Entries do not record which template widened them.
func templateEnums(list []Template) map[string]map[string][]string {
	out := map[string]map[string][]string{}
	for _, t := range list {
		for _, v := range t.Versions {
			for field, values := range v.Payload.EnumValues {
				if out[t.EntryTypeID] == nil {
					out[t.EntryTypeID] = map[string][]string{}
				}
				for _, val := range values {
					if !slices.Contains(out[t.EntryTypeID][field], val) {
						out[t.EntryTypeID][field] = append(out[t.EntryTypeID][field], val)
					}
				}
			}
		}
	}
	return out
}
