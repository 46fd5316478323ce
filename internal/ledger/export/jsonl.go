package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/ledger/internal/common"
)

// Record kinds of the JSON Lines encoding. The header comes first.
const (
	KindHeader          = "header"
	KindEntryType       = "entry_type"
	KindTemplate        = "template"
	KindDefaultTemplate = "default_template"
	KindComposition     = "composition"
	KindMembership      = "membership"
	KindEntry           = "entry"
)

// Record is one line of a JSON Lines export.
type Record struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type header struct {
	Version    int               `json:"version"`
	ExportedAt json.RawMessage   `json:"exported_at"`
	Metadata   map[string]string `json:"metadata"`
}

// WriteJSONL writes doc as one record per line, header first.
func (d *Document) WriteJSONL(w io.Writer) error {
	enc := json.NewEncoder(w)
	put := func(kind string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", kind, err)
		}
		if err := enc.Encode(Record{Kind: kind, Data: data}); err != nil {
			return fmt.Errorf("write %s: %w", kind, err)
		}
		return nil
	}

	at, err := json.Marshal(d.ExportedAt)
	if err != nil {
		return err
	}
	if err := put(KindHeader, header{Version: d.Version, ExportedAt: at, Metadata: d.Metadata}); err != nil {
		return err
	}
	for _, v := range d.EntryTypes {
		if err := put(KindEntryType, v); err != nil {
			return err
		}
	}
	for _, v := range d.Templates {
		if err := put(KindTemplate, v); err != nil {
			return err
		}
	}
	for _, v := range d.DefaultTemplates {
		if err := put(KindDefaultTemplate, v); err != nil {
			return err
		}
	}
	for _, v := range d.Compositions {
		if err := put(KindComposition, v); err != nil {
			return err
		}
	}
	for _, v := range d.Memberships {
		if err := put(KindMembership, v); err != nil {
			return err
		}
	}
	for _, v := range d.Entries {
		if err := put(KindEntry, v); err != nil {
			return err
		}
	}
	return nil
}

// readJSONL continues decoding a stream whose first value is first.
func readJSONL(first json.RawMessage, dec *json.Decoder) (*Document, error) {
	doc := &Document{}
	line := 1
	sawHeader := false

	apply := func(raw json.RawMessage) error {
		var rec Record
		if err := strictUnmarshal(raw, &rec); err != nil {
			return fmt.Errorf("%w: record %d: %v", common.ErrValidation, line, err)
		}
		if !sawHeader && rec.Kind != KindHeader {
			return fmt.Errorf("%w: record %d: expected header, got %q", common.ErrValidation, line, rec.Kind)
		}

		var err error
		switch rec.Kind {
		case KindHeader:
			if sawHeader {
				return fmt.Errorf("%w: record %d: duplicate header", common.ErrValidation, line)
			}
			sawHeader = true
			var h header
			if err = strictUnmarshal(rec.Data, &h); err == nil {
				doc.Version, doc.Metadata = h.Version, h.Metadata
				err = json.Unmarshal(h.ExportedAt, &doc.ExportedAt)
			}
		case KindEntryType:
			err = appendDecoded(rec.Data, &doc.EntryTypes)
		case KindTemplate:
			err = appendDecoded(rec.Data, &doc.Templates)
		case KindDefaultTemplate:
			err = appendDecoded(rec.Data, &doc.DefaultTemplates)
		case KindComposition:
			err = appendDecoded(rec.Data, &doc.Compositions)
		case KindMembership:
			err = appendDecoded(rec.Data, &doc.Memberships)
		case KindEntry:
			err = appendDecoded(rec.Data, &doc.Entries)
		default:
			return fmt.Errorf("%w: record %d: unknown kind %q", common.ErrValidation, line, rec.Kind)
		}
		if err != nil {
			return fmt.Errorf("%w: record %d (%s): %v", common.ErrValidation, line, rec.Kind, err)
		}
		return nil
	}

	if err := apply(first); err != nil {
		return nil, err
	}
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", common.ErrValidation, line, err)
		}
		if err := apply(raw); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func appendDecoded[T any](raw json.RawMessage, list *[]T) error {
	var v T
	if err := strictUnmarshal(raw, &v); err != nil {
		return err
	}
	*list = append(*list, v)
	return nil
}
