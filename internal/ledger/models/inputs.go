package models

import (
	"encoding/json"

	"github.com/dmitrijs2005/ledger/internal/ledger/schema"
)

// NewEntryType describes a schema to create, or a new version of an existing
// one when the name is taken.
type NewEntryType struct {
	Name               string            `validate:"required,max=256"`
	Fields             []schema.FieldDef `validate:"required,min=1"`
	DefaultComposition string            `validate:"max=256"`
}

type NewTemplate struct {
	Name        string `validate:"required,max=256"`
	EntryType   string `validate:"required"`
	Description string `validate:"max=4096"`
	Payload     TemplatePayload
}

type NewComposition struct {
	Name        string `validate:"required,max=256"`
	Description string `validate:"max=4096"`
	Metadata    json.RawMessage
}
