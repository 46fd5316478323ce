package models

import (
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/ledger/internal/ledger/schema"
)

// EntryType is one version of a named schema. Versions are append-only and
// exactly one version per name is active.
type EntryType struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Version   int           `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	DeviceID  string        `json:"device_id"`
	Active    bool          `json:"active"`
	Schema    schema.Schema `json:"schema"`
}

// Template is a named set of defaults for one entry type. Its content lives
// in versions.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	EntryTypeID string    `json:"entry_type_id"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	DeviceID    string    `json:"device_id"`

	// Active is the current version, filled by reads that join it.
	Active *TemplateVersion `json:"active,omitempty"`
}

type TemplateVersion struct {
	ID         string          `json:"id"`
	TemplateID string          `json:"template_id"`
	Version    int             `json:"version"`
	Payload    TemplatePayload `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	Active     bool            `json:"active"`
}

// TemplatePayload is the stored body of a template version.
type TemplatePayload struct {
	Defaults            map[string]any      `json:"defaults,omitempty"`
	DefaultTags         []string            `json:"default_tags,omitempty"`
	DefaultCompositions []string            `json:"default_compositions,omitempty"`
	PromptOverrides     map[string]string   `json:"prompt_overrides,omitempty"`
	EnumValues          map[string][]string `json:"enum_values,omitempty"`
}

// DefaultTemplate maps an entry type to its default template.
type DefaultTemplate struct {
	EntryTypeID string `json:"entry_type_id"`
	TemplateID  string `json:"template_id"`
	Active      bool   `json:"active"`
}

// Composition groups entries across types. Deleting one never deletes its
// members.
type Composition struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	DeviceID    string          `json:"device_id"`
}

// Membership is one row of the entry/composition join table.
type Membership struct {
	EntryID       string    `json:"entry_id"`
	CompositionID string    `json:"composition_id"`
	AddedAt       time.Time `json:"added_at"`
}
