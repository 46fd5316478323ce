package models

import (
	"encoding/json"
	"time"
)

// Entry is an append-only record. Edits are new entries whose Supersedes
// points at the previous revision.
type Entry struct {
	ID            string          `json:"id"`
	EntryTypeID   string          `json:"entry_type_id"`
	SchemaVersion int             `json:"schema_version"`
	CreatedAt     time.Time       `json:"created_at"`
	Data          json.RawMessage `json:"data"`
	Tags          []string        `json:"tags"`
	DeviceID      string          `json:"device_id"`
	Supersedes    *string         `json:"supersedes,omitempty"`

	// DeletedAt is reserved for tombstones and never set.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// NewEntry is the caller's request to write an entry. Fields holds explicit
// values; anything missing is resolved from templates or a prompter.
type NewEntry struct {
	EntryType    string         `validate:"required"`
	Fields       map[string]any `validate:"-"`
	Tags         []string       `validate:"max=100,dive,max=128"`
	Compositions []string       `validate:"dive,required"`
	Template     string
	SkipDefaults bool
	// CreatedAt backdates the entry; zero means now.
	CreatedAt time.Time
}

// Task is one item of a task_list field.
type Task struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// EntryFilter narrows Query. Zero values mean "no constraint".
type EntryFilter struct {
	EntryTypeID    string
	Tags           []string
	Since          *time.Time
	Until          *time.Time
	CompositionID  string
	Text           string
	IncludeHistory bool
	Limit          int
}
