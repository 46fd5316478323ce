// Package schema describes entry-type field definitions and validates entry
// data against them. Each field kind has its own validator; Schema only
// dispatches.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/dmitrijs2005/ledger/internal/common"
)

// Kind is the value type of a field.
type Kind string

const (
	KindText     Kind = "text"
	KindString   Kind = "string"
	KindNumber   Kind = "number"
	KindInteger  Kind = "integer"
	KindBoolean  Kind = "boolean"
	KindDate     Kind = "date"
	KindDateTime Kind = "datetime"
	KindEnum     Kind = "enum"
	KindTaskList Kind = "task_list"
)

const (
	maxFieldNameBytes = 128
	maxDefsBytes      = 64 * 1024
)

// FieldDef is one field of an entry type.
type FieldDef struct {
	Name        string   `json:"name"`
	Kind        Kind     `json:"type"`
	Required    bool     `json:"required,omitempty"`
	Nullable    bool     `json:"nullable,omitempty"`
	Description string   `json:"description,omitempty"`
	Values      []string `json:"values,omitempty"`
	MaxLength   int      `json:"max_length,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
}

// Schema is the field list of one entry-type version.
type Schema struct {
	Fields             []FieldDef `json:"fields"`
	DefaultComposition string     `json:"default_composition,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrValidation, fmt.Sprintf(format, args...))
}

// Field looks a field up by name.
func (s Schema) Field(name string) (FieldDef, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Check validates the definitions themselves.
func (s Schema) Check() error {
	if len(s.Fields) == 0 {
		return invalid("schema must define at least one field")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" || len(f.Name) > maxFieldNameBytes {
			return invalid("field name must be 1-%d bytes", maxFieldNameBytes)
		}
		if _, dup := seen[f.Name]; dup {
			return invalid("duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}

		if _, ok := validators[f.Kind]; !ok {
			return invalid("field %q has unknown type %q", f.Name, f.Kind)
		}
		if f.Kind == KindEnum && len(f.Values) == 0 {
			return invalid("enum field %q needs values", f.Name)
		}
		if f.Pattern != "" {
			if _, err := regexp.Compile(f.Pattern); err != nil {
				return invalid("field %q pattern: %v", f.Name, err)
			}
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return invalid("field %q min exceeds max", f.Name)
		}
		if f.MaxLength < 0 {
			return invalid("field %q max_length is negative", f.Name)
		}
	}

	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	if len(b) > maxDefsBytes {
		return invalid("field definitions exceed %d bytes", maxDefsBytes)
	}
	return nil
}

// Validate checks raw entry data: it must be a JSON object, carry every
// required field, use only known fields, and hold values of the right kind.
// extraEnum adds allowed values per enum field.
func (s Schema) Validate(raw []byte, extraEnum map[string][]string) error {
	data, err := Decode(raw)
	if err != nil {
		return err
	}

	for _, f := range s.Fields {
		v, ok := data[f.Name]
		if !ok {
			if f.Required {
				return invalid("missing required field %q", f.Name)
			}
			continue
		}
		if v == nil {
			if !f.Nullable {
				return invalid("field %q cannot be null", f.Name)
			}
			continue
		}
		if err := validators[f.Kind](f, v, extraEnum[f.Name]); err != nil {
			return err
		}
	}

	for name := range data {
		if _, ok := s.Field(name); !ok {
			return invalid("unknown field %q", name)
		}
	}
	return nil
}
