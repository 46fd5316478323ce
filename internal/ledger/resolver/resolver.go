// Package resolver decides the final field values, tags and composition
// references of a new entry. Per field the first source that has a value
// wins: the caller's explicit value, the template's defaults, then the
// prompter. A required field left without a value is a validation error.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/schema"
	"github.com/dmitrijs2005/ledger/internal/ledger/tags"
)

// Prompter asks the user for a missing field. An empty answer leaves the
// field unset. A nil Prompter means the caller is non-interactive.
type Prompter interface {
	Prompt(ctx context.Context, f schema.FieldDef, label string) (string, error)
}

// Resolved is the outcome of resolution, ready to be written.
type Resolved struct {
	Data json.RawMessage
	Tags []string
	// Compositions holds composition names or ids, explicit ones first.
	Compositions []string
	// ExtraEnum carries template enum values to accept during validation.
	ExtraEnum map[string][]string
}

// Resolve merges in with the template tpl (nil when none applies) for the
// entry type et. in.SkipDefaults ignores tpl and the type's default
// composition entirely.
func Resolve(ctx context.Context, et *models.EntryType, tpl *models.Template, in models.NewEntry, p Prompter) (*Resolved, error) {
	var payload models.TemplatePayload
	if tpl != nil && tpl.Active != nil && !in.SkipDefaults {
		payload = tpl.Active.Payload
	}

	for name := range in.Fields {
		if _, ok := et.Schema.Field(name); !ok {
			return nil, fmt.Errorf("%w: unknown field %q for type %s", common.ErrValidation, name, et.Name)
		}
	}

	data := make(map[string]any, len(et.Schema.Fields))
	maps.Copy(data, in.Fields)

	for _, f := range et.Schema.Fields {
		if _, ok := data[f.Name]; ok {
			continue
		}
		if v, ok := payload.Defaults[f.Name]; ok {
			data[f.Name] = v
			continue
		}
		if p == nil {
			if f.Required {
				return nil, fmt.Errorf("%w: missing required field %q", common.ErrValidation, f.Name)
			}
			continue
		}

		label := f.Name
		if o, ok := payload.PromptOverrides[f.Name]; ok && o != "" {
			label = o
		} else if f.Description != "" {
			label = f.Description
		}
		answer, err := p.Prompt(ctx, f, label)
		if err != nil {
			return nil, fmt.Errorf("prompt %q: %w", f.Name, err)
		}
		if answer == "" {
			if f.Required {
				return nil, fmt.Errorf("%w: missing required field %q", common.ErrValidation, f.Name)
			}
			continue
		}
		v, err := f.ParseInput(answer)
		if err != nil {
			return nil, err
		}
		data[f.Name] = v
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: encode entry data: %v", common.ErrValidation, err)
	}

	res := &Resolved{Data: raw, ExtraEnum: payload.EnumValues}

	tagSource := in.Tags
	if len(tagSource) == 0 {
		tagSource = payload.DefaultTags
	}
	if res.Tags, err = tags.NormalizeAll(tagSource); err != nil {
		return nil, err
	}

	if len(in.Compositions) > 0 {
		res.Compositions = append(res.Compositions, in.Compositions...)
	} else {
		res.Compositions = append(res.Compositions, payload.DefaultCompositions...)
	}
	if dc := et.Schema.DefaultComposition; dc != "" && !in.SkipDefaults {
		res.Compositions = append(res.Compositions, dc)
	}
	return res, nil
}
