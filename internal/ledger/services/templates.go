package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/schema"
	"github.com/dmitrijs2005/ledger/internal/ledger/tags"
)

type TemplateService interface {
	Create(ctx context.Context, in models.NewTemplate) (*models.Template, error)
	// Update appends a new active version with payload.
	Update(ctx context.Context, ref string, payload models.TemplatePayload) (*models.Template, error)
	Delete(ctx context.Context, ref string) error
	Get(ctx context.Context, ref string) (*models.Template, error)
	Versions(ctx context.Context, ref string) ([]models.TemplateVersion, error)
	List(ctx context.Context) ([]models.Template, error)

	SetDefault(ctx context.Context, entryType, template string) error
	ClearDefault(ctx context.Context, entryType string) error
	GetDefault(ctx context.Context, entryType string) (*models.Template, error)
}

type templateService struct {
	*base
}

// checkPayload normalizes default tags and checks the payload against the
// entry type: known fields only, defaults of the right kind, and the size
// ceiling.
func checkPayload(et *models.EntryType, p *models.TemplatePayload) error {
	normalized, err := tags.NormalizeAll(p.DefaultTags)
	if err != nil {
		return err
	}
	p.DefaultTags = normalized

	for name := range p.PromptOverrides {
		if _, ok := et.Schema.Field(name); !ok {
			return fmt.Errorf("%w: prompt override for unknown field %q", common.ErrValidation, name)
		}
	}
	for name := range p.EnumValues {
		f, ok := et.Schema.Field(name)
		if !ok || f.Kind != schema.KindEnum {
			return fmt.Errorf("%w: enum values for non-enum field %q", common.ErrValidation, name)
		}
	}

	// defaults are partial data: validate them with nothing required
	relaxed := schema.Schema{Fields: make([]schema.FieldDef, len(et.Schema.Fields))}
	for i, f := range et.Schema.Fields {
		f.Required = false
		relaxed.Fields[i] = f
	}
	defaults := p.Defaults
	if defaults == nil {
		defaults = map[string]any{}
	}
	raw, err := json.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("%w: encode defaults: %v", common.ErrValidation, err)
	}
	if err := relaxed.Validate(raw, p.EnumValues); err != nil {
		return err
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: encode template: %v", common.ErrValidation, err)
	}
	if len(body) > models.MaxTemplateBytes {
		return fmt.Errorf("%w: template is %d bytes (max %d)", common.ErrValidation, len(body), models.MaxTemplateBytes)
	}
	return nil
}

func (s *templateService) Create(ctx context.Context, in models.NewTemplate) (*models.Template, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}

	var t *models.Template
	err := s.write(ctx, func(ctx context.Context, r repos) error {
		et, err := lookupType(ctx, r, in.EntryType)
		if err != nil {
			return err
		}
		if err := checkPayload(et, &in.Payload); err != nil {
			return err
		}

		now := s.now()
		t = &models.Template{
			ID:          models.NewID(),
			Name:        in.Name,
			EntryTypeID: et.ID,
			Description: in.Description,
			CreatedAt:   now,
			DeviceID:    s.deviceID,
		}
		if err := r.templates.Create(ctx, t); err != nil {
			return err
		}
		t.Active = &models.TemplateVersion{
			ID:         models.NewID(),
			TemplateID: t.ID,
			Version:    1,
			Payload:    in.Payload,
			CreatedAt:  now,
			Active:     true,
		}
		return r.templates.InsertVersion(ctx, t.Active)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *templateService) Update(ctx context.Context, ref string, payload models.TemplatePayload) (*models.Template, error) {
	var t *models.Template
	err := s.write(ctx, func(ctx context.Context, r repos) error {
		var err error
		if t, err = lookupTemplate(ctx, r, ref); err != nil {
			return err
		}
		et, err := r.types.GetActiveByID(ctx, t.EntryTypeID)
		if err != nil {
			return err
		}
		if err := checkPayload(et, &payload); err != nil {
			return err
		}

		max, err := r.templates.MaxVersion(ctx, t.ID)
		if err != nil {
			return err
		}
		if err := r.templates.DeactivateVersions(ctx, t.ID); err != nil {
			return err
		}
		t.Active = &models.TemplateVersion{
			ID:         models.NewID(),
			TemplateID: t.ID,
			Version:    max + 1,
			Payload:    payload,
			CreatedAt:  s.now(),
			Active:     true,
		}
		return r.templates.InsertVersion(ctx, t.Active)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *templateService) Delete(ctx context.Context, ref string) error {
	return s.write(ctx, func(ctx context.Context, r repos) error {
		t, err := lookupTemplate(ctx, r, ref)
		if err != nil {
			return err
		}
		return r.templates.Delete(ctx, t.ID)
	})
}

func (s *templateService) Get(ctx context.Context, ref string) (*models.Template, error) {
	return lookupTemplate(ctx, s.read(), ref)
}

func (s *templateService) Versions(ctx context.Context, ref string) ([]models.TemplateVersion, error) {
	r := s.read()
	t, err := lookupTemplate(ctx, r, ref)
	if err != nil {
		return nil, err
	}
	return r.templates.Versions(ctx, t.ID)
}

func (s *templateService) List(ctx context.Context) ([]models.Template, error) {
	return s.read().templates.List(ctx)
}

func (s *templateService) SetDefault(ctx context.Context, entryType, template string) error {
	return s.write(ctx, func(ctx context.Context, r repos) error {
		et, err := lookupType(ctx, r, entryType)
		if err != nil {
			return err
		}
		t, err := lookupTemplate(ctx, r, template)
		if err != nil {
			return err
		}
		if t.EntryTypeID != et.ID {
			return fmt.Errorf("%w: template %q is not for type %s", common.ErrValidation, t.Name, et.Name)
		}
		return r.templates.SetDefault(ctx, et.ID, t.ID)
	})
}

func (s *templateService) ClearDefault(ctx context.Context, entryType string) error {
	return s.write(ctx, func(ctx context.Context, r repos) error {
		et, err := lookupType(ctx, r, entryType)
		if err != nil {
			return err
		}
		if err := r.templates.ClearDefault(ctx, et.ID); err != nil {
			return fmt.Errorf("default template of %s: %w", et.Name, err)
		}
		return nil
	})
}

func (s *templateService) GetDefault(ctx context.Context, entryType string) (*models.Template, error) {
	r := s.read()
	et, err := lookupType(ctx, r, entryType)
	if err != nil {
		return nil, err
	}
	return r.templates.GetDefault(ctx, et.ID)
}
