package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
)

type CompositionService interface {
	Create(ctx context.Context, in models.NewComposition) (*models.Composition, error)
	Get(ctx context.Context, ref string) (*models.Composition, error)
	List(ctx context.Context) ([]models.Composition, error)
	Rename(ctx context.Context, ref, name string) error
	// Delete removes the composition; member entries are kept.
	Delete(ctx context.Context, ref string) error
	Attach(ctx context.Context, entryID, ref string) error
	Detach(ctx context.Context, entryID, ref string) error
	// Members lists current entries of the composition, newest first.
	Members(ctx context.Context, ref string) ([]models.Entry, error)
}

type compositionService struct {
	*base
}

func (s *compositionService) Create(ctx context.Context, in models.NewComposition) (*models.Composition, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	if len(in.Metadata) > models.MaxCompositionMeta {
		return nil, fmt.Errorf("%w: composition metadata is %d bytes (max %d)", common.ErrValidation, len(in.Metadata), models.MaxCompositionMeta)
	}
	// a literal null is stored as no metadata
	if string(bytes.TrimSpace(in.Metadata)) == "null" {
		in.Metadata = nil
	}
	if len(in.Metadata) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(in.Metadata, &obj); err != nil {
			return nil, fmt.Errorf("%w: composition metadata must be a JSON object", common.ErrValidation)
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, in.Metadata); err != nil {
			return nil, fmt.Errorf("%w: composition metadata: %v", common.ErrValidation, err)
		}
		in.Metadata = buf.Bytes()
	}

	c := &models.Composition{
		ID:          models.NewID(),
		Name:        in.Name,
		Description: in.Description,
		Metadata:    in.Metadata,
		CreatedAt:   s.now(),
		DeviceID:    s.deviceID,
	}
	err := s.write(ctx, func(ctx context.Context, r repos) error {
		return r.compositions.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *compositionService) Get(ctx context.Context, ref string) (*models.Composition, error) {
	return lookupComposition(ctx, s.read(), ref)
}

func (s *compositionService) List(ctx context.Context) ([]models.Composition, error) {
	return s.read().compositions.List(ctx)
}

func (s *compositionService) Rename(ctx context.Context, ref, name string) error {
	if err := models.Validate(models.NewComposition{Name: name}); err != nil {
		return err
	}
	return s.write(ctx, func(ctx context.Context, r repos) error {
		c, err := lookupComposition(ctx, r, ref)
		if err != nil {
			return err
		}
		return r.compositions.Rename(ctx, c.ID, name)
	})
}

func (s *compositionService) Delete(ctx context.Context, ref string) error {
	return s.write(ctx, func(ctx context.Context, r repos) error {
		c, err := lookupComposition(ctx, r, ref)
		if err != nil {
			return err
		}
		return r.compositions.Delete(ctx, c.ID)
	})
}

func (s *compositionService) Attach(ctx context.Context, entryID, ref string) error {
	return s.write(ctx, func(ctx context.Context, r repos) error {
		if _, err := r.entries.Get(ctx, entryID); err != nil {
			return err
		}
		c, err := lookupComposition(ctx, r, ref)
		if err != nil {
			return err
		}
		return r.compositions.Attach(ctx, entryID, c.ID, s.now())
	})
}

func (s *compositionService) Detach(ctx context.Context, entryID, ref string) error {
	return s.write(ctx, func(ctx context.Context, r repos) error {
		c, err := lookupComposition(ctx, r, ref)
		if err != nil {
			return err
		}
		if err := r.compositions.Detach(ctx, entryID, c.ID); err != nil {
			return fmt.Errorf("entry %s in %q: %w", entryID, c.Name, err)
		}
		return nil
	})
}

func (s *compositionService) Members(ctx context.Context, ref string) ([]models.Entry, error) {
	r := s.read()
	c, err := lookupComposition(ctx, r, ref)
	if err != nil {
		return nil, err
	}
	return r.entries.Query(ctx, models.EntryFilter{CompositionID: c.ID})
}
