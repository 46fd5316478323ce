package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/schema"
)

type EntryTypeService interface {
	// Create adds version 1 of a new type, or the next version of an
	// existing one, deactivating older versions.
	Create(ctx context.Context, in models.NewEntryType) (*models.EntryType, error)
	Get(ctx context.Context, ref string) (*models.EntryType, error)
	GetVersion(ctx context.Context, typeID string, version int) (*models.EntryType, error)
	List(ctx context.Context, allVersions bool) ([]models.EntryType, error)
}

type entryTypeService struct {
	*base
}

func (s *entryTypeService) Create(ctx context.Context, in models.NewEntryType) (*models.EntryType, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	sch := schema.Schema{Fields: in.Fields, DefaultComposition: in.DefaultComposition}
	if err := sch.Check(); err != nil {
		return nil, err
	}

	var et *models.EntryType
	err := s.write(ctx, func(ctx context.Context, r repos) error {
		now := s.now()
		current, err := r.types.GetActiveByName(ctx, in.Name)
		var id string
		switch {
		case err == nil:
			id = current.ID
		case errors.Is(err, common.ErrNotFound):
			id = models.NewID()
			if err := r.types.CreateType(ctx, id, in.Name, now, s.deviceID); err != nil {
				return err
			}
		default:
			return err
		}

		max, err := r.types.MaxVersion(ctx, id)
		if err != nil {
			return err
		}
		if err := r.types.DeactivateVersions(ctx, id); err != nil {
			return err
		}
		et = &models.EntryType{
			ID:        id,
			Name:      in.Name,
			Version:   max + 1,
			CreatedAt: now,
			DeviceID:  s.deviceID,
			Active:    true,
			Schema:    sch,
		}
		return r.types.InsertVersion(ctx, et)
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug(ctx, "entry type saved", "name", et.Name, "version", et.Version)
	return et, nil
}

func (s *entryTypeService) Get(ctx context.Context, ref string) (*models.EntryType, error) {
	return lookupType(ctx, s.read(), ref)
}

func (s *entryTypeService) GetVersion(ctx context.Context, typeID string, version int) (*models.EntryType, error) {
	return s.read().types.GetVersion(ctx, typeID, version)
}

func (s *entryTypeService) List(ctx context.Context, allVersions bool) ([]models.EntryType, error) {
	list, err := s.read().types.List(ctx, allVersions)
	if err != nil {
		return nil, fmt.Errorf("list entry types: %w", err)
	}
	return list, nil
}
