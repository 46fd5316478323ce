// Package entrytypes persists named, versioned entry-type schemas. A type row
// holds the stable id and name; every schema change appends a version row and
// only the newest version is active.
package entrytypes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledger/internal/dbx"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
)

type Repository interface {
	CreateType(ctx context.Context, id, name string, createdAt time.Time, deviceID string) error
	InsertVersion(ctx context.Context, et *models.EntryType) error
	DeactivateVersions(ctx context.Context, typeID string) error
	MaxVersion(ctx context.Context, typeID string) (int, error)
	GetActiveByName(ctx context.Context, name string) (*models.EntryType, error)
	GetActiveByID(ctx context.Context, typeID string) (*models.EntryType, error)
	GetVersion(ctx context.Context, typeID string, version int) (*models.EntryType, error)
	List(ctx context.Context, allVersions bool) ([]models.EntryType, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectJoined = `
	SELECT t.id, t.name, t.device_id, v.version, v.schema_json, v.created_at, v.active
	FROM entry_types t
	JOIN entry_type_versions v ON v.entry_type_id = t.id
`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntryType(s scanner) (*models.EntryType, error) {
	var (
		et         models.EntryType
		schemaJSON string
		createdAt  string
	)
	if err := s.Scan(&et.ID, &et.Name, &et.DeviceID, &et.Version, &schemaJSON, &createdAt, &et.Active); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(schemaJSON), &et.Schema); err != nil {
		return nil, fmt.Errorf("decode schema of %s v%d: %w", et.Name, et.Version, err)
	}
	t, err := models.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	et.CreatedAt = t
	return &et, nil
}

func (r *SQLiteRepository) CreateType(ctx context.Context, id, name string, createdAt time.Time, deviceID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO entry_types (id, name, created_at, device_id) VALUES (?, ?, ?, ?)`,
		id, name, models.FormatTime(createdAt), deviceID)
	if err != nil {
		return fmt.Errorf("failed to insert entry type %q: %w", name, err)
	}
	return nil
}

// InsertVersion appends et.Version of the type et.ID.
func (r *SQLiteRepository) InsertVersion(ctx context.Context, et *models.EntryType) error {
	schemaJSON, err := json.Marshal(et.Schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entry_type_versions (id, entry_type_id, version, schema_json, created_at, active)
		VALUES (?, ?, ?, ?, ?, ?)
	`, models.NewID(), et.ID, et.Version, string(schemaJSON), models.FormatTime(et.CreatedAt), et.Active)
	if err != nil {
		return fmt.Errorf("failed to insert entry type version %s v%d: %w", et.Name, et.Version, err)
	}
	return nil
}

func (r *SQLiteRepository) DeactivateVersions(ctx context.Context, typeID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE entry_type_versions SET active = 0 WHERE entry_type_id = ?`, typeID)
	if err != nil {
		return fmt.Errorf("failed to deactivate versions of %s: %w", typeID, err)
	}
	return nil
}

// MaxVersion returns 0 when the type has no versions.
func (r *SQLiteRepository) MaxVersion(ctx context.Context, typeID string) (int, error) {
	var v int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM entry_type_versions WHERE entry_type_id = ?`, typeID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read max version: %w", err)
	}
	return v, nil
}

func (r *SQLiteRepository) GetActiveByName(ctx context.Context, name string) (*models.EntryType, error) {
	et, err := scanEntryType(r.db.QueryRowContext(ctx, selectJoined+` WHERE t.name = ? AND v.active = 1`, name))
	if err != nil {
		return nil, dbx.NotFound(err, fmt.Sprintf("entry type %q", name))
	}
	return et, nil
}

func (r *SQLiteRepository) GetActiveByID(ctx context.Context, typeID string) (*models.EntryType, error) {
	et, err := scanEntryType(r.db.QueryRowContext(ctx, selectJoined+` WHERE t.id = ? AND v.active = 1`, typeID))
	if err != nil {
		return nil, dbx.NotFound(err, fmt.Sprintf("entry type %s", typeID))
	}
	return et, nil
}

func (r *SQLiteRepository) GetVersion(ctx context.Context, typeID string, version int) (*models.EntryType, error) {
	et, err := scanEntryType(r.db.QueryRowContext(ctx, selectJoined+` WHERE t.id = ? AND v.version = ?`, typeID, version))
	if err != nil {
		return nil, dbx.NotFound(err, fmt.Sprintf("entry type %s v%d", typeID, version))
	}
	return et, nil
}

// List returns active versions ordered by name, or every version when
// allVersions is set.
func (r *SQLiteRepository) List(ctx context.Context, allVersions bool) ([]models.EntryType, error) {
	q := selectJoined + ` WHERE v.active = 1 ORDER BY t.name`
	if allVersions {
		q = selectJoined + ` ORDER BY t.name, v.version`
	}
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list entry types: %w", err)
	}
	defer rows.Close()

	var result []models.EntryType
	for rows.Next() {
		et, err := scanEntryType(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *et)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
