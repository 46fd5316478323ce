// Package compositions persists named groupings of entries and the
// entry/composition join table. Removing a composition never touches the
// entries it grouped.
package compositions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledger/internal/dbx"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.Composition) error
	GetByName(ctx context.Context, name string) (*models.Composition, error)
	GetByID(ctx context.Context, id string) (*models.Composition, error)
	List(ctx context.Context) ([]models.Composition, error)
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error

	Attach(ctx context.Context, entryID, compositionID string, at time.Time) error
	Detach(ctx context.Context, entryID, compositionID string) error
	ForEntry(ctx context.Context, entryID string) ([]models.Composition, error)
	Memberships(ctx context.Context) ([]models.Membership, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

const selectComposition = `
	SELECT c.id, c.name, c.description, c.metadata_json, c.created_at, c.device_id
	FROM compositions c
`

func scanComposition(s scanner) (*models.Composition, error) {
	var (
		c         models.Composition
		meta      sql.NullString
		createdAt string
		err       error
	)
	if err = s.Scan(&c.ID, &c.Name, &c.Description, &meta, &createdAt, &c.DeviceID); err != nil {
		return nil, err
	}
	if meta.Valid {
		c.Metadata = []byte(meta.String)
	}
	if c.CreatedAt, err = models.ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, c *models.Composition) error {
	var meta any
	if len(c.Metadata) > 0 {
		meta = string(c.Metadata)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO compositions (id, name, description, metadata_json, created_at, device_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.Description, meta, models.FormatTime(c.CreatedAt), c.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to insert composition %q: %w", c.Name, err)
	}
	return nil
}

func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*models.Composition, error) {
	c, err := scanComposition(r.db.QueryRowContext(ctx, selectComposition+` WHERE c.name = ?`, name))
	if err != nil {
		return nil, dbx.NotFound(err, fmt.Sprintf("composition %q", name))
	}
	return c, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Composition, error) {
	c, err := scanComposition(r.db.QueryRowContext(ctx, selectComposition+` WHERE c.id = ?`, id))
	if err != nil {
		return nil, dbx.NotFound(err, fmt.Sprintf("composition %s", id))
	}
	return c, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Composition, error) {
	return r.list(ctx, selectComposition+` ORDER BY c.name`)
}

// ForEntry lists the compositions entryID belongs to.
func (r *SQLiteRepository) ForEntry(ctx context.Context, entryID string) ([]models.Composition, error) {
	return r.list(ctx, selectComposition+`
		JOIN entry_compositions ec ON ec.composition_id = c.id
		WHERE ec.entry_id = ?
		ORDER BY c.name
	`, entryID)
}

func (r *SQLiteRepository) list(ctx context.Context, q string, args ...any) ([]models.Composition, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list compositions: %w", err)
	}
	defer rows.Close()

	result := []models.Composition{}
	for rows.Next() {
		c, err := scanComposition(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Rename(ctx context.Context, id, name string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE compositions SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("failed to rename composition: %w", err)
	}
	return dbx.ExpectAffected(res)
}

// Delete removes the composition and its join rows only.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM entry_compositions WHERE composition_id = ?`, id); err != nil {
		return fmt.Errorf("failed to detach composition members: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM compositions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete composition: %w", err)
	}
	return dbx.ExpectAffected(res)
}

// Attach is idempotent.
func (r *SQLiteRepository) Attach(ctx context.Context, entryID, compositionID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entry_compositions (entry_id, composition_id, added_at) VALUES (?, ?, ?)
		ON CONFLICT(entry_id, composition_id) DO NOTHING
	`, entryID, compositionID, models.FormatTime(at))
	if err != nil {
		return fmt.Errorf("failed to attach entry: %w", err)
	}
	return nil
}

// Detach returns common.ErrNotFound when the entry was not a member.
func (r *SQLiteRepository) Detach(ctx context.Context, entryID, compositionID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM entry_compositions WHERE entry_id = ? AND composition_id = ?`, entryID, compositionID)
	if err != nil {
		return fmt.Errorf("failed to detach entry: %w", err)
	}
	return dbx.ExpectAffected(res)
}

func (r *SQLiteRepository) Memberships(ctx context.Context) ([]models.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT entry_id, composition_id, added_at FROM entry_compositions ORDER BY added_at, entry_id, composition_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var result []models.Membership
	for rows.Next() {
		var (
			m  models.Membership
			at string
		)
		if err := rows.Scan(&m.EntryID, &m.CompositionID, &at); err != nil {
			return nil, err
		}
		if m.AddedAt, err = models.ParseTime(at); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
