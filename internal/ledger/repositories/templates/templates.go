// Package templates persists templates, their append-only versions and the
// entry-type -> default template mapping.
package templates

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledger/internal/dbx"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
)

type Repository interface {
	Create(ctx context.Context, t *models.Template) error
	GetByName(ctx context.Context, name string) (*models.Template, error)
	GetByID(ctx context.Context, id string) (*models.Template, error)
	List(ctx context.Context) ([]models.Template, error)
	Delete(ctx context.Context, id string) error

	InsertVersion(ctx context.Context, v *models.TemplateVersion) error
	DeactivateVersions(ctx context.Context, templateID string) error
	MaxVersion(ctx context.Context, templateID string) (int, error)
	Versions(ctx context.Context, templateID string) ([]models.TemplateVersion, error)

	SetDefault(ctx context.Context, entryTypeID, templateID string) error
	ClearDefault(ctx context.Context, entryTypeID string) error
	GetDefault(ctx context.Context, entryTypeID string) (*models.Template, error)
	Mappings(ctx context.Context) ([]models.DefaultTemplate, error)
	InsertMapping(ctx context.Context, m models.DefaultTemplate) error
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

const selectTemplate = `
	SELECT t.id, t.name, t.entry_type_id, t.description, t.created_at, t.device_id
	FROM templates t
`

func scanTemplate(s scanner) (*models.Template, error) {
	var (
		t         models.Template
		createdAt string
		err       error
	)
	if err = s.Scan(&t.ID, &t.Name, &t.EntryTypeID, &t.Description, &createdAt, &t.DeviceID); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = models.ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &t, nil
}

const selectVersion = `
	SELECT id, template_id, version, template_json, created_at, active
	FROM template_versions
`

func scanVersion(s scanner) (*models.TemplateVersion, error) {
	var (
		v         models.TemplateVersion
		body      string
		createdAt string
		err       error
	)
	if err = s.Scan(&v.ID, &v.TemplateID, &v.Version, &body, &createdAt, &v.Active); err != nil {
		return nil, err
	}
	if err = json.Unmarshal([]byte(body), &v.Payload); err != nil {
		return nil, fmt.Errorf("decode template version %s: %w", v.ID, err)
	}
	if v.CreatedAt, err = models.ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, t *models.Template) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, entry_type_id, description, created_at, device_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.EntryTypeID, t.Description, models.FormatTime(t.CreatedAt), t.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to insert template %q: %w", t.Name, err)
	}
	return nil
}

// withActive loads the active version into t. A template without one keeps
// Active nil.
func (r *SQLiteRepository) withActive(ctx context.Context, t *models.Template) (*models.Template, error) {
	v, err := scanVersion(r.db.QueryRowContext(ctx, selectVersion+` WHERE template_id = ? AND active = 1`, t.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active version of %q: %w", t.Name, err)
	}
	t.Active = v
	return t, nil
}

func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*models.Template, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx, selectTemplate+` WHERE t.name = ?`, name))
	if err != nil {
		return nil, dbx.NotFound(err, fmt.Sprintf("template %q", name))
	}
	return r.withActive(ctx, t)
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx, selectTemplate+` WHERE t.id = ?`, id))
	if err != nil {
		return nil, dbx.NotFound(err, fmt.Sprintf("template %s", id))
	}
	return r.withActive(ctx, t)
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Template, error) {
	rows, err := r.db.QueryContext(ctx, selectTemplate+` ORDER BY t.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	var list []*models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// rows must be closed before the next query on a single-connection pool
	result := make([]models.Template, 0, len(list))
	for _, t := range list {
		t, err := r.withActive(ctx, t)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, nil
}

// Delete removes the template, its versions and any mapping to it.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM entry_type_templates WHERE template_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete template mappings: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM template_versions WHERE template_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete template versions: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return dbx.ExpectAffected(res)
}

func (r *SQLiteRepository) InsertVersion(ctx context.Context, v *models.TemplateVersion) error {
	body, err := json.Marshal(v.Payload)
	if err != nil {
		return fmt.Errorf("encode template payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO template_versions (id, template_id, version, template_json, created_at, active)
		VALUES (?, ?, ?, ?, ?, ?)
	`, v.ID, v.TemplateID, v.Version, string(body), models.FormatTime(v.CreatedAt), v.Active)
	if err != nil {
		return fmt.Errorf("failed to insert template version: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeactivateVersions(ctx context.Context, templateID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE template_versions SET active = 0 WHERE template_id = ?`, templateID)
	if err != nil {
		return fmt.Errorf("failed to deactivate template versions: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MaxVersion(ctx context.Context, templateID string) (int, error) {
	var v int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM template_versions WHERE template_id = ?`, templateID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read template max version: %w", err)
	}
	return v, nil
}

// Versions returns all versions of a template, oldest first.
func (r *SQLiteRepository) Versions(ctx context.Context, templateID string) ([]models.TemplateVersion, error) {
	rows, err := r.db.QueryContext(ctx, selectVersion+` WHERE template_id = ? ORDER BY version`, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list template versions: %w", err)
	}
	defer rows.Close()

	var result []models.TemplateVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	return result, rows.Err()
}

// SetDefault makes templateID the only active default of entryTypeID.
func (r *SQLiteRepository) SetDefault(ctx context.Context, entryTypeID, templateID string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE entry_type_templates SET active = 0 WHERE entry_type_id = ? AND active = 1`, entryTypeID); err != nil {
		return fmt.Errorf("failed to deactivate default template: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entry_type_templates (entry_type_id, template_id, active) VALUES (?, ?, 1)
		ON CONFLICT(entry_type_id, template_id) DO UPDATE SET active = 1
	`, entryTypeID, templateID)
	if err != nil {
		return fmt.Errorf("failed to set default template: %w", err)
	}
	return nil
}

// ClearDefault deactivates the active default; common.ErrNotFound when
// there is none.
func (r *SQLiteRepository) ClearDefault(ctx context.Context, entryTypeID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entry_type_templates SET active = 0 WHERE entry_type_id = ? AND active = 1`, entryTypeID)
	if err != nil {
		return fmt.Errorf("failed to clear default template: %w", err)
	}
	return dbx.ExpectAffected(res)
}

func (r *SQLiteRepository) GetDefault(ctx context.Context, entryTypeID string) (*models.Template, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx, selectTemplate+`
		JOIN entry_type_templates m ON m.template_id = t.id
		WHERE m.entry_type_id = ? AND m.active = 1
	`, entryTypeID))
	if err != nil {
		return nil, dbx.NotFound(err, "default template")
	}
	return r.withActive(ctx, t)
}

// Mappings returns every mapping row, active or not.
func (r *SQLiteRepository) Mappings(ctx context.Context) ([]models.DefaultTemplate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT entry_type_id, template_id, active FROM entry_type_templates ORDER BY entry_type_id, template_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list template mappings: %w", err)
	}
	defer rows.Close()

	var result []models.DefaultTemplate
	for rows.Next() {
		var m models.DefaultTemplate
		if err := rows.Scan(&m.EntryTypeID, &m.TemplateID, &m.Active); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// InsertMapping stores m as is. Used by import.
func (r *SQLiteRepository) InsertMapping(ctx context.Context, m models.DefaultTemplate) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO entry_type_templates (entry_type_id, template_id, active) VALUES (?, ?, ?)`,
		m.EntryTypeID, m.TemplateID, m.Active)
	if err != nil {
		return fmt.Errorf("failed to insert template mapping: %w", err)
	}
	return nil
}
