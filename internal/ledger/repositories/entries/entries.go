// Package entries persists append-only ledger entries. Rows are inserted and
// never updated; revisions are new rows whose supersedes column names the
// entry they replace.
package entries

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/ledger/internal/dbx"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
)

type Repository interface {
	Insert(ctx context.Context, e *models.Entry) error
	Get(ctx context.Context, id string) (*models.Entry, error)
	SupersededBy(ctx context.Context, id string) (string, error)
	Query(ctx context.Context, f models.EntryFilter) ([]models.Entry, error)
	All(ctx context.Context) ([]models.Entry, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectEntry = `
	SELECT e.id, e.entry_type_id, e.schema_version, e.data_json, e.tags_json,
	       e.created_at, e.device_id, e.supersedes, e.deleted_at
	FROM entries e
`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*models.Entry, error) {
	var (
		e          models.Entry
		data, tags string
		createdAt  string
		supersedes sql.NullString
		deletedAt  sql.NullString
	)
	err := s.Scan(&e.ID, &e.EntryTypeID, &e.SchemaVersion, &data, &tags, &createdAt, &e.DeviceID, &supersedes, &deletedAt)
	if err != nil {
		return nil, err
	}
	e.Data = json.RawMessage(data)
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", e.ID, err)
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if e.CreatedAt, err = models.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if supersedes.Valid {
		prev := supersedes.String
		e.Supersedes = &prev
	}
	if deletedAt.Valid {
		t, err := models.ParseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		e.DeletedAt = &t
	}
	return &e, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, e *models.Entry) error {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entries (id, entry_type_id, schema_version, data_json, tags_json, created_at, device_id, supersedes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.EntryTypeID, e.SchemaVersion, string(e.Data), string(tagsJSON),
		models.FormatTime(e.CreatedAt), e.DeviceID, e.Supersedes)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Entry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, selectEntry+` WHERE e.id = ?`, id))
	if err != nil {
		return nil, dbx.NotFound(err, fmt.Sprintf("entry %s", id))
	}
	return e, nil
}

// SupersededBy returns the id of the revision replacing id, or
// common.ErrNotFound when id is a chain head.
func (r *SQLiteRepository) SupersededBy(ctx context.Context, id string) (string, error) {
	var next string
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM entries WHERE supersedes = ? ORDER BY created_at, id LIMIT 1`, id).Scan(&next)
	if err != nil {
		return "", dbx.NotFound(err, fmt.Sprintf("revision of %s", id))
	}
	return next, nil
}

// Query lists entries newest first with id as tie-break. Superseded entries
// are skipped unless f.IncludeHistory is set; an entry whose supersedes
// target is missing is still a head.
func (r *SQLiteRepository) Query(ctx context.Context, f models.EntryFilter) ([]models.Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.EntryTypeID != "" {
		where = append(where, `e.entry_type_id = ?`)
		args = append(args, f.EntryTypeID)
	}
	for _, tag := range f.Tags {
		where = append(where, `EXISTS (SELECT 1 FROM json_each(e.tags_json) WHERE json_each.value = ?)`)
		args = append(args, tag)
	}
	if f.Since != nil {
		where = append(where, `e.created_at >= ?`)
		args = append(args, models.FormatTime(*f.Since))
	}
	if f.Until != nil {
		where = append(where, `e.created_at <= ?`)
		args = append(args, models.FormatTime(*f.Until))
	}
	if f.CompositionID != "" {
		where = append(where, `e.id IN (SELECT entry_id FROM entry_compositions WHERE composition_id = ?)`)
		args = append(args, f.CompositionID)
	}
	if f.Text != "" {
		where = append(where, `e.id IN (SELECT entry_id FROM entries_fts WHERE entries_fts MATCH ?)`)
		args = append(args, f.Text)
	}
	if !f.IncludeHistory {
		where = append(where, `NOT EXISTS (SELECT 1 FROM entries s WHERE s.supersedes = e.id)`)
	}

	q := selectEntry
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY e.created_at DESC, e.id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	return r.list(ctx, q, args...)
}

// All returns every entry oldest first.
func (r *SQLiteRepository) All(ctx context.Context) ([]models.Entry, error) {
	return r.list(ctx, selectEntry+` ORDER BY e.created_at, e.id`)
}

func (r *SQLiteRepository) list(ctx context.Context, q string, args ...any) ([]models.Entry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	result := []models.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
