// Package integrity runs read-only consistency queries over the payload.
// Normal reads and writes never call it.
package integrity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/ledger/internal/dbx"
)

// ForeignKeyViolation is one row of PRAGMA foreign_key_check.
type ForeignKeyViolation struct {
	Table  string
	RowID  int64
	Parent string
}

type Repository interface {
	IntegrityCheck(ctx context.Context) ([]string, error)
	ForeignKeyCheck(ctx context.Context) ([]ForeignKeyViolation, error)
	UnresolvedTypeRefs(ctx context.Context) ([]string, error)
	TypesWithoutOneActive(ctx context.Context) ([]string, error)
	TemplatesWithoutOneActive(ctx context.Context) ([]string, error)
	DuplicateActiveDefaults(ctx context.Context) ([]string, error)
	MismatchedDefaults(ctx context.Context) ([]string, error)
	OrphanedRevisions(ctx context.Context) ([]string, error)
	Forks(ctx context.Context) ([]string, error)
	Tombstones(ctx context.Context) ([]string, error)
	Count(ctx context.Context, table string) (int, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// IntegrityCheck returns SQLite's complaints; an empty slice means "ok".
func (r *SQLiteRepository) IntegrityCheck(ctx context.Context) ([]string, error) {
	msgs, err := r.strings(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 1 && msgs[0] == "ok" {
		return nil, nil
	}
	return msgs, nil
}

func (r *SQLiteRepository) ForeignKeyCheck(ctx context.Context) ([]ForeignKeyViolation, error) {
	rows, err := r.db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return nil, fmt.Errorf("foreign key check: %w", err)
	}
	defer rows.Close()

	var result []ForeignKeyViolation
	for rows.Next() {
		var (
			v     ForeignKeyViolation
			rowID sql.NullInt64
			fkID  int
		)
		if err := rows.Scan(&v.Table, &rowID, &v.Parent, &fkID); err != nil {
			return nil, err
		}
		v.RowID = rowID.Int64
		result = append(result, v)
	}
	return result, rows.Err()
}

// UnresolvedTypeRefs lists entries whose (type, version) has no schema row.
func (r *SQLiteRepository) UnresolvedTypeRefs(ctx context.Context) ([]string, error) {
	return r.strings(ctx, `
		SELECT e.id FROM entries e
		LEFT JOIN entry_type_versions v
		  ON v.entry_type_id = e.entry_type_id AND v.version = e.schema_version
		WHERE v.id IS NULL
		ORDER BY e.id
	`)
}

// TypesWithoutOneActive lists entry type names with zero or several active
// versions.
func (r *SQLiteRepository) TypesWithoutOneActive(ctx context.Context) ([]string, error) {
	return r.strings(ctx, `
		SELECT t.name FROM entry_types t
		LEFT JOIN entry_type_versions v ON v.entry_type_id = t.id AND v.active = 1
		GROUP BY t.id
		HAVING COUNT(v.id) != 1
		ORDER BY t.name
	`)
}

func (r *SQLiteRepository) TemplatesWithoutOneActive(ctx context.Context) ([]string, error) {
	return r.strings(ctx, `
		SELECT t.name FROM templates t
		LEFT JOIN template_versions v ON v.template_id = t.id AND v.active = 1
		GROUP BY t.id
		HAVING COUNT(v.id) != 1
		ORDER BY t.name
	`)
}

// DuplicateActiveDefaults lists entry type ids with more than one active
// default template mapping.
func (r *SQLiteRepository) DuplicateActiveDefaults(ctx context.Context) ([]string, error) {
	return r.strings(ctx, `
		SELECT entry_type_id FROM entry_type_templates
		WHERE active = 1
		GROUP BY entry_type_id
		HAVING COUNT(*) > 1
		ORDER BY entry_type_id
	`)
}

// MismatchedDefaults lists template ids mapped as default of an entry type
// they do not belong to.
func (r *SQLiteRepository) MismatchedDefaults(ctx context.Context) ([]string, error) {
	return r.strings(ctx, `
		SELECT m.template_id FROM entry_type_templates m
		JOIN templates t ON t.id = m.template_id
		WHERE t.entry_type_id != m.entry_type_id
		ORDER BY m.template_id
	`)
}

// OrphanedRevisions lists entries superseding an id that does not exist.
func (r *SQLiteRepository) OrphanedRevisions(ctx context.Context) ([]string, error) {
	return r.strings(ctx, `
		SELECT e.id FROM entries e
		WHERE e.supersedes IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM entries p WHERE p.id = e.supersedes)
		ORDER BY e.id
	`)
}

// Forks lists entry ids superseded by more than one revision.
func (r *SQLiteRepository) Forks(ctx context.Context) ([]string, error) {
	return r.strings(ctx, `
		SELECT supersedes FROM entries
		WHERE supersedes IS NOT NULL
		GROUP BY supersedes
		HAVING COUNT(*) > 1
		ORDER BY supersedes
	`)
}

// Tombstones lists entries with deleted_at set.
func (r *SQLiteRepository) Tombstones(ctx context.Context) ([]string, error) {
	return r.strings(ctx, `SELECT id FROM entries WHERE deleted_at IS NOT NULL ORDER BY id`)
}

var countable = map[string]string{
	"entries":      `SELECT COUNT(*) FROM entries`,
	"entry_types":  `SELECT COUNT(*) FROM entry_types`,
	"templates":    `SELECT COUNT(*) FROM templates`,
	"compositions": `SELECT COUNT(*) FROM compositions`,
}

func (r *SQLiteRepository) Count(ctx context.Context, table string) (int, error) {
	q, ok := countable[table]
	if !ok {
		return 0, fmt.Errorf("count: unknown table %q", table)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (r *SQLiteRepository) strings(ctx context.Context, q string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("integrity query: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
