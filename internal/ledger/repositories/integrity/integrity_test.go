package integrity

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ts = "'2024-01-01T00:00:00.000Z'"

func TestSQLiteRepository_CleanStore(t *testing.T) {
	db := repotest.NewDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO entry_types (id, name, created_at, device_id) VALUES ('t', 'journal', ` + ts + `, 'd')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO entry_type_versions (id, entry_type_id, version, schema_json, created_at, active) VALUES ('v', 't', 1, '{}', ` + ts + `, 1)`)
	require.NoError(t, err)

	msgs, err := r.IntegrityCheck(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	fk, err := r.ForeignKeyCheck(ctx)
	require.NoError(t, err)
	assert.Empty(t, fk)

	for name, fn := range map[string]func(context.Context) ([]string, error){
		"unresolved": r.UnresolvedTypeRefs,
		"types":      r.TypesWithoutOneActive,
		"templates":  r.TemplatesWithoutOneActive,
		"defaults":   r.DuplicateActiveDefaults,
		"mismatched": r.MismatchedDefaults,
		"orphans":    r.OrphanedRevisions,
		"forks":      r.Forks,
		"tombstones": r.Tombstones,
	} {
		got, err := fn(ctx)
		require.NoError(t, err, name)
		assert.Empty(t, got, name)
	}

	n, err := r.Count(ctx, "entry_types")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = r.Count(ctx, "sqlite_master")
	require.Error(t, err)
}

func TestSQLiteRepository_DetectsProblems(t *testing.T) {
	db := repotest.NewDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	_, err := db.Exec(`PRAGMA foreign_keys = OFF`)
	require.NoError(t, err)

	stmts := []string{
		// two active versions
		`INSERT INTO entry_types (id, name, created_at, device_id) VALUES ('t', 'journal', ` + ts + `, 'd')`,
		`INSERT INTO entry_type_versions (id, entry_type_id, version, schema_json, created_at, active) VALUES ('v1', 't', 1, '{}', ` + ts + `, 1)`,
		`INSERT INTO entry_type_versions (id, entry_type_id, version, schema_json, created_at, active) VALUES ('v2', 't', 2, '{}', ` + ts + `, 1)`,
		// a second type with no versions at all
		`INSERT INTO entry_types (id, name, created_at, device_id) VALUES ('u', 'bare', ` + ts + `, 'd')`,
		// entry pointing at a missing version
		`INSERT INTO entries (id, entry_type_id, schema_version, data_json, created_at, device_id) VALUES ('e1', 't', 9, '{}', ` + ts + `, 'd')`,
		// orphan, fork and tombstone
		`INSERT INTO entries (id, entry_type_id, schema_version, data_json, created_at, device_id, supersedes) VALUES ('e2', 't', 1, '{}', ` + ts + `, 'd', 'gone')`,
		`INSERT INTO entries (id, entry_type_id, schema_version, data_json, created_at, device_id, supersedes) VALUES ('e3', 't', 1, '{}', ` + ts + `, 'd', 'e1')`,
		`INSERT INTO entries (id, entry_type_id, schema_version, data_json, created_at, device_id, supersedes, deleted_at) VALUES ('e4', 't', 1, '{}', ` + ts + `, 'd', 'e1', ` + ts + `)`,
		// template of type t mapped as default of u, and without versions
		`INSERT INTO templates (id, name, entry_type_id, created_at, device_id) VALUES ('tp', 'daily', 't', ` + ts + `, 'd')`,
		`INSERT INTO entry_type_templates (entry_type_id, template_id, active) VALUES ('u', 'tp', 1)`,
		// mapping to a missing template
		`INSERT INTO entry_type_templates (entry_type_id, template_id, active) VALUES ('t', 'ghost', 0)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}

	fk, err := r.ForeignKeyCheck(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, fk)

	check := func(fn func(context.Context) ([]string, error), want []string) {
		t.Helper()
		got, err := fn(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	check(r.UnresolvedTypeRefs, []string{"e1"})
	check(r.TypesWithoutOneActive, []string{"bare", "journal"})
	check(r.TemplatesWithoutOneActive, []string{"daily"})
	check(r.MismatchedDefaults, []string{"tp"})
	check(r.OrphanedRevisions, []string{"e2"})
	check(r.Forks, []string{"e1"})
	check(r.Tombstones, []string{"e4"})
}

func TestSQLiteRepository_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewSQLiteRepository(db)

	mock.ExpectQuery(`PRAGMA integrity_check`).WillReturnError(errors.New("corrupt"))
	_, err = r.IntegrityCheck(context.Background())
	require.ErrorContains(t, err, "corrupt")
	require.NoError(t, mock.ExpectationsWereMet())
}
