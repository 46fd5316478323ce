package fts

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"body field", `{"body":"hello world","mood":3}`, "hello world"},
		{"no body", `{ "title" : "x" }`, `{"title":"x"}`},
		{"non-string body", `{"body":42}`, `{"body":42}`},
		{"nfc", `{"body":"café"}`, "café"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Content([]byte(tt.data)))
		})
	}
}

func TestMatchQuery(t *testing.T) {
	assert.Equal(t, `"alpha" "beta"`, MatchQuery("  alpha beta "))
	assert.Equal(t, `"a""b" "OR"`, MatchQuery(`a"b OR`))
	assert.Equal(t, "", MatchQuery("   "))
}

func seed(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO entry_types (id, name, created_at, device_id) VALUES ('t', 'journal', '2024-01-01T00:00:00.000Z', 'dev')`,
		`INSERT INTO entry_type_versions (id, entry_type_id, version, schema_json, created_at, active) VALUES ('v', 't', 1, '{}', '2024-01-01T00:00:00.000Z', 1)`,
		`INSERT INTO entries (id, entry_type_id, schema_version, data_json, created_at, device_id) VALUES ('e1', 't', 1, '{}', '2024-01-01T00:00:00.000Z', 'dev')`,
		`INSERT INTO entries (id, entry_type_id, schema_version, data_json, created_at, device_id) VALUES ('e2', 't', 1, '{}', '2024-01-02T00:00:00.000Z', 'dev')`,
		`INSERT INTO entries (id, entry_type_id, schema_version, data_json, created_at, device_id) VALUES ('e3', 't', 1, '{}', '2024-01-03T00:00:00.000Z', 'dev')`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
}

func TestSQLiteRepository_IndexSearch(t *testing.T) {
	db := repotest.NewDB(t)
	seed(t, db)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Index(ctx, "e1", "running in the park"))
	require.NoError(t, r.Index(ctx, "e2", "ran to the shop"))
	require.NoError(t, r.Index(ctx, "e3", "morning runs are good"))

	got, err := r.Search(ctx, MatchQuery("running"), 0)
	require.NoError(t, err)
	// porter stemming folds running/runs
	assert.ElementsMatch(t, []string{"e1", "e3"}, got)

	got, err = r.Search(ctx, MatchQuery("running"), 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = r.Search(ctx, MatchQuery("shop park"), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteRepository_MissingOrphansClear(t *testing.T) {
	db := repotest.NewDB(t)
	seed(t, db)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Index(ctx, "e1", "one"))
	require.NoError(t, r.Index(ctx, "ghost", "boo"))

	missing, err := r.Missing(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2", "e3"}, missing)

	orphans, err := r.Orphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, orphans)

	require.NoError(t, r.Clear(ctx))
	missing, err = r.Missing(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2", "e3"}, missing)
	orphans, err = r.Orphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestSQLiteRepository_DBErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO entries_fts`).WillReturnError(errors.New("locked"))
	require.ErrorContains(t, r.Index(ctx, "e1", "x"), "locked")

	mock.ExpectQuery(`SELECT entries_fts.entry_id`).WillReturnError(errors.New("bad query"))
	_, err = r.Search(ctx, "x", 0)
	require.ErrorContains(t, err, "bad query")

	mock.ExpectExec(`DELETE FROM entries_fts`).WillReturnError(errors.New("locked"))
	require.Error(t, r.Clear(ctx))

	require.NoError(t, mock.ExpectationsWereMet())
}
