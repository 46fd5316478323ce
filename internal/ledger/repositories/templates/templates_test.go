package templates

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db := repotest.NewDB(t)
	_, err := db.Exec(`INSERT INTO entry_types (id, name, created_at, device_id) VALUES ('t', 'journal', '2024-01-01T00:00:00.000Z', 'dev')`)
	require.NoError(t, err)
	return db
}

func newTemplate(t *testing.T, r *SQLiteRepository, name string, payload models.TemplatePayload) *models.Template {
	t.Helper()
	ctx := context.Background()
	tpl := &models.Template{ID: models.NewID(), Name: name, EntryTypeID: "t", CreatedAt: created, DeviceID: "dev"}
	require.NoError(t, r.Create(ctx, tpl))
	require.NoError(t, r.InsertVersion(ctx, &models.TemplateVersion{
		ID: models.NewID(), TemplateID: tpl.ID, Version: 1, Payload: payload, CreatedAt: created, Active: true,
	}))
	return tpl
}

func TestSQLiteRepository_CreateAndVersions(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	tpl := newTemplate(t, r, "daily", models.TemplatePayload{
		Defaults:    map[string]any{"mood": "ok"},
		DefaultTags: []string{"daily"},
	})

	got, err := r.GetByName(ctx, "daily")
	require.NoError(t, err)
	require.NotNil(t, got.Active)
	assert.Equal(t, 1, got.Active.Version)
	assert.Equal(t, []string{"daily"}, got.Active.Payload.DefaultTags)
	assert.Equal(t, "ok", got.Active.Payload.Defaults["mood"])

	require.NoError(t, r.DeactivateVersions(ctx, tpl.ID))
	require.NoError(t, r.InsertVersion(ctx, &models.TemplateVersion{
		ID: models.NewID(), TemplateID: tpl.ID, Version: 2,
		Payload: models.TemplatePayload{DefaultTags: []string{"v2"}}, CreatedAt: created, Active: true,
	}))

	max, err := r.MaxVersion(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, max)

	got, err = r.GetByID(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Active.Version)

	versions, err := r.Versions(ctx, tpl.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.False(t, versions[0].Active)
	assert.True(t, versions[1].Active)

	_, err = r.GetByName(ctx, "nope")
	require.ErrorIs(t, err, common.ErrNotFound)
	require.Error(t, r.Create(ctx, &models.Template{ID: models.NewID(), Name: "daily", EntryTypeID: "t", CreatedAt: created, DeviceID: "dev"}))
}

func TestSQLiteRepository_List(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	newTemplate(t, r, "b", models.TemplatePayload{})
	newTemplate(t, r, "a", models.TemplatePayload{})

	list, err := r.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.NotNil(t, list[0].Active)
	assert.Equal(t, "b", list[1].Name)
}

func TestSQLiteRepository_Defaults(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	a := newTemplate(t, r, "a", models.TemplatePayload{})
	b := newTemplate(t, r, "b", models.TemplatePayload{})

	_, err := r.GetDefault(ctx, "t")
	require.ErrorIs(t, err, common.ErrNotFound)
	require.ErrorIs(t, r.ClearDefault(ctx, "t"), common.ErrNotFound)

	require.NoError(t, r.SetDefault(ctx, "t", a.ID))
	require.NoError(t, r.SetDefault(ctx, "t", b.ID))
	require.NoError(t, r.SetDefault(ctx, "t", a.ID))

	def, err := r.GetDefault(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, a.ID, def.ID)

	mappings, err := r.Mappings(ctx)
	require.NoError(t, err)
	active := 0
	for _, m := range mappings {
		if m.Active {
			active++
		}
	}
	assert.Len(t, mappings, 2)
	assert.Equal(t, 1, active)

	require.NoError(t, r.ClearDefault(ctx, "t"))
	_, err = r.GetDefault(ctx, "t")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteRepository_Delete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	a := newTemplate(t, r, "a", models.TemplatePayload{})
	require.NoError(t, r.SetDefault(ctx, "t", a.ID))

	require.NoError(t, r.Delete(ctx, a.ID))
	_, err := r.GetByID(ctx, a.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
	_, err = r.GetDefault(ctx, "t")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.ErrorIs(t, r.Delete(ctx, a.ID), common.ErrNotFound)
}

func TestSQLiteRepository_DBErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM entry_type_templates`).WillReturnError(errors.New("locked"))
	require.ErrorContains(t, r.Delete(ctx, "x"), "locked")

	mock.ExpectExec(`UPDATE entry_type_templates`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO entry_type_templates`).WillReturnError(errors.New("constraint"))
	require.ErrorContains(t, r.SetDefault(ctx, "t", "x"), "constraint")

	require.NoError(t, mock.ExpectationsWereMet())
}
