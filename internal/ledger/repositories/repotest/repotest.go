// Package repotest provides an in-memory payload database with the full
// schema for repository and service tests.
package repotest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dmitrijs2005/ledger/internal/ledger/migrations"
	"github.com/dmitrijs2005/ledger/internal/logging"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// NewDB opens a private in-memory database, enables foreign keys and applies
// all migrations. It is closed when the test ends.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`PRAGMA foreign_keys = ON`)
	require.NoError(t, err)
	require.NoError(t, migrations.Up(context.Background(), db, logging.Nop()))
	return db
}
