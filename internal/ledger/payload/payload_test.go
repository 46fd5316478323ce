package payload

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/metadata"
	"github.com/dmitrijs2005/ledger/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC)

func TestNew_RequiredMetadata(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, "dev-1", created, logging.Nop())
	require.NoError(t, err)
	defer p.Close()

	all, err := metadata.NewSQLiteRepository(p.DB()).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		models.MetaFormatVersion: "1",
		models.MetaDeviceID:      "dev-1",
		models.MetaCreatedAt:     "2024-02-02T10:00:00.000Z",
		models.MetaLastModified:  "2024-02-02T10:00:00.000Z",
	}, all)

	v, err := p.FormatVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.FormatVersion, v)

	dev, err := p.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", dev)
}

func TestBytes_RoundTrip(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, "dev-1", created, logging.Nop())
	require.NoError(t, err)

	_, err = p.DB().Exec(`INSERT INTO entries_fts (entry_id, content) VALUES ('x', 'searchable words')`)
	require.NoError(t, err)

	raw, err := p.Bytes(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	q, err := FromBytes(ctx, raw, logging.Nop())
	require.NoError(t, err)
	defer q.Close()

	var id string
	require.NoError(t, q.DB().QueryRow(`SELECT entry_id FROM entries_fts WHERE entries_fts MATCH 'searchable'`).Scan(&id))
	assert.Equal(t, "x", id)

	var fk int
	require.NoError(t, q.DB().QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestFromBytes_Rejects(t *testing.T) {
	ctx := context.Background()

	_, err := FromBytes(ctx, []byte("definitely not sqlite"), logging.Nop())
	require.Error(t, err)

	p, err := New(ctx, "dev-1", created, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, metadata.NewSQLiteRepository(p.DB()).Set(ctx, models.MetaFormatVersion, "99"))
	raw, err := p.Bytes(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = FromBytes(ctx, raw, logging.Nop())
	require.ErrorIs(t, err, common.ErrUnsupportedFormat)
}
