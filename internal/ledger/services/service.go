// Package services implements the store operations on top of the payload
// repositories. Reads go straight to the database; every write runs in one
// transaction that also stamps last_modified.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledger/internal/dbx"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/compositions"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/entries"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/entrytypes"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/fts"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/integrity"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/metadata"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/templates"
	"github.com/dmitrijs2005/ledger/internal/logging"
)

// repos bundles every repository over one handle, either the pool or a
// transaction.
type repos struct {
	meta         metadata.Repository
	types        entrytypes.Repository
	entries      entries.Repository
	fts          fts.Repository
	templates    templates.Repository
	compositions compositions.Repository
	integrity    integrity.Repository
}

func newRepos(db dbx.DBTX) repos {
	return repos{
		meta:         metadata.NewSQLiteRepository(db),
		types:        entrytypes.NewSQLiteRepository(db),
		entries:      entries.NewSQLiteRepository(db),
		fts:          fts.NewSQLiteRepository(db),
		templates:    templates.NewSQLiteRepository(db),
		compositions: compositions.NewSQLiteRepository(db),
		integrity:    integrity.NewSQLiteRepository(db),
	}
}

type base struct {
	db       *sql.DB
	deviceID string
	now      func() time.Time
	log      logging.Logger
}

func (b *base) read() repos {
	return newRepos(b.db)
}

// write runs fn in a transaction and updates last_modified before commit.
func (b *base) write(ctx context.Context, fn func(ctx context.Context, r repos) error) error {
	return dbx.WithTx(ctx, b.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		r := newRepos(tx)
		if err := fn(ctx, r); err != nil {
			return err
		}
		if err := r.meta.Set(ctx, models.MetaLastModified, models.FormatTime(b.now())); err != nil {
			return fmt.Errorf("touch last_modified: %w", err)
		}
		return nil
	})
}

// Services is the full operation surface of an open store.
type Services struct {
	Types        EntryTypeService
	Entries      EntryService
	Templates    TemplateService
	Compositions CompositionService
	Integrity    IntegrityService
}

// Option tweaks New.
type Option func(*base)

// WithClock replaces the time source. Times are still truncated to
// milliseconds.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		b.now = func() time.Time { return now().UTC().Truncate(time.Millisecond) }
	}
}

// New wires every service over db. deviceID is stamped on new records.
func New(db *sql.DB, deviceID string, log logging.Logger, opts ...Option) *Services {
	b := &base{db: db, deviceID: deviceID, now: models.Now, log: log}
	for _, o := range opts {
		o(b)
	}
	return &Services{
		Types:        &entryTypeService{b},
		Entries:      &entryService{b},
		Templates:    &templateService{b},
		Compositions: &compositionService{b},
		Integrity:    &integrityService{b},
	}
}

// lookupType accepts an entry type name or id and returns its active
// version.
func lookupType(ctx context.Context, r repos, ref string) (*models.EntryType, error) {
	et, err := r.types.GetActiveByName(ctx, ref)
	if err == nil || !models.IsID(ref) {
		return et, err
	}
	return r.types.GetActiveByID(ctx, ref)
}

func lookupTemplate(ctx context.Context, r repos, ref string) (*models.Template, error) {
	t, err := r.templates.GetByName(ctx, ref)
	if err == nil || !models.IsID(ref) {
		return t, err
	}
	return r.templates.GetByID(ctx, ref)
}

func lookupComposition(ctx context.Context, r repos, ref string) (*models.Composition, error) {
	c, err := r.compositions.GetByName(ctx, ref)
	if err == nil || !models.IsID(ref) {
		return c, err
	}
	return r.compositions.GetByID(ctx, ref)
}
