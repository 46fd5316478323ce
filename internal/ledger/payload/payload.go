// Package payload owns the decrypted, in-memory relational store of an open
// ledger. A Payload is a private SQLite database that lives only in memory;
// it is built from the migrations for a new store or from serialized bytes
// for an existing one, and flattened back to bytes on close.
package payload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/migrations"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/metadata"
	"github.com/dmitrijs2005/ledger/internal/logging"

	_ "modernc.org/sqlite"
)

// Payload is one live in-memory database.
type Payload struct {
	db  *sql.DB
	log logging.Logger
}

// serializer and deserializer are implemented by the modernc.org/sqlite
// driver connection.
type serializer interface {
	Serialize() ([]byte, error)
}

type deserializer interface {
	Deserialize(buf []byte) error
}

// openMemory opens a private in-memory database. The pool is pinned to a
// single connection because every connection to ":memory:" is a different
// database.
func openMemory(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open payload db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// New builds an empty payload with the full schema and the required metadata.
func New(ctx context.Context, deviceID string, now time.Time, log logging.Logger) (*Payload, error) {
	db, err := openMemory(ctx)
	if err != nil {
		return nil, err
	}
	p := &Payload{db: db, log: log}

	if err := migrations.Up(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	meta := metadata.NewSQLiteRepository(db)
	ts := models.FormatTime(now)
	for k, v := range map[string]string{
		models.MetaFormatVersion: strconv.Itoa(models.FormatVersion),
		models.MetaDeviceID:      deviceID,
		models.MetaCreatedAt:     ts,
		models.MetaLastModified:  ts,
	} {
		if err := meta.Set(ctx, k, v); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return p, nil
}

// FromBytes reconstructs a payload from Bytes output, refuses formats newer
// than this build and migrates older ones forward. The caller keeps ownership
// of raw.
func FromBytes(ctx context.Context, raw []byte, log logging.Logger) (*Payload, error) {
	db, err := openMemory(ctx)
	if err != nil {
		return nil, err
	}
	p := &Payload{db: db, log: log}

	if err := p.withDriverConn(ctx, func(dc any) error {
		d, ok := dc.(deserializer)
		if !ok {
			return errors.New("sqlite driver does not support deserialize")
		}
		return d.Deserialize(raw)
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: load payload: %v", common.ErrIntegrity, err)
	}

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	version, err := p.FormatVersion(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if version > models.FormatVersion {
		_ = db.Close()
		return nil, fmt.Errorf("%w: payload format %d, this build reads up to %d",
			common.ErrUnsupportedFormat, version, models.FormatVersion)
	}

	if err := migrations.Up(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Payload) withDriverConn(ctx context.Context, fn func(dc any) error) error {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Raw(fn)
}

// Bytes flattens the whole database, indexes included, into one blob.
func (p *Payload) Bytes(ctx context.Context) ([]byte, error) {
	var out []byte
	err := p.withDriverConn(ctx, func(dc any) error {
		s, ok := dc.(serializer)
		if !ok {
			return errors.New("sqlite driver does not support serialize")
		}
		b, err := s.Serialize()
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("serialize payload: %w", err)
	}
	return out, nil
}

// FormatVersion reads the format_version metadata key.
func (p *Payload) FormatVersion(ctx context.Context) (int, error) {
	v, err := metadata.NewSQLiteRepository(p.db).Get(ctx, models.MetaFormatVersion)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return 0, fmt.Errorf("%w: payload has no format version", common.ErrUnsupportedFormat)
		}
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: format version %q", common.ErrUnsupportedFormat, v)
	}
	return n, nil
}

// DeviceID returns the device id recorded when the store was created.
func (p *Payload) DeviceID(ctx context.Context) (string, error) {
	return metadata.NewSQLiteRepository(p.db).Get(ctx, models.MetaDeviceID)
}

// DB exposes the database to repositories and services.
func (p *Payload) DB() *sql.DB {
	return p.db
}

// Close releases the in-memory database. The payload content is gone after.
func (p *Payload) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
