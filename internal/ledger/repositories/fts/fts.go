// Package fts maintains the full-text index over entry bodies. The index is
// derived data: it can be cleared and rebuilt from the entries table at any
// time.
package fts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/ledger/internal/dbx"
	"golang.org/x/text/unicode/norm"
)

type Repository interface {
	Index(ctx context.Context, entryID, content string) error
	Search(ctx context.Context, query string, limit int) ([]string, error)
	Clear(ctx context.Context) error
	Missing(ctx context.Context) ([]string, error)
	Orphans(ctx context.Context) ([]string, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Content is the indexed text of an entry: the "body" field when it is a
// string, otherwise the compact JSON of the data. Text is NFC-normalized.
func Content(data []byte) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		if raw, ok := obj["body"]; ok {
			var body string
			if err := json.Unmarshal(raw, &body); err == nil {
				return norm.NFC.String(body)
			}
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return norm.NFC.String(string(data))
	}
	return norm.NFC.String(buf.String())
}

// MatchQuery turns free text into an FTS5 query matching every word, so
// user input can never be parsed as query syntax.
func MatchQuery(text string) string {
	words := strings.Fields(norm.NFC.String(text))
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(words, " ")
}

func (r *SQLiteRepository) Index(ctx context.Context, entryID, content string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO entries_fts (entry_id, content) VALUES (?, ?)`, entryID, content)
	if err != nil {
		return fmt.Errorf("failed to index entry %s: %w", entryID, err)
	}
	return nil
}

// Search returns ids of entries matching query, best match first and newest
// first among equal ranks.
func (r *SQLiteRepository) Search(ctx context.Context, query string, limit int) ([]string, error) {
	q := `
		SELECT entries_fts.entry_id
		FROM entries_fts
		JOIN entries e ON e.id = entries_fts.entry_id
		WHERE entries_fts MATCH ?
		ORDER BY bm25(entries_fts), e.created_at DESC, e.id DESC
	`
	args := []any{query}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.ids(ctx, q, args...)
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM entries_fts`); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	return nil
}

// Missing lists entries with no index row.
func (r *SQLiteRepository) Missing(ctx context.Context) ([]string, error) {
	return r.ids(ctx, `
		SELECT e.id FROM entries e
		WHERE NOT EXISTS (SELECT 1 FROM entries_fts f WHERE f.entry_id = e.id)
		ORDER BY e.id
	`)
}

// Orphans lists index rows whose entry does not exist.
func (r *SQLiteRepository) Orphans(ctx context.Context) ([]string, error) {
	return r.ids(ctx, `
		SELECT f.entry_id FROM entries_fts f
		WHERE NOT EXISTS (SELECT 1 FROM entries e WHERE e.id = f.entry_id)
		ORDER BY f.entry_id
	`)
}

func (r *SQLiteRepository) ids(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
