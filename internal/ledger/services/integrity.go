package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/fts"
)

// Issue is one consistency problem found by Check.
type Issue struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Report summarizes a Check run. Orphaned revisions and forks are tolerated
// and listed for information only.
type Report struct {
	FormatVersion     int      `json:"format_version"`
	Entries           int      `json:"entries"`
	EntryTypes        int      `json:"entry_types"`
	Templates         int      `json:"templates"`
	Compositions      int      `json:"compositions"`
	OrphanedRevisions []string `json:"orphaned_revisions,omitempty"`
	Forks             []string `json:"forks,omitempty"`
	Issues            []Issue  `json:"issues,omitempty"`
}

func (r *Report) OK() bool {
	return len(r.Issues) == 0
}

func (r *Report) add(kind string, details ...string) {
	for _, d := range details {
		r.Issues = append(r.Issues, Issue{Kind: kind, Detail: d})
	}
}

type IntegrityService interface {
	// Check is read-only. It returns the report and, when the report has
	// issues, an error wrapping common.ErrIntegrity.
	Check(ctx context.Context) (*Report, error)
	// RebuildIndex regenerates the full-text index from entries and returns
	// the number of indexed entries.
	RebuildIndex(ctx context.Context) (int, error)
}

type integrityService struct {
	*base
}

func (s *integrityService) Check(ctx context.Context) (*Report, error) {
	r := s.read()
	rep := &Report{}

	msgs, err := r.integrity.IntegrityCheck(ctx)
	if err != nil {
		return nil, err
	}
	rep.add("sqlite_integrity", msgs...)

	fks, err := r.integrity.ForeignKeyCheck(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range fks {
		rep.add("foreign_key", fmt.Sprintf("%s row %d references missing %s", v.Table, v.RowID, v.Parent))
	}

	if err := s.checkMeta(ctx, r, rep); err != nil {
		return nil, err
	}

	lists := []struct {
		kind string
		fn   func(context.Context) ([]string, error)
	}{
		{"unresolved_entry_type", r.integrity.UnresolvedTypeRefs},
		{"entry_type_active_versions", r.integrity.TypesWithoutOneActive},
		{"template_active_versions", r.integrity.TemplatesWithoutOneActive},
		{"duplicate_default_template", r.integrity.DuplicateActiveDefaults},
		{"default_template_type_mismatch", r.integrity.MismatchedDefaults},
		{"tombstone", r.integrity.Tombstones},
		{"fts_missing", r.fts.Missing},
		{"fts_orphan", r.fts.Orphans},
	}
	for _, l := range lists {
		ids, err := l.fn(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", l.kind, err)
		}
		rep.add(l.kind, ids...)
	}

	if rep.OrphanedRevisions, err = r.integrity.OrphanedRevisions(ctx); err != nil {
		return nil, err
	}
	if rep.Forks, err = r.integrity.Forks(ctx); err != nil {
		return nil, err
	}

	counts := []struct {
		table string
		dst   *int
	}{
		{"entries", &rep.Entries},
		{"entry_types", &rep.EntryTypes},
		{"templates", &rep.Templates},
		{"compositions", &rep.Compositions},
	}
	for _, c := range counts {
		if *c.dst, err = r.integrity.Count(ctx, c.table); err != nil {
			return nil, err
		}
	}

	if !rep.OK() {
		return rep, fmt.Errorf("%w: %d issue(s)", common.ErrIntegrity, len(rep.Issues))
	}
	return rep, nil
}

func (s *integrityService) checkMeta(ctx context.Context, r repos, rep *Report) error {
	meta, err := r.meta.List(ctx)
	if err != nil {
		return err
	}
	for _, k := range models.RequiredMetadata {
		if _, ok := meta[k]; !ok {
			rep.add("metadata_missing", k)
		}
	}
	if v, ok := meta[models.MetaFormatVersion]; ok {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil:
			rep.add("format_version", fmt.Sprintf("not a number: %q", v))
		case n > models.FormatVersion:
			rep.add("format_version", fmt.Sprintf("%d is newer than supported %d", n, models.FormatVersion))
		default:
			rep.FormatVersion = n
		}
	}
	for _, k := range []string{models.MetaCreatedAt, models.MetaLastModified} {
		if v, ok := meta[k]; ok {
			if _, err := models.ParseTime(v); err != nil {
				rep.add("metadata_time", k)
			}
		}
	}
	return nil
}

func (s *integrityService) RebuildIndex(ctx context.Context) (int, error) {
	var n int
	err := s.write(ctx, func(ctx context.Context, r repos) error {
		if err := r.fts.Clear(ctx); err != nil {
			return err
		}
		all, err := r.entries.All(ctx)
		if err != nil {
			return err
		}
		for _, e := range all {
			if err := r.fts.Index(ctx, e.ID, fts.Content(e.Data)); err != nil {
				return err
			}
		}
		n = len(all)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info(ctx, "full-text index rebuilt", "entries", n)
	return n, nil
}
