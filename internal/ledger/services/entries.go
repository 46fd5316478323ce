package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/repositories/fts"
	"github.com/dmitrijs2005/ledger/internal/ledger/resolver"
	"github.com/dmitrijs2005/ledger/internal/ledger/schema"
	"github.com/dmitrijs2005/ledger/internal/ledger/tags"
)

type EntryService interface {
	Insert(ctx context.Context, in models.NewEntry, p resolver.Prompter) (*models.Entry, error)
	// Supersede writes a revision of oldID. oldID must be a chain head when
	// it exists; a missing oldID yields an orphaned revision.
	Supersede(ctx context.Context, oldID string, in models.NewEntry, p resolver.Prompter) (*models.Entry, error)
	Get(ctx context.Context, id string) (*models.Entry, error)
	// History returns the revision chain containing id, newest first.
	History(ctx context.Context, id string) ([]models.Entry, error)
	Query(ctx context.Context, f models.EntryFilter) ([]models.Entry, error)
	// Search ranks chain heads by full-text relevance.
	Search(ctx context.Context, text string, limit int) ([]models.Entry, error)
	Compositions(ctx context.Context, id string) ([]models.Composition, error)

	// Tasks lists the items of the entry's task_list field.
	Tasks(ctx context.Context, id string) ([]models.Task, error)
	// SetTask writes a revision of id with task index (1-based) marked done
	// or not done. id must be a chain head; the revision keeps the schema
	// version, tags and compositions of id.
	SetTask(ctx context.Context, id string, index int, done bool) (*models.Entry, error)
}

type entryService struct {
	*base
}

func (s *entryService) Insert(ctx context.Context, in models.NewEntry, p resolver.Prompter) (*models.Entry, error) {
	return s.insert(ctx, nil, in, p)
}

func (s *entryService) Supersede(ctx context.Context, oldID string, in models.NewEntry, p resolver.Prompter) (*models.Entry, error) {
	r := s.read()
	old, err := r.entries.Get(ctx, oldID)
	switch {
	case err == nil:
		if next, err := r.entries.SupersededBy(ctx, oldID); err == nil {
			return nil, fmt.Errorf("%w: %s was revised by %s", common.ErrAlreadySuperseded, oldID, next)
		} else if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		if in.EntryType == "" {
			in.EntryType = old.EntryTypeID
		}
	case errors.Is(err, common.ErrNotFound):
		s.log.Debug(ctx, "superseding a missing entry", "id", oldID)
	default:
		return nil, err
	}
	return s.insert(ctx, &oldID, in, p)
}

// plan is everything resolved before the write transaction starts, so
// prompting never happens with a transaction open.
type plan struct {
	entry        *models.Entry
	compositions []string
}

func (s *entryService) prepare(ctx context.Context, supersedes *string, in models.NewEntry, p resolver.Prompter) (*plan, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	r := s.read()

	et, err := lookupType(ctx, r, in.EntryType)
	if err != nil {
		return nil, err
	}

	var tpl *models.Template
	switch {
	case in.Template != "":
		tpl, err = lookupTemplate(ctx, r, in.Template)
		if err != nil {
			return nil, err
		}
		if tpl.EntryTypeID != et.ID {
			return nil, fmt.Errorf("%w: template %q is not for type %s", common.ErrValidation, tpl.Name, et.Name)
		}
	case !in.SkipDefaults:
		tpl, err = r.templates.GetDefault(ctx, et.ID)
		if errors.Is(err, common.ErrNotFound) {
			tpl, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
	}

	res, err := resolver.Resolve(ctx, et, tpl, in, p)
	if err != nil {
		return nil, err
	}
	if len(res.Data) > models.MaxEntryDataBytes {
		return nil, fmt.Errorf("%w: entry data is %d bytes (max %d)", common.ErrValidation, len(res.Data), models.MaxEntryDataBytes)
	}
	if err := et.Schema.Validate(res.Data, res.ExtraEnum); err != nil {
		return nil, err
	}

	compIDs, err := s.compositionIDs(ctx, r, res.Compositions, len(in.Compositions))
	if err != nil {
		return nil, err
	}

	created := s.now()
	if !in.CreatedAt.IsZero() {
		created = in.CreatedAt.UTC().Truncate(time.Millisecond)
	}
	return &plan{
		entry: &models.Entry{
			ID:            models.NewID(),
			EntryTypeID:   et.ID,
			SchemaVersion: et.Version,
			CreatedAt:     created,
			Data:          res.Data,
			Tags:          res.Tags,
			DeviceID:      s.deviceID,
			Supersedes:    supersedes,
		},
		compositions: compIDs,
	}, nil
}

// compositionIDs resolves refs to ids. The first explicit refs must exist;
// the remaining ones come from defaults and are skipped when missing.
func (s *entryService) compositionIDs(ctx context.Context, r repos, refs []string, explicit int) ([]string, error) {
	seen := make(map[string]struct{}, len(refs))
	ids := make([]string, 0, len(refs))
	for i, ref := range refs {
		c, err := lookupComposition(ctx, r, ref)
		if err != nil {
			if i >= explicit && errors.Is(err, common.ErrNotFound) {
				s.log.Warn(ctx, "default composition not found", "composition", ref)
				continue
			}
			return nil, err
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (s *entryService) insert(ctx context.Context, supersedes *string, in models.NewEntry, p resolver.Prompter) (*models.Entry, error) {
	pl, err := s.prepare(ctx, supersedes, in, p)
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, pl)
}

// commit writes a prepared entry with its index row and memberships.
func (s *entryService) commit(ctx context.Context, pl *plan) (*models.Entry, error) {
	e := pl.entry
	err := s.write(ctx, func(ctx context.Context, r repos) error {
		if err := r.entries.Insert(ctx, e); err != nil {
			return err
		}
		if err := r.fts.Index(ctx, e.ID, fts.Content(e.Data)); err != nil {
			return err
		}
		for _, c := range pl.compositions {
			if err := r.compositions.Attach(ctx, e.ID, c, e.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug(ctx, "entry written", "id", e.ID, "type", e.EntryTypeID)
	return e, nil
}

func (s *entryService) Get(ctx context.Context, id string) (*models.Entry, error) {
	return s.read().entries.Get(ctx, id)
}

func (s *entryService) History(ctx context.Context, id string) ([]models.Entry, error) {
	r := s.read()

	head := id
	seen := map[string]struct{}{id: {}}
	for {
		next, err := r.entries.SupersededBy(ctx, head)
		if errors.Is(err, common.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if _, loop := seen[next]; loop {
			return nil, fmt.Errorf("%w: revision cycle at %s", common.ErrIntegrity, next)
		}
		seen[next] = struct{}{}
		head = next
	}

	var chain []models.Entry
	visited := map[string]struct{}{}
	for cur := &head; cur != nil; {
		if _, loop := visited[*cur]; loop {
			return nil, fmt.Errorf("%w: revision cycle at %s", common.ErrIntegrity, *cur)
		}
		visited[*cur] = struct{}{}

		e, err := r.entries.Get(ctx, *cur)
		if errors.Is(err, common.ErrNotFound) && len(chain) > 0 {
			break // orphaned revision: the chain ends here
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, *e)
		cur = e.Supersedes
	}
	return chain, nil
}

func (s *entryService) Query(ctx context.Context, f models.EntryFilter) ([]models.Entry, error) {
	if len(f.Tags) > 0 {
		normalized, err := tags.NormalizeAll(f.Tags)
		if err != nil {
			return nil, err
		}
		f.Tags = normalized
	}
	if f.Text != "" {
		f.Text = fts.MatchQuery(f.Text)
	}
	return s.read().entries.Query(ctx, f)
}

func (s *entryService) Search(ctx context.Context, text string, limit int) ([]models.Entry, error) {
	q := fts.MatchQuery(text)
	if q == "" {
		return []models.Entry{}, nil
	}
	r := s.read()
	ids, err := r.fts.Search(ctx, q, 0)
	if err != nil {
		return nil, err
	}

	result := []models.Entry{}
	for _, id := range ids {
		if limit > 0 && len(result) == limit {
			break
		}
		if _, err := r.entries.SupersededBy(ctx, id); err == nil {
			continue
		} else if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		e, err := r.entries.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, nil
}

func (s *entryService) Compositions(ctx context.Context, id string) ([]models.Composition, error) {
	return s.read().compositions.ForEntry(ctx, id)
}

// taskList returns the decoded data of e and the name of the single
// task_list field of its schema version.
func (s *entryService) taskList(ctx context.Context, r repos, e *models.Entry) (map[string]any, string, error) {
	et, err := r.types.GetVersion(ctx, e.EntryTypeID, e.SchemaVersion)
	if err != nil {
		return nil, "", err
	}
	var field string
	for _, f := range et.Schema.Fields {
		if f.Kind != schema.KindTaskList {
			continue
		}
		if field != "" {
			return nil, "", fmt.Errorf("%w: type %s has more than one task list", common.ErrValidation, et.Name)
		}
		field = f.Name
	}
	if field == "" {
		return nil, "", fmt.Errorf("%w: type %s has no task list", common.ErrValidation, et.Name)
	}
	data, err := schema.Decode(e.Data)
	if err != nil {
		return nil, "", err
	}
	return data, field, nil
}

func taskItems(data map[string]any, field string) ([]any, error) {
	v, ok := data[field]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: field %q is not a task list", common.ErrValidation, field)
	}
	return items, nil
}

func (s *entryService) Tasks(ctx context.Context, id string) ([]models.Task, error) {
	r := s.read()
	e, err := r.entries.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, field, err := s.taskList(ctx, r, e)
	if err != nil {
		return nil, err
	}
	items, err := taskItems(data, field)
	if err != nil {
		return nil, err
	}

	tasks := make([]models.Task, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: task %d is not an object", common.ErrValidation, i+1)
		}
		text, _ := m["text"].(string)
		done, _ := m["done"].(bool)
		tasks = append(tasks, models.Task{Text: text, Done: done})
	}
	return tasks, nil
}

func (s *entryService) SetTask(ctx context.Context, id string, index int, done bool) (*models.Entry, error) {
	r := s.read()
	old, err := r.entries.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if next, err := r.entries.SupersededBy(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: %s was revised by %s", common.ErrAlreadySuperseded, id, next)
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	data, field, err := s.taskList(ctx, r, old)
	if err != nil {
		return nil, err
	}
	items, err := taskItems(data, field)
	if err != nil {
		return nil, err
	}
	if index < 1 || index > len(items) {
		return nil, fmt.Errorf("%w: task %d out of range (1-%d)", common.ErrValidation, index, len(items))
	}
	item, ok := items[index-1].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: task %d is not an object", common.ErrValidation, index)
	}
	item["done"] = done

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if len(raw) > models.MaxEntryDataBytes {
		return nil, fmt.Errorf("%w: entry data is %d bytes (max %d)", common.ErrValidation, len(raw), models.MaxEntryDataBytes)
	}

	comps, err := r.compositions.ForEntry(ctx, old.ID)
	if err != nil {
		return nil, err
	}
	compIDs := make([]string, 0, len(comps))
	for _, c := range comps {
		compIDs = append(compIDs, c.ID)
	}

	return s.commit(ctx, &plan{
		entry: &models.Entry{
			ID:            models.NewID(),
			EntryTypeID:   old.EntryTypeID,
			SchemaVersion: old.SchemaVersion,
			CreatedAt:     s.now(),
			Data:          raw,
			Tags:          old.Tags,
			DeviceID:      s.deviceID,
			Supersedes:    &old.ID,
		},
		compositions: compIDs,
	})
}
