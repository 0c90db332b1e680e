// Package sheets implements the tabular remote record store on a Google
// Sheets spreadsheet: one sheet per collection, a header row in row 1, and
// one positional row per record from row 2.
//
// Every operation first runs EnsureSchema, which adds any missing sheet and
// writes the header wherever row 1 is blank. Existing headers are kept.
//
// Writes are list-then-write. Upsert reads the whole sheet to find the row
// holding the identifier, then updates that row in place or appends. Two
// concurrent upserts of different records can therefore act on a stale row
// index; callers that need stronger guarantees must serialize above this
// package. Delete is supported for tasks only and is a full rewrite of the
// sheet (read all, filter, clear, write back), O(n) in the collection size.
// Issues and visits return store.ErrDeleteUnsupported.
//
// Unlike the local backend, failures are logged and returned.
package sheets

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/store"
)

// BackendName is reported by Backend.Name.
const BackendName = "sheets"

// valuesAPI is the slice of the Sheets API used by the backend. Ranges are in
// A1 notation; values are rows of cells.
type valuesAPI interface {
	SheetTitles(ctx context.Context) ([]string, error)
	AddSheets(ctx context.Context, titles []string) error
	Get(ctx context.Context, rng string) ([][]any, error)
	Update(ctx context.Context, rng string, rows [][]any) error
	Append(ctx context.Context, rng string, rows [][]any) error
	Clear(ctx context.Context, rng string) error
}

// Backend is a store.Backend over one spreadsheet.
type Backend struct {
	api valuesAPI
	log zerolog.Logger

	tasks  *collection[domain.Task]
	issues *collection[domain.Issue]
	visits *collection[domain.VisitNote]
}

func newBackend(api valuesAPI) *Backend {
	b := &Backend{api: api, log: log.With().Str("component", "store.sheets").Logger()}
	b.tasks = &collection[domain.Task]{b: b, codec: taskCodec, deletable: true}
	b.issues = &collection[domain.Issue]{b: b, codec: issueCodec}
	b.visits = &collection[domain.VisitNote]{b: b, codec: visitCodec}
	return b
}

func (b *Backend) Name() string { return BackendName }

func (b *Backend) Tasks() store.Collection[domain.Task] { return b.tasks }

func (b *Backend) Issues() store.Collection[domain.Issue] { return b.issues }

func (b *Backend) Visits() store.Collection[domain.VisitNote] { return b.visits }

// EnsureSchema adds the missing sheets in one batch and writes a header row
// into every sheet whose row 1 is blank. A non-blank header is never
// overwritten, so repeated calls are no-ops once the schema is in place.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	titles, err := b.api.SheetTitles(ctx)
	if err != nil {
		return b.fail(err, "list sheets")
	}
	have := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		have[t] = struct{}{}
	}

	type sheetHeader struct {
		title string
		rng   string
		row   []any
	}
	sheets := []sheetHeader{
		{SheetTasks, taskCodec.headerRange(), taskCodec.header()},
		{SheetIssues, issueCodec.headerRange(), issueCodec.header()},
		{SheetVisits, visitCodec.headerRange(), visitCodec.header()},
	}
	var missing []string
	for _, h := range sheets {
		if _, ok := have[h.title]; !ok {
			missing = append(missing, h.title)
		}
	}
	if len(missing) > 0 {
		if err := b.api.AddSheets(ctx, missing); err != nil {
			return b.fail(err, "add sheets")
		}
		b.log.Info().Strs("sheets", missing).Msg("created missing sheets")
	}

	for _, h := range sheets {
		if _, existed := have[h.title]; existed {
			rows, err := b.api.Get(ctx, h.rng)
			if err != nil {
				return b.fail(err, "read header "+h.title)
			}
			if !blankRows(rows) {
				continue
			}
		}
		if err := b.api.Update(ctx, h.rng, [][]any{h.row}); err != nil {
			return b.fail(err, "write header "+h.title)
		}
	}
	return nil
}

// blankRows reports whether rows hold no non-empty cell.
func blankRows(rows [][]any) bool {
	for _, r := range rows {
		for _, c := range r {
			if c != nil && fmt.Sprint(c) != "" {
				return false
			}
		}
	}
	return true
}

func (b *Backend) fail(err error, op string) error {
	b.log.Error().Err(err).Str("op", op).Msg("sheets call failed")
	return fmt.Errorf("sheets: %s: %w", op, err)
}

type collection[T domain.Record] struct {
	b         *Backend
	codec     codec[T]
	deletable bool
}

// located is a decoded record and its 1-based sheet row.
type located[T any] struct {
	rec T
	row int
}

func (c *collection[T]) read(ctx context.Context) ([]located[T], error) {
	if err := c.b.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	raw, err := c.b.api.Get(ctx, c.codec.dataRange())
	if err != nil {
		return nil, c.b.fail(err, "read "+c.codec.sheet)
	}
	out := make([]located[T], 0, len(raw))
	for i, cells := range raw {
		r := row(cells)
		if r.str(0) == "" {
			continue
		}
		out = append(out, located[T]{rec: c.codec.decode(r), row: i + 2})
	}
	return out, nil
}

func (c *collection[T]) List(ctx context.Context) ([]T, error) {
	rows, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = r.rec
	}
	return out, nil
}

func (c *collection[T]) Upsert(ctx context.Context, rec T) error {
	rows, err := c.read(ctx)
	if err != nil {
		return err
	}
	values := [][]any{c.codec.encode(rec)}
	for _, r := range rows {
		if r.rec.RecordID() == rec.RecordID() {
			if err := c.b.api.Update(ctx, c.codec.rowRange(r.row), values); err != nil {
				return c.b.fail(err, "update "+c.codec.sheet)
			}
			return nil
		}
	}
	if err := c.b.api.Append(ctx, c.codec.tableRange(), values); err != nil {
		return c.b.fail(err, "append "+c.codec.sheet)
	}
	return nil
}

// Delete rewrites the whole sheet without id.
func (c *collection[T]) Delete(ctx context.Context, id string) error {
	if !c.deletable {
		return fmt.Errorf("sheets: delete %s: %w", c.codec.sheet, store.ErrDeleteUnsupported)
	}
	rows, err := c.read(ctx)
	if err != nil {
		return err
	}
	keep := make([][]any, 0, len(rows))
	found := false
	for _, r := range rows {
		if r.rec.RecordID() == id {
			found = true
			continue
		}
		keep = append(keep, c.codec.encode(r.rec))
	}
	if !found {
		return nil
	}
	if err := c.b.api.Clear(ctx, c.codec.dataRange()); err != nil {
		return c.b.fail(err, "clear "+c.codec.sheet)
	}
	if len(keep) == 0 {
		return nil
	}
	if err := c.b.api.Update(ctx, c.codec.blockRange(len(keep)), keep); err != nil {
		return c.b.fail(err, "rewrite "+c.codec.sheet)
	}
	return nil
}
