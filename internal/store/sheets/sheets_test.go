package sheets

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/store"
)

// fakeSheets is an in-memory spreadsheet. Rows are stored 0-based (sheet
// row 1 is index 0); only column A offsets are supported.
type fakeSheets struct {
	mu     sync.Mutex
	sheets map[string][][]any
	calls  map[string]int
	fail   map[string]error
}

func newFake(titles ...string) *fakeSheets {
	f := &fakeSheets{sheets: map[string][][]any{}, calls: map[string]int{}, fail: map[string]error{}}
	for _, t := range titles {
		f.sheets[t] = nil
	}
	return f
}

func (f *fakeSheets) enter(op string) error {
	f.calls[op]++
	return f.fail[op]
}

// parse splits "Sheet!A2:J5" into sheet, first row and last row (0 = open).
func parse(rng string) (string, int, int) {
	sheet, cells, _ := strings.Cut(rng, "!")
	from, to, _ := strings.Cut(cells, ":")
	digits := func(s string) int {
		n, _ := strconv.Atoi(strings.TrimLeft(s, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
		return n
	}
	return sheet, digits(from), digits(to)
}

func (f *fakeSheets) SheetTitles(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("titles"); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(f.sheets))
	for t := range f.sheets {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeSheets) AddSheets(_ context.Context, titles []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("add"); err != nil {
		return err
	}
	for _, t := range titles {
		if _, ok := f.sheets[t]; ok {
			return errors.New("sheet already exists: " + t)
		}
		f.sheets[t] = nil
	}
	return nil
}

func (f *fakeSheets) Get(_ context.Context, rng string) ([][]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("get"); err != nil {
		return nil, err
	}
	sheet, from, to := parse(rng)
	rows := f.sheets[sheet]
	end := len(rows)
	if to > 0 && to < end {
		end = to
	}
	var out [][]any
	for i := from - 1; i < end; i++ {
		out = append(out, append([]any(nil), rows[i]...))
	}
	// The API omits trailing empty rows.
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeSheets) put(sheet string, from int, rows [][]any) {
	data := f.sheets[sheet]
	for i, r := range rows {
		idx := from - 1 + i
		for len(data) <= idx {
			data = append(data, nil)
		}
		data[idx] = append([]any(nil), r...)
	}
	f.sheets[sheet] = data
}

func (f *fakeSheets) Update(_ context.Context, rng string, rows [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("update"); err != nil {
		return err
	}
	sheet, from, _ := parse(rng)
	f.put(sheet, from, rows)
	return nil
}

func (f *fakeSheets) Append(_ context.Context, rng string, rows [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("append"); err != nil {
		return err
	}
	sheet, _, _ := parse(rng)
	last := 0
	for i, r := range f.sheets[sheet] {
		if len(r) > 0 {
			last = i + 1
		}
	}
	f.put(sheet, last+1, rows)
	return nil
}

func (f *fakeSheets) Clear(_ context.Context, rng string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("clear"); err != nil {
		return err
	}
	sheet, from, to := parse(rng)
	data := f.sheets[sheet]
	for i := from - 1; i < len(data) && (to == 0 || i < to); i++ {
		data[i] = nil
	}
	return nil
}

func (f *fakeSheets) rows(sheet string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sheets[sheet]
}

func sampleTask(id, title string) domain.Task {
	return domain.Task{
		ID:        id,
		Title:     title,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Deadline:  "2026-03-04",
		Category:  domain.CategoryThisWeek,
		Priority:  domain.PriorityP1,
		Status:    domain.TaskOpen,
		Division:  "OPS",
	}
}

func TestEnsureSchema_CreatesMissingSheetsOnce(t *testing.T) {
	f := newFake(SheetTasks)
	b := newBackend(f)
	ctx := context.Background()

	require.NoError(t, b.EnsureSchema(ctx))
	require.NoError(t, b.EnsureSchema(ctx))

	assert.Equal(t, 1, f.calls["add"])
	assert.Equal(t, 3, f.calls["update"], "one header per sheet, never rewritten")
	assert.Equal(t, taskCodec.header(), f.rows(SheetTasks)[0], "blank existing sheet gets a header")
	assert.Equal(t, issueCodec.header(), f.rows(SheetIssues)[0])
	assert.Equal(t, visitCodec.header(), f.rows(SheetVisits)[0])
	assert.Len(t, visitCodec.header(), 13)
}

func TestEnsureSchema_KeepsExistingHeader(t *testing.T) {
	f := newFake(SheetTasks, SheetIssues, SheetVisits)
	custom := []any{"Id", "Judul"}
	f.sheets[SheetTasks] = [][]any{custom}
	b := newBackend(f)

	require.NoError(t, b.EnsureSchema(context.Background()))

	assert.Zero(t, f.calls["add"])
	assert.Equal(t, custom, f.rows(SheetTasks)[0])
	assert.Equal(t, issueCodec.header(), f.rows(SheetIssues)[0])
	assert.Equal(t, 2, f.calls["update"])
}

func TestUpsert_IntoPreexistingEmptySheet(t *testing.T) {
	f := newFake(SheetTasks)
	b := newBackend(f)
	ctx := context.Background()

	require.NoError(t, b.Tasks().Upsert(ctx, sampleTask("t1", "first")))
	require.NoError(t, b.Tasks().Upsert(ctx, sampleTask("t1", "first, edited")))

	got, err := b.Tasks().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Task{sampleTask("t1", "first, edited")}, got)
	assert.Len(t, f.rows(SheetTasks), 2, "header plus one record")
}

func TestEnsureSchema_RecoversFromFailedHeaderWrite(t *testing.T) {
	f := newFake()
	boom := errors.New("backend error")
	f.fail["update"] = boom
	b := newBackend(f)
	ctx := context.Background()

	require.ErrorIs(t, b.EnsureSchema(ctx), boom)
	require.Equal(t, 1, f.calls["add"], "sheets were created before the header write failed")

	delete(f.fail, "update")
	require.NoError(t, b.Tasks().Upsert(ctx, sampleTask("t1", "first")))

	assert.Equal(t, 1, f.calls["add"])
	assert.Equal(t, taskCodec.header(), f.rows(SheetTasks)[0])
	got, err := b.Tasks().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Task{sampleTask("t1", "first")}, got)
}

func TestUpsert_AppendsThenUpdatesInPlace(t *testing.T) {
	f := newFake()
	b := newBackend(f)
	ctx := context.Background()

	require.NoError(t, b.Tasks().Upsert(ctx, sampleTask("t1", "first")))
	require.NoError(t, b.Tasks().Upsert(ctx, sampleTask("t2", "second")))
	require.NoError(t, b.Tasks().Upsert(ctx, sampleTask("t1", "first, edited")))

	assert.Equal(t, 2, f.calls["append"])
	rows := f.rows(SheetTasks)
	require.Len(t, rows, 3)
	assert.Equal(t, "first, edited", rows[1][1])
	assert.Equal(t, "t2", rows[2][0])

	got, err := b.Tasks().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Task{sampleTask("t1", "first, edited"), sampleTask("t2", "second")}, got)
}

func TestRoundTrip_IssuesAndVisits(t *testing.T) {
	b := newBackend(newFake())
	ctx := context.Background()

	lat := -7.25
	v := domain.VisitNote{
		ID: "v1", PartnerName: "Agen Maju", PartnerNIA: "NIA-1", VisitDate: "2026-03-02",
		Findings: "ok", Summary: "fine", Completed: true, Latitude: &lat,
	}
	i := domain.Issue{
		ID: "i1", Reference: "AWB9", Type: "damaged", OpCode: "X1", SOPRef: "SOP-7",
		Status: domain.IssueProgress, CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, b.Visits().Upsert(ctx, v))
	require.NoError(t, b.Issues().Upsert(ctx, i))

	visits, err := b.Visits().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.VisitNote{v}, visits)

	issues, err := b.Issues().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Issue{i}, issues)
}

func TestList_SkipsRowsWithoutID(t *testing.T) {
	f := newFake()
	b := newBackend(f)
	ctx := context.Background()
	require.NoError(t, b.EnsureSchema(ctx))
	f.put(SheetTasks, 2, [][]any{{"", "orphan"}, {"t9", "kept"}})

	got, err := b.Tasks().List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t9", got[0].ID)
}

func TestDelete_TasksRewriteTheSheet(t *testing.T) {
	f := newFake()
	b := newBackend(f)
	ctx := context.Background()
	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, b.Tasks().Upsert(ctx, sampleTask(id, "x")))
	}

	require.NoError(t, b.Tasks().Delete(ctx, "t2"))
	got, err := b.Tasks().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Task{sampleTask("t1", "x"), sampleTask("t3", "x")}, got)

	// Unknown id does not touch the sheet.
	clears := f.calls["clear"]
	require.NoError(t, b.Tasks().Delete(ctx, "nope"))
	assert.Equal(t, clears, f.calls["clear"])

	require.NoError(t, b.Tasks().Delete(ctx, "t1"))
	require.NoError(t, b.Tasks().Delete(ctx, "t3"))
	got, err = b.Tasks().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, TaskColumns[0], f.rows(SheetTasks)[0][0], "header survives")
}

func TestDelete_UnsupportedForIssuesAndVisits(t *testing.T) {
	f := newFake()
	b := newBackend(f)
	ctx := context.Background()

	assert.ErrorIs(t, b.Issues().Delete(ctx, "i1"), store.ErrDeleteUnsupported)
	assert.ErrorIs(t, b.Visits().Delete(ctx, "v1"), store.ErrDeleteUnsupported)
	assert.Zero(t, f.calls["titles"], "no remote call for an unsupported delete")
}

func TestErrorsPropagate(t *testing.T) {
	boom := errors.New("quota exceeded")
	ctx := context.Background()

	for _, op := range []string{"titles", "get", "append"} {
		t.Run(op, func(t *testing.T) {
			f := newFake()
			f.fail[op] = boom
			b := newBackend(f)
			err := b.Tasks().Upsert(ctx, sampleTask("t1", "x"))
			assert.ErrorIs(t, err, boom)
		})
	}

	f := newFake()
	f.fail["get"] = boom
	_, err := newBackend(f).Visits().List(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestConnect(t *testing.T) {
	orig := newValuesAPI
	t.Cleanup(func() { newValuesAPI = orig })

	f := newFake()
	var seen store.Credentials
	newValuesAPI = func(_ context.Context, creds store.Credentials) (valuesAPI, error) {
		seen = creds
		return f, nil
	}
	ctx := context.Background()

	_, err := Connect(ctx, store.Credentials{APIKey: "k", SpreadsheetID: "s"})
	assert.ErrorIs(t, err, store.ErrMissingCredentials)
	assert.ErrorContains(t, err, "access_token")
	assert.Empty(t, seen.APIKey, "no client built for blank credentials")

	creds := store.Credentials{APIKey: "k", AccessToken: "tok", SpreadsheetID: "s"}
	b, err := Connector.Connect(ctx, creds)
	require.NoError(t, err)
	assert.Equal(t, BackendName, b.Name())
	assert.Equal(t, creds, seen)
	assert.Len(t, f.rows(SheetTasks), 1, "schema ensured on connect")

	f.fail["titles"] = errors.New("401")
	_, err = Connect(ctx, creds)
	assert.Error(t, err)
}

func TestColumnLetterAndRanges(t *testing.T) {
	assert.Equal(t, "A", columnLetter(1))
	assert.Equal(t, "J", columnLetter(10))
	assert.Equal(t, "Z", columnLetter(26))
	assert.Equal(t, "AA", columnLetter(27))

	assert.Equal(t, "Visits!A2:M", visitCodec.dataRange())
	assert.Equal(t, "Tasks!A1:J1", taskCodec.headerRange())
	assert.Equal(t, "Issues!A7:J7", issueCodec.rowRange(7))
	assert.Equal(t, "Tasks!A2:J4", taskCodec.blockRange(3))
}
