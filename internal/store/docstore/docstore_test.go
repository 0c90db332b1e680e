package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/store"
)

type fakeDB struct {
	mu       sync.Mutex
	colls    map[string]*fakeColl
	created  []string
	lists    int
	listErr  error
	findErr  error
	writeErr error
}

func newFakeDB(existing ...string) *fakeDB {
	db := &fakeDB{colls: map[string]*fakeColl{}}
	for _, n := range existing {
		db.colls[n] = &fakeColl{db: db, docs: map[string]bson.Raw{}}
	}
	return db
}

func (d *fakeDB) CollectionNames(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lists++
	if d.listErr != nil {
		return nil, d.listErr
	}
	var out []string
	for n := range d.colls {
		out = append(out, n)
	}
	return out, nil
}

func (d *fakeDB) Create(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.colls[name]; ok {
		return errors.New("collection already exists")
	}
	d.colls[name] = &fakeColl{db: d, docs: map[string]bson.Raw{}}
	d.created = append(d.created, name)
	return nil
}

// Collection mirrors the driver: a handle to a missing collection is valid
// and reads as empty.
func (d *fakeDB) Collection(name string) collectionAPI {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.colls[name]
	if !ok {
		c = &fakeColl{db: d, docs: map[string]bson.Raw{}}
		d.colls[name] = c
	}
	return c
}

type fakeColl struct {
	db    *fakeDB
	order []string
	docs  map[string]bson.Raw
}

func (c *fakeColl) FindAll(context.Context) ([]bson.Raw, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.db.findErr != nil {
		return nil, c.db.findErr
	}
	out := make([]bson.Raw, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.docs[id])
	}
	return out, nil
}

func (c *fakeColl) Replace(_ context.Context, id string, doc any) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.db.writeErr != nil {
		return c.db.writeErr
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	if _, ok := c.docs[id]; !ok {
		c.order = append(c.order, id)
	}
	c.docs[id] = raw
	return nil
}

func (c *fakeColl) DeleteByID(_ context.Context, id string) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.db.writeErr != nil {
		return c.db.writeErr
	}
	if _, ok := c.docs[id]; !ok {
		return nil
	}
	delete(c.docs, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func task(id, title string) domain.Task {
	return domain.Task{
		ID: id, Title: title, Status: domain.TaskOpen, Priority: domain.PriorityP2,
		Category: domain.CategoryToday, CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestEnsureCollections_CreatesOnlyMissing(t *testing.T) {
	db := newFakeDB("tasks")
	b := newBackend(db, nil)
	ctx := context.Background()

	require.NoError(t, b.EnsureCollections(ctx))
	require.NoError(t, b.EnsureCollections(ctx))
	assert.ElementsMatch(t, []string{"issues", "visits"}, db.created)

	db.listErr = errors.New("not authorized")
	assert.ErrorContains(t, b.EnsureCollections(ctx), "not authorized")
}

func TestCollections_EnsuredBeforeFirstUse(t *testing.T) {
	db := newFakeDB()
	db.listErr = errors.New("not authorized")
	b := newBackend(db, nil)
	ctx := context.Background()

	_, err := b.Tasks().List(ctx)
	assert.ErrorContains(t, err, "not authorized")
	assert.ErrorContains(t, b.Issues().Upsert(ctx, domain.Issue{ID: "i1"}), "not authorized")
	assert.Empty(t, db.colls, "no collection touched while the check fails")

	db.listErr = nil
	require.NoError(t, b.Tasks().Upsert(ctx, task("t1", "a")))
	assert.ElementsMatch(t, []string{"tasks", "issues", "visits"}, db.created)

	lists := db.lists
	_, err = b.Visits().List(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Tasks().Delete(ctx, "t1"))
	assert.Equal(t, lists, db.lists, "checked once after success")
}

func TestUpsert_ReplacesByID(t *testing.T) {
	db := newFakeDB()
	b := newBackend(db, nil)
	ctx := context.Background()

	require.NoError(t, b.Tasks().Upsert(ctx, task("t1", "a")))
	require.NoError(t, b.Tasks().Upsert(ctx, task("t2", "b")))
	require.NoError(t, b.Tasks().Upsert(ctx, task("t1", "a2")))

	got, err := b.Tasks().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Task{task("t1", "a2"), task("t2", "b")}, got)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(db.colls["tasks"].docs["t1"], &doc))
	assert.Equal(t, "t1", doc["_id"])
}

func TestRoundTrip_IssuesAndVisits(t *testing.T) {
	b := newBackend(newFakeDB(), nil)
	ctx := context.Background()

	lng := 110.4
	v := domain.VisitNote{ID: "v1", PartnerName: "P", VisitDate: "2026-03-03", Longitude: &lng}
	i := domain.Issue{
		ID: "i1", Reference: "R", Type: "T", Status: domain.IssueOpen,
		CreatedAt: time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC),
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

func TestDelete(t *testing.T) {
	b := newBackend(newFakeDB(), nil)
	ctx := context.Background()
	require.NoError(t, b.Tasks().Upsert(ctx, task("t1", "a")))
	require.NoError(t, b.Tasks().Upsert(ctx, task("t2", "b")))

	require.NoError(t, b.Tasks().Delete(ctx, "t1"))
	require.NoError(t, b.Tasks().Delete(ctx, "absent"))
	got, err := b.Tasks().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Task{task("t2", "b")}, got)

	assert.ErrorIs(t, b.Issues().Delete(ctx, "i1"), store.ErrDeleteUnsupported)
	assert.ErrorIs(t, b.Visits().Delete(ctx, "v1"), store.ErrDeleteUnsupported)
}

func TestErrorsPropagate(t *testing.T) {
	boom := errors.New("server selection timeout")
	db := newFakeDB()
	b := newBackend(db, nil)
	ctx := context.Background()

	db.writeErr = boom
	assert.ErrorIs(t, b.Tasks().Upsert(ctx, task("t1", "a")), boom)
	assert.ErrorIs(t, b.Tasks().Delete(ctx, "t1"), boom)

	db.findErr = boom
	_, err := b.Issues().List(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestConnect(t *testing.T) {
	orig := dial
	t.Cleanup(func() { dial = orig })

	db := newFakeDB()
	closed := false
	dials := 0
	dial = func(context.Context, store.Credentials) (databaseAPI, func(context.Context) error, error) {
		dials++
		return db, func(context.Context) error { closed = true; return nil }, nil
	}
	ctx := context.Background()

	_, err := Connect(ctx, store.Credentials{MongoURI: "mongodb://x"})
	assert.ErrorIs(t, err, store.ErrMissingCredentials)
	assert.Zero(t, dials)

	be, err := Connector.Connect(ctx, store.Credentials{MongoURI: "mongodb://x", MongoDatabase: "ops"})
	require.NoError(t, err)
	assert.Equal(t, BackendName, be.Name())
	assert.Len(t, db.created, 3)

	require.NoError(t, be.(*Backend).Close(ctx))
	assert.True(t, closed)

	// A failing collection check closes the client and fails the connect.
	closed = false
	db.listErr = errors.New("auth failed")
	_, err = Connect(ctx, store.Credentials{MongoURI: "mongodb://x", MongoDatabase: "ops"})
	assert.Error(t, err)
	assert.True(t, closed)

	dial = func(context.Context, store.Credentials) (databaseAPI, func(context.Context) error, error) {
		return nil, nil, errors.New("ping: no reachable servers")
	}
	_, err = Connect(ctx, store.Credentials{MongoURI: "mongodb://x", MongoDatabase: "ops"})
	assert.ErrorContains(t, err, "no reachable servers")
}
