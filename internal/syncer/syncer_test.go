package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/observability"
	"github.com/tbourn/fieldops-backend/internal/store"
	"github.com/tbourn/fieldops-backend/internal/store/storetest"
)

func tk(id, title string) domain.Task {
	return domain.Task{ID: id, Title: title, Status: domain.TaskOpen, Category: domain.CategoryToday, Priority: domain.PriorityP3}
}

func iss(id string) domain.Issue {
	return domain.Issue{ID: id, Reference: "AWB-" + id, Type: "delay", Status: domain.IssueOpen}
}

// connectTo returns a connector handing out remote, recording the creds.
func connectTo(remote store.Backend, seen *store.Credentials) store.Connector {
	return store.ConnectorFunc(func(_ context.Context, creds store.Credentials) (store.Backend, error) {
		if seen != nil {
			*seen = creds
		}
		return remote, nil
	})
}

func TestLoad_FromLocal(t *testing.T) {
	local := storetest.NewMemory("local")
	local.Seed(tk("t1", "a"), iss("i1"))
	c := New(local, nil)

	snap := c.Snapshot()
	assert.Empty(t, snap.Tasks)
	assert.NotNil(t, snap.Visits)

	require.NoError(t, c.Load(context.Background()))
	snap = c.Snapshot()
	assert.Equal(t, "local", snap.Backend)
	assert.False(t, snap.Connected)
	assert.Equal(t, []domain.Task{tk("t1", "a")}, snap.Tasks)
	assert.Equal(t, []domain.Issue{iss("i1")}, snap.Issues)
	assert.Empty(t, snap.Visits)
}

func TestSave_LocalRefreshesOnlyAffectedCollection(t *testing.T) {
	local := storetest.NewMemory("local")
	c := New(local, nil)
	ctx := context.Background()
	require.NoError(t, c.Load(ctx))

	res, err := c.Save(ctx, tk("t1", "a"))
	require.NoError(t, err)
	assert.Equal(t, Result{Backend: "local", Remote: false}, res)
	assert.Equal(t, []domain.Task{tk("t1", "a")}, c.Tasks())

	assert.Equal(t, 2, local.Calls(domain.KindTasks, "list"))
	assert.Equal(t, 1, local.Calls(domain.KindIssues, "list"), "issues not refetched")
	assert.Equal(t, 1, local.Calls(domain.KindVisits, "list"), "visits not refetched")
}

func TestSave_RejectsInvalidRecord(t *testing.T) {
	local := storetest.NewMemory("local")
	c := New(local, nil)

	_, err := c.Save(context.Background(), domain.Task{ID: "t1"})
	assert.ErrorIs(t, err, domain.ErrMissingField)
	assert.Zero(t, local.Calls(domain.KindTasks, "upsert"))
}

func TestSave_RemoteReloadsEverything(t *testing.T) {
	local := storetest.NewMemory("local")
	remote := storetest.NewMemory("sheets")
	c := New(local, connectTo(remote, nil))
	ctx := context.Background()

	_, err := c.Connect(ctx, store.Credentials{APIKey: "k", AccessToken: "t"})
	require.NoError(t, err)

	// Another writer changes the remote behind our back.
	remote.Seed(iss("i-other"))

	res, err := c.Save(ctx, tk("t1", "a"))
	require.NoError(t, err)
	assert.Equal(t, Result{Backend: "sheets", Remote: true}, res)

	snap := c.Snapshot()
	assert.Equal(t, []domain.Task{tk("t1", "a")}, snap.Tasks)
	assert.Equal(t, []domain.Issue{iss("i-other")}, snap.Issues, "in-memory state equals remote listing after write")
	assert.Zero(t, local.Calls(domain.KindTasks, "upsert"), "never written to both backends")
}

func TestConnect_DiscardsLocalOnlyEdits(t *testing.T) {
	local := storetest.NewMemory("local")
	remote := storetest.NewMemory("mongo")
	remote.Seed(tk("shared", "remote version"), tk("r1", "remote only"))

	var seen store.Credentials
	c := New(local, connectTo(remote, &seen))
	ctx := context.Background()
	require.NoError(t, c.Load(ctx))
	_, err := c.Save(ctx, tk("x", "local only"))
	require.NoError(t, err)
	_, err = c.Save(ctx, tk("shared", "local version"))
	require.NoError(t, err)

	creds := store.Credentials{APIKey: "key", AccessToken: "tok"}
	res, err := c.Connect(ctx, creds)
	require.NoError(t, err)
	assert.Equal(t, Result{Backend: "mongo", Remote: true}, res)
	assert.Equal(t, creds, seen)

	assert.ElementsMatch(t, []domain.Task{tk("shared", "remote version"), tk("r1", "remote only")}, c.Tasks())
	assert.True(t, c.Connected())

	_, err = c.Connect(ctx, creds)
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestConnect_FailureKeepsLocal(t *testing.T) {
	local := storetest.NewMemory("local")
	local.Seed(tk("t1", "a"))
	boom := errors.New("consent denied")
	c := New(local, store.ConnectorFunc(func(context.Context, store.Credentials) (store.Backend, error) {
		return nil, boom
	}))
	ctx := context.Background()
	require.NoError(t, c.Load(ctx))

	_, err := c.Connect(ctx, store.Credentials{})
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.ErrorIs(t, err, boom)

	snap := c.Snapshot()
	assert.False(t, snap.Connected)
	assert.Equal(t, "local", snap.Backend)
	assert.Equal(t, []domain.Task{tk("t1", "a")}, snap.Tasks)

	res, err := c.Save(ctx, tk("t2", "b"))
	require.NoError(t, err)
	assert.False(t, res.Remote)
}

type closingBackend struct {
	*storetest.Memory
	closed atomic.Bool
}

func (c *closingBackend) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}

func TestConnect_FailedInitialReloadIsAFailedConnect(t *testing.T) {
	local := storetest.NewMemory("local")
	remote := &closingBackend{Memory: storetest.NewMemory("sheets")}
	remote.Fail(domain.KindVisits, "list", errors.New("sheet missing"))
	c := New(local, connectTo(remote, nil))

	_, err := c.Connect(context.Background(), store.Credentials{})
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.False(t, c.Connected())
	assert.True(t, remote.closed.Load())
}

func TestConnect_NoConnector(t *testing.T) {
	c := New(storetest.NewMemory("local"), nil)
	_, err := c.Connect(context.Background(), store.Credentials{})
	assert.ErrorIs(t, err, ErrConnectFailed)
}

func TestReload_PartialFailureKeepsStaleState(t *testing.T) {
	local := storetest.NewMemory("local")
	remote := storetest.NewMemory("sheets")
	remote.Seed(tk("t1", "a"), iss("i1"))
	c := New(local, connectTo(remote, nil))
	ctx := context.Background()
	_, err := c.Connect(ctx, store.Credentials{})
	require.NoError(t, err)
	before := c.Snapshot()

	remote.Seed(tk("t2", "b"))
	remote.Fail(domain.KindIssues, "list", errors.New("rate limited"))

	err = c.Reload(ctx)
	assert.ErrorIs(t, err, ErrReloadFailed)
	assert.Equal(t, before.Collections, c.Snapshot().Collections, "tasks list succeeded but must not be committed alone")

	// The write itself lands; the failed reload is reported and state is stale.
	_, err = c.Save(ctx, tk("t3", "c"))
	assert.ErrorIs(t, err, ErrReloadFailed)
	assert.NotErrorIs(t, err, ErrWriteFailed)
	assert.Len(t, c.Tasks(), 1)

	remote.Fail(domain.KindIssues, "list", nil)
	require.NoError(t, c.Reload(ctx))
	assert.Len(t, c.Tasks(), 3)
}

func TestSave_RemoteWriteFailure(t *testing.T) {
	remote := storetest.NewMemory("sheets")
	c := New(storetest.NewMemory("local"), connectTo(remote, nil))
	ctx := context.Background()
	_, err := c.Connect(ctx, store.Credentials{})
	require.NoError(t, err)

	boom := errors.New("403 forbidden")
	remote.Fail(domain.KindTasks, "upsert", boom)
	before := testutil.ToFloat64(observability.SyncOperations.WithLabelValues("save", "sheets", observability.ResultError))

	res, err := c.Save(ctx, tk("t1", "a"))
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.ErrorIs(t, err, boom)
	assert.True(t, res.Remote)
	assert.Empty(t, c.Tasks())
	assert.Equal(t, before+1, testutil.ToFloat64(observability.SyncOperations.WithLabelValues("save", "sheets", observability.ResultError)))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("local then list", func(t *testing.T) {
		local := storetest.NewMemory("local")
		local.Seed(tk("t1", "a"), tk("t2", "b"), tk("t3", "c"))
		c := New(local, nil)
		require.NoError(t, c.Load(ctx))

		_, err := c.Delete(ctx, domain.KindTasks, "t2")
		require.NoError(t, err)
		assert.Equal(t, []domain.Task{tk("t1", "a"), tk("t3", "c")}, c.Tasks())
	})

	t.Run("remote unsupported kind", func(t *testing.T) {
		remote := storetest.NewMemory("sheets").DeleteKinds(domain.KindTasks)
		remote.Seed(iss("i1"))
		c := New(storetest.NewMemory("local"), connectTo(remote, nil))
		_, err := c.Connect(ctx, store.Credentials{})
		require.NoError(t, err)

		_, err = c.Delete(ctx, domain.KindIssues, "i1")
		assert.ErrorIs(t, err, store.ErrDeleteUnsupported)
		assert.Len(t, c.Issues(), 1)
	})

	t.Run("unknown kind", func(t *testing.T) {
		c := New(storetest.NewMemory("local"), nil)
		_, err := c.Delete(ctx, domain.Kind("partners"), "p1")
		assert.ErrorIs(t, err, domain.ErrUnknownKind)
	})
}

// gatedBackend blocks task upserts until released, to observe locking.
type gatedBackend struct {
	*storetest.Memory
	gate    chan struct{}
	entered chan string
}

func (g *gatedBackend) Tasks() store.Collection[domain.Task] {
	return gatedTasks{Collection: g.Memory.Tasks(), g: g}
}

type gatedTasks struct {
	store.Collection[domain.Task]
	g *gatedBackend
}

func (t gatedTasks) Upsert(ctx context.Context, rec domain.Task) error {
	t.g.entered <- rec.ID
	<-t.g.gate
	return t.Collection.Upsert(ctx, rec)
}

func TestWrites_SameRecordAreSerialized(t *testing.T) {
	g := &gatedBackend{Memory: storetest.NewMemory("local"), gate: make(chan struct{}), entered: make(chan string, 4)}
	c := New(g, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, title := range []string{"first", "second"} {
		wg.Add(1)
		go func(title string) {
			defer wg.Done()
			_, _ = c.Save(ctx, tk("t1", title))
		}(title)
	}

	<-g.entered
	select {
	case <-g.entered:
		t.Fatal("second write to the same record entered the store while the first was pending")
	case <-time.After(50 * time.Millisecond):
	}
	g.gate <- struct{}{}
	<-g.entered
	g.gate <- struct{}{}
	wg.Wait()
	assert.Zero(t, c.locks.size())
}

func TestWrites_DifferentRecordsRunConcurrently(t *testing.T) {
	g := &gatedBackend{Memory: storetest.NewMemory("local"), gate: make(chan struct{}), entered: make(chan string, 4)}
	c := New(g, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = c.Save(ctx, tk(id, id))
		}(id)
	}
	got := []string{<-g.entered, <-g.entered}
	assert.ElementsMatch(t, []string{"a", "b"}, got)
	close(g.gate)
	wg.Wait()
	assert.Len(t, c.Tasks(), 2)
}
