// Package syncer is the sync coordinator: the only component that decides
// which record store a save or delete goes to, and the owner of the
// in-memory copy of the three synced collections served to readers.
//
// A Coordinator starts with the local backend as authoritative. Connect
// swaps in a remote backend for the rest of the process lifetime; there is
// no way back. The policy per write is:
//
//   - local:  upsert/delete locally, then refresh only the affected
//     collection from the local store;
//   - remote: upsert/delete remotely, then reload all three collections from
//     the remote store and replace the in-memory state wholesale.
//
// A reload issues the three List calls concurrently and commits only when
// all of them succeed. On any failure the previous state is kept.
//
// Writes to the same record are serialized by a per-record lock. Writes to
// different records are not, so overlapping writes complete in network order.
// Nothing is retried; errors from the stores are returned as-is, wrapped in
// the sentinels below.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/observability"
	"github.com/tbourn/fieldops-backend/internal/store"
)

var (
	// ErrConnectFailed wraps any failure of Connect. The local backend stays
	// authoritative.
	ErrConnectFailed = errors.New("remote connect failed")

	// ErrAlreadyConnected is returned by a second Connect in one process.
	ErrAlreadyConnected = errors.New("already connected to a remote backend")

	// ErrWriteFailed wraps a failed upsert or delete on the authoritative
	// backend. It is joined with the store error, so errors.Is also matches
	// store.ErrDeleteUnsupported.
	ErrWriteFailed = errors.New("write failed")

	// ErrReloadFailed is returned when a reload could not list every
	// collection. In-memory state is left as it was.
	ErrReloadFailed = errors.New("reload failed")
)

var tracer = otel.Tracer("syncer")

// Closer is implemented by backends holding network resources. Backends that
// are dropped after a failed connect are closed when they implement it.
type Closer interface {
	Close(ctx context.Context) error
}

// Collections is a copy of the three synced collections.
type Collections struct {
	Tasks  []domain.Task      `json:"tasks"`
	Issues []domain.Issue     `json:"issues"`
	Visits []domain.VisitNote `json:"visits"`
}

// Snapshot is a point-in-time view of the coordinator.
type Snapshot struct {
	Collections
	Backend   string    `json:"backend"`
	Connected bool      `json:"connected"`
	LoadedAt  time.Time `json:"loaded_at"`
}

// Result tells the caller where a write landed.
type Result struct {
	Backend string `json:"backend"`
	Remote  bool   `json:"remote"`
}

// Coordinator routes writes to the authoritative backend and mirrors its
// collections in memory. It is safe for concurrent use.
type Coordinator struct {
	connector store.Connector
	log       zerolog.Logger
	locks     keyedMutex
	connectMu sync.Mutex

	mu        sync.RWMutex
	backend   store.Backend
	connected bool
	gen       uint64 // bumped when the authoritative backend changes
	state     Collections
	loadedAt  time.Time

	now func() time.Time
}

// New returns a coordinator with local as the authoritative backend.
// connector may be nil when no remote backend is configured; Connect then
// fails with ErrConnectFailed.
func New(local store.Backend, connector store.Connector) *Coordinator {
	return &Coordinator{
		connector: connector,
		backend:   local,
		log:       log.With().Str("component", "syncer").Logger(),
		state:     Collections{Tasks: []domain.Task{}, Issues: []domain.Issue{}, Visits: []domain.VisitNote{}},
		now:       time.Now,
	}
}

// Load fills the in-memory state from the authoritative backend.
func (c *Coordinator) Load(ctx context.Context) error {
	return c.Reload(ctx)
}

// Reload replaces the in-memory state with a full listing of the
// authoritative backend.
func (c *Coordinator) Reload(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "syncer.Reload")
	defer span.End()

	b, _, gen := c.current()
	defer func() { observability.SyncOperations.WithLabelValues("reload", b.Name(), observability.Outcome(err)).Inc() }()

	cols, err := loadAll(ctx, b)
	if err != nil {
		c.log.Error().Err(err).Str("backend", b.Name()).Msg("reload failed; keeping previous state")
		return fmt.Errorf("%w: %w", ErrReloadFailed, err)
	}
	c.commit(gen, func(s *Collections) { *s = cols })
	return nil
}

// Save upserts rec on the authoritative backend and refreshes the
// in-memory state according to the backend policy.
func (c *Coordinator) Save(ctx context.Context, rec domain.Record) (Result, error) {
	if err := rec.Validate(); err != nil {
		return Result{}, err
	}
	return c.write(ctx, "save", rec.RecordKind(), rec.RecordID(), func(b store.Backend) error {
		return store.Save(ctx, b, rec)
	})
}

// Delete removes id from kind on the authoritative backend.
func (c *Coordinator) Delete(ctx context.Context, kind domain.Kind, id string) (Result, error) {
	kind, err := domain.ParseKind(string(kind))
	if err != nil {
		return Result{}, err
	}
	return c.write(ctx, "delete", kind, id, func(b store.Backend) error {
		return store.Remove(ctx, b, kind, id)
	})
}

func (c *Coordinator) write(ctx context.Context, op string, kind domain.Kind, id string, do func(store.Backend) error) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "syncer."+op)
	defer span.End()
	span.SetAttributes(attribute.String("record.kind", string(kind)), attribute.String("record.id", id))

	unlock := c.locks.Lock(string(kind) + "/" + id)
	defer unlock()

	b, remote, gen := c.current()
	res = Result{Backend: b.Name(), Remote: remote}
	defer func() { observability.SyncOperations.WithLabelValues(op, b.Name(), observability.Outcome(err)).Inc() }()

	lg := c.log.With().Str("op", op).Str("backend", b.Name()).Str("kind", string(kind)).Str("id", id).Logger()
	if err := do(b); err != nil {
		lg.Error().Err(err).Msg("write failed")
		return res, fmt.Errorf("%w: %s %s/%s on %s: %w", ErrWriteFailed, op, kind, id, b.Name(), err)
	}

	if remote {
		cols, err := loadAll(ctx, b)
		if err != nil {
			lg.Error().Err(err).Msg("reload after remote write failed; keeping previous state")
			return res, fmt.Errorf("%w: %w", ErrReloadFailed, err)
		}
		c.commit(gen, func(s *Collections) { *s = cols })
		lg.Debug().Msg("remote write reloaded")
		return res, nil
	}

	if err := c.refresh(ctx, b, gen, kind); err != nil {
		return res, fmt.Errorf("%w: %w", ErrReloadFailed, err)
	}
	return res, nil
}

// Connect establishes the remote backend with creds and, after one full
// reload from it succeeds, makes it authoritative. Local edits that never
// reached the remote are dropped from memory.
func (c *Coordinator) Connect(ctx context.Context, creds store.Credentials) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "syncer.Connect")
	defer span.End()

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	backendName := "remote"
	defer func() { observability.SyncOperations.WithLabelValues("connect", backendName, observability.Outcome(err)).Inc() }()

	c.mu.RLock()
	already := c.connected
	c.mu.RUnlock()
	if already {
		return Result{}, ErrAlreadyConnected
	}
	if c.connector == nil {
		return Result{}, fmt.Errorf("%w: no remote backend configured", ErrConnectFailed)
	}

	remote, err := c.connector.Connect(ctx, creds)
	if err != nil {
		c.log.Warn().Err(err).Msg("remote connect failed; local stays authoritative")
		return Result{}, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	backendName = remote.Name()

	cols, err := loadAll(ctx, remote)
	if err != nil {
		c.log.Warn().Err(err).Str("backend", remote.Name()).Msg("initial reload failed; local stays authoritative")
		if cl, ok := remote.(Closer); ok {
			_ = cl.Close(context.Background())
		}
		return Result{}, fmt.Errorf("%w: initial reload: %w", ErrConnectFailed, err)
	}

	c.mu.Lock()
	c.backend = remote
	c.connected = true
	c.gen++
	c.state = cols
	c.loadedAt = c.now()
	c.mu.Unlock()

	c.log.Info().Str("backend", remote.Name()).
		Int("tasks", len(cols.Tasks)).Int("issues", len(cols.Issues)).Int("visits", len(cols.Visits)).
		Msg("remote backend is now authoritative")
	return Result{Backend: remote.Name(), Remote: true}, nil
}

// Snapshot returns copies of the in-memory collections and sync state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Collections: Collections{
			Tasks:  append([]domain.Task{}, c.state.Tasks...),
			Issues: append([]domain.Issue{}, c.state.Issues...),
			Visits: append([]domain.VisitNote{}, c.state.Visits...),
		},
		Backend:   c.backend.Name(),
		Connected: c.connected,
		LoadedAt:  c.loadedAt,
	}
}

// Tasks returns a copy of the in-memory tasks.
func (c *Coordinator) Tasks() []domain.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Task{}, c.state.Tasks...)
}

// Issues returns a copy of the in-memory issues.
func (c *Coordinator) Issues() []domain.Issue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Issue{}, c.state.Issues...)
}

// Visits returns a copy of the in-memory visit notes.
func (c *Coordinator) Visits() []domain.VisitNote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.VisitNote{}, c.state.Visits...)
}

// Connected reports whether a remote backend is authoritative.
func (c *Coordinator) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Coordinator) current() (store.Backend, bool, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend, c.connected, c.gen
}

// commit applies fn to the state unless the authoritative backend changed
// since gen was read; a result loaded from a replaced backend is dropped.
func (c *Coordinator) commit(gen uint64, fn func(*Collections)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.log.Debug().Msg("authoritative backend changed; dropping stale result")
		return false
	}
	fn(&c.state)
	c.loadedAt = c.now()
	return true
}

// refresh reloads a single collection.
func (c *Coordinator) refresh(ctx context.Context, b store.Backend, gen uint64, kind domain.Kind) error {
	switch kind {
	case domain.KindTasks:
		items, err := b.Tasks().List(ctx)
		if err != nil {
			return err
		}
		c.commit(gen, func(s *Collections) { s.Tasks = nonNil(items) })
	case domain.KindIssues:
		items, err := b.Issues().List(ctx)
		if err != nil {
			return err
		}
		c.commit(gen, func(s *Collections) { s.Issues = nonNil(items) })
	case domain.KindVisits:
		items, err := b.Visits().List(ctx)
		if err != nil {
			return err
		}
		c.commit(gen, func(s *Collections) { s.Visits = nonNil(items) })
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownKind, kind)
	}
	return nil
}

// loadAll lists the three collections concurrently; all or nothing.
func loadAll(ctx context.Context, b store.Backend) (Collections, error) {
	var out Collections
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Tasks, err = b.Tasks().List(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.Issues, err = b.Issues().List(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.Visits, err = b.Visits().List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Collections{}, err
	}
	out.Tasks = nonNil(out.Tasks)
	out.Issues = nonNil(out.Issues)
	out.Visits = nonNil(out.Visits)
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
