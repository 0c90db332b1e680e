// Package docstore implements the document remote record store on MongoDB.
//
// Each synced kind lives in its own collection (tasks, issues, visits) with
// one document per record and the record identifier as _id. Upserts are
// ReplaceOne with upsert enabled, so writing the same record twice leaves a
// single document. The collections are checked before the first read or
// write and again after any failed check. Delete mirrors the tabular backend: tasks only, other
// kinds return store.ErrDeleteUnsupported.
package docstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/store"
)

// BackendName is reported by Backend.Name.
const BackendName = "mongo"

// databaseAPI is the part of a MongoDB database the backend uses.
type databaseAPI interface {
	CollectionNames(ctx context.Context) ([]string, error)
	Create(ctx context.Context, name string) error
	Collection(name string) collectionAPI
}

// collectionAPI is the part of a MongoDB collection the backend uses.
type collectionAPI interface {
	FindAll(ctx context.Context) ([]bson.Raw, error)
	Replace(ctx context.Context, id string, doc any) error
	DeleteByID(ctx context.Context, id string) error
}

// Backend is a store.Backend over one MongoDB database.
type Backend struct {
	db    databaseAPI
	close func(context.Context) error
	log   zerolog.Logger

	schemaMu sync.Mutex
	schemaOK bool

	tasks  *collection[domain.Task]
	issues *collection[domain.Issue]
	visits *collection[domain.VisitNote]
}

func newBackend(db databaseAPI, closeFn func(context.Context) error) *Backend {
	b := &Backend{db: db, close: closeFn, log: log.With().Str("component", "store.docstore").Logger()}
	b.tasks = &collection[domain.Task]{b: b, name: string(domain.KindTasks), deletable: true}
	b.issues = &collection[domain.Issue]{b: b, name: string(domain.KindIssues)}
	b.visits = &collection[domain.VisitNote]{b: b, name: string(domain.KindVisits)}
	return b
}

func (b *Backend) Name() string { return BackendName }

func (b *Backend) Tasks() store.Collection[domain.Task] { return b.tasks }

func (b *Backend) Issues() store.Collection[domain.Issue] { return b.issues }

func (b *Backend) Visits() store.Collection[domain.VisitNote] { return b.visits }

// Close disconnects the client. The backend is unusable afterwards.
func (b *Backend) Close(ctx context.Context) error {
	if b.close == nil {
		return nil
	}
	return b.close(ctx)
}

// EnsureCollections creates whichever of the three collections is missing.
func (b *Backend) EnsureCollections(ctx context.Context) error {
	names, err := b.db.CollectionNames(ctx)
	if err != nil {
		return b.fail(err, "list collections")
	}
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	for _, k := range domain.Kinds {
		if have[string(k)] {
			continue
		}
		if err := b.db.Create(ctx, string(k)); err != nil {
			return b.fail(err, "create collection "+string(k))
		}
		b.log.Info().Str("collection", string(k)).Msg("created collection")
	}
	return nil
}

// ensure runs EnsureCollections until it first succeeds. Every collection
// operation goes through it.
func (b *Backend) ensure(ctx context.Context) error {
	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()
	if b.schemaOK {
		return nil
	}
	if err := b.EnsureCollections(ctx); err != nil {
		return err
	}
	b.schemaOK = true
	return nil
}

func (b *Backend) fail(err error, op string) error {
	b.log.Error().Err(err).Str("op", op).Msg("mongo call failed")
	return fmt.Errorf("docstore: %s: %w", op, err)
}

type collection[T domain.Record] struct {
	b         *Backend
	name      string
	deletable bool
}

func (c *collection[T]) List(ctx context.Context) ([]T, error) {
	if err := c.b.ensure(ctx); err != nil {
		return nil, err
	}
	docs, err := c.b.db.Collection(c.name).FindAll(ctx)
	if err != nil {
		return nil, c.b.fail(err, "find "+c.name)
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var rec T
		if err := bson.Unmarshal(d, &rec); err != nil {
			return nil, c.b.fail(err, "decode "+c.name)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *collection[T]) Upsert(ctx context.Context, rec T) error {
	if err := c.b.ensure(ctx); err != nil {
		return err
	}
	if err := c.b.db.Collection(c.name).Replace(ctx, rec.RecordID(), rec); err != nil {
		return c.b.fail(err, "replace "+c.name)
	}
	return nil
}

func (c *collection[T]) Delete(ctx context.Context, id string) error {
	if !c.deletable {
		return fmt.Errorf("docstore: delete %s: %w", c.name, store.ErrDeleteUnsupported)
	}
	if err := c.b.ensure(ctx); err != nil {
		return err
	}
	if err := c.b.db.Collection(c.name).DeleteByID(ctx, id); err != nil {
		return c.b.fail(err, "delete "+c.name)
	}
	return nil
}
