package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/domain"
)

// KeyPrefix namespaces the local key/value entries.
const KeyPrefix = "fieldops:"

// Key returns the local key/value key of a collection.
func Key(kind domain.Kind) string { return KeyPrefix + string(kind) }

// Local is the device-local backend: one kv_entries row per collection,
// holding the whole collection as a JSON array.
//
// Local never surfaces its own failures. A failed or corrupt read yields an
// empty collection and a failed write is logged and dropped, so callers
// cannot tell "empty" from "unavailable".
type Local struct {
	db  *gorm.DB
	mu  sync.Mutex // serializes read-modify-write across collections
	log zerolog.Logger

	tasks  *localCollection[domain.Task]
	issues *localCollection[domain.Issue]
	visits *localCollection[domain.VisitNote]
}

// NewLocal returns the local backend over db. The kv_entries table must
// already be migrated (see repo.AutoMigrate).
func NewLocal(db *gorm.DB) *Local {
	l := &Local{db: db, log: log.With().Str("component", "store.local").Logger()}
	l.tasks = &localCollection[domain.Task]{l: l, key: Key(domain.KindTasks)}
	l.issues = &localCollection[domain.Issue]{l: l, key: Key(domain.KindIssues)}
	l.visits = &localCollection[domain.VisitNote]{l: l, key: Key(domain.KindVisits)}
	return l
}

func (l *Local) Name() string { return "local" }
func (l *Local) Tasks() Collection[domain.Task] { return l.tasks }
func (l *Local) Issues() Collection[domain.Issue] { return l.issues }
func (l *Local) Visits() Collection[domain.VisitNote] { return l.visits }

type localCollection[T domain.Record] struct {
	l   *Local
	key string
}

func (c *localCollection[T]) List(ctx context.Context) ([]T, error) {
	items, err := c.read(ctx)
	if err != nil {
		c.l.log.Error().Err(err).Str("key", c.key).Msg("local read failed; returning empty collection")
		return []T{}, nil
	}
	return items, nil
}

func (c *localCollection[T]) Upsert(ctx context.Context, rec T) error {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()

	items, err := c.read(ctx)
	if err != nil {
		c.l.log.Error().Err(err).Str("key", c.key).Msg("local read before upsert failed; starting from empty")
		items = nil
	}
	if err := c.write(ctx, UpsertByID(items, rec)); err != nil {
		c.l.log.Error().Err(err).Str("key", c.key).Str("id", rec.RecordID()).Msg("local upsert dropped")
	}
	return nil
}

func (c *localCollection[T]) Delete(ctx context.Context, id string) error {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()

	items, err := c.read(ctx)
	if err != nil {
		c.l.log.Error().Err(err).Str("key", c.key).Str("id", id).Msg("local delete dropped")
		return nil
	}
	rest, removed := RemoveByID(items, id)
	if !removed {
		return nil
	}
	if err := c.write(ctx, rest); err != nil {
		c.l.log.Error().Err(err).Str("key", c.key).Str("id", id).Msg("local delete dropped")
	}
	return nil
}

// read returns the stored array; an absent key is an empty collection.
func (c *localCollection[T]) read(ctx context.Context) ([]T, error) {
	var e domain.KVEntry
	err := c.l.db.WithContext(ctx).Where("key = ?", c.key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []T{}
	if err := json.Unmarshal([]byte(e.Value), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// write replaces the whole array under the key.
func (c *localCollection[T]) write(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return c.l.db.WithContext(ctx).Save(&domain.KVEntry{
		Key:       c.key,
		Value:     string(b),
		UpdatedAt: time.Now().UTC(),
	}).Error
}
