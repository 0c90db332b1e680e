// Package storetest provides an in-memory store.Backend for tests of code
// that sits above the record stores.
package storetest

import (
	"context"
	"sync"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/store"
)

// Memory is a thread-safe in-memory backend. Failures can be injected per
// kind and operation, and DeleteKinds restricts which kinds support delete
// (nil means all).
type Memory struct {
	name string

	mu     sync.Mutex
	data   map[domain.Kind][]domain.Record
	fail   map[string]error
	calls  map[string]int
	delete map[domain.Kind]bool
}

// NewMemory returns an empty backend reporting name from Name().
func NewMemory(name string) *Memory {
	return &Memory{
		name:  name,
		data:  map[domain.Kind][]domain.Record{},
		fail:  map[string]error{},
		calls: map[string]int{},
	}
}

// DeleteKinds limits delete support to kinds; others get ErrDeleteUnsupported.
func (m *Memory) DeleteKinds(kinds ...domain.Kind) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delete = map[domain.Kind]bool{}
	for _, k := range kinds {
		m.delete[k] = true
	}
	return m
}

// Fail makes op ("list", "upsert", "delete") on kind return err until
// cleared with a nil err.
func (m *Memory) Fail(kind domain.Kind, op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, string(kind)+"."+op)
		return
	}
	m.fail[string(kind)+"."+op] = err
}

// Calls returns how many times op ran on kind, failed calls included.
func (m *Memory) Calls(kind domain.Kind, op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[string(kind)+"."+op]
}

// Seed stores recs directly, bypassing failure injection and call counts.
func (m *Memory) Seed(recs ...domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.data[r.RecordKind()] = upsert(m.data[r.RecordKind()], r)
	}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Tasks() store.Collection[domain.Task] {
	return &coll[domain.Task]{m: m, kind: domain.KindTasks}
}

func (m *Memory) Issues() store.Collection[domain.Issue] {
	return &coll[domain.Issue]{m: m, kind: domain.KindIssues}
}

func (m *Memory) Visits() store.Collection[domain.VisitNote] {
	return &coll[domain.VisitNote]{m: m, kind: domain.KindVisits}
}

func (m *Memory) enter(kind domain.Kind, op string) error {
	key := string(kind) + "." + op
	m.calls[key]++
	return m.fail[key]
}

func upsert(items []domain.Record, rec domain.Record) []domain.Record {
	for i, it := range items {
		if it.RecordID() == rec.RecordID() {
			out := append([]domain.Record(nil), items...)
			out[i] = rec
			return out
		}
	}
	return append(append([]domain.Record(nil), items...), rec)
}

type coll[T domain.Record] struct {
	m    *Memory
	kind domain.Kind
}

func (c *coll[T]) List(ctx context.Context) ([]T, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if err := c.m.enter(c.kind, "list"); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(c.m.data[c.kind]))
	for _, r := range c.m.data[c.kind] {
		out = append(out, r.(T))
	}
	return out, ctx.Err()
}

func (c *coll[T]) Upsert(_ context.Context, rec T) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if err := c.m.enter(c.kind, "upsert"); err != nil {
		return err
	}
	c.m.data[c.kind] = upsert(c.m.data[c.kind], rec)
	return nil
}

func (c *coll[T]) Delete(_ context.Context, id string) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if err := c.m.enter(c.kind, "delete"); err != nil {
		return err
	}
	if c.m.delete != nil && !c.m.delete[c.kind] {
		return store.ErrDeleteUnsupported
	}
	items := c.m.data[c.kind]
	out := make([]domain.Record, 0, len(items))
	for _, r := range items {
		if r.RecordID() != id {
			out = append(out, r)
		}
	}
	c.m.data[c.kind] = out
	return nil
}
