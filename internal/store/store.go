// Package store defines the record store contract shared by every backend
// that can hold the synced collections (tasks, issues, visits), and provides
// the local backend built on the SQLite key/value table.
//
// A Backend bundles one Collection per record kind. Each Collection offers
// the same three operations:
//
//   - List(ctx) returns every record; order is backend specific.
//   - Upsert(ctx, rec) replaces the record with the same identifier or
//     appends it.
//   - Delete(ctx, id) removes the record, or returns ErrDeleteUnsupported
//     when the backend cannot delete that kind.
//
// Remote backends live in the sheets and docstore subpackages and are
// obtained through a Connector. Only the sync coordinator talks to a Backend.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/tbourn/fieldops-backend/internal/domain"
)

var (
	// ErrDeleteUnsupported is returned by backends that cannot delete a kind.
	ErrDeleteUnsupported = errors.New("delete not supported by backend")

	// ErrMissingCredentials is returned by connectors before any network call
	// when a required credential field is blank.
	ErrMissingCredentials = errors.New("missing credentials")
)

// Collection is the per-kind record store contract.
type Collection[T domain.Record] interface {
	List(ctx context.Context) ([]T, error)
	Upsert(ctx context.Context, rec T) error
	Delete(ctx context.Context, id string) error
}

// Backend holds the three synced collections.
type Backend interface {
	Name() string
	Tasks() Collection[domain.Task]
	Issues() Collection[domain.Issue]
	Visits() Collection[domain.VisitNote]
}

// Credentials carry everything a remote connector may need. APIKey is the
// application key and AccessToken the user-delegated OAuth grant obtained by
// the client's consent flow.
type Credentials struct {
	APIKey        string `json:"api_key"`
	AccessToken   string `json:"access_token"`
	SpreadsheetID string `json:"spreadsheet_id,omitempty"`
	MongoURI      string `json:"mongo_uri,omitempty"`
	MongoDatabase string `json:"mongo_database,omitempty"`
}

// Connector establishes an authenticated remote backend.
type Connector interface {
	Connect(ctx context.Context, creds Credentials) (Backend, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, creds Credentials) (Backend, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, creds Credentials) (Backend, error) {
	return f(ctx, creds)
}

// Require returns ErrMissingCredentials naming the first blank field.
// Pairs are (name, value).
func Require(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: %s", ErrMissingCredentials, pairs[i])
		}
	}
	return nil
}

// Save dispatches rec to the collection of its kind.
func Save(ctx context.Context, b Backend, rec domain.Record) error {
	switch r := rec.(type) {
	case domain.Task:
		return b.Tasks().Upsert(ctx, r)
	case domain.Issue:
		return b.Issues().Upsert(ctx, r)
	case domain.VisitNote:
		return b.Visits().Upsert(ctx, r)
	}
	return fmt.Errorf("%w: %T", domain.ErrUnknownKind, rec)
}

// Remove deletes id from the collection of kind.
func Remove(ctx context.Context, b Backend, kind domain.Kind, id string) error {
	switch kind {
	case domain.KindTasks:
		return b.Tasks().Delete(ctx, id)
	case domain.KindIssues:
		return b.Issues().Delete(ctx, id)
	case domain.KindVisits:
		return b.Visits().Delete(ctx, id)
	}
	return fmt.Errorf("%w: %q", domain.ErrUnknownKind, kind)
}

// UpsertByID returns items with rec replacing the element of the same
// identifier, or appended when none matches. The input slice is not modified.
func UpsertByID[T domain.Record](items []T, rec T) []T {
	out := make([]T, 0, len(items)+1)
	replaced := false
	for _, it := range items {
		if it.RecordID() == rec.RecordID() {
			if !replaced {
				out = append(out, rec)
				replaced = true
			}
			continue
		}
		out = append(out, it)
	}
	if !replaced {
		out = append(out, rec)
	}
	return out
}

// RemoveByID returns items without the element(s) identified by id, and
// whether anything was removed.
func RemoveByID[T domain.Record](items []T, id string) ([]T, bool) {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if it.RecordID() != id {
			out = append(out, it)
		}
	}
	return out, len(out) != len(items)
}

// IndexOf returns the position of id in items, or -1.
func IndexOf[T domain.Record](items []T, id string) int {
	for i, it := range items {
		if it.RecordID() == id {
			return i
		}
	}
	return -1
}
