package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/classify"
	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/repo"
	"github.com/tbourn/fieldops-backend/internal/store"
	"github.com/tbourn/fieldops-backend/internal/syncer"
)

// Coordinator is the part of *syncer.Coordinator the record service uses.
type Coordinator interface {
	Snapshot() syncer.Snapshot
	Save(ctx context.Context, rec domain.Record) (syncer.Result, error)
	Delete(ctx context.Context, kind domain.Kind, id string) (syncer.Result, error)
	Connect(ctx context.Context, creds store.Credentials) (syncer.Result, error)
	Reload(ctx context.Context) error
}

// IssueView is an issue with its SLA evaluated at read time.
type IssueView struct {
	domain.Issue
	SLA classify.SLA `json:"sla"`
}

// SaveResult describes a completed save.
type SaveResult struct {
	Record   domain.Record `json:"record,omitempty"`
	ID       string        `json:"id"`
	Created  bool          `json:"created"`
	Replayed bool          `json:"replayed"`
	syncer.Result
}

// SyncState is the sync section of the API and dashboard.
type SyncState struct {
	Backend   string    `json:"backend"`
	Connected bool      `json:"connected"`
	LoadedAt  time.Time `json:"loaded_at"`
	Tasks     int       `json:"tasks"`
	Issues    int       `json:"issues"`
	Visits    int       `json:"visits"`
}

// RecordService serves the synced collections. Every write goes through the
// coordinator; reads come from its in-memory copy.
//
// Saves carrying an idempotency key are recorded per (user, collection, key)
// in DB. A retry with the same key replays the first result without writing.
type RecordService struct {
	Sync           Coordinator
	DB             *gorm.DB // idempotency records; nil disables replay
	IdempotencyTTL time.Duration
	Now            func() time.Time
}

// NewRecordService returns a service with a 24h idempotency window.
func NewRecordService(sync Coordinator, db *gorm.DB) *RecordService {
	return &RecordService{Sync: sync, DB: db, IdempotencyTTL: 24 * time.Hour, Now: time.Now}
}

func (s *RecordService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Tasks returns the current tasks.
func (s *RecordService) Tasks() []domain.Task { return s.Sync.Snapshot().Tasks }

// Visits returns the current visit notes.
func (s *RecordService) Visits() []domain.VisitNote { return s.Sync.Snapshot().Visits }

// Issues returns the current issues with their SLA as of now.
func (s *RecordService) Issues() []IssueView {
	return issueViews(s.Sync.Snapshot().Issues, s.now())
}

// Overdue returns the unresolved issues past their SLA window, in list order.
func (s *RecordService) Overdue() []IssueView {
	now := s.now()
	return issueViews(classify.OverdueSet(s.Sync.Snapshot().Issues, now), now)
}

func issueViews(items []domain.Issue, now time.Time) []IssueView {
	out := make([]IssueView, 0, len(items))
	for _, it := range items {
		out = append(out, IssueView{Issue: it, SLA: classify.SLAStatusAt(it.CreatedAt, string(it.Status), now)})
	}
	return out
}

// Save prepares rec (id, timestamp, enum defaults) and upserts it through the
// coordinator. idemKey may be empty.
func (s *RecordService) Save(ctx context.Context, userID, idemKey string, rec domain.Record) (SaveResult, error) {
	ctx, span := otel.Tracer("services/RecordService").Start(ctx, "Save")
	defer span.End()
	kind := rec.RecordKind()
	span.SetAttributes(attribute.String("record.kind", string(kind)))

	if prev, ok := s.replay(ctx, userID, kind, idemKey); ok {
		return prev, nil
	}

	rec = domain.Prepare(rec, s.now())
	created := !s.exists(kind, rec.RecordID())

	res, err := s.Sync.Save(ctx, rec)
	if err != nil && !errors.Is(err, syncer.ErrReloadFailed) {
		return SaveResult{}, err
	}
	// A write that landed but could not be reloaded is still remembered.
	s.remember(ctx, userID, kind, idemKey, rec.RecordID(), created)
	if err != nil {
		return SaveResult{ID: rec.RecordID()}, err
	}
	return SaveResult{Record: rec, ID: rec.RecordID(), Created: created, Result: res}, nil
}

// Delete removes id from kind. ErrRecordNotFound when id is not in the
// current collection.
func (s *RecordService) Delete(ctx context.Context, kind domain.Kind, id string) (syncer.Result, error) {
	kind, err := domain.ParseKind(string(kind))
	if err != nil {
		return syncer.Result{}, err
	}
	if !s.exists(kind, id) {
		return syncer.Result{}, ErrRecordNotFound
	}
	return s.Sync.Delete(ctx, kind, id)
}

// Connect makes the configured remote backend authoritative.
func (s *RecordService) Connect(ctx context.Context, creds store.Credentials) (syncer.Result, error) {
	return s.Sync.Connect(ctx, creds)
}

// Reload refreshes the collections from the authoritative backend.
func (s *RecordService) Reload(ctx context.Context) error { return s.Sync.Reload(ctx) }

// State summarizes the coordinator.
func (s *RecordService) State() SyncState {
	snap := s.Sync.Snapshot()
	return SyncState{
		Backend:   snap.Backend,
		Connected: snap.Connected,
		LoadedAt:  snap.LoadedAt,
		Tasks:     len(snap.Tasks),
		Issues:    len(snap.Issues),
		Visits:    len(snap.Visits),
	}
}

// Find returns the current record of kind with id.
func (s *RecordService) Find(kind domain.Kind, id string) (domain.Record, bool) {
	snap := s.Sync.Snapshot()
	switch kind {
	case domain.KindTasks:
		if i := store.IndexOf(snap.Tasks, id); i >= 0 {
			return snap.Tasks[i], true
		}
	case domain.KindIssues:
		if i := store.IndexOf(snap.Issues, id); i >= 0 {
			return snap.Issues[i], true
		}
	case domain.KindVisits:
		if i := store.IndexOf(snap.Visits, id); i >= 0 {
			return snap.Visits[i], true
		}
	}
	return nil, false
}

func (s *RecordService) exists(kind domain.Kind, id string) bool {
	if id == "" {
		return false
	}
	_, ok := s.Find(kind, id)
	return ok
}

func (s *RecordService) replay(ctx context.Context, userID string, kind domain.Kind, key string) (SaveResult, bool) {
	if s.DB == nil || key == "" {
		return SaveResult{}, false
	}
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, string(kind), key, s.now().UTC())
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Warn().Err(err).Msg("idempotency lookup failed")
		}
		return SaveResult{}, false
	}
	snap := s.Sync.Snapshot()
	out := SaveResult{
		ID:       rec.ResourceID,
		Created:  rec.Status == http.StatusCreated,
		Replayed: true,
		Result:   syncer.Result{Backend: snap.Backend, Remote: snap.Connected},
	}
	if r, ok := s.Find(kind, rec.ResourceID); ok {
		out.Record = r
	}
	return out, true
}

func (s *RecordService) remember(ctx context.Context, userID string, kind domain.Kind, key, id string, created bool) {
	if s.DB == nil || key == "" {
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	_, err := repo.CreateIdempotency(ctx, s.DB, userID, string(kind), key, id, status, s.IdempotencyTTL)
	if err != nil && !errors.Is(err, repo.ErrDuplicate) {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("idempotency store failed")
	}
}
