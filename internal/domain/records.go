// Package domain defines the entities of the field-operations backend.
//
// Two families live here:
//
//   - Synced records (Task, Issue, VisitNote). They are owned by the sync
//     coordinator and persisted by whichever record store is authoritative
//     for the session: the local key/value store, a spreadsheet or a document
//     database. They carry json tags for the local store and the API, and
//     bson tags for the document backend. They are never GORM tables.
//   - Reference and assistant data (Partner, SOP, Contact, Chat, Message,
//     Feedback, Idempotency, KVEntry). These are GORM models in the local
//     SQLite database.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/fieldops-backend/internal/classify"
)

// ErrMissingField is returned by Validate when a required field is blank.
var ErrMissingField = errors.New("missing required field")

// ErrUnknownKind is returned when a collection name is not one of Kinds.
var ErrUnknownKind = errors.New("unknown record kind")

// Kind names one of the synced record collections.
type Kind string

const (
	KindTasks  Kind = "tasks"
	KindIssues Kind = "issues"
	KindVisits Kind = "visits"
)

// Kinds lists every synced collection in a fixed order.
var Kinds = []Kind{KindTasks, KindIssues, KindVisits}

// ParseKind maps a collection name (case-insensitive) to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindTasks, KindIssues, KindVisits:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Record is one entry of a synced collection.
type Record interface {
	RecordID() string
	RecordKind() Kind
	Validate() error
}

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// ---- Task ----

// TaskCategory buckets a task on the planning board.
type TaskCategory string

const (
	CategoryToday         TaskCategory = "TODAY"
	CategoryThisWeek      TaskCategory = "THIS_WEEK"
	CategoryWaitingUpdate TaskCategory = "WAITING_UPDATE"
)

func (c TaskCategory) Valid() bool {
	switch c {
	case CategoryToday, CategoryThisWeek, CategoryWaitingUpdate:
		return true
	}
	return false
}

// Priority ranks tasks: P1 high impact, P2 deadline driven, P3 nice to have.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

func (p Priority) Valid() bool {
	return p == PriorityP1 || p == PriorityP2 || p == PriorityP3
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "OPEN"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskClosed     TaskStatus = "CLOSED"
)

// Task is a unit of work on the operator's board.
type Task struct {
	ID          string       `json:"id"                 bson:"_id"`
	Title       string       `json:"title"              bson:"title"`
	Description string       `json:"description"        bson:"description"`
	CreatedAt   time.Time    `json:"created_at"         bson:"created_at"`
	Deadline    string       `json:"deadline,omitempty" bson:"deadline,omitempty"` // YYYY-MM-DD
	Category    TaskCategory `json:"category"           bson:"category"`
	Priority    Priority     `json:"priority"           bson:"priority"`
	Status      TaskStatus   `json:"status"             bson:"status"`
	Division    string       `json:"division"           bson:"division"`
	Notes       string       `json:"notes,omitempty"    bson:"notes,omitempty"`
}

func (t Task) RecordID() string { return t.ID }
func (Task) RecordKind() Kind { return KindTasks }

// Validate checks field presence only.
func (t Task) Validate() error {
	switch {
	case blank(t.ID):
		return missing("id")
	case blank(t.Title):
		return missing("title")
	}
	return nil
}

// ---- Issue ----

// IssueStatus is the lifecycle state of a support issue.
type IssueStatus string

const (
	IssueOpen     IssueStatus = "OPEN"
	IssueProgress IssueStatus = "PROGRESS"
	IssueDone     IssueStatus = classify.StatusDone
)

// Issue is a support case. CreatedAt anchors the SLA window.
type Issue struct {
	ID            string      `json:"id"                       bson:"_id"`
	Reference     string      `json:"reference"                bson:"reference"` // AWB or partner reference
	Type          string      `json:"type"                     bson:"type"`
	OpCode        string      `json:"opcode"                   bson:"opcode"`
	SOPRef        string      `json:"sop_ref"                  bson:"sop_ref"`
	Chronology    string      `json:"chronology"               bson:"chronology"`
	Division      string      `json:"division"                 bson:"division"`
	Status        IssueStatus `json:"status"                   bson:"status"`
	CreatedAt     time.Time   `json:"created_at"               bson:"created_at"`
	ScreenshotURL string      `json:"screenshot_url,omitempty" bson:"screenshot_url,omitempty"`
}

func (i Issue) RecordID() string { return i.ID }
func (Issue) RecordKind() Kind { return KindIssues }

func (i Issue) Validate() error {
	switch {
	case blank(i.ID):
		return missing("id")
	case blank(i.Reference):
		return missing("reference")
	case blank(i.Type):
		return missing("type")
	}
	return nil
}

// OpenedAt and StatusCode let issues feed the classifier.
func (i Issue) OpenedAt() time.Time { return i.CreatedAt }
func (i Issue) StatusCode() string { return string(i.Status) }

// SLA evaluates the issue against the wall clock.
func (i Issue) SLA() classify.SLA { return classify.SLAStatus(i.CreatedAt, string(i.Status)) }

// ---- VisitNote ----

// VisitNote records one field visit to a partner.
type VisitNote struct {
	ID                string   `json:"id"                   bson:"_id"`
	PartnerName       string   `json:"partner_name"         bson:"partner_name"`
	PartnerNIA        string   `json:"partner_nia"          bson:"partner_nia"`
	VisitDate         string   `json:"visit_date"           bson:"visit_date"` // YYYY-MM-DD
	Findings          string   `json:"findings"             bson:"findings"`
	OperationalIssues string   `json:"operational_issues"   bson:"operational_issues"`
	Suggestions       string   `json:"suggestions"          bson:"suggestions"`
	Summary           string   `json:"summary,omitempty"    bson:"summary,omitempty"` // AI generated
	PlanDate          string   `json:"plan_date,omitempty"  bson:"plan_date,omitempty"`
	Completed         bool     `json:"completed"            bson:"completed"`
	MapLink           string   `json:"map_link,omitempty"   bson:"map_link,omitempty"`
	Latitude          *float64 `json:"latitude,omitempty"   bson:"latitude,omitempty"`
	Longitude         *float64 `json:"longitude,omitempty"  bson:"longitude,omitempty"`
}

func (v VisitNote) RecordID() string { return v.ID }
func (VisitNote) RecordKind() Kind { return KindVisits }

func (v VisitNote) Validate() error {
	switch {
	case blank(v.ID):
		return missing("id")
	case blank(v.PartnerName):
		return missing("partner_name")
	case blank(v.VisitDate):
		return missing("visit_date")
	}
	return nil
}

// Prepare fills what a new record needs before its first save: an identifier
// when absent, a creation timestamp and default enum values. Records that
// already carry these are returned unchanged.
func Prepare(rec Record, now time.Time) Record {
	switch r := rec.(type) {
	case Task:
		if blank(r.ID) {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now.UTC()
		}
		if r.Category == "" {
			r.Category = CategoryToday
		}
		if r.Priority == "" {
			r.Priority = PriorityP3
		}
		if r.Status == "" {
			r.Status = TaskOpen
		}
		return r
	case Issue:
		if blank(r.ID) {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now.UTC()
		}
		if r.Status == "" {
			r.Status = IssueOpen
		}
		return r
	case VisitNote:
		if blank(r.ID) {
			r.ID = uuid.NewString()
		}
		return r
	}
	return rec
}
