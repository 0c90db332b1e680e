package handlers

import (
	"context"
	"io"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/ai"
	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/repo"
	"github.com/tbourn/fieldops-backend/internal/search"
	"github.com/tbourn/fieldops-backend/internal/services"
	"github.com/tbourn/fieldops-backend/internal/store"
	"github.com/tbourn/fieldops-backend/internal/syncer"
)

//
// Service contracts (context-aware)
//

// RecordService serves the synced collections. Reads come from the
// coordinator's in-memory copy; writes go through it.
type RecordService interface {
	Tasks() []domain.Task
	Issues() []services.IssueView
	Visits() []domain.VisitNote
	Overdue() []services.IssueView
	Find(kind domain.Kind, id string) (domain.Record, bool)
	Save(ctx context.Context, userID, idemKey string, rec domain.Record) (services.SaveResult, error)
	Delete(ctx context.Context, kind domain.Kind, id string) (syncer.Result, error)
	Connect(ctx context.Context, creds store.Credentials) (syncer.Result, error)
	Reload(ctx context.Context) error
	State() services.SyncState
}

// PartnerService manages partners with derived status.
type PartnerService interface {
	List(ctx context.Context, f repo.PartnerFilter) ([]domain.Partner, error)
	Get(ctx context.Context, id string) (*domain.Partner, error)
	Create(ctx context.Context, p domain.Partner) (*domain.Partner, error)
	Update(ctx context.Context, p domain.Partner) (*domain.Partner, error)
	Delete(ctx context.Context, id string) error
}

// KnowledgeService manages SOPs, contacts and the SOP search index.
type KnowledgeService interface {
	ListSOPs(ctx context.Context, category string) ([]domain.SOP, error)
	GetSOP(ctx context.Context, id string) (*domain.SOP, error)
	CreateSOP(ctx context.Context, sop domain.SOP) (*domain.SOP, error)
	UpdateSOP(ctx context.Context, sop domain.SOP) (*domain.SOP, error)
	DeleteSOP(ctx context.Context, id string) error
	ImportMarkdown(ctx context.Context, r io.Reader, category string) (int, error)

	ListContacts(ctx context.Context, division string) ([]domain.Contact, error)
	GetContact(ctx context.Context, id string) (*domain.Contact, error)
	CreateContact(ctx context.Context, c domain.Contact) (*domain.Contact, error)
	UpdateContact(ctx context.Context, c domain.Contact) (*domain.Contact, error)
	DeleteContact(ctx context.Context, id string) error

	Search(q string, k int) []search.Result
}

// Assistant is the set of AI skills exposed under /ai. *ai.Gateway
// implements it.
type Assistant interface {
	ClassifyIssue(ctx context.Context, text string) (ai.IssueClassification, error)
	ScorePriority(ctx context.Context, task domain.Task) (ai.PriorityScore, error)
	ExtractTask(ctx context.Context, text string) (ai.TaskDraft, error)
	ExtractIssue(ctx context.Context, text string) (ai.IssueDraft, error)
	SummarizeVisit(ctx context.Context, v domain.VisitNote) (string, error)
	DraftMessage(ctx context.Context, purpose, facts string) (string, error)
}

// ChatService defines chat lifecycle operations.
type ChatService interface {
	Create(ctx context.Context, userID string, in services.NewChat) (*domain.Chat, error)
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Chat, int64, error)
	UpdateTitle(ctx context.Context, userID, chatID, title string) error
}

// MessageService appends prompts and assistant replies to chats.
type MessageService interface {
	Answer(ctx context.Context, userID, chatID, prompt string) (*domain.Message, error)
	ListPage(ctx context.Context, userID, chatID string, page, pageSize int) ([]domain.Message, int64, error)
}

// FeedbackService captures votes on assistant messages.
type FeedbackService interface {
	Leave(ctx context.Context, userID, messageID string, value int) error
}

// DashboardService builds the operator overview.
type DashboardService interface {
	Summary(ctx context.Context) (*services.Dashboard, error)
}

//
// Handler wiring
//

// Services is everything the handlers depend on. DB is optional: it enables
// weak ETags on list endpoints and the replay of assistant messages.
type Services struct {
	DB        *gorm.DB
	Records   RecordService
	Partners  PartnerService
	Knowledge KnowledgeService
	AI        Assistant
	Chats     ChatService
	Messages  MessageService
	Feedback  FeedbackService
	Dashboard DashboardService

	// MaxPromptRunes caps assistant prompts at the edge; <= 0 means 4000.
	MaxPromptRunes int
	// IdempotencyTTL is how long an assistant reply can be replayed; <= 0
	// means 24h.
	IdempotencyTTL time.Duration
}

// Handlers groups every HTTP endpoint of the API.
type Handlers struct {
	db        *gorm.DB
	records   RecordService
	partners  PartnerService
	kb        KnowledgeService
	ai        Assistant
	chatSvc   ChatService
	msgSvc    MessageService
	fbSvc     FeedbackService
	dashboard DashboardService
	maxPrompt int
	idemTTL   time.Duration
}

// New binds the handlers to s.
func New(s Services) *Handlers {
	maxPrompt := s.MaxPromptRunes
	if maxPrompt <= 0 {
		maxPrompt = 4000
	}
	ttl := s.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{
		db:        s.DB,
		records:   s.Records,
		partners:  s.Partners,
		kb:        s.Knowledge,
		ai:        s.AI,
		chatSvc:   s.Chats,
		msgSvc:    s.Messages,
		fbSvc:     s.Feedback,
		dashboard: s.Dashboard,
		maxPrompt: maxPrompt,
		idemTTL:   ttl,
	}
}
