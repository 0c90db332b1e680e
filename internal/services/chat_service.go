package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/repo"
)

// RecordLookup resolves a synced record by kind and id. *RecordService
// implements it.
type RecordLookup interface {
	Find(kind domain.Kind, id string) (domain.Record, bool)
}

// NewChat describes a chat to open. SubjectKind and SubjectID name the synced
// record the chat is about; both empty means a general chat.
type NewChat struct {
	Title       string
	SubjectKind string
	SubjectID   string
}

// ChatService manages assistant chats: opening them (optionally about a
// synced record), paging through them and renaming them. Every operation is
// scoped to the owning operator.
type ChatService struct {
	DB      *gorm.DB
	Records RecordLookup

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// NewChatService returns a ChatService with 60-rune titles.
func NewChatService(db *gorm.DB, records RecordLookup) *ChatService {
	return &ChatService{DB: db, Records: records, TitleMaxLen: 60}
}

// Create opens a chat for userID. A subject must name an existing record;
// when no title is given the subject provides one.
func (s *ChatService) Create(ctx context.Context, userID string, in NewChat) (*domain.Chat, error) {
	chat := &domain.Chat{UserID: userID, Title: normalizeTitle(in.Title)}

	if in.SubjectKind != "" || in.SubjectID != "" {
		rec, err := s.subject(in.SubjectKind, in.SubjectID)
		if err != nil {
			return nil, err
		}
		chat.SubjectKind, chat.SubjectID = rec.RecordKind(), rec.RecordID()
		if chat.Title == "" {
			chat.Title = subjectTitle(rec)
		}
	}
	if chat.Title == "" {
		chat.Title = defaultTitleNew
	}
	chat.Title = s.clip(chat.Title)

	if err := repo.CreateChat(ctx, s.DB, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *ChatService) subject(kind, id string) (domain.Record, error) {
	k, err := domain.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: subject_id", domain.ErrMissingField)
	}
	if s.Records == nil {
		return nil, ErrRecordNotFound
	}
	rec, ok := s.Records.Find(k, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, k, id)
	}
	return rec, nil
}

// ListPage returns one page of userID's chats, most recently active first,
// and the total count.
func (s *ChatService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Chat, int64, error) {
	page, pageSize = max(page, 1), pageSizeOrDefault(pageSize)

	total, err := repo.CountChats(ctx, s.DB, userID)
	if err != nil || total == 0 {
		return []domain.Chat{}, total, err
	}
	items, err := repo.ListChatsPage(ctx, s.DB, userID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// UpdateTitle renames a chat owned by userID. A blank title becomes
// "Untitled".
func (s *ChatService) UpdateTitle(ctx context.Context, userID, chatID, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitleUntitled
	}
	err := repo.UpdateChatTitle(ctx, s.DB, chatID, userID, s.clip(title))
	if errors.Is(err, repo.ErrNotFound) {
		return ErrChatNotFound
	}
	return err
}

func (s *ChatService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return strings.TrimSpace(string([]rune(title)[:s.TitleMaxLen]))
	}
	return title
}

func pageSizeOrDefault(n int) int {
	if n <= 0 {
		return 20
	}
	return n
}

// subjectTitle names a chat after the record it is about.
func subjectTitle(rec domain.Record) string {
	switch r := rec.(type) {
	case domain.Task:
		return "Task: " + r.Title
	case domain.Issue:
		return strings.TrimSpace("Issue " + r.Reference + " " + r.Type)
	case domain.VisitNote:
		return strings.TrimSpace("Visit " + r.PartnerName + " " + r.VisitDate)
	}
	return defaultTitleNew
}

// describeSubject renders the record's fields as grounding for the model.
func describeSubject(rec domain.Record) string {
	var b strings.Builder
	line := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			fmt.Fprintf(&b, "%s: %s; ", k, v)
		}
	}
	switch r := rec.(type) {
	case domain.Task:
		b.WriteString("Task under discussion. ")
		line("title", r.Title)
		line("description", r.Description)
		line("deadline", r.Deadline)
		line("priority", string(r.Priority))
		line("status", string(r.Status))
		line("division", r.Division)
	case domain.Issue:
		b.WriteString("Issue under discussion. ")
		line("reference", r.Reference)
		line("type", r.Type)
		line("opcode", r.OpCode)
		line("sop", r.SOPRef)
		line("chronology", r.Chronology)
		line("status", string(r.Status))
		if !r.CreatedAt.IsZero() {
			line("reported", r.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))
		}
	case domain.VisitNote:
		b.WriteString("Partner visit under discussion. ")
		line("partner", r.PartnerName)
		line("date", r.VisitDate)
		line("findings", r.Findings)
		line("operational issues", r.OperationalIssues)
		line("suggestions", r.Suggestions)
	}
	return strings.TrimSuffix(strings.TrimSpace(b.String()), ";")
}

// normalizeTitle trims and collapses runs of whitespace.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var whitespaceRE = regexp.MustCompile(`\s+`)
