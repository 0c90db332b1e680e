package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/fieldops-backend/internal/ai"
	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/repo"
	"github.com/tbourn/fieldops-backend/internal/search"
)

// ---------- test helpers ----------

// newSvcDB opens a private in-memory database. With no models every table
// in repo.Models is migrated.
func newSvcDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if len(migrate) == 0 {
		migrate = repo.Models()
	}
	if err := db.AutoMigrate(migrate...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedChat(t *testing.T, db *gorm.DB, id, userID, title string) {
	t.Helper()
	if err := db.Create(&domain.Chat{ID: id, UserID: userID, Title: title}).Error; err != nil {
		t.Fatalf("seed chat: %v", err)
	}
}

type fakeIndex struct {
	byQuery map[string][]search.Result
	queries []string
}

func (f *fakeIndex) TopK(q string, k int) []search.Result {
	f.queries = append(f.queries, q)
	rs := f.byQuery[q]
	if len(rs) > k {
		rs = rs[:k]
	}
	out := make([]search.Result, len(rs))
	copy(out, rs)
	return out
}

func (f *fakeIndex) Len() int { return len(f.byQuery) }

func mkIdx(entries map[string][]search.Result) *fakeIndex {
	return &fakeIndex{byQuery: entries}
}

type fakeModel struct {
	enabled bool
	reply   string
	err     error

	history   []ai.Message
	question  string
	knowledge []string
	calls     int
}

func (m *fakeModel) Enabled() bool { return m.enabled }

func (m *fakeModel) Chat(_ context.Context, history []ai.Message, question string, knowledge []string) (string, error) {
	m.calls++
	m.history, m.question, m.knowledge = history, question, knowledge
	return m.reply, m.err
}

func loadMessages(t *testing.T, db *gorm.DB, chatID string) []domain.Message {
	t.Helper()
	var out []domain.Message
	if err := db.Where("chat_id = ?", chatID).Order("role DESC").Find(&out).Error; err != nil {
		t.Fatalf("load messages: %v", err)
	}
	return out
}

// ---------- Answer() validation ----------

func TestMessageService_Answer_EmptyPrompt(t *testing.T) {
	s := &MessageService{DB: newSvcDB(t)}
	_, err := s.Answer(context.Background(), "u1", "c1", "   ")
	if !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}

func TestMessageService_Answer_TooLong(t *testing.T) {
	s := &MessageService{DB: newSvcDB(t), MaxPromptRunes: 3}
	_, err := s.Answer(context.Background(), "u1", "c1", "abcd")
	if !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

func TestMessageService_Answer_ChatNotFound(t *testing.T) {
	db := newSvcDB(t)
	seedChat(t, db, "c1", "owner", "New chat")
	s := &MessageService{DB: db}

	if _, err := s.Answer(context.Background(), "uX", "c-missing", "hello"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("missing chat: expected ErrChatNotFound, got %v", err)
	}
	if _, err := s.Answer(context.Background(), "intruder", "c1", "hello"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign chat: expected ErrChatNotFound, got %v", err)
	}
}

// ---------- Answer() reply paths ----------

func TestMessageService_Answer_AIGroundedOnKnowledge(t *testing.T) {
	db := newSvcDB(t)
	seedChat(t, db, "c1", "u1", "New chat")

	base := time.Now().UTC().Add(-time.Hour)
	for i, m := range []domain.Message{
		{ID: "h1", ChatID: "c1", Role: roleUser, Content: "earlier question"},
		{ID: "h2", ChatID: "c1", Role: roleAssistant, Content: "earlier answer"},
	} {
		m.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := db.Create(&m).Error; err != nil {
			t.Fatalf("seed history: %v", err)
		}
	}

	prompt := "how to handle a damaged parcel"
	idx := mkIdx(map[string][]search.Result{
		prompt: {
			{Ref: "s1", Title: "SOP-04 Damaged goods", Snippet: "Photograph the parcel and open a claim.", Score: 0.4},
		},
	})
	model := &fakeModel{enabled: true, reply: "Photograph it, then open a claim."}
	s := &MessageService{DB: db, Index: idx, AI: model}

	got, err := s.Answer(context.Background(), "u1", "c1", prompt)
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if got.Role != roleAssistant || got.Source != domain.SourceAI || got.Score != nil {
		t.Fatalf("unexpected assistant message %+v", got)
	}
	if got.Content != model.reply {
		t.Fatalf("content = %q", got.Content)
	}
	if model.question != prompt {
		t.Fatalf("model question = %q", model.question)
	}
	if len(model.knowledge) != 1 || model.knowledge[0] != "SOP-04 Damaged goods: Photograph the parcel and open a claim." {
		t.Fatalf("knowledge = %q", model.knowledge)
	}
	if len(model.history) != 2 || model.history[0].Content != "earlier question" || model.history[1].Role != ai.RoleAssistant {
		t.Fatalf("history = %+v", model.history)
	}
}

type fakeRecords map[string]domain.Record

func (f fakeRecords) Find(kind domain.Kind, id string) (domain.Record, bool) {
	r, ok := f[string(kind)+"/"+id]
	return r, ok
}

func TestMessageService_Answer_GroundsOnChatSubject(t *testing.T) {
	db := newSvcDB(t)
	if err := db.Create(&domain.Chat{ID: "c1", UserID: "u1", Title: "Issue AWB-9", SubjectKind: domain.KindIssues, SubjectID: "i-9"}).Error; err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	if err := db.Create(&domain.Chat{ID: "c2", UserID: "u1", Title: "Gone", SubjectKind: domain.KindTasks, SubjectID: "t-gone"}).Error; err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	records := fakeRecords{
		"issues/i-9": domain.Issue{ID: "i-9", Reference: "AWB-9", Type: "damaged", Chronology: "box crushed at hub", Status: domain.IssueOpen},
	}
	model := &fakeModel{enabled: true, reply: "Follow SOP-07."}
	s := &MessageService{DB: db, Index: mkIdx(nil), AI: model, Records: records}

	if _, err := s.Answer(context.Background(), "u1", "c1", "what next?"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(model.knowledge) != 1 || !strings.HasPrefix(model.knowledge[0], "Issue under discussion.") ||
		!strings.Contains(model.knowledge[0], "reference: AWB-9") || !strings.Contains(model.knowledge[0], "chronology: box crushed at hub") {
		t.Fatalf("knowledge = %q", model.knowledge)
	}

	// A subject that left the collections is skipped, not an error.
	if _, err := s.Answer(context.Background(), "u1", "c2", "what next?"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(model.knowledge) != 0 {
		t.Fatalf("missing subject should add no knowledge, got %q", model.knowledge)
	}
}

func TestMessageService_Answer_AIFailureFallsBackToKnowledgeBase(t *testing.T) {
	db := newSvcDB(t)
	seedChat(t, db, "c1", "u1", "Kept title")

	prompt := "late pickup escalation"
	idx := mkIdx(map[string][]search.Result{
		prompt: {{Title: "SOP-02", Snippet: "  Call the hub lead.\n\n  Then   log the delay. ", Score: 0.5}},
	})
	model := &fakeModel{enabled: true, err: errors.New("provider down")}
	s := &MessageService{DB: db, Index: idx, AI: model, Threshold: 0.3}

	got, err := s.Answer(context.Background(), "u1", "c1", prompt)
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if model.calls != 1 {
		t.Fatalf("model calls = %d", model.calls)
	}
	if got.Source != domain.SourceKnowledgeBase || got.Score == nil || *got.Score != 0.5 {
		t.Fatalf("unexpected fallback message %+v", got)
	}
	if got.Content != "Call the hub lead.\nThen log the delay." {
		t.Fatalf("content = %q", got.Content)
	}

	var chat domain.Chat
	if err := db.First(&chat, "id = ?", "c1").Error; err != nil {
		t.Fatalf("load chat: %v", err)
	}
	if chat.Title != "Kept title" {
		t.Fatalf("custom title overwritten: %q", chat.Title)
	}
}

func TestMessageService_Answer_AIDisabled_BelowThreshold_NoAnswer(t *testing.T) {
	db := newSvcDB(t)
	seedChat(t, db, "c1", "u1", "New chat")

	prompt := "weather tomorrow"
	idx := mkIdx(map[string][]search.Result{prompt: {{Snippet: "unrelated", Score: 0.05}}})
	model := &fakeModel{enabled: false}
	s := &MessageService{DB: db, Index: idx, AI: model, Threshold: 0.3}

	got, err := s.Answer(context.Background(), "u1", "c1", prompt)
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if model.calls != 0 {
		t.Fatalf("disabled model was called")
	}
	if got.Source != domain.SourceNone || got.Content != NoAnswer || got.Score != nil {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestMessageService_Answer_PersistsBothTurns_AutoTitle_ClipReply(t *testing.T) {
	db := newSvcDB(t)
	seedChat(t, db, "c1", "u1", "New chat")

	prompt := "What is the return policy for damaged parcels"
	s := &MessageService{
		DB:            db,
		AI:            &fakeModel{enabled: true, reply: strings.Repeat("x", 50)},
		MaxReplyRunes: 20,
		TitleMaxLen:   12,
		TitleLocale:   language.Und,
	}

	got, err := s.Answer(context.Background(), "u1", "c1", prompt)
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if utf8.RuneCountInString(got.Content) != 20 {
		t.Fatalf("expected clipped reply length 20, got %d", utf8.RuneCountInString(got.Content))
	}

	msgs := loadMessages(t, db, "c1")
	if len(msgs) != 2 || msgs[0].Role != roleUser || msgs[0].Content != prompt || msgs[1].Role != roleAssistant {
		t.Fatalf("persisted messages = %+v", msgs)
	}

	var updated domain.Chat
	if err := db.First(&updated, "id = ?", "c1").Error; err != nil {
		t.Fatalf("load updated chat: %v", err)
	}
	if updated.Title == "New chat" || updated.Title == "" {
		t.Fatalf("expected auto-generated title, got %q", updated.Title)
	}
	if updated.Title != "Return Polic" {
		t.Fatalf("unexpected title %q", updated.Title)
	}
}

func TestMessageService_Answer_RollsBackWhenMessagesTableMissing(t *testing.T) {
	db := newSvcDB(t, &domain.Chat{})
	seedChat(t, db, "c1", "u1", "New chat")
	s := &MessageService{DB: db}

	if _, err := s.Answer(context.Background(), "u1", "c1", "hello there"); err == nil {
		t.Fatalf("expected error without messages table")
	}
	var chat domain.Chat
	if err := db.First(&chat, "id = ?", "c1").Error; err != nil {
		t.Fatalf("load chat: %v", err)
	}
	if chat.Title != "New chat" {
		t.Fatalf("title changed despite rollback: %q", chat.Title)
	}
}

// ---------- retrieve() ----------

func TestRetrieve_FallsBackToSimplifiedQuery(t *testing.T) {
	idx := mkIdx(map[string][]search.Result{
		"damaged parcel": {{Snippet: "claim", Score: 0.6}},
	})
	s := &MessageService{Index: idx}

	got := s.retrieve("What should I do with a damaged parcel?", 3)
	if len(got) != 1 || got[0].Snippet != "claim" {
		t.Fatalf("retrieve = %+v", got)
	}
	if len(idx.queries) != 2 {
		t.Fatalf("expected a second, simplified query; queries = %q", idx.queries)
	}
}

func TestRetrieve_NilIndex(t *testing.T) {
	s := &MessageService{}
	if got := s.retrieve("anything", 3); got != nil {
		t.Fatalf("nil index should return nil, got %+v", got)
	}
}

func TestRetrieve_RespectsGroundingK(t *testing.T) {
	rs := []search.Result{{Snippet: "a"}, {Snippet: "b"}, {Snippet: "c"}, {Snippet: "d"}}
	idx := mkIdx(map[string][]search.Result{"q": rs})
	s := &MessageService{Index: idx, GroundingK: 2}
	if got := s.retrieve("q", s.groundingK()); len(got) != 2 {
		t.Fatalf("len = %d; want 2", len(got))
	}
	if (&MessageService{}).groundingK() != 3 {
		t.Fatalf("default grounding k should be 3")
	}
}

// ---------- ListPage() ----------

func TestMessageService_ListPage(t *testing.T) {
	db := newSvcDB(t)
	seedChat(t, db, "c2", "u1", "t")
	s := &MessageService{DB: db}

	items, total, err := s.ListPage(context.Background(), "u1", "c2", 0, 0)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("empty chat: items=%d total=%d err=%v", len(items), total, err)
	}

	now := time.Now().UTC()
	for i, m := range []domain.Message{
		{ID: "m1", ChatID: "c2", Role: roleUser, Content: "hi"},
		{ID: "m2", ChatID: "c2", Role: roleAssistant, Content: "hey"},
		{ID: "m3", ChatID: "c2", Role: roleUser, Content: "ok"},
	} {
		m.CreatedAt = now.Add(time.Duration(i) * time.Second)
		if err := db.Create(&m).Error; err != nil {
			t.Fatalf("seed msg: %v", err)
		}
	}

	page, total, err := s.ListPage(context.Background(), "u1", "c2", 2, 2)
	if err != nil {
		t.Fatalf("ListPage error: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].ID != "m3" {
		t.Fatalf("page 2 = %+v total=%d", page, total)
	}

	if _, _, err := s.ListPage(context.Background(), "u2", "c2", 1, 10); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign chat: expected ErrChatNotFound, got %v", err)
	}
}

func TestMessageService_ListPage_CountMessagesError(t *testing.T) {
	db := newSvcDB(t, &domain.Chat{})
	seedChat(t, db, "c1", "u1", "t")
	s := &MessageService{DB: db}
	if _, _, err := s.ListPage(context.Background(), "u1", "c1", 1, 10); err == nil {
		t.Fatalf("expected error due to missing messages table")
	}
}

// ---------- helpers ----------

func TestTitleHelpers(t *testing.T) {
	s := &MessageService{}

	if !s.shouldAutoTitle("") || !s.shouldAutoTitle("  new chat  ") || !s.shouldAutoTitle("Untitled") {
		t.Fatalf("shouldAutoTitle failed for placeholders")
	}
	if s.shouldAutoTitle("My Chat") {
		t.Fatalf("shouldAutoTitle true for custom title")
	}

	if got := s.generateTitleFromPrompt("the state of the hub in athens 2025 and beyond"); got != "State Hub Athens Beyond" {
		t.Fatalf("generateTitleFromPrompt = %q", got)
	}
	if got := s.generateTitleFromPrompt("the and of"); got != "" {
		t.Fatalf("all stop words should give empty title, got %q", got)
	}
	if s.TitleLocaleOrDefault() != language.English {
		t.Fatalf("default locale should be English")
	}

	s.TitleMaxLen = 4
	if got := s.clipTitle("Abcdefg"); got != "Abcd" {
		t.Fatalf("clipTitle = %q", got)
	}
}

func TestSimplifyQuery(t *testing.T) {
	cases := map[string]string{
		"":                                  "",
		"What should I do with a late AWB?": "late awb",
		"how do we":                         "how do we",
	}
	for in, want := range cases {
		if got := simplifyQuery(in); got != want {
			t.Errorf("simplifyQuery(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestCollapseWhitespaceLines(t *testing.T) {
	if got := collapseWhitespaceLines(""); got != "" {
		t.Fatalf("empty input: %q", got)
	}
	if got := collapseWhitespaceLines("  a   b \r\n\r\n c\t d  "); got != "a b\nc d" {
		t.Fatalf("got %q", got)
	}
}
