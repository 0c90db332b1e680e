package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/ai"
	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/repo"
	"github.com/tbourn/fieldops-backend/internal/search"
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"

	// default titles we consider “placeholder” and eligible for auto-generation
	defaultTitleNew      = "New chat"
	defaultTitleUntitled = "Untitled"

	// NoAnswer is the reply when neither the model nor the knowledge base
	// can answer.
	NoAnswer = "I can’t answer that from the knowledge base. Please check with your supervisor."
)

// ChatModel is the AI skill MessageService uses. *ai.Gateway implements it.
type ChatModel interface {
	Enabled() bool
	Chat(ctx context.Context, history []ai.Message, question string, knowledge []string) (string, error)
}

// MessageService answers operator questions and persists the conversation.
//
// Reply path, in order:
//  1. the AI chat skill, grounded on the chat's subject record (looked up
//     through Records), the top SOP paragraphs and the last HistoryTurns
//     turns of the chat;
//  2. when AI is not configured or the call fails, the best knowledge-base
//     paragraph scoring at least Threshold;
//  3. otherwise NoAnswer.
//
// The assistant message records which path produced it in Source.
type MessageService struct {
	DB        *gorm.DB
	Index     search.Index
	AI        ChatModel
	Records   RecordLookup
	Threshold float64

	// Optional guards
	MaxPromptRunes int
	MaxReplyRunes  int
	HistoryTurns   int // prior turns sent to the model; 0 means 6
	GroundingK     int // SOP paragraphs sent to the model; 0 means 3

	// Title generation config
	TitleLocale language.Tag
	TitleMaxLen int
}

// Answer validates prompt, verifies chat ownership, produces a reply and
// persists both turns atomically. It may auto-generate the chat title.
func (s *MessageService) Answer(ctx context.Context, userID, chatID, prompt string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Answer",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(prompt) > s.MaxPromptRunes {
		return nil, ErrTooLong
	}

	chat, err := repo.GetChat(ctx, s.DB, chatID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}

	reply, source, score := s.reply(ctx, chat, prompt)
	reply = s.clipReply(reply)
	span.SetAttributes(attribute.String("reply.source", source))

	var assistantMsg *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.CreateMessage(ctx, tx, chatID, roleUser, prompt, "", nil); err != nil {
			return err
		}
		m, err := repo.CreateMessage(ctx, tx, chatID, roleAssistant, reply, source, score)
		if err != nil {
			return err
		}
		assistantMsg = m

		if s.shouldAutoTitle(chat.Title) {
			if gen := s.generateTitleFromPrompt(prompt); gen != "" {
				return tx.Model(&domain.Chat{}).Where("id = ?", chatID).
					Update("title", s.clipTitle(gen)).Error
			}
		}
		return repo.TouchChat(ctx, tx, chatID)
	})
	if err != nil {
		return nil, err
	}
	return assistantMsg, nil
}

// ListPage returns paginated messages for a chat owned by userID.
func (s *MessageService) ListPage(ctx context.Context, userID, chatID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetChat(ctx, s.DB, chatID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrChatNotFound
		}
		return nil, 0, err
	}

	total, err := repo.CountMessages(ctx, s.DB, chatID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, chatID, offset, pageSize)
	return items, total, err
}

// reply picks the answer path. score is set only for knowledge-base replies.
func (s *MessageService) reply(ctx context.Context, chat *domain.Chat, prompt string) (text, source string, score *float64) {
	hits := s.retrieve(prompt, s.groundingK())

	if s.AI != nil && s.AI.Enabled() {
		knowledge := make([]string, 0, len(hits)+1)
		if subj := s.subjectFacts(chat); subj != "" {
			knowledge = append(knowledge, subj)
		}
		for _, h := range hits {
			knowledge = append(knowledge, h.Title+": "+h.Snippet)
		}
		out, err := s.AI.Chat(ctx, s.history(ctx, chat.ID), prompt, knowledge)
		if err == nil {
			return out, domain.SourceAI, nil
		}
		log.Warn().Err(err).Str("chat_id", chat.ID).Msg("assistant model failed; answering from knowledge base")
	}

	thr := s.Threshold
	if thr <= 0 {
		thr = 0.2
	}
	if len(hits) > 0 && hits[0].Score >= thr {
		v := hits[0].Score
		return collapseWhitespaceLines(hits[0].Snippet), domain.SourceKnowledgeBase, &v
	}
	return NoAnswer, domain.SourceNone, nil
}

// subjectFacts describes the chat's subject record, or "" when the chat has
// none or the record is gone.
func (s *MessageService) subjectFacts(chat *domain.Chat) string {
	if !chat.HasSubject() || s.Records == nil {
		return ""
	}
	rec, ok := s.Records.Find(chat.SubjectKind, chat.SubjectID)
	if !ok {
		log.Debug().Str("chat_id", chat.ID).Str("subject", string(chat.SubjectKind)+"/"+chat.SubjectID).Msg("chat subject no longer exists")
		return ""
	}
	return describeSubject(rec)
}

// retrieve queries the index, retrying with a keyword-only query when the
// natural-language question matches nothing.
func (s *MessageService) retrieve(prompt string, k int) []search.Result {
	if s.Index == nil {
		return nil
	}
	res := s.Index.TopK(prompt, k)
	if len(res) == 0 {
		if simplified := simplifyQuery(prompt); simplified != "" && simplified != strings.ToLower(prompt) {
			res = s.Index.TopK(simplified, k)
		}
	}
	return res
}

func (s *MessageService) history(ctx context.Context, chatID string) []ai.Message {
	n := s.HistoryTurns
	if n <= 0 {
		n = 6
	}
	prev, err := repo.RecentMessages(ctx, s.DB, chatID, n)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("loading chat history failed")
		return nil
	}
	out := make([]ai.Message, 0, len(prev))
	for _, m := range prev {
		out = append(out, ai.Message{Role: ai.Role(m.Role), Content: m.Content})
	}
	return out
}

func (s *MessageService) groundingK() int {
	if s.GroundingK > 0 {
		return s.GroundingK
	}
	return 3
}

func (s *MessageService) clipReply(reply string) string {
	if s.MaxReplyRunes > 0 && utf8.RuneCountInString(reply) > s.MaxReplyRunes {
		return string([]rune(reply)[:s.MaxReplyRunes])
	}
	return reply
}

// shouldAutoTitle reports whether the current title is a placeholder.
func (s *MessageService) shouldAutoTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" || t == strings.ToLower(defaultTitleNew) || t == strings.ToLower(defaultTitleUntitled)
}

// generateTitleFromPrompt derives a concise title from the prompt.
func (s *MessageService) generateTitleFromPrompt(prompt string) string {
	toks := titleWordRE.FindAllString(strings.ToLower(strings.TrimSpace(prompt)), -1)
	if len(toks) == 0 {
		return ""
	}

	titleCaser := cases.Title(s.TitleLocaleOrDefault())
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	return strings.Join(out, " ")
}

// clipTitle truncates a generated title to the configured maximum rune length.
func (s *MessageService) clipTitle(title string) string {
	max := s.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		return strings.TrimSpace(string([]rune(title)[:max]))
	}
	return title
}

// TitleLocaleOrDefault returns the configured locale for casing or English if unset.
func (s *MessageService) TitleLocaleOrDefault() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// Extract Unicode letters with optional trailing numbers (e.g., "awb2025").
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// Minimal stop-words set for compact titles.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"how": {}, "what": {}, "do": {}, "i": {}, "we": {}, "should": {},
}

// qwordRE: words (letters/digits). We build a keyword query from these.
var qwordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// qStop: words to drop when simplifying the question to keywords.
var qStop = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"how": {}, "do": {}, "does": {}, "what": {}, "which": {}, "when": {}, "who": {},
	"should": {}, "can": {}, "i": {}, "we": {}, "my": {}, "our": {},
}

// simplifyQuery converts a natural-language question into keywords.
func simplifyQuery(s string) string {
	toks := qwordRE.FindAllString(strings.ToLower(s), -1)
	if len(toks) == 0 {
		return ""
	}
	keep := make([]string, 0, len(toks))
	for _, t := range toks {
		if _, stop := qStop[t]; stop {
			continue
		}
		keep = append(keep, t)
	}
	if len(keep) == 0 {
		return strings.Join(toks, " ")
	}
	return strings.Join(keep, " ")
}

// collapseWhitespaceLines trims each line, collapses internal whitespace to a single
// space, and drops empty lines entirely.
func collapseWhitespaceLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	raw := strings.Split(s, "\n")
	out := make([]string, 0, len(raw))
	for _, ln := range raw {
		if parts := strings.Fields(ln); len(parts) > 0 {
			out = append(out, strings.Join(parts, " "))
		}
	}
	return strings.Join(out, "\n")
}
