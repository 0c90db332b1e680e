package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/repo"
)

// FeedbackService records operator ratings of assistant replies.
type FeedbackService struct {
	DB *gorm.DB
}

// FeedbackTotals is the aggregate rating count shown on the dashboard.
type FeedbackTotals struct {
	Up   int64 `json:"up"`
	Down int64 `json:"down"`
}

// Leave stores a +1 or -1 rating from userID on an assistant message in one
// of userID's chats. Each operator rates a message once.
func (s *FeedbackService) Leave(ctx context.Context, userID, messageID string, value int) error {
	if value != 1 && value != -1 {
		return ErrInvalidFeedback
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rateable(ctx, tx, userID, messageID); err != nil {
			return err
		}
		err := repo.CreateFeedback(ctx, tx, messageID, userID, value)
		if isDuplicate(err) {
			return ErrDuplicateFeedback
		}
		return err
	})
}

// rateable checks that messageID exists, is an assistant reply and sits in
// a chat owned by userID.
func rateable(ctx context.Context, tx *gorm.DB, userID, messageID string) error {
	msg, err := repo.GetMessage(ctx, tx, messageID)
	if isNotFound(err) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if _, err := repo.GetChat(ctx, tx, msg.ChatID, userID); err != nil || msg.Role != roleAssistant {
		return ErrForbiddenFeedback
	}
	return nil
}

// Totals returns the rating counts across all chats.
func (s *FeedbackService) Totals(ctx context.Context) (FeedbackTotals, error) {
	up, down, err := repo.FeedbackTotals(ctx, s.DB)
	return FeedbackTotals{Up: up, Down: down}, err
}

func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// isDuplicate reports unique-constraint violations, including driver
// errors that gorm does not translate to ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
