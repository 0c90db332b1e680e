package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/domain"
)

// CreateMessage inserts one chat turn. source and score are only set on
// assistant replies.
func CreateMessage(ctx context.Context, db *gorm.DB, chatID, role, content, source string, score *float64) (*domain.Message, error) {
	now := time.Now().UTC()
	m := &domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Source:    source,
		Score:     score,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return m, db.WithContext(ctx).Create(m).Error
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE chat_id = ? AND deleted_at IS NULL", chatID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a page ordered (created_at ASC, id ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RecentMessages returns the last n turns of a chat in chronological order.
func RecentMessages(ctx context.Context, db *gorm.DB, chatID string, n int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&out).Error
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, err
}

// GetMessage fetches a message by id.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
