// Package repo implements the data persistence layer for the SQLite-backed
// entities: partners, the knowledge base (SOPs and contacts), assistant
// chats with their messages and feedback, and idempotency records.
//
// All functions take a context and a *gorm.DB handle, so they work the same
// inside a transaction. Repositories stay thin: no business rules, only CRUD
// and query composition. Missing rows surface as ErrNotFound (an alias of
// gorm.ErrRecordNotFound); other database errors are returned unchanged.
//
// The synced collections (tasks, issues, visits) are not here. They live in
// the record stores under internal/store.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateChat inserts c, assigning its id and timestamps.
func CreateChat(ctx context.Context, db *gorm.DB, c *domain.Chat) error {
	now := time.Now().UTC()
	c.ID = uuid.NewString()
	c.CreatedAt, c.UpdatedAt = now, now
	return db.WithContext(ctx).Create(c).Error
}

// CountChats returns how many chats userID owns.
func CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Chat{}).Where("user_id = ?", userID).Count(&total).Error
	return total, err
}

// ListChatsPage returns userID's chats, most recently active first.
func ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetChat fetches a chat by id, scoped to its owner.
func GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateChatTitle renames a chat. ErrNotFound when nothing matched.
func UpdateChatTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchChat bumps updated_at so the chat sorts first in ListChatsPage.
func TouchChat(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Model(&domain.Chat{}).Where("id = ?", id).
		Update("updated_at", time.Now().UTC()).Error
}
