package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/domain"
)

// Stats is the (count, newest updated_at) pair the HTTP layer hashes into
// weak ETags. MaxUpdatedAt is nil when Count is 0.
type Stats struct {
	Count        int64
	MaxUpdatedAt *time.Time
}

// tableStats runs two lightweight queries over q. ORDER BY/LIMIT is used
// instead of MAX() because SQLite returns MAX(datetime) as TEXT.
func tableStats(q *gorm.DB) (Stats, error) {
	var s Stats
	if err := q.Session(&gorm.Session{}).Count(&s.Count).Error; err != nil {
		return Stats{}, err
	}
	if s.Count == 0 {
		return s, nil
	}
	var row struct{ UpdatedAt time.Time }
	if err := q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return Stats{}, err
	}
	s.MaxUpdatedAt = &row.UpdatedAt
	return s, nil
}

// ChatsStats covers a user's chats.
func ChatsStats(ctx context.Context, db *gorm.DB, userID string) (Stats, error) {
	return tableStats(db.WithContext(ctx).Model(&domain.Chat{}).Where("user_id = ?", userID))
}

// MessagesStats covers the messages of one chat.
func MessagesStats(ctx context.Context, db *gorm.DB, chatID string) (Stats, error) {
	return tableStats(db.WithContext(ctx).Model(&domain.Message{}).Where("chat_id = ?", chatID))
}

// PartnersStats covers the whole partner table.
func PartnersStats(ctx context.Context, db *gorm.DB) (Stats, error) {
	return tableStats(db.WithContext(ctx).Model(&domain.Partner{}))
}

// SOPsStats covers the whole SOP table.
func SOPsStats(ctx context.Context, db *gorm.DB) (Stats, error) {
	return tableStats(db.WithContext(ctx).Model(&domain.SOP{}))
}
