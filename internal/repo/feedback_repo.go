package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/domain"
)

// CreateFeedback inserts a rating. A second rating for the same message and
// user violates ux_feedback_message_user; that error is returned as is.
func CreateFeedback(ctx context.Context, db *gorm.DB, messageID, userID string, value int) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Create(&domain.Feedback{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    userID,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error
}

// FeedbackTotals counts positive and negative ratings in one grouped query.
func FeedbackTotals(ctx context.Context, db *gorm.DB) (up, down int64, err error) {
	var rows []struct {
		Value int
		N     int64
	}
	err = db.WithContext(ctx).
		Model(&domain.Feedback{}).
		Select("value, COUNT(*) AS n").
		Group("value").
		Scan(&rows).Error
	for _, r := range rows {
		switch r.Value {
		case 1:
			up = r.N
		case -1:
			down = r.N
		}
	}
	return up, down, err
}
