package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/domain"
)

// CreateSOP inserts s, assigning an ID when blank.
func CreateSOP(ctx context.Context, db *gorm.DB, s *domain.SOP) error {
	if strings.TrimSpace(s.ID) == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	return db.WithContext(ctx).Create(s).Error
}

// ListSOPs returns SOPs ordered by code, optionally within one category.
func ListSOPs(ctx context.Context, db *gorm.DB, category string) ([]domain.SOP, error) {
	q := db.WithContext(ctx).Order("code ASC, title ASC")
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var out []domain.SOP
	return out, q.Find(&out).Error
}

// GetSOP fetches an SOP by id.
func GetSOP(ctx context.Context, db *gorm.DB, id string) (*domain.SOP, error) {
	var s domain.SOP
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSOP overwrites the editable fields of an SOP.
func UpdateSOP(ctx context.Context, db *gorm.DB, s *domain.SOP) error {
	res := db.WithContext(ctx).Model(&domain.SOP{}).Where("id = ?", s.ID).Updates(map[string]any{
		"code":       s.Code,
		"title":      s.Title,
		"category":   s.Category,
		"content":    s.Content,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSOP soft-deletes an SOP.
func DeleteSOP(ctx context.Context, db *gorm.DB, id string) error {
	return deleteByID[domain.SOP](ctx, db, id)
}

// CreateContact inserts c, assigning an ID when blank.
func CreateContact(ctx context.Context, db *gorm.DB, c *domain.Contact) error {
	if strings.TrimSpace(c.ID) == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	return db.WithContext(ctx).Create(c).Error
}

// ListContacts returns contacts ordered by name, optionally for one division.
func ListContacts(ctx context.Context, db *gorm.DB, division string) ([]domain.Contact, error) {
	q := db.WithContext(ctx).Order("name ASC, id ASC")
	if division != "" {
		q = q.Where("division = ?", division)
	}
	var out []domain.Contact
	return out, q.Find(&out).Error
}

// GetContact fetches a contact by id.
func GetContact(ctx context.Context, db *gorm.DB, id string) (*domain.Contact, error) {
	var c domain.Contact
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateContact overwrites the editable fields of a contact.
func UpdateContact(ctx context.Context, db *gorm.DB, c *domain.Contact) error {
	res := db.WithContext(ctx).Model(&domain.Contact{}).Where("id = ?", c.ID).Updates(map[string]any{
		"name":       c.Name,
		"role":       c.Role,
		"division":   c.Division,
		"phone":      c.Phone,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteContact soft-deletes a contact.
func DeleteContact(ctx context.Context, db *gorm.DB, id string) error {
	return deleteByID[domain.Contact](ctx, db, id)
}
