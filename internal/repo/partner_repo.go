package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/classify"
	"github.com/tbourn/fieldops-backend/internal/domain"
)

// PartnerFilter narrows ListPartners. Zero values match everything.
type PartnerFilter struct {
	Status   classify.Health
	Province string
	Query    string // case-insensitive match on name, NIA or city
}

// CreatePartner inserts p, assigning an ID when blank. Status is derived by
// the model hook.
func CreatePartner(ctx context.Context, db *gorm.DB, p *domain.Partner) error {
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	return db.WithContext(ctx).Create(p).Error
}

// ListPartners returns partners ordered by name. The status filter is applied
// after load, on the freshly derived value, so a stale status column can
// never decide membership.
func ListPartners(ctx context.Context, db *gorm.DB, f PartnerFilter) ([]domain.Partner, error) {
	q := db.WithContext(ctx).Order("name ASC, id ASC")
	if f.Province != "" {
		q = q.Where("LOWER(province) = ?", strings.ToLower(f.Province))
	}
	if s := strings.TrimSpace(f.Query); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(nia) LIKE ? OR LOWER(city) LIKE ?", like, like, like)
	}
	var all []domain.Partner
	if err := q.Find(&all).Error; err != nil {
		return nil, err
	}
	if f.Status == "" {
		return all, nil
	}
	out := all[:0]
	for _, p := range all {
		if p.Status == f.Status {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetPartner fetches a partner by id.
func GetPartner(ctx context.Context, db *gorm.DB, id string) (*domain.Partner, error) {
	var p domain.Partner
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// SavePartner writes every column of an existing partner. ErrNotFound when
// the id does not exist.
func SavePartner(ctx context.Context, db *gorm.DB, p *domain.Partner) error {
	var existing domain.Partner
	if err := db.WithContext(ctx).Select("id", "created_at").Where("id = ?", p.ID).First(&existing).Error; err != nil {
		return err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Save(p).Error
}

// DeletePartner soft-deletes a partner. ErrNotFound when nothing matched.
func DeletePartner(ctx context.Context, db *gorm.DB, id string) error {
	return deleteByID[domain.Partner](ctx, db, id)
}

// PartnerHealthCounts returns how many partners fall into each health bucket.
func PartnerHealthCounts(ctx context.Context, db *gorm.DB) (map[classify.Health]int, error) {
	var all []domain.Partner
	if err := db.WithContext(ctx).Select("id", "volume_m1", "volume_current", "status").Find(&all).Error; err != nil {
		return nil, err
	}
	out := map[classify.Health]int{classify.Growth: 0, classify.Stagnant: 0, classify.AtRisk: 0}
	for _, p := range all {
		out[p.Status]++
	}
	return out, nil
}

// deleteByID soft-deletes the row of T with id.
func deleteByID[T any](ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(new(T))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
