package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/classify"
	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/repo"
)

// PartnerService manages partners. Status is never taken from callers: it is
// recomputed from the volumes on every read and write.
type PartnerService struct {
	DB *gorm.DB
}

// List returns partners matching f.
func (s *PartnerService) List(ctx context.Context, f repo.PartnerFilter) ([]domain.Partner, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	items, err := repo.ListPartners(ctx, s.DB, f)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Derive()
	}
	return items, nil
}

// Get returns one partner.
func (s *PartnerService) Get(ctx context.Context, id string) (*domain.Partner, error) {
	p, err := repo.GetPartner(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPartnerNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Derive()
	return p, nil
}

// Create inserts p. The id is generated when blank.
func (s *PartnerService) Create(ctx context.Context, p domain.Partner) (*domain.Partner, error) {
	if err := validatePartner(p); err != nil {
		return nil, err
	}
	p.Derive()
	if err := repo.CreatePartner(ctx, s.DB, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Update replaces the partner with p.ID.
func (s *PartnerService) Update(ctx context.Context, p domain.Partner) (*domain.Partner, error) {
	if err := validatePartner(p); err != nil {
		return nil, err
	}
	p.Derive()
	err := repo.SavePartner(ctx, s.DB, &p)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPartnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Delete removes a partner.
func (s *PartnerService) Delete(ctx context.Context, id string) error {
	err := repo.DeletePartner(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrPartnerNotFound
	}
	return err
}

// Health counts partners per trend classification.
func (s *PartnerService) Health(ctx context.Context) (map[classify.Health]int, error) {
	return repo.PartnerHealthCounts(ctx, s.DB)
}

func validatePartner(p domain.Partner) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if p.VolumeM2 < 0 || p.VolumeM1 < 0 || p.VolumeCurrent < 0 {
		return fmt.Errorf("%w: volumes must not be negative", ErrInvalidInput)
	}
	return nil
}
