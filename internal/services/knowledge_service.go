package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/repo"
	"github.com/tbourn/fieldops-backend/internal/search"
)

// KnowledgeService manages SOPs and contacts and owns the live search index
// over SOP content. Every SOP write rebuilds the index from the database, so
// searches never see a half-applied edit.
type KnowledgeService struct {
	DB      *gorm.DB
	Options []search.Option

	mu  sync.RWMutex
	idx search.Index
}

// NewKnowledgeService returns a service with an empty index. Call Rebuild
// once at startup.
func NewKnowledgeService(db *gorm.DB, opts ...search.Option) *KnowledgeService {
	return &KnowledgeService{DB: db, Options: opts, idx: search.New(nil, opts...)}
}

// Index returns the current index. It is immutable and safe to keep.
func (s *KnowledgeService) Index() search.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx
}

// TopK implements search.Index over the live index.
func (s *KnowledgeService) TopK(q string, k int) []search.Result { return s.Index().TopK(q, k) }

// Len implements search.Index over the live index.
func (s *KnowledgeService) Len() int { return s.Index().Len() }

// Search returns up to k SOP paragraphs matching q.
func (s *KnowledgeService) Search(q string, k int) []search.Result {
	res := s.TopK(q, k)
	if res == nil {
		return []search.Result{}
	}
	return res
}

// Rebuild re-indexes every SOP.
func (s *KnowledgeService) Rebuild(ctx context.Context) error {
	sops, err := repo.ListSOPs(ctx, s.DB, "")
	if err != nil {
		return err
	}
	docs := make([]search.Document, 0, len(sops))
	for _, sop := range sops {
		title := sop.Title
		if sop.Code != "" {
			title = sop.Code + " " + sop.Title
		}
		docs = append(docs, search.Document{Ref: sop.ID, Title: title, Body: sop.Content})
	}
	idx := search.New(docs, s.Options...)

	s.mu.Lock()
	s.idx = idx
	s.mu.Unlock()
	log.Debug().Int("sops", len(sops)).Int("paragraphs", idx.Len()).Msg("knowledge index rebuilt")
	return nil
}

// rebuildAfterWrite keeps the old index when the rebuild fails; the write
// itself already succeeded.
func (s *KnowledgeService) rebuildAfterWrite(ctx context.Context) {
	if err := s.Rebuild(ctx); err != nil {
		log.Error().Err(err).Msg("knowledge index rebuild failed; serving previous index")
	}
}

// ---- SOPs ----

func (s *KnowledgeService) ListSOPs(ctx context.Context, category string) ([]domain.SOP, error) {
	return repo.ListSOPs(ctx, s.DB, category)
}

func (s *KnowledgeService) GetSOP(ctx context.Context, id string) (*domain.SOP, error) {
	sop, err := repo.GetSOP(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSOPNotFound
	}
	return sop, err
}

func (s *KnowledgeService) CreateSOP(ctx context.Context, sop domain.SOP) (*domain.SOP, error) {
	if err := validateSOP(sop); err != nil {
		return nil, err
	}
	if err := repo.CreateSOP(ctx, s.DB, &sop); err != nil {
		return nil, err
	}
	s.rebuildAfterWrite(ctx)
	return &sop, nil
}

func (s *KnowledgeService) UpdateSOP(ctx context.Context, sop domain.SOP) (*domain.SOP, error) {
	if err := validateSOP(sop); err != nil {
		return nil, err
	}
	err := repo.UpdateSOP(ctx, s.DB, &sop)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSOPNotFound
	}
	if err != nil {
		return nil, err
	}
	s.rebuildAfterWrite(ctx)
	return s.GetSOP(ctx, sop.ID)
}

func (s *KnowledgeService) DeleteSOP(ctx context.Context, id string) error {
	err := repo.DeleteSOP(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrSOPNotFound
	}
	if err != nil {
		return err
	}
	s.rebuildAfterWrite(ctx)
	return nil
}

// ImportMarkdown creates one SOP per headed section of r, all in one
// transaction, and rebuilds the index once. It returns the number created.
func (s *KnowledgeService) ImportMarkdown(ctx context.Context, r io.Reader, category string) (int, error) {
	sections, err := search.ParseMarkdown(r)
	if err != nil {
		return 0, err
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, sec := range sections {
			sop := domain.SOP{Code: sec.Code, Title: sec.Title, Category: category, Content: sec.Body}
			if err := repo.CreateSOP(ctx, tx, &sop); err != nil {
				return fmt.Errorf("import %q: %w", sec.Title, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.rebuildAfterWrite(ctx)
	return len(sections), nil
}

func validateSOP(sop domain.SOP) error {
	switch {
	case strings.TrimSpace(sop.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	case strings.TrimSpace(sop.Content) == "":
		return fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	return nil
}

// ---- Contacts ----

func (s *KnowledgeService) ListContacts(ctx context.Context, division string) ([]domain.Contact, error) {
	return repo.ListContacts(ctx, s.DB, division)
}

func (s *KnowledgeService) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	c, err := repo.GetContact(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrContactNotFound
	}
	return c, err
}

func (s *KnowledgeService) CreateContact(ctx context.Context, c domain.Contact) (*domain.Contact, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := repo.CreateContact(ctx, s.DB, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *KnowledgeService) UpdateContact(ctx context.Context, c domain.Contact) (*domain.Contact, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	err := repo.UpdateContact(ctx, s.DB, &c)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetContact(ctx, c.ID)
}

func (s *KnowledgeService) DeleteContact(ctx context.Context, id string) error {
	err := repo.DeleteContact(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrContactNotFound
	}
	return err
}
