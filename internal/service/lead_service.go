package service

import (
	"context"
	"log/slog"

	"github.com/digkill/leadmail/internal/config"
	"github.com/digkill/leadmail/internal/models"
)

type leadStore interface {
	List(ctx context.Context, userID string) ([]models.Lead, error)
	Create(ctx context.Context, lead *models.Lead) (*models.Lead, error)
	Delete(ctx context.Context, id, userID string) error
}

type userEnsurer interface {
	Ensure(ctx context.Context, user *models.User) (*models.User, bool, error)
}

type LeadService struct {
	cfg   config.Config
	log   *slog.Logger
	leads leadStore
	users userEnsurer
}

type CreateLeadRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	Email   string `json:"email" validate:"required,max=255"`
	Company string `json:"company,omitempty" validate:"max=255"`
	UserID  string `json:"userId" validate:"required,max=128"`
}

func NewLeadService(cfg config.Config, log *slog.Logger, leads leadStore, users userEnsurer) *LeadService {
	return &LeadService{cfg: cfg, log: log, leads: leads, users: users}
}

func (s *LeadService) List(ctx context.Context, userID string) ([]models.Lead, error) {
	return s.leads.List(ctx, userID)
}

// Create stores a lead, creating its owner with the default balance on first
// use.
func (s *LeadService) Create(ctx context.Context, req CreateLeadRequest) (*models.Lead, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	_, created, err := s.users.Ensure(ctx, &models.User{
		ID:      req.UserID,
		Email:   req.UserID + "@example.com",
		Name:    req.Name,
		Credits: s.cfg.DefaultCredits,
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("user created", "user_id", req.UserID, "credits", s.cfg.DefaultCredits)
	}

	return s.leads.Create(ctx, &models.Lead{
		UserID:  req.UserID,
		Name:    req.Name,
		Email:   req.Email,
		Company: req.Company,
	})
}

// Delete removes a lead; a non-empty userID must own it.
func (s *LeadService) Delete(ctx context.Context, id, userID string) error {
	return s.leads.Delete(ctx, id, userID)
}
