package service

import (
	"context"

	"github.com/digkill/leadmail/internal/models"
)

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type purchaseLister interface {
	ListByUser(ctx context.Context, userID string) ([]models.CreditPurchase, error)
}

type runLister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]models.PromptRun, error)
}

const defaultRunsLimit = 50

type UserService struct {
	users     userReader
	purchases purchaseLister
	runs      runLister
}

func NewUserService(users userReader, purchases purchaseLister, runs runLister) *UserService {
	return &UserService{users: users, purchases: purchases, runs: runs}
}

func (s *UserService) Credits(ctx context.Context, userID string) (int, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, ErrUserNotFound
	}
	return user.Credits, nil
}

func (s *UserService) Purchases(ctx context.Context, userID string) ([]models.CreditPurchase, error) {
	return s.purchases.ListByUser(ctx, userID)
}

func (s *UserService) Runs(ctx context.Context, userID string, limit int) ([]models.PromptRun, error) {
	if limit <= 0 || limit > defaultRunsLimit {
		limit = defaultRunsLimit
	}
	return s.runs.ListByUser(ctx, userID, limit)
}
