package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/digkill/leadmail/internal/config"
	"github.com/digkill/leadmail/internal/metrics"
	"github.com/digkill/leadmail/internal/models"
)

var ErrPaymentsDisabled = errors.New("payments are not configured")

type checkoutProvider interface {
	CreateCheckout(ctx context.Context, userID string) (string, error)
}

type purchaseCrediter interface {
	CreditPurchase(ctx context.Context, purchase *models.CreditPurchase) (int, error)
}

// PurchaseNotifier is told about every credited purchase.
type PurchaseNotifier interface {
	NotifyPurchase(ctx context.Context, purchase models.CreditPurchase, balance int) error
}

// PurchaseEvent is a completed payment reported by a payment provider or the
// billing queue.
type PurchaseEvent struct {
	UserID      string `json:"userId" validate:"required,max=128"`
	ProviderRef string `json:"providerRef" validate:"required,max=255"`
	Source      string `json:"source"`
}

type PaymentService struct {
	cfg      config.Config
	log      *slog.Logger
	users    purchaseCrediter
	checkout checkoutProvider
	notifier PurchaseNotifier
	metrics  *metrics.Metrics
}

func NewPaymentService(cfg config.Config, log *slog.Logger, users purchaseCrediter, checkout checkoutProvider, notifier PurchaseNotifier, m *metrics.Metrics) *PaymentService {
	return &PaymentService{
		cfg:      cfg,
		log:      log,
		users:    users,
		checkout: checkout,
		notifier: notifier,
		metrics:  m,
	}
}

// Checkout returns the hosted payment page URL for one credit pack.
func (s *PaymentService) Checkout(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", &ValidationError{Violations: []string{"userId is required"}}
	}
	if s.checkout == nil {
		return "", ErrPaymentsDisabled
	}
	return s.checkout.CreateCheckout(ctx, userID)
}

// CompletePurchase credits the fixed pack size to the user and records the
// purchase atomically. Replayed events return ErrDuplicatePurchase.
func (s *PaymentService) CompletePurchase(ctx context.Context, event PurchaseEvent) (*models.CreditPurchase, int, error) {
	if err := validateStruct(event); err != nil {
		return nil, 0, err
	}
	if event.Source == "" {
		event.Source = "unknown"
	}

	purchase := &models.CreditPurchase{
		UserID:      event.UserID,
		Credits:     s.cfg.CreditsPerPurchase,
		ProviderRef: event.ProviderRef,
	}
	balance, err := s.users.CreditPurchase(ctx, purchase)
	if err != nil {
		if errors.Is(err, ErrDuplicatePurchase) {
			s.log.Info("duplicate purchase event ignored", "user_id", event.UserID, "provider_ref", event.ProviderRef, "source", event.Source)
		}
		return nil, 0, err
	}
	s.metrics.RecordPurchase(event.Source, purchase.Credits)
	s.log.Info("purchase credited", "user_id", event.UserID, "credits", purchase.Credits, "balance", balance, "source", event.Source)

	if s.notifier != nil {
		if err := s.notifier.NotifyPurchase(ctx, *purchase, balance); err != nil {
			s.log.Warn("purchase notification failed", "user_id", event.UserID, "err", err)
		}
	}
	return purchase, balance, nil
}
