// Package payment creates Stripe checkout sessions and verifies Stripe
// webhook deliveries.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/digkill/leadmail/internal/config"
)

const EventCheckoutCompleted = "checkout.session.completed"

var (
	ErrInvalidSignature = errors.New("invalid stripe signature")
	// ErrIgnoredEvent marks deliveries that are valid but carry nothing to
	// credit.
	ErrIgnoredEvent = errors.New("stripe event ignored")
)

type Stripe struct {
	api           *client.API
	priceID       string
	webhookSecret string
	frontendURL   string
}

// CompletedCheckout is a paid checkout session tagged with our user id.
type CompletedCheckout struct {
	SessionID string
	UserID    string
}

func NewStripe(cfg config.Config) (*Stripe, error) {
	return NewStripeWithBackends(cfg, nil)
}

// NewStripeWithBackends allows pointing the client at a non-default API host.
func NewStripeWithBackends(cfg config.Config, backends *stripe.Backends) (*Stripe, error) {
	if cfg.StripeSecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if cfg.StripePriceID == "" {
		return nil, fmt.Errorf("stripe price id is required")
	}

	api := &client.API{}
	api.Init(cfg.StripeSecretKey, backends)

	return &Stripe{
		api:           api,
		priceID:       cfg.StripePriceID,
		webhookSecret: cfg.StripeWebhookSecret,
		frontendURL:   strings.TrimRight(cfg.FrontendURL, "/"),
	}, nil
}

// CreateCheckout opens a one-item payment session and returns its hosted URL.
func (s *Stripe) CreateCheckout(ctx context.Context, userID string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.frontendURL + "/success?userId=" + url.QueryEscape(userID)),
		CancelURL:  stripe.String(s.frontendURL + "/cancel"),
	}
	params.Context = ctx
	params.AddMetadata("userId", userID)

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// ParseWebhook verifies the signature header and extracts a completed, paid
// checkout. Other event types and unpaid sessions yield ErrIgnoredEvent.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*CompletedCheckout, error) {
	if err := webhook.ValidatePayload(payload, signature, s.webhookSecret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}
	if event.Type != EventCheckoutCompleted {
		return nil, fmt.Errorf("%w: type %s", ErrIgnoredEvent, event.Type)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: no data", ErrIgnoredEvent)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, fmt.Errorf("%w: payment status %s", ErrIgnoredEvent, sess.PaymentStatus)
	}
	userID := sess.Metadata["userId"]
	if userID == "" {
		return nil, fmt.Errorf("%w: missing userId metadata", ErrIgnoredEvent)
	}
	return &CompletedCheckout{SessionID: sess.ID, UserID: userID}, nil
}
