package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/leadmail/internal/config"
	"github.com/digkill/leadmail/internal/metrics"
	"github.com/digkill/leadmail/internal/models"
	"github.com/digkill/leadmail/internal/payment"
	"github.com/digkill/leadmail/internal/service"
)

type generator interface {
	Generate(ctx context.Context, req service.GenerateRequest) (*service.GenerateResult, error)
}

type leadManager interface {
	List(ctx context.Context, userID string) ([]models.Lead, error)
	Create(ctx context.Context, req service.CreateLeadRequest) (*models.Lead, error)
	Delete(ctx context.Context, id, userID string) error
}

type accountReader interface {
	Credits(ctx context.Context, userID string) (int, error)
	Purchases(ctx context.Context, userID string) ([]models.CreditPurchase, error)
	Runs(ctx context.Context, userID string, limit int) ([]models.PromptRun, error)
}

type templateManager interface {
	Seed(ctx context.Context) (int, error)
	List(ctx context.Context, key string) ([]models.PromptTemplate, error)
	Activate(ctx context.Context, key string, version int) (*models.PromptTemplate, error)
}

type creditAnalytics interface {
	Credits(ctx context.Context, userID, period string, limit int) (*service.CreditSeries, error)
}

type paymentProcessor interface {
	Checkout(ctx context.Context, userID string) (string, error)
	CompletePurchase(ctx context.Context, event service.PurchaseEvent) (*models.CreditPurchase, int, error)
}

type webhookParser interface {
	ParseWebhook(payload []byte, signature string) (*payment.CompletedCheckout, error)
}

// Deps are the services behind the HTTP routes. Webhooks may be nil when
// Stripe is not configured.
type Deps struct {
	Generator generator
	Leads     leadManager
	Users     accountReader
	Templates templateManager
	Analytics creditAnalytics
	Payments  paymentProcessor
	Webhooks  webhookParser
	Metrics   *metrics.Metrics
}

type Server struct {
	addr      string
	jwtSecret []byte
	admins    map[string]struct{}
	log       *slog.Logger
	generator generator
	leads     leadManager
	users     accountReader
	templates templateManager
	analytics creditAnalytics
	payments  paymentProcessor
	webhooks  webhookParser
	metrics   *metrics.Metrics
	router    *chi.Mux
}

func NewServer(cfg config.Config, log *slog.Logger, deps Deps) *Server {
	r := chi.NewRouter()

	s := &Server{
		addr:      cfg.ListenAddr,
		log:       log,
		generator: deps.Generator,
		leads:     deps.Leads,
		users:     deps.Users,
		templates: deps.Templates,
		analytics: deps.Analytics,
		payments:  deps.Payments,
		webhooks:  deps.Webhooks,
		metrics:   deps.Metrics,
		router:    r,
	}
	if cfg.AuthJWTSecret != "" {
		s.jwtSecret = []byte(cfg.AuthJWTSecret)
	}
	s.admins = make(map[string]struct{}, len(cfg.AuthAdminSubjects))
	for _, subject := range cfg.AuthAdminSubjects {
		s.admins[subject] = struct{}{}
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Post("/webhook/stripe", s.handleStripeWebhook)

		api.Group(func(protected chi.Router) {
			protected.Use(s.authMiddleware)
			protected.Route("/leads", func(r chi.Router) {
				r.Get("/", s.handleListLeads)
				r.Post("/", s.handleCreateLead)
				r.Post("/generate-email", s.handleGenerateEmail)
				r.Get("/users/{userId}/credits", s.handleCredits)
				r.Delete("/{id}", s.handleDeleteLead)
			})
			protected.Route("/users/{userId}", func(r chi.Router) {
				r.Get("/credits", s.handleCredits)
				r.Get("/purchases", s.handlePurchases)
				r.Get("/runs", s.handleRuns)
			})
			protected.Get("/analytics/credits", s.handleCreditAnalytics)
			protected.Route("/templates", func(r chi.Router) {
				r.Get("/", s.handleListTemplates)
				r.Group(func(admin chi.Router) {
					admin.Use(s.requireAdmin)
					admin.Post("/seed", s.handleSeedTemplates)
					admin.Post("/{key}/activate/{version}", s.handleActivateTemplate)
				})
			})
			protected.Post("/payments/checkout", s.handleCheckout)
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Generation waits up to the completion deadline.
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
