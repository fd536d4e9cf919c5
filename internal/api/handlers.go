package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/leadmail/internal/models"
	"github.com/digkill/leadmail/internal/payment"
	"github.com/digkill/leadmail/internal/service"
)

const maxWebhookBody = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerateEmail(w http.ResponseWriter, r *http.Request) {
	var req service.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	userID, ok := s.authorizeUser(w, r, req.UserID)
	if !ok {
		return
	}
	req.UserID = userID

	result, err := s.generator.Generate(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to generate email")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authorizeUser(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}
	leads, err := s.leads.List(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to fetch leads")
		return
	}
	if leads == nil {
		leads = []models.Lead{}
	}
	s.writeJSON(w, http.StatusOK, leads)
}

func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var req service.CreateLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	userID, ok := s.authorizeUser(w, r, req.UserID)
	if !ok {
		return
	}
	req.UserID = userID

	lead, err := s.leads.Create(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to create lead")
		return
	}
	s.writeJSON(w, http.StatusCreated, lead)
}

func (s *Server) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	userID, ok := s.authorizeUser(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}
	if err := s.leads.Delete(r.Context(), id, userID); err != nil {
		s.writeServiceError(w, r, err, "Failed to delete lead")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authorizeUser(w, r, chi.URLParam(r, "userId"))
	if !ok {
		return
	}
	credits, err := s.users.Credits(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to fetch user credits")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"credits": credits})
}

func (s *Server) handlePurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authorizeUser(w, r, chi.URLParam(r, "userId"))
	if !ok {
		return
	}
	purchases, err := s.users.Purchases(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to fetch purchases")
		return
	}
	if purchases == nil {
		purchases = []models.CreditPurchase{}
	}
	s.writeJSON(w, http.StatusOK, purchases)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authorizeUser(w, r, chi.URLParam(r, "userId"))
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.users.Runs(r.Context(), userID, limit)
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to fetch prompt runs")
		return
	}
	if runs == nil {
		runs = []models.PromptRun{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleCreditAnalytics(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID, ok := s.authorizeUser(w, r, query.Get("userId"))
	if !ok {
		return
	}
	// Unparseable limits fall back to the default.
	limit, _ := strconv.Atoi(query.Get("limit"))

	series, err := s.analytics.Credits(r.Context(), userID, query.Get("period"), limit)
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to load analytics")
		return
	}
	s.writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleSeedTemplates(w http.ResponseWriter, r *http.Request) {
	n, err := s.templates.Seed(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, "Template seeding failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "inserted": n})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.templates.List(r.Context(), r.URL.Query().Get("key"))
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to fetch templates")
		return
	}
	if templates == nil {
		templates = []models.PromptTemplate{}
	}
	s.writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleActivateTemplate(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		s.badRequest(w, "invalid version")
		return
	}
	tmpl, err := s.templates.Activate(r.Context(), chi.URLParam(r, "key"), version)
	if err != nil {
		s.writeServiceError(w, r, err, "Template activation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, tmpl)
}

type checkoutRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	userID, ok := s.authorizeUser(w, r, req.UserID)
	if !ok {
		return
	}
	url, err := s.payments.Checkout(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err, "Stripe session failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleStripeWebhook is the public endpoint for Stripe events. Events that
// can never succeed (duplicates, bad metadata, unknown users) are logged and
// acknowledged with 200. Other failures answer 500 so Stripe redelivers; the
// session id keeps a redelivery from crediting twice.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhooks == nil {
		s.writeServiceError(w, r, service.ErrPaymentsDisabled, "Server misconfiguration")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.badRequest(w, "read body error")
		return
	}

	checkout, err := s.webhooks.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payment.ErrIgnoredEvent):
		s.log.Info("stripe event skipped", "reason", err)
		w.WriteHeader(http.StatusOK)
		return
	case err != nil:
		s.log.Warn("stripe webhook rejected", "err", err)
		s.badRequest(w, "Webhook Error")
		return
	}

	_, _, err = s.payments.CompletePurchase(r.Context(), service.PurchaseEvent{
		UserID:      checkout.UserID,
		ProviderRef: checkout.SessionID,
		Source:      "stripe",
	})
	var verr *service.ValidationError
	switch {
	case err == nil, errors.Is(err, service.ErrDuplicatePurchase):
	case errors.As(err, &verr), errors.Is(err, service.ErrUserNotFound):
		s.log.Error("stripe webhook dropped", "session_id", checkout.SessionID, "user_id", checkout.UserID, "err", err)
	default:
		s.log.Error("stripe webhook processing", "session_id", checkout.SessionID, "user_id", checkout.UserID, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to credit purchase"})
		return
	}
	w.WriteHeader(http.StatusOK)
}
