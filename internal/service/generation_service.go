package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/leadmail/internal/config"
	"github.com/digkill/leadmail/internal/limiter"
	"github.com/digkill/leadmail/internal/llm"
	"github.com/digkill/leadmail/internal/metrics"
	"github.com/digkill/leadmail/internal/models"
	"github.com/digkill/leadmail/internal/output"
	"github.com/digkill/leadmail/internal/prompt"
)

type ledger interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	DebitAndRecordRun(ctx context.Context, run *models.PromptRun) (int, error)
}

type templateSelector interface {
	Select(ctx context.Context, key string, version int) (*models.PromptTemplate, error)
}

type moderator interface {
	Moderate(ctx context.Context, text string) (bool, error)
}

type completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

type tokenCounter interface {
	Count(text string) int
}

// RunArchiver stores a copy of each recorded run outside the database.
type RunArchiver interface {
	Archive(ctx context.Context, run *models.PromptRun) error
}

type GenerationService struct {
	cfg       config.Config
	log       *slog.Logger
	limiter   limiter.Limiter
	users     ledger
	templates templateSelector
	moderator moderator
	completer completer
	counter   tokenCounter
	metrics   *metrics.Metrics
	archiver  RunArchiver
	archiving sync.WaitGroup
}

const archiveTimeout = 30 * time.Second

type LeadInput struct {
	ID      string `json:"id,omitempty" validate:"omitempty,uuid"`
	Name    string `json:"name" validate:"required,max=255"`
	Email   string `json:"email" validate:"required,max=255"`
	Company string `json:"company,omitempty" validate:"max=255"`
}

type GenerateRequest struct {
	Prompt          string    `json:"prompt" validate:"required"`
	Lead            LeadInput `json:"lead"`
	Language        string    `json:"language" validate:"max=64"`
	Formality       string    `json:"formality" validate:"max=64"`
	UserID          string    `json:"userId" validate:"required,max=128"`
	TemplateKey     string    `json:"templateKey,omitempty" validate:"max=64"`
	TemplateVersion int       `json:"templateVersion,omitempty" validate:"gte=0"`
}

type TemplateInfo struct {
	Key     string `json:"key"`
	Version int    `json:"version"`
	Label   string `json:"label"`
}

type GenerateResult struct {
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	CreditsLeft int          `json:"creditsLeft"`
	Template    TemplateInfo `json:"template"`
	TokenCount  int          `json:"tokenCount"`
	RunID       string       `json:"runId"`
}

type GenerationDeps struct {
	Limiter   limiter.Limiter
	Users     ledger
	Templates templateSelector
	Moderator moderator
	Completer completer
	Counter   tokenCounter
	Metrics   *metrics.Metrics
	Archiver  RunArchiver
}

func NewGenerationService(cfg config.Config, log *slog.Logger, deps GenerationDeps) *GenerationService {
	return &GenerationService{
		cfg:       cfg,
		log:       log,
		limiter:   deps.Limiter,
		users:     deps.Users,
		templates: deps.Templates,
		moderator: deps.Moderator,
		completer: deps.Completer,
		counter:   deps.Counter,
		metrics:   deps.Metrics,
		archiver:  deps.Archiver,
	}
}

// Generate runs the full pipeline for one cold email. Credits and the audit
// record are only written once a validated email is in hand.
func (s *GenerationService) Generate(ctx context.Context, req GenerateRequest) (result *GenerateResult, err error) {
	started := time.Now()
	defer func() {
		s.metrics.RecordGeneration(ErrorCode(err), started)
	}()

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.TemplateKey == "" {
		req.TemplateKey = models.DefaultTemplateKey
	}

	if err := s.limiter.CheckAndRecordRate(ctx, req.UserID); err != nil {
		if errors.Is(err, limiter.ErrRateLimited) {
			s.metrics.RecordLimiterDenial(CodeRateLimit)
		}
		return nil, err
	}
	if err := s.limiter.TryStartJob(ctx, req.UserID); err != nil {
		if errors.Is(err, limiter.ErrConcurrencyLimited) {
			s.metrics.RecordLimiterDenial(CodeConcurrencyLimit)
		}
		return nil, err
	}
	defer func() {
		if finishErr := s.limiter.FinishJob(context.WithoutCancel(ctx), req.UserID); finishErr != nil {
			s.log.Error("release job slot", "user_id", req.UserID, "err", finishErr)
		}
	}()

	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.Credits <= 0 {
		return nil, ErrNoCredits
	}

	tmpl, err := s.templates.Select(ctx, req.TemplateKey, req.TemplateVersion)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, describeTemplate(req.TemplateKey, req.TemplateVersion))
		}
		return nil, err
	}

	if err := s.moderate(ctx, req.Prompt, ErrFlaggedInput); err != nil {
		return nil, err
	}

	vars := s.variables(req)
	finalPrompt := prompt.Render(tmpl.Body, vars)

	if err := s.moderate(ctx, finalPrompt, ErrFlaggedRendered); err != nil {
		return nil, err
	}

	tokenCount := s.counter.Count(finalPrompt)
	s.metrics.RecordPromptTokens(tokenCount)
	if tokenCount > s.cfg.MaxTokensPerRequest {
		return nil, &TokenLimitError{Count: tokenCount, Limit: s.cfg.MaxTokensPerRequest}
	}

	callStarted := time.Now()
	raw, err := s.completer.Complete(ctx, llm.Request{
		Prompt:      finalPrompt,
		System:      llm.SystemInstruction,
		Model:       s.cfg.OpenAIModel,
		MaxTokens:   s.cfg.MaxTokensPerRequest,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordCompletion(time.Since(callStarted))

	email, err := output.Parse(raw)
	if err != nil {
		s.log.Warn("model output rejected", "user_id", req.UserID, "template", tmpl.Key, "version", tmpl.Version, "err", err)
		return nil, err
	}

	run := &models.PromptRun{
		UserID:          req.UserID,
		TemplateID:      tmpl.ID,
		TemplateKey:     tmpl.Key,
		TemplateVersion: tmpl.Version,
		Language:        req.Language,
		Formality:       req.Formality,
		Variables:       vars,
		FinalPrompt:     finalPrompt,
		Model:           s.cfg.OpenAIModel,
		TokenCount:      tokenCount,
		Subject:         email.Subject,
		Body:            email.Body,
		Response:        raw,
		CreatedAt:       time.Now().UTC(),
	}
	if req.Lead.ID != "" {
		leadID := req.Lead.ID
		run.LeadID = &leadID
	}

	creditsLeft, err := s.users.DebitAndRecordRun(ctx, run)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordDebit()

	if s.archiver != nil {
		s.archiving.Add(1)
		go s.archive(context.WithoutCancel(ctx), run)
	}

	s.log.Info("email generated", "user_id", req.UserID, "run_id", run.ID, "template", tmpl.Key, "version", tmpl.Version, "tokens", tokenCount, "credits_left", creditsLeft)

	return &GenerateResult{
		Subject:     email.Subject,
		Body:        email.Body,
		CreditsLeft: creditsLeft,
		Template:    TemplateInfo{Key: tmpl.Key, Version: tmpl.Version, Label: tmpl.Label},
		TokenCount:  tokenCount,
		RunID:       run.ID,
	}, nil
}

// archive copies a recorded run to the archiver off the request path.
func (s *GenerationService) archive(ctx context.Context, run *models.PromptRun) {
	defer s.archiving.Done()
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()
	if err := s.archiver.Archive(ctx, run); err != nil {
		s.log.Error("archive prompt run", "run_id", run.ID, "err", err)
	}
}

// Wait blocks until pending archive uploads finish.
func (s *GenerationService) Wait() {
	s.archiving.Wait()
}

// moderate fails closed: any error from the moderation service stops the
// pipeline.
func (s *GenerationService) moderate(ctx context.Context, text string, flaggedErr error) error {
	flagged, err := s.moderator.Moderate(ctx, text)
	if err != nil {
		if errors.Is(err, ErrModerationUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrModerationUnavailable, err)
	}
	if flagged {
		return flaggedErr
	}
	return nil
}

func (s *GenerationService) variables(req GenerateRequest) map[string]string {
	company := req.Lead.Company
	if company == "" {
		company = "N/A"
	}
	return map[string]string{
		"lead_name":     req.Lead.Name,
		"lead_email":    req.Lead.Email,
		"lead_company":  company,
		"language":      req.Language,
		"formality":     req.Formality,
		"user_prompt":   req.Prompt,
		"product_pitch": s.cfg.ProductPitch,
	}
}

func describeTemplate(key string, version int) string {
	if version > 0 {
		return fmt.Sprintf("%q v%d", key, version)
	}
	return fmt.Sprintf("%q", key)
}
