package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/digkill/leadmail/internal/models"
)

type templateStore interface {
	Select(ctx context.Context, key string, version int) (*models.PromptTemplate, error)
	List(ctx context.Context, key string) ([]models.PromptTemplate, error)
	UpsertAll(ctx context.Context, templates []models.PromptTemplate) (int, error)
	Activate(ctx context.Context, key string, version int) error
}

type TemplateService struct {
	log   *slog.Logger
	store templateStore
}

func NewTemplateService(log *slog.Logger, store templateStore) *TemplateService {
	return &TemplateService{log: log, store: store}
}

// Seed writes the built-in template set. Existing versions get their label,
// body and active flag reset.
func (s *TemplateService) Seed(ctx context.Context) (int, error) {
	n, err := s.store.UpsertAll(ctx, SeedTemplates())
	if err != nil {
		return 0, fmt.Errorf("seed templates: %w", err)
	}
	s.log.Info("templates seeded", "count", n)
	return n, nil
}

func (s *TemplateService) List(ctx context.Context, key string) ([]models.PromptTemplate, error) {
	if key == "" {
		key = models.DefaultTemplateKey
	}
	return s.store.List(ctx, key)
}

func (s *TemplateService) Select(ctx context.Context, key string, version int) (*models.PromptTemplate, error) {
	if key == "" {
		key = models.DefaultTemplateKey
	}
	return s.store.Select(ctx, key, version)
}

func (s *TemplateService) Activate(ctx context.Context, key string, version int) (*models.PromptTemplate, error) {
	if version < 1 {
		return nil, &ValidationError{Violations: []string{"version must be >= 1"}}
	}
	if err := s.store.Activate(ctx, key, version); err != nil {
		return nil, err
	}
	s.log.Info("template activated", "key", key, "version", version)
	return s.store.Select(ctx, key, version)
}

// SeedTemplates returns the built-in cold email templates; version 1 is active.
func SeedTemplates() []models.PromptTemplate {
	return []models.PromptTemplate{
		{
			Key:      models.DefaultTemplateKey,
			Version:  1,
			Label:    "V1: Short, direct value prop",
			IsActive: true,
			Body: `Write a {{formality}} cold email in {{language}} to {{lead_name}} at {{lead_company}}.

Context:
- Your role/product: {{product_pitch}}
- Receiver email: {{lead_email}}

Goals:
- Briefly introduce value
- One clear CTA (15-min call or reply)

Constraints:
- 120 words max
- No jargon
- Subject line + body

User prompt (additional instructions):
{{user_prompt}}`,
		},
		{
			Key:     models.DefaultTemplateKey,
			Version: 2,
			Label:   "V2: Problem–Agitate–Solve",
			Body: `Create a {{formality}} cold email in {{language}} to {{lead_name}} ({{lead_email}}) at {{lead_company}}.

Use PAS structure:
1) Problem: identify a pain relevant to {{lead_company}}
2) Agitate: consequences of inaction
3) Solve: how {{product_pitch}} helps

Include:
- Subject line that hints at the outcome
- 2–3 bullet benefits
- CTA to book a slot

Additional instructions:
{{user_prompt}}`,
		},
		{
			Key:     models.DefaultTemplateKey,
			Version: 3,
			Label:   "V3: Social proof + outcome",
			Body: `Draft a {{formality}} cold email in {{language}} for {{lead_name}} ({{lead_email}}) at {{lead_company}}.

Structure:
- Subject: outcome-focused
- Opener: 1-line social proof (logo or metric)
- Outcome: what we achieve in numbers
- CTA: reply or 15-min call

Tone:
- Confident, concise, friendly

Product pitch:
{{product_pitch}}

Extra instructions:
{{user_prompt}}`,
		},
		{
			Key:     models.DefaultTemplateKey,
			Version: 4,
			Label:   "V4: Personalized hook + micro-CTA",
			Body: `Compose a {{formality}} cold email in {{language}} to {{lead_name}} at {{lead_company}} ({{lead_email}}).

Guidelines:
- Personalized hook in first line (role/company)
- One-liner value proposition for {{lead_company}}
- Micro-CTA (e.g., "worth a quick reply?")

Keep it under 100 words.

Product pitch:
{{product_pitch}}

Prompt notes:
{{user_prompt}}`,
		},
	}
}
