package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/leadmail/internal/models"
)

type PromptRunRepository struct {
	db *sql.DB
}

func NewPromptRunRepository(db *sql.DB) *PromptRunRepository {
	return &PromptRunRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *PromptRunRepository) insert(ctx context.Context, db execer, run *models.PromptRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	vars, err := json.Marshal(run.Variables)
	if err != nil {
		return fmt.Errorf("marshal run variables: %w", err)
	}
	const query = `
INSERT INTO prompt_runs (id, user_id, lead_id, template_id, template_key, template_version, language, formality, variables, final_prompt, model, token_count, subject, body, response)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var leadID sql.NullString
	if run.LeadID != nil {
		leadID = sql.NullString{String: *run.LeadID, Valid: true}
	}
	if _, err := db.ExecContext(ctx, query,
		run.ID, run.UserID, leadID, run.TemplateID, run.TemplateKey, run.TemplateVersion,
		run.Language, run.Formality, string(vars), run.FinalPrompt, run.Model, run.TokenCount,
		run.Subject, run.Body, run.Response,
	); err != nil {
		return fmt.Errorf("insert prompt run: %w", err)
	}
	return nil
}

func (r *PromptRunRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.PromptRun, error) {
	const query = `
SELECT id, user_id, lead_id, template_id, template_key, template_version, COALESCE(language, ''), COALESCE(formality, ''), variables, final_prompt, model, token_count, subject, body, response, created_at
FROM prompt_runs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list prompt runs: %w", err)
	}
	defer rows.Close()

	runs := []models.PromptRun{}
	for rows.Next() {
		var run models.PromptRun
		var leadID sql.NullString
		var vars []byte
		if err := rows.Scan(&run.ID, &run.UserID, &leadID, &run.TemplateID, &run.TemplateKey, &run.TemplateVersion,
			&run.Language, &run.Formality, &vars, &run.FinalPrompt, &run.Model, &run.TokenCount,
			&run.Subject, &run.Body, &run.Response, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt run: %w", err)
		}
		if leadID.Valid {
			run.LeadID = &leadID.String
		}
		if len(vars) > 0 {
			if err := json.Unmarshal(vars, &run.Variables); err != nil {
				return nil, fmt.Errorf("decode run variables: %w", err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
