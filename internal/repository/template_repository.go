package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/leadmail/internal/models"
)

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, template_key, version, label, body, is_active, created_at, updated_at`

// Select returns the exact version when version > 0, otherwise the active
// template for key with the highest version.
func (r *TemplateRepository) Select(ctx context.Context, key string, version int) (*models.PromptTemplate, error) {
	var row *sql.Row
	if version > 0 {
		row = r.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM prompt_templates WHERE template_key = ? AND version = ?`, key, version)
	} else {
		row = r.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM prompt_templates WHERE template_key = ? AND is_active = 1 ORDER BY version DESC LIMIT 1`, key)
	}
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("select template: %w", err)
	}
	return t, nil
}

func (r *TemplateRepository) List(ctx context.Context, key string) ([]models.PromptTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM prompt_templates WHERE template_key = ? ORDER BY version ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates := []models.PromptTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

// UpsertAll writes every template keyed by (key, version) in one transaction.
// For each key with an active entry in the set, every other version of that
// key is deactivated so at most one stays active.
func (r *TemplateRepository) UpsertAll(ctx context.Context, templates []models.PromptTemplate) (int, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const upsert = `
INSERT INTO prompt_templates (template_key, version, label, body, is_active)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE label = VALUES(label), body = VALUES(body), is_active = VALUES(is_active)`
	active := map[string]int{}
	for _, t := range templates {
		if t.IsActive {
			active[t.Key] = t.Version
		}
	}
	for key, version := range active {
		if _, err := tx.ExecContext(ctx, `UPDATE prompt_templates SET is_active = 0 WHERE template_key = ? AND version <> ?`, key, version); err != nil {
			return 0, fmt.Errorf("deactivate templates: %w", err)
		}
	}
	for _, t := range templates {
		if _, err := tx.ExecContext(ctx, upsert, t.Key, t.Version, t.Label, t.Body, boolToInt(t.IsActive)); err != nil {
			return 0, fmt.Errorf("upsert template %s v%d: %w", t.Key, t.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit templates: %w", err)
	}
	return len(templates), nil
}

// Activate deactivates every version of key and then activates version.
func (r *TemplateRepository) Activate(ctx context.Context, key string, version int) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	row := tx.QueryRowContext(ctx, `SELECT id FROM prompt_templates WHERE template_key = ? AND version = ? FOR UPDATE`, key, version)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTemplateNotFound
		}
		return fmt.Errorf("lock template: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE prompt_templates SET is_active = 0 WHERE template_key = ?`, key); err != nil {
		return fmt.Errorf("deactivate templates: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE prompt_templates SET is_active = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("activate template: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activation: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(s scanner) (*models.PromptTemplate, error) {
	var t models.PromptTemplate
	var active int
	if err := s.Scan(&t.ID, &t.Key, &t.Version, &t.Label, &t.Body, &active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.IsActive = active != 0
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
