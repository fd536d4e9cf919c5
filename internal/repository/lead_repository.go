package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/leadmail/internal/models"
)

type LeadRepository struct {
	db *sql.DB
}

func NewLeadRepository(db *sql.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// List returns leads newest first. An empty userID lists every lead.
func (r *LeadRepository) List(ctx context.Context, userID string) ([]models.Lead, error) {
	query := `SELECT id, user_id, name, email, COALESCE(company, ''), created_at FROM leads`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	leads := []models.Lead{}
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(&l.ID, &l.UserID, &l.Name, &l.Email, &l.Company, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (r *LeadRepository) Create(ctx context.Context, lead *models.Lead) (*models.Lead, error) {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	const query = `
INSERT INTO leads (id, user_id, name, email, company)
VALUES (?, ?, ?, ?, NULLIF(?, ''))`
	if _, err := r.db.ExecContext(ctx, query, lead.ID, lead.UserID, lead.Name, lead.Email, lead.Company); err != nil {
		return nil, fmt.Errorf("insert lead: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `SELECT created_at FROM leads WHERE id = ?`, lead.ID)
	if err := row.Scan(&lead.CreatedAt); err != nil {
		return nil, fmt.Errorf("read lead created_at: %w", err)
	}
	return lead, nil
}

// Delete removes a lead. A non-empty userID restricts the delete to that
// owner's leads; other owners' leads report ErrLeadNotFound.
func (r *LeadRepository) Delete(ctx context.Context, id, userID string) error {
	query, args := `DELETE FROM leads WHERE id = ?`, []any{id}
	if userID != "" {
		query, args = `DELETE FROM leads WHERE id = ? AND user_id = ?`, []any{id, userID}
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete lead rows affected: %w", err)
	}
	if affected == 0 {
		return ErrLeadNotFound
	}
	return nil
}
