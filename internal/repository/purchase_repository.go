package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/digkill/leadmail/internal/models"
)

type PurchaseRepository struct {
	db *sql.DB
}

func NewPurchaseRepository(db *sql.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

func (r *PurchaseRepository) ListByUser(ctx context.Context, userID string) ([]models.CreditPurchase, error) {
	const query = `
SELECT id, user_id, credits, COALESCE(provider_ref, ''), created_at
FROM credit_purchases WHERE user_id = ? ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

// ListRange returns purchases with from <= created_at < to, oldest first.
func (r *PurchaseRepository) ListRange(ctx context.Context, userID string, from, to time.Time) ([]models.CreditPurchase, error) {
	const query = `
SELECT id, user_id, credits, COALESCE(provider_ref, ''), created_at
FROM credit_purchases WHERE user_id = ? AND created_at >= ? AND created_at < ?
ORDER BY created_at ASC`
	return r.list(ctx, query, userID, from.UTC(), to.UTC())
}

func (r *PurchaseRepository) list(ctx context.Context, query string, args ...any) ([]models.CreditPurchase, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	purchases := []models.CreditPurchase{}
	for rows.Next() {
		var p models.CreditPurchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.Credits, &p.ProviderRef, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}
