package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/leadmail/internal/models"
)

type UserRepository struct {
	db   *sql.DB
	runs *PromptRunRepository
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, runs: NewPromptRunRepository(db)}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `
SELECT id, email, COALESCE(name, ''), credits, created_at, updated_at
FROM users WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Credits, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// Ensure creates the user with the given starting balance unless it already
// exists. The boolean reports whether a row was inserted.
func (r *UserRepository) Ensure(ctx context.Context, user *models.User) (*models.User, bool, error) {
	const query = `
INSERT INTO users (id, email, name, credits)
VALUES (?, ?, NULLIF(?, ''), ?)
ON DUPLICATE KEY UPDATE id = id`
	res, err := r.db.ExecContext(ctx, query, user.ID, user.Email, user.Name, user.Credits)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("ensure user rows affected: %w", err)
	}
	stored, err := r.FindByID(ctx, user.ID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, ErrUserNotFound
	}
	return stored, affected == 1, nil
}

// DebitAndRecordRun takes one credit and stores the run in a single
// transaction. It returns the balance left after the debit.
func (r *UserRepository) DebitAndRecordRun(ctx context.Context, run *models.PromptRun) (int, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE users SET credits = credits - 1, updated_at = NOW() WHERE id = ? AND credits > 0`, run.UserID)
	if err != nil {
		return 0, fmt.Errorf("debit credit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("debit rows affected: %w", err)
	}
	if affected == 0 {
		return 0, ErrNoCredits
	}

	if err := r.runs.insert(ctx, tx, run); err != nil {
		return 0, err
	}

	var credits int
	if err := tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, run.UserID).Scan(&credits); err != nil {
		return 0, fmt.Errorf("read credits: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit debit: %w", err)
	}
	return credits, nil
}

// CreditPurchase adds the purchase's credits to the user and appends the
// purchase in one transaction. The user row is updated first so an unknown
// user yields ErrUserNotFound. A repeated ProviderRef yields
// ErrDuplicatePurchase and changes nothing.
func (r *UserRepository) CreditPurchase(ctx context.Context, purchase *models.CreditPurchase) (int, error) {
	if purchase.ID == "" {
		purchase.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE users SET credits = credits + ?, updated_at = NOW() WHERE id = ?`, purchase.Credits, purchase.UserID)
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("credit rows affected: %w", err)
	}
	if affected == 0 {
		return 0, ErrUserNotFound
	}

	const insert = `
INSERT INTO credit_purchases (id, user_id, credits, provider_ref)
VALUES (?, ?, ?, NULLIF(?, ''))`
	if _, err := tx.ExecContext(ctx, insert, purchase.ID, purchase.UserID, purchase.Credits, purchase.ProviderRef); err != nil {
		switch {
		case isDuplicateKey(err):
			return 0, ErrDuplicatePurchase
		case isMissingParent(err):
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("insert purchase: %w", err)
	}

	var credits int
	if err := tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, purchase.UserID).Scan(&credits); err != nil {
		return 0, fmt.Errorf("read credits: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purchase: %w", err)
	}
	return credits, nil
}
