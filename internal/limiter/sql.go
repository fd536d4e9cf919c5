package limiter

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQL shares limiter state across server instances through MySQL. The
// per-user limiter_jobs row doubles as the lock that serializes window checks.
type SQL struct {
	db       *sql.DB
	settings Settings
	now      func() time.Time
}

func NewSQL(db *sql.DB, settings Settings) *SQL {
	return &SQL{db: db, settings: settings, now: time.Now}
}

func (s *SQL) WithClock(now func() time.Time) *SQL {
	s.now = now
	return s
}

func (s *SQL) CheckAndRecordRate(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin limiter tx: %w", err)
	}
	defer tx.Rollback()

	if err := ensureJobRow(ctx, tx, userID); err != nil {
		return err
	}
	var active int
	if err := tx.QueryRowContext(ctx, `SELECT active FROM limiter_jobs WHERE user_id = ? FOR UPDATE`, userID).Scan(&active); err != nil {
		return fmt.Errorf("lock limiter row: %w", err)
	}

	now := s.now().UTC()
	cutoff := now.Add(-s.settings.Window)
	if _, err := tx.ExecContext(ctx, `DELETE FROM limiter_requests WHERE user_id = ? AND requested_at <= ?`, userID, cutoff); err != nil {
		return fmt.Errorf("prune limiter requests: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM limiter_requests WHERE user_id = ?`, userID).Scan(&count); err != nil {
		return fmt.Errorf("count limiter requests: %w", err)
	}
	if count >= s.settings.MaxRequests {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit limiter prune: %w", err)
		}
		return ErrRateLimited
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO limiter_requests (user_id, requested_at) VALUES (?, ?)`, userID, now); err != nil {
		return fmt.Errorf("record limiter request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit limiter tx: %w", err)
	}
	return nil
}

func (s *SQL) TryStartJob(ctx context.Context, userID string) error {
	if err := ensureJobRow(ctx, s.db, userID); err != nil {
		return err
	}
	const query = `UPDATE limiter_jobs SET active = active + 1 WHERE user_id = ? AND active < ?`
	res, err := s.db.ExecContext(ctx, query, userID, s.settings.MaxConcurrent)
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("start job rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConcurrencyLimited
	}
	return nil
}

func (s *SQL) FinishJob(ctx context.Context, userID string) error {
	const query = `UPDATE limiter_jobs SET active = GREATEST(active - 1, 0) WHERE user_id = ?`
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureJobRow(ctx context.Context, db execer, userID string) error {
	const query = `INSERT INTO limiter_jobs (user_id, active) VALUES (?, 0) ON DUPLICATE KEY UPDATE user_id = user_id`
	if _, err := db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("ensure limiter row: %w", err)
	}
	return nil
}
