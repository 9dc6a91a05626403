package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lendaro/settlement/internal/domain"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// FalloutRepository handles database operations for fallout records and the
// insufficient-funds retry queue.
type FalloutRepository struct {
	db *sqlx.DB
}

// NewFalloutRepository creates a new FalloutRepository.
func NewFalloutRepository(db *sqlx.DB) *FalloutRepository {
	return &FalloutRepository{db: db}
}

// Create inserts a fallout record inside tx.  The UNIQUE constraint on
// hold_id rejects a duplicate resolution for the same incident.
func (r *FalloutRepository) Create(ctx context.Context, tx *sqlx.Tx, rec *domain.FalloutRecord) error {
	query := `
		INSERT INTO fallout_records
			(id, hold_id, item_id, total_loss, shipping_cost, insurance_cost,
			 borrower_share, owner_share, capital_loss, borrower_capital_loss,
			 owner_capital_loss, anti_collateral_applied, reporting_discrepancy, resolved_at)
		VALUES
			(:id, :hold_id, :item_id, :total_loss, :shipping_cost, :insurance_cost,
			 :borrower_share, :owner_share, :capital_loss, :borrower_capital_loss,
			 :owner_capital_loss, :anti_collateral_applied, :reporting_discrepancy, :resolved_at)`
	if _, err := tx.NamedExecContext(ctx, query, rec); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return domain.ErrFalloutAlreadyResolved
		}
		return fmt.Errorf("fallout_repo.Create: %w", err)
	}
	return nil
}

// GetByHold fetches the fallout record for a hold, if any.
func (r *FalloutRepository) GetByHold(ctx context.Context, holdID uuid.UUID) (*domain.FalloutRecord, error) {
	var rec domain.FalloutRecord
	err := r.db.GetContext(ctx, &rec, `SELECT * FROM fallout_records WHERE hold_id = $1`, holdID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("fallout_repo.GetByHold: %w", err)
	}
	return &rec, nil
}

// Exists reports whether a fallout was already resolved for the hold.
func (r *FalloutRepository) Exists(ctx context.Context, holdID uuid.UUID) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(1) FROM fallout_records WHERE hold_id = $1`, holdID)
	if err != nil {
		return false, fmt.Errorf("fallout_repo.Exists: %w", err)
	}
	return n > 0, nil
}

// ── Retry queue ──────────────────────────────────────────────────────────────

// EnqueueRetry parks a resolution that failed with insufficient funds.
// Re-enqueueing an already parked hold pushes the next attempt out.
func (r *FalloutRepository) EnqueueRetry(ctx context.Context, holdID uuid.UUID, totalLoss decimal.Decimal, nextAttempt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fallout_retries (hold_id, total_loss, attempts, next_attempt_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (hold_id) DO UPDATE
		SET attempts = fallout_retries.attempts + 1, next_attempt_at = $3`,
		holdID, totalLoss, nextAttempt)
	if err != nil {
		return fmt.Errorf("fallout_repo.EnqueueRetry: %w", err)
	}
	return nil
}

// DueRetries returns parked resolutions whose grace period has elapsed.
func (r *FalloutRepository) DueRetries(ctx context.Context, now time.Time, maxAttempts int) ([]*domain.FalloutRetry, error) {
	var retries []*domain.FalloutRetry
	err := r.db.SelectContext(ctx, &retries, `
		SELECT * FROM fallout_retries
		WHERE next_attempt_at <= $1 AND attempts <= $2
		ORDER BY next_attempt_at`,
		now, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("fallout_repo.DueRetries: %w", err)
	}
	return retries, nil
}

// DequeueRetry removes a parked resolution after it succeeds or is abandoned.
func (r *FalloutRepository) DequeueRetry(ctx context.Context, holdID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM fallout_retries WHERE hold_id = $1`, holdID)
	if err != nil {
		return fmt.Errorf("fallout_repo.DequeueRetry: %w", err)
	}
	return nil
}
