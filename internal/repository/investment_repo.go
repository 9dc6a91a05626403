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
	"github.com/shopspring/decimal"
)

// InvestmentRepository handles database operations for pools and consumer
// investments.
type InvestmentRepository struct {
	db *sqlx.DB
}

// NewInvestmentRepository creates a new InvestmentRepository.
func NewInvestmentRepository(db *sqlx.DB) *InvestmentRepository {
	return &InvestmentRepository{db: db}
}

// ── Pools ────────────────────────────────────────────────────────────────────

// GetPoolByKey fetches a pool by its unique key.
func (r *InvestmentRepository) GetPoolByKey(ctx context.Context, key string) (*domain.InvestmentPool, error) {
	var p domain.InvestmentPool
	err := r.db.GetContext(ctx, &p, `SELECT * FROM investment_pools WHERE pool_key = $1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("investment_repo.GetPoolByKey: %w", err)
	}
	return &p, nil
}

// GetPoolByID fetches a pool by id.
func (r *InvestmentRepository) GetPoolByID(ctx context.Context, id uuid.UUID) (*domain.InvestmentPool, error) {
	var p domain.InvestmentPool
	err := r.db.GetContext(ctx, &p, `SELECT * FROM investment_pools WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("investment_repo.GetPoolByID: %w", err)
	}
	return &p, nil
}

// EnsurePool fetches a pool by key, creating it when absent.  Pool rows are
// created lazily the first time a pool type receives an allocation.
func (r *InvestmentRepository) EnsurePool(ctx context.Context, tx *sqlx.Tx, key string, pt domain.PoolType, profile domain.RiskProfile) (*domain.InvestmentPool, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO investment_pools (pool_key, pool_type, risk_profile)
		VALUES ($1, $2, $3)
		ON CONFLICT (pool_key) DO NOTHING`,
		key, pt, profile)
	if err != nil {
		return nil, fmt.Errorf("investment_repo.EnsurePool insert: %w", err)
	}
	var p domain.InvestmentPool
	err = tx.GetContext(ctx, &p, `SELECT * FROM investment_pools WHERE pool_key = $1 FOR UPDATE`, key)
	if err != nil {
		return nil, fmt.Errorf("investment_repo.EnsurePool select: %w", err)
	}
	return &p, nil
}

// LockPool locks a pool row for a contributed-balance mutation.
func (r *InvestmentRepository) LockPool(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.InvestmentPool, error) {
	var p domain.InvestmentPool
	err := tx.GetContext(ctx, &p, `SELECT * FROM investment_pools WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("investment_repo.LockPool: %w", err)
	}
	return &p, nil
}

// AddContribution records an allocation against a pool's contributed balance
// and lifetime invested total.
func (r *InvestmentRepository) AddContribution(ctx context.Context, tx *sqlx.Tx, poolID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE investment_pools
		SET contributed = contributed + $1, total_invested = total_invested + $1, updated_at = now()
		WHERE id = $2`,
		amount, poolID)
	if err != nil {
		return fmt.Errorf("investment_repo.AddContribution: %w", err)
	}
	return nil
}

// RemoveContribution reverses an allocation on withdrawal or fallout.
func (r *InvestmentRepository) RemoveContribution(ctx context.Context, tx *sqlx.Tx, poolID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE investment_pools
		SET contributed = GREATEST(contributed - $1, 0), updated_at = now()
		WHERE id = $2`,
		amount, poolID)
	if err != nil {
		return fmt.Errorf("investment_repo.RemoveContribution: %w", err)
	}
	return nil
}

// AddReturns records realized returns on a pool.
func (r *InvestmentRepository) AddReturns(ctx context.Context, tx *sqlx.Tx, poolID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE investment_pools
		SET total_returns = total_returns + $1, updated_at = now()
		WHERE id = $2`,
		amount, poolID)
	if err != nil {
		return fmt.Errorf("investment_repo.AddReturns: %w", err)
	}
	return nil
}

// HerdPools returns every herd-type pool except the platform pool.
func (r *InvestmentRepository) HerdPools(ctx context.Context) ([]*domain.InvestmentPool, error) {
	var ps []*domain.InvestmentPool
	err := r.db.SelectContext(ctx, &ps, `
		SELECT * FROM investment_pools
		WHERE pool_type = $1 AND pool_key <> $2`,
		domain.PoolHerd, domain.PlatformPoolKey)
	if err != nil {
		return nil, fmt.Errorf("investment_repo.HerdPools: %w", err)
	}
	return ps, nil
}

// Utilization returns the herd share of all open contributed funds across
// non-platform pools: herdContributed / totalContributed.  Zero when nothing
// is contributed.
func (r *InvestmentRepository) Utilization(ctx context.Context) (decimal.Decimal, error) {
	var row struct {
		Herd  decimal.Decimal `db:"herd"`
		Total decimal.Decimal `db:"total"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT
			COALESCE(SUM(contributed) FILTER (WHERE pool_type = $1), 0) AS herd,
			COALESCE(SUM(contributed), 0)                               AS total
		FROM investment_pools
		WHERE pool_key <> $2`,
		domain.PoolHerd, domain.PlatformPoolKey)
	if err != nil {
		return decimal.Zero, fmt.Errorf("investment_repo.Utilization: %w", err)
	}
	if row.Total.IsZero() {
		return decimal.Zero, nil
	}
	return row.Herd.Div(row.Total), nil
}

// ── Consumer investments ─────────────────────────────────────────────────────

// CreateInvestment inserts a consumer investment inside tx.
func (r *InvestmentRepository) CreateInvestment(ctx context.Context, tx *sqlx.Tx, ci *domain.ConsumerInvestment) error {
	query := `
		INSERT INTO consumer_investments
			(id, hold_id, sub_hold_id, pool_id, consumer_share, platform_share,
			 initial_value, current_value, return_rate, status, created_at)
		VALUES
			(:id, :hold_id, :sub_hold_id, :pool_id, :consumer_share, :platform_share,
			 :initial_value, :current_value, :return_rate, :status, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, ci); err != nil {
		return fmt.Errorf("investment_repo.CreateInvestment: %w", err)
	}
	return nil
}

// GetInvestment fetches a consumer investment by id.
func (r *InvestmentRepository) GetInvestment(ctx context.Context, id uuid.UUID) (*domain.ConsumerInvestment, error) {
	var ci domain.ConsumerInvestment
	err := r.db.GetContext(ctx, &ci, `SELECT * FROM consumer_investments WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInvestmentNotFound
		}
		return nil, fmt.Errorf("investment_repo.GetInvestment: %w", err)
	}
	return &ci, nil
}

// GetInvestmentsByHold returns all investments for a hold.
func (r *InvestmentRepository) GetInvestmentsByHold(ctx context.Context, holdID uuid.UUID) ([]*domain.ConsumerInvestment, error) {
	var cis []*domain.ConsumerInvestment
	err := r.db.SelectContext(ctx, &cis, `
		SELECT * FROM consumer_investments WHERE hold_id = $1 ORDER BY created_at`,
		holdID)
	if err != nil {
		return nil, fmt.Errorf("investment_repo.GetInvestmentsByHold: %w", err)
	}
	return cis, nil
}

// GetOpenInvestmentsByHold returns the open investments for a hold.
func (r *InvestmentRepository) GetOpenInvestmentsByHold(ctx context.Context, holdID uuid.UUID) ([]*domain.ConsumerInvestment, error) {
	var cis []*domain.ConsumerInvestment
	err := r.db.SelectContext(ctx, &cis, `
		SELECT * FROM consumer_investments
		WHERE hold_id = $1 AND status = $2
		ORDER BY created_at`,
		holdID, domain.InvestmentOpen)
	if err != nil {
		return nil, fmt.Errorf("investment_repo.GetOpenInvestmentsByHold: %w", err)
	}
	return cis, nil
}

// GetOpenInvestmentsByPool returns the open investments contributing to a
// pool.  Used for the distribution snapshot.
func (r *InvestmentRepository) GetOpenInvestmentsByPool(ctx context.Context, poolID uuid.UUID) ([]*domain.ConsumerInvestment, error) {
	var cis []*domain.ConsumerInvestment
	err := r.db.SelectContext(ctx, &cis, `
		SELECT * FROM consumer_investments
		WHERE pool_id = $1 AND status = $2
		ORDER BY created_at`,
		poolID, domain.InvestmentOpen)
	if err != nil {
		return nil, fmt.Errorf("investment_repo.GetOpenInvestmentsByPool: %w", err)
	}
	return cis, nil
}

// CloseInvestment transitions an open investment into a terminal status,
// guarded by status = 'open' so a concurrent close affects zero rows.
// Returns ErrInvestmentClosed on the no-op.
func (r *InvestmentRepository) CloseInvestment(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status domain.InvestmentStatus, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE consumer_investments
		SET status = $1, closed_at = $2
		WHERE id = $3 AND status = $4`,
		status, at, id, domain.InvestmentOpen)
	if err != nil {
		return fmt.Errorf("investment_repo.CloseInvestment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInvestmentClosed
	}
	return nil
}

// RecordValue updates the marked-to-market value and return rate.
func (r *InvestmentRepository) RecordValue(ctx context.Context, id uuid.UUID, value, returnRate decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE consumer_investments
		SET current_value = $1, return_rate = $2
		WHERE id = $3 AND status = $4`,
		value, returnRate, id, domain.InvestmentOpen)
	if err != nil {
		return fmt.Errorf("investment_repo.RecordValue: %w", err)
	}
	return nil
}
