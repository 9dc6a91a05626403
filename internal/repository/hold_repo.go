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
)

// HoldRepository handles database operations for holds, their sub-holds, and
// per-hold risky-mode configs.
type HoldRepository struct {
	db *sqlx.DB
}

// NewHoldRepository creates a new HoldRepository.
func NewHoldRepository(db *sqlx.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

// Create inserts a hold and its sub-holds inside tx.
func (r *HoldRepository) Create(ctx context.Context, tx *sqlx.Tx, h *domain.Hold, subs []*domain.SubHold) error {
	query := `
		INSERT INTO holds
			(id, item_id, borrower_wallet_id, owner_wallet_id, shipping_cost, insurance_cost,
			 status, pool_type, assigned_pool_type, created_at, updated_at)
		VALUES
			(:id, :item_id, :borrower_wallet_id, :owner_wallet_id, :shipping_cost, :insurance_cost,
			 :status, :pool_type, :assigned_pool_type, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, h); err != nil {
		return fmt.Errorf("hold_repo.Create: %w", err)
	}
	for _, s := range subs {
		sq := `
			INSERT INTO sub_holds (id, hold_id, kind, amount, investable, state, created_at, updated_at)
			VALUES (:id, :hold_id, :kind, :amount, :investable, :state, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, sq, s); err != nil {
			return fmt.Errorf("hold_repo.Create sub-hold %s: %w", s.Kind, err)
		}
	}
	return nil
}

// GetByID fetches a hold.
func (r *HoldRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Hold, error) {
	var h domain.Hold
	err := r.db.GetContext(ctx, &h, `SELECT * FROM holds WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrHoldNotFound
		}
		return nil, fmt.Errorf("hold_repo.GetByID: %w", err)
	}
	return &h, nil
}

// GetByItemID fetches the most recent hold for an item.
func (r *HoldRepository) GetByItemID(ctx context.Context, itemID uuid.UUID) (*domain.Hold, error) {
	var h domain.Hold
	err := r.db.GetContext(ctx, &h,
		`SELECT * FROM holds WHERE item_id = $1 ORDER BY created_at DESC LIMIT 1`, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrHoldNotFound
		}
		return nil, fmt.Errorf("hold_repo.GetByItemID: %w", err)
	}
	return &h, nil
}

// GetSubHolds returns all sub-holds of a hold.
func (r *HoldRepository) GetSubHolds(ctx context.Context, holdID uuid.UUID) ([]*domain.SubHold, error) {
	var subs []*domain.SubHold
	err := r.db.SelectContext(ctx, &subs,
		`SELECT * FROM sub_holds WHERE hold_id = $1 ORDER BY kind`, holdID)
	if err != nil {
		return nil, fmt.Errorf("hold_repo.GetSubHolds: %w", err)
	}
	return subs, nil
}

// GetSubHold returns one sub-hold of a hold by kind.
func (r *HoldRepository) GetSubHold(ctx context.Context, holdID uuid.UUID, kind domain.SubHoldKind) (*domain.SubHold, error) {
	var s domain.SubHold
	err := r.db.GetContext(ctx, &s,
		`SELECT * FROM sub_holds WHERE hold_id = $1 AND kind = $2`, holdID, kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrHoldNotFound
		}
		return nil, fmt.Errorf("hold_repo.GetSubHold: %w", err)
	}
	return &s, nil
}

// ── Guarded transitions ──────────────────────────────────────────────────────

// MarkShipped transitions active → shipped and flips the insurance sub-hold
// investable, guarded by the current status so a second call affects zero
// rows.  Returns ErrAlreadyShipped on the no-op, which callers treat as
// success.
func (r *HoldRepository) MarkShipped(ctx context.Context, tx *sqlx.Tx, holdID uuid.UUID, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE holds SET status = $1, shipped_at = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		domain.HoldStatusShipped, at, holdID, domain.HoldStatusActive)
	if err != nil {
		return fmt.Errorf("hold_repo.MarkShipped: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAlreadyShipped
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE sub_holds SET investable = TRUE, updated_at = now()
		WHERE hold_id = $1 AND kind = $2`,
		holdID, domain.SubHoldInsurance)
	if err != nil {
		return fmt.Errorf("hold_repo.MarkShipped insurance: %w", err)
	}
	return nil
}

// MarkReleased transitions a live hold to released, guarded by the current
// status so a concurrent release affects zero rows.  Returns
// ErrAlreadyReleased on the no-op, which callers treat as success.
func (r *HoldRepository) MarkReleased(ctx context.Context, tx *sqlx.Tx, holdID uuid.UUID, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE holds SET status = $1, released_at = $2, updated_at = now()
		WHERE id = $3 AND status IN ($4, $5)`,
		domain.HoldStatusReleased, at, holdID, domain.HoldStatusActive, domain.HoldStatusShipped)
	if err != nil {
		return fmt.Errorf("hold_repo.MarkReleased: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAlreadyReleased
	}
	return nil
}

// SetStatus transitions a hold to the given status inside tx.
func (r *HoldRepository) SetStatus(ctx context.Context, tx *sqlx.Tx, holdID uuid.UUID, status domain.HoldStatus) error {
	released := sql.NullTime{}
	if status == domain.HoldStatusReleased {
		released = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE holds SET status = $1, released_at = COALESCE($2, released_at), updated_at = now()
		WHERE id = $3`,
		status, released, holdID)
	if err != nil {
		return fmt.Errorf("hold_repo.SetStatus: %w", err)
	}
	return nil
}

// SetSubHoldState moves a sub-hold between held/invested/returned/lost.
func (r *HoldRepository) SetSubHoldState(ctx context.Context, tx *sqlx.Tx, subHoldID uuid.UUID, state domain.SubHoldState) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE sub_holds SET state = $1, updated_at = now() WHERE id = $2`,
		state, subHoldID)
	if err != nil {
		return fmt.Errorf("hold_repo.SetSubHoldState: %w", err)
	}
	return nil
}

// SetAssignedPoolType persists the automatic-mode resolution for hysteresis.
func (r *HoldRepository) SetAssignedPoolType(ctx context.Context, tx *sqlx.Tx, holdID uuid.UUID, pt domain.PoolType) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE holds SET assigned_pool_type = $1, updated_at = now() WHERE id = $2`,
		pt, holdID)
	if err != nil {
		return fmt.Errorf("hold_repo.SetAssignedPoolType: %w", err)
	}
	return nil
}

// ── Risky-mode configs ───────────────────────────────────────────────────────

// UpsertRiskyConfig writes the per-hold risky-mode config inside tx.  A hold
// that disabled risky mode earlier gets its row refreshed on re-enable.
func (r *HoldRepository) UpsertRiskyConfig(ctx context.Context, tx *sqlx.Tx, c *domain.RiskyModeConfig) error {
	query := `
		INSERT INTO risky_configs
			(hold_id, risk_tolerance, anti_collateral, stop_loss_threshold, enabled, created_at, updated_at)
		VALUES
			(:hold_id, :risk_tolerance, :anti_collateral, :stop_loss_threshold, :enabled, :created_at, :updated_at)
		ON CONFLICT (hold_id) DO UPDATE
		SET risk_tolerance = EXCLUDED.risk_tolerance,
		    anti_collateral = EXCLUDED.anti_collateral,
		    stop_loss_threshold = EXCLUDED.stop_loss_threshold,
		    enabled = EXCLUDED.enabled,
		    updated_at = now()`
	if _, err := tx.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("hold_repo.UpsertRiskyConfig: %w", err)
	}
	return nil
}

// GetRiskyConfig fetches a hold's risky-mode config; ErrRiskyModeNotEnabled
// when none exists.
func (r *HoldRepository) GetRiskyConfig(ctx context.Context, holdID uuid.UUID) (*domain.RiskyModeConfig, error) {
	var c domain.RiskyModeConfig
	err := r.db.GetContext(ctx, &c, `SELECT * FROM risky_configs WHERE hold_id = $1`, holdID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRiskyModeNotEnabled
		}
		return nil, fmt.Errorf("hold_repo.GetRiskyConfig: %w", err)
	}
	return &c, nil
}

// SetRiskyEnabled flips the enabled flag inside tx.
func (r *HoldRepository) SetRiskyEnabled(ctx context.Context, tx *sqlx.Tx, holdID uuid.UUID, enabled bool) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE risky_configs SET enabled = $1, updated_at = now() WHERE hold_id = $2`,
		enabled, holdID)
	if err != nil {
		return fmt.Errorf("hold_repo.SetRiskyEnabled: %w", err)
	}
	return nil
}

// GetEnabledRiskyConfigs returns all holds with risky mode on.  Used at
// startup to resume monitors.
func (r *HoldRepository) GetEnabledRiskyConfigs(ctx context.Context) ([]*domain.RiskyModeConfig, error) {
	var cs []*domain.RiskyModeConfig
	err := r.db.SelectContext(ctx, &cs, `SELECT * FROM risky_configs WHERE enabled = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("hold_repo.GetEnabledRiskyConfigs: %w", err)
	}
	return cs, nil
}
