package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lendaro/settlement/internal/config"
	"github.com/lendaro/settlement/internal/domain"
	"github.com/lendaro/settlement/internal/metrics"
	"github.com/lendaro/settlement/internal/repository"
	"github.com/shopspring/decimal"
)

// RiskMonitor starts and stops per-hold stop-loss watchers.  Implemented by
// monitor.Manager; tests inject stubs.
type RiskMonitor interface {
	Activate(cfg *domain.RiskyModeConfig)
	Deactivate(holdID uuid.UUID)
}

// HoldService owns the collateral hold lifecycle: creation, shipping,
// release, dispute, and the risky-mode opt-in.  Every money-moving operation
// runs inside one database transaction so a hold can never exist without its
// matching wallet debit, or the other way around.
type HoldService struct {
	db          *sqlx.DB
	holdRepo    *repository.HoldRepository
	falloutRepo *repository.FalloutRepository
	ledger      *LedgerService
	investments *InvestmentService
	monitor     RiskMonitor
	publisher   EventPublisher
	cfg         *config.Config
	logger      *slog.Logger
}

// NewHoldService creates a HoldService.
func NewHoldService(
	db *sqlx.DB,
	holdRepo *repository.HoldRepository,
	falloutRepo *repository.FalloutRepository,
	ledger *LedgerService,
	investments *InvestmentService,
	cfg *config.Config,
	logger *slog.Logger,
) *HoldService {
	return &HoldService{
		db:          db,
		holdRepo:    holdRepo,
		falloutRepo: falloutRepo,
		ledger:      ledger,
		investments: investments,
		cfg:         cfg,
		logger:      logger,
	}
}

// SetMonitor injects the risk monitor post-construction (the monitor itself
// depends on services built after this one).
func (s *HoldService) SetMonitor(m RiskMonitor) { s.monitor = m }

// SetPublisher injects the notification hub post-construction.
func (s *HoldService) SetPublisher(p EventPublisher) { s.publisher = p }

// ──────────────────────────────────────────────────────────────────────────────
// Creation
// ──────────────────────────────────────────────────────────────────────────────

// CreateHold debits the borrower for the full collateral amount and records
// the hold with its three sub-holds, atomically.  When extra protection is
// chosen, the additional sub-hold is allocated into a pool in the same
// transaction, so the funds are never idle-but-investable.
func (s *HoldService) CreateHold(ctx context.Context, req domain.CreateHoldRequest) (*domain.Hold, error) {
	if !req.ShippingCost.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if req.InsuranceAmount.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	if !req.PoolType.IsValid() {
		return nil, domain.ErrInvalidPoolType
	}

	comp := domain.ComposeHold(req.ShippingCost, req.InsuranceAmount, req.WithProtection)
	now := time.Now().UTC()

	hold := &domain.Hold{
		ID:               uuid.New(),
		ItemID:           req.ItemID,
		BorrowerWalletID: req.BorrowerWalletID,
		OwnerWalletID:    req.OwnerWalletID,
		ShippingCost:     req.ShippingCost,
		InsuranceCost:    req.InsuranceAmount,
		Status:           domain.HoldStatusActive,
		PoolType:         req.PoolType,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	subs := []*domain.SubHold{
		newSubHold(hold.ID, domain.SubHoldShipping, comp.Shipping, false, now),
	}
	var additional *domain.SubHold
	if comp.Additional.IsPositive() {
		additional = newSubHold(hold.ID, domain.SubHoldAdditional, comp.Additional, true, now)
		subs = append(subs, additional)
	}
	if comp.Insurance.IsPositive() {
		// Insurance becomes investable only once the item ships.
		subs = append(subs, newSubHold(hold.ID, domain.SubHoldInsurance, comp.Insurance, false, now))
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		holdID := hold.ID
		if _, err := s.ledger.DebitTx(ctx, tx, req.BorrowerWalletID, comp.Total(), domain.TxHold, &holdID,
			fmt.Sprintf("collateral hold for item %s", req.ItemID)); err != nil {
			return err
		}
		if err := s.holdRepo.Create(ctx, tx, hold, subs); err != nil {
			return err
		}
		if additional != nil {
			if _, err := s.investments.AllocateTx(ctx, tx, hold, additional); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hold.CreateHold: %w", err)
	}

	metrics.HoldsCreatedTotal.Inc()
	s.publish(domain.Event{
		Type:      domain.EventHoldCreated,
		HoldID:    hold.ID,
		ItemID:    hold.ItemID,
		Amount:    comp.Total(),
		Message:   fmt.Sprintf("Hold created: %s collateral locked", comp.Total().StringFixed(4)),
		Timestamp: time.Now().UTC(),
	})
	s.logger.Info("hold created",
		"hold", hold.ID, "item", hold.ItemID, "total", comp.Total(), "pool_type", hold.PoolType)
	return hold, nil
}

func newSubHold(holdID uuid.UUID, kind domain.SubHoldKind, amount decimal.Decimal, investable bool, now time.Time) *domain.SubHold {
	return &domain.SubHold{
		ID:         uuid.New(),
		HoldID:     holdID,
		Kind:       kind,
		Amount:     amount,
		Investable: investable,
		State:      domain.SubHoldHeld,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Shipping
// ──────────────────────────────────────────────────────────────────────────────

// MarkShipped transitions a hold to shipped and allocates the insurance
// sub-hold into a pool.  Calling it twice is a no-op success; any other state
// mismatch is an error.
func (s *HoldService) MarkShipped(ctx context.Context, holdID uuid.UUID) error {
	hold, err := s.holdRepo.GetByID(ctx, holdID)
	if err != nil {
		return fmt.Errorf("hold.MarkShipped: %w", err)
	}
	if hold.Status == domain.HoldStatusShipped {
		return nil // idempotent
	}
	if hold.Status != domain.HoldStatusActive {
		return domain.ErrHoldNotActive
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.holdRepo.MarkShipped(ctx, tx, holdID, time.Now().UTC()); err != nil {
			if domain.IsIdempotentNoop(err) {
				return nil // lost the race to a concurrent call
			}
			return err
		}
		ins, err := s.holdRepo.GetSubHold(ctx, holdID, domain.SubHoldInsurance)
		if err != nil {
			if errors.Is(err, domain.ErrHoldNotFound) {
				return nil // hold carries no insurance component
			}
			return err
		}
		if ins.State != domain.SubHoldHeld {
			return nil
		}
		ins.Investable = true
		hold.Status = domain.HoldStatusShipped
		_, err = s.investments.AllocateTx(ctx, tx, hold, ins)
		return err
	})
	if err != nil {
		return fmt.Errorf("hold.MarkShipped: %w", err)
	}

	s.publish(domain.Event{
		Type:      domain.EventHoldShipped,
		HoldID:    holdID,
		ItemID:    hold.ItemID,
		Message:   "Item shipped: insurance collateral is now investable",
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Release
// ──────────────────────────────────────────────────────────────────────────────

// Release returns all collateral to the borrower.  Open investments are
// withdrawn first; a closed withdrawal window aborts the release with
// ErrWithdrawalWindowClosed and the caller retries later.  Positions are
// never force-liquidated to satisfy a release.
func (s *HoldService) Release(ctx context.Context, holdID uuid.UUID) error {
	hold, err := s.holdRepo.GetByID(ctx, holdID)
	if err != nil {
		return fmt.Errorf("hold.Release: %w", err)
	}
	switch hold.Status {
	case domain.HoldStatusReleased:
		return nil // idempotent
	case domain.HoldStatusDisputed:
		return domain.ErrHoldDisputed
	case domain.HoldStatusActive, domain.HoldStatusShipped:
	default:
		return domain.ErrHoldNotActive
	}

	if err := s.investments.WithdrawAllForRelease(ctx, holdID); err != nil {
		return fmt.Errorf("hold.Release: %w", err)
	}

	subs, err := s.holdRepo.GetSubHolds(ctx, holdID)
	if err != nil {
		return fmt.Errorf("hold.Release: %w", err)
	}

	total := decimal.Zero
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, sub := range subs {
			if sub.State != domain.SubHoldHeld {
				continue // invested funds already came back via withdrawal
			}
			subID := sub.ID
			if _, err := s.ledger.CreditTx(ctx, tx, hold.BorrowerWalletID, sub.Amount, domain.TxHoldRelease, &subID,
				fmt.Sprintf("%s sub-hold released", sub.Kind)); err != nil {
				return err
			}
			if err := s.holdRepo.SetSubHoldState(ctx, tx, sub.ID, domain.SubHoldReturned); err != nil {
				return err
			}
			total = total.Add(sub.Amount)
		}
		if err := s.refundAntiCollateralTx(ctx, tx, hold); err != nil {
			return err
		}
		return s.holdRepo.MarkReleased(ctx, tx, holdID, time.Now().UTC())
	})
	if domain.IsIdempotentNoop(err) {
		return nil // lost the race to a concurrent release; its credits stand
	}
	if err != nil {
		return fmt.Errorf("hold.Release: %w", err)
	}

	if s.monitor != nil {
		s.monitor.Deactivate(holdID)
	}
	s.publish(domain.Event{
		Type:      domain.EventHoldReleased,
		HoldID:    holdID,
		ItemID:    hold.ItemID,
		Amount:    total,
		Message:   "Hold released: collateral returned to borrower",
		Timestamp: time.Now().UTC(),
	})
	s.logger.Info("hold released", "hold", holdID, "returned_held", total)
	return nil
}

// refundAntiCollateralTx returns the anti-collateral buffer and disables the
// risky config, inside the caller's transaction.  No-op when risky mode was
// never enabled.
func (s *HoldService) refundAntiCollateralTx(ctx context.Context, tx *sqlx.Tx, hold *domain.Hold) error {
	cfg, err := s.holdRepo.GetRiskyConfig(ctx, hold.ID)
	if err != nil {
		if errors.Is(err, domain.ErrRiskyModeNotEnabled) {
			return nil
		}
		return err
	}
	if !cfg.Enabled {
		return nil
	}
	holdID := hold.ID
	if cfg.AntiCollateral.IsPositive() {
		if _, err := s.ledger.CreditTx(ctx, tx, hold.BorrowerWalletID, cfg.AntiCollateral, domain.TxAntiRefund, &holdID,
			"anti-collateral refund"); err != nil {
			return err
		}
	}
	return s.holdRepo.SetRiskyEnabled(ctx, tx, hold.ID, false)
}

// ──────────────────────────────────────────────────────────────────────────────
// Dispute
// ──────────────────────────────────────────────────────────────────────────────

// Dispute freezes a hold pending fallout resolution.  Collateral stays
// locked; nothing moves until the fallout settles or the dispute is dropped
// by releasing.
func (s *HoldService) Dispute(ctx context.Context, holdID uuid.UUID) error {
	hold, err := s.holdRepo.GetByID(ctx, holdID)
	if err != nil {
		return fmt.Errorf("hold.Dispute: %w", err)
	}
	if hold.IsTerminal() {
		return domain.ErrHoldNotActive
	}
	if hold.Status == domain.HoldStatusDisputed {
		return nil // idempotent
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		return s.holdRepo.SetStatus(ctx, tx, holdID, domain.HoldStatusDisputed)
	})
	if err != nil {
		return fmt.Errorf("hold.Dispute: %w", err)
	}

	s.publish(domain.Event{
		Type:      domain.EventHoldDisputed,
		HoldID:    holdID,
		ItemID:    hold.ItemID,
		Message:   "Hold disputed: collateral frozen pending resolution",
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Risky mode
// ──────────────────────────────────────────────────────────────────────────────

// EnableRiskyMode debits the anti-collateral buffer, records the stop-loss
// config, and starts the per-hold risk monitor.
func (s *HoldService) EnableRiskyMode(ctx context.Context, holdID uuid.UUID, riskTolerance, antiCollateral decimal.Decimal) (*domain.RiskyModeConfig, error) {
	one := decimal.NewFromInt(1)
	if !riskTolerance.IsPositive() || riskTolerance.GreaterThanOrEqual(one) {
		return nil, domain.ErrInvalidRiskTolerance
	}
	if antiCollateral.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}

	hold, err := s.holdRepo.GetByID(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("hold.EnableRiskyMode: %w", err)
	}
	if !hold.IsActive() {
		return nil, domain.ErrHoldNotActive
	}
	if existing, err := s.holdRepo.GetRiskyConfig(ctx, holdID); err == nil && existing.Enabled {
		return nil, domain.ErrRiskyModeEnabled
	} else if err != nil && !errors.Is(err, domain.ErrRiskyModeNotEnabled) {
		return nil, fmt.Errorf("hold.EnableRiskyMode: %w", err)
	}

	now := time.Now().UTC()
	cfg := &domain.RiskyModeConfig{
		HoldID:            holdID,
		RiskTolerance:     riskTolerance,
		AntiCollateral:    antiCollateral,
		StopLossThreshold: riskTolerance,
		Enabled:           true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if antiCollateral.IsPositive() {
			if _, err := s.ledger.DebitTx(ctx, tx, hold.BorrowerWalletID, antiCollateral, domain.TxAntiCollateral, &holdID,
				"anti-collateral for risky mode"); err != nil {
				return err
			}
		}
		return s.holdRepo.UpsertRiskyConfig(ctx, tx, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("hold.EnableRiskyMode: %w", err)
	}

	if s.monitor != nil {
		s.monitor.Activate(cfg)
	}
	s.publish(domain.Event{
		Type:      domain.EventRiskyModeEnabled,
		HoldID:    holdID,
		ItemID:    hold.ItemID,
		Amount:    antiCollateral,
		Message:   fmt.Sprintf("Risky mode enabled: tolerance %s, anti-collateral %s", riskTolerance.String(), antiCollateral.StringFixed(4)),
		Timestamp: time.Now().UTC(),
	})
	return cfg, nil
}

// DisableRiskyMode stops the monitor and refunds the anti-collateral buffer.
func (s *HoldService) DisableRiskyMode(ctx context.Context, holdID uuid.UUID) error {
	hold, err := s.holdRepo.GetByID(ctx, holdID)
	if err != nil {
		return fmt.Errorf("hold.DisableRiskyMode: %w", err)
	}
	cfg, err := s.holdRepo.GetRiskyConfig(ctx, holdID)
	if err != nil {
		return fmt.Errorf("hold.DisableRiskyMode: %w", err)
	}
	if !cfg.Enabled {
		return domain.ErrRiskyModeNotEnabled
	}

	if s.monitor != nil {
		s.monitor.Deactivate(holdID)
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		return s.refundAntiCollateralTx(ctx, tx, hold)
	})
	if err != nil {
		return fmt.Errorf("hold.DisableRiskyMode: %w", err)
	}

	s.publish(domain.Event{
		Type:      domain.EventRiskyModeDisabled,
		HoldID:    holdID,
		ItemID:    hold.ItemID,
		Amount:    cfg.AntiCollateral,
		Message:   "Risky mode disabled: anti-collateral refunded",
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// CompleteDerisk finalizes a stop-loss that exited cleanly: the position was
// withdrawn, so the buffer goes back and the config flips off.  Called by the
// risk monitor.
func (s *HoldService) CompleteDerisk(ctx context.Context, holdID uuid.UUID) error {
	hold, err := s.holdRepo.GetByID(ctx, holdID)
	if err != nil {
		return fmt.Errorf("hold.CompleteDerisk: %w", err)
	}
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		return s.refundAntiCollateralTx(ctx, tx, hold)
	})
	if err != nil {
		return fmt.Errorf("hold.CompleteDerisk: %w", err)
	}
	s.logger.Info("risky position de-risked", "hold", holdID)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Status
// ──────────────────────────────────────────────────────────────────────────────

// GetHoldStatus aggregates a hold with its sub-holds, investments, risky
// config, and fallout record into one view.
func (s *HoldService) GetHoldStatus(ctx context.Context, holdID uuid.UUID) (*domain.HoldStatusView, error) {
	hold, err := s.holdRepo.GetByID(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("hold.GetHoldStatus: %w", err)
	}
	subs, err := s.holdRepo.GetSubHolds(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("hold.GetHoldStatus: %w", err)
	}

	view := &domain.HoldStatusView{Hold: *hold}
	for _, sub := range subs {
		view.SubHolds = append(view.SubHolds, *sub)
	}

	cis, err := s.investments.investRepo.GetInvestmentsByHold(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("hold.GetHoldStatus: %w", err)
	}
	for _, ci := range cis {
		view.Investments = append(view.Investments, *ci)
	}

	if cfg, err := s.holdRepo.GetRiskyConfig(ctx, holdID); err == nil {
		view.RiskyMode = cfg
	} else if !errors.Is(err, domain.ErrRiskyModeNotEnabled) {
		return nil, fmt.Errorf("hold.GetHoldStatus: %w", err)
	}

	if rec, err := s.falloutRepo.GetByHold(ctx, holdID); err == nil {
		view.Fallout = rec
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("hold.GetHoldStatus: %w", err)
	}
	return view, nil
}

// GetHoldByItem fetches the most recent hold for an item.
func (s *HoldService) GetHoldByItem(ctx context.Context, itemID uuid.UUID) (*domain.Hold, error) {
	hold, err := s.holdRepo.GetByItemID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("hold.GetHoldByItem: %w", err)
	}
	return hold, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func (s *HoldService) publish(evt domain.Event) {
	if s.publisher != nil {
		s.publisher.Publish(evt)
	}
}

func (s *HoldService) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
