package service

import (
	"context"
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

// FalloutService executes the loss-split settlement for a hold whose risky
// investment breached the stop-loss and could not be withdrawn.  Resolution
// is a single database transaction: all four share debits, the investment
// close, the sub-hold writedown, and the fallout record land together or not
// at all.
type FalloutService struct {
	db          *sqlx.DB
	falloutRepo *repository.FalloutRepository
	holdRepo    *repository.HoldRepository
	ledger      *LedgerService
	investments *InvestmentService
	publisher   EventPublisher
	cfg         *config.Config
	logger      *slog.Logger
}

// NewFalloutService creates a FalloutService.
func NewFalloutService(
	db *sqlx.DB,
	falloutRepo *repository.FalloutRepository,
	holdRepo *repository.HoldRepository,
	ledger *LedgerService,
	investments *InvestmentService,
	cfg *config.Config,
	logger *slog.Logger,
) *FalloutService {
	return &FalloutService{
		db:          db,
		falloutRepo: falloutRepo,
		holdRepo:    holdRepo,
		ledger:      ledger,
		investments: investments,
		cfg:         cfg,
		logger:      logger,
	}
}

// SetPublisher injects the notification hub post-construction.
func (s *FalloutService) SetPublisher(p EventPublisher) { s.publisher = p }

// ──────────────────────────────────────────────────────────────────────────────
// Resolution
// ──────────────────────────────────────────────────────────────────────────────

// Resolve settles a fallout for the hold.  The cost portion of the loss
// splits 50/50 between borrower and owner; the clamped capital loss splits
// 50/50 on top, with the borrower's anti-collateral buffer consumed toward
// the borrower's capital-loss debit.
//
// A second resolution for the same hold fails with
// ErrFalloutAlreadyResolved.  When a party cannot cover its share the
// settlement is parked in the retry queue and Resolve returns (nil, nil);
// the scheduler re-attempts it after the grace period.
func (s *FalloutService) Resolve(ctx context.Context, holdID uuid.UUID, totalLoss decimal.Decimal) (*domain.FalloutRecord, error) {
	if totalLoss.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	exists, err := s.falloutRepo.Exists(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("fallout.Resolve: %w", err)
	}
	if exists {
		return nil, domain.ErrFalloutAlreadyResolved
	}

	hold, err := s.holdRepo.GetByID(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("fallout.Resolve: %w", err)
	}
	if hold.IsTerminal() {
		return nil, domain.ErrHoldNotActive
	}

	split := domain.ComputeFalloutSplit(totalLoss, hold.ShippingCost, hold.InsuranceCost)

	antiApplied := decimal.Zero
	riskyCfg, err := s.holdRepo.GetRiskyConfig(ctx, holdID)
	switch {
	case err == nil && riskyCfg.Enabled:
		antiApplied = decimal.Min(riskyCfg.AntiCollateral, split.BorrowerCapitalLoss)
	case err != nil && !errors.Is(err, domain.ErrRiskyModeNotEnabled):
		return nil, fmt.Errorf("fallout.Resolve: %w", err)
	}

	rec := &domain.FalloutRecord{
		ID:                    uuid.New(),
		HoldID:                holdID,
		ItemID:                hold.ItemID,
		TotalLoss:             totalLoss,
		ShippingCost:          hold.ShippingCost,
		InsuranceCost:         hold.InsuranceCost,
		BorrowerShare:         split.BorrowerShare,
		OwnerShare:            split.OwnerShare,
		CapitalLoss:           split.CapitalLoss,
		BorrowerCapitalLoss:   split.BorrowerCapitalLoss,
		OwnerCapitalLoss:      split.OwnerCapitalLoss,
		AntiCollateralApplied: antiApplied,
		ReportingDiscrepancy:  split.ReportingDiscrepancy,
		ResolvedAt:            time.Now().UTC(),
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		// Both party wallets lock up front in ascending id order; the debits
		// below reacquire the already-held row locks.
		if _, _, err := s.ledger.walletRepo.LockPair(ctx, tx, hold.BorrowerWalletID, hold.OwnerWalletID); err != nil {
			return err
		}

		if err := s.debitShare(ctx, tx, hold.BorrowerWalletID, split.BorrowerShare, holdID, "fallout cost share"); err != nil {
			return err
		}
		borrowerCapDebit := split.BorrowerCapitalLoss.Sub(antiApplied)
		if err := s.debitShare(ctx, tx, hold.BorrowerWalletID, borrowerCapDebit, holdID, "fallout capital loss"); err != nil {
			return err
		}
		if err := s.debitShare(ctx, tx, hold.OwnerWalletID, split.OwnerShare, holdID, "fallout cost share"); err != nil {
			return err
		}
		if err := s.debitShare(ctx, tx, hold.OwnerWalletID, split.OwnerCapitalLoss, holdID, "fallout capital loss"); err != nil {
			return err
		}

		if err := s.investments.CloseForFalloutTx(ctx, tx, holdID); err != nil {
			return err
		}
		if err := s.writeOffHeldSubHolds(ctx, tx, holdID); err != nil {
			return err
		}
		if riskyCfg != nil && riskyCfg.Enabled {
			if err := s.holdRepo.SetRiskyEnabled(ctx, tx, holdID, false); err != nil {
				return err
			}
		}
		if err := s.holdRepo.SetStatus(ctx, tx, holdID, domain.HoldStatusFalloutResolved); err != nil {
			return err
		}
		return s.falloutRepo.Create(ctx, tx, rec)
	})
	if errors.Is(err, domain.ErrInsufficientFunds) {
		return nil, s.park(ctx, holdID, totalLoss)
	}
	if err != nil {
		return nil, fmt.Errorf("fallout.Resolve: %w", err)
	}

	if err := s.falloutRepo.DequeueRetry(ctx, holdID); err != nil {
		s.logger.Warn("fallout: dequeue retry failed", "hold", holdID, "error", err)
	}

	metrics.FalloutsResolvedTotal.Inc()
	s.publish(domain.Event{
		Type:      domain.EventFalloutResolved,
		HoldID:    holdID,
		ItemID:    hold.ItemID,
		Amount:    totalLoss,
		Message:   fmt.Sprintf("Fallout resolved: loss %s split between parties", totalLoss.StringFixed(4)),
		Timestamp: time.Now().UTC(),
	})
	s.logger.Info("fallout resolved",
		"hold", holdID, "total_loss", totalLoss,
		"borrower_share", split.BorrowerShare, "owner_share", split.OwnerShare,
		"capital_loss", split.CapitalLoss, "anti_collateral_applied", antiApplied,
		"reporting_discrepancy", split.ReportingDiscrepancy)
	return rec, nil
}

// debitShare applies one party's share, skipping zero amounts.
func (s *FalloutService) debitShare(ctx context.Context, tx *sqlx.Tx, walletID uuid.UUID, amount decimal.Decimal, holdID uuid.UUID, desc string) error {
	if !amount.IsPositive() {
		return nil
	}
	_, err := s.ledger.DebitTx(ctx, tx, walletID, amount, domain.TxFallout, &holdID, desc)
	return err
}

// writeOffHeldSubHolds marks every still-held sub-hold as lost.  The
// collateral they represent is consumed by the settlement.
func (s *FalloutService) writeOffHeldSubHolds(ctx context.Context, tx *sqlx.Tx, holdID uuid.UUID) error {
	subs, err := s.holdRepo.GetSubHolds(ctx, holdID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.State != domain.SubHoldHeld {
			continue
		}
		if err := s.holdRepo.SetSubHoldState(ctx, tx, sub.ID, domain.SubHoldLost); err != nil {
			return err
		}
	}
	return nil
}

// park queues the resolution for a later attempt after the grace period.
func (s *FalloutService) park(ctx context.Context, holdID uuid.UUID, totalLoss decimal.Decimal) error {
	next := time.Now().UTC().Add(s.cfg.Fallout.RetryGracePeriod)
	if err := s.falloutRepo.EnqueueRetry(ctx, holdID, totalLoss, next); err != nil {
		return fmt.Errorf("fallout.Resolve: park: %w", err)
	}
	metrics.FalloutRetriesTotal.Inc()
	s.logger.Warn("fallout parked for retry: insufficient funds",
		"hold", holdID, "total_loss", totalLoss, "next_attempt", next)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Retry processing
// ──────────────────────────────────────────────────────────────────────────────

// ProcessRetries re-attempts parked resolutions whose grace period elapsed.
// Called by the scheduler.
func (s *FalloutService) ProcessRetries(ctx context.Context) error {
	due, err := s.falloutRepo.DueRetries(ctx, time.Now().UTC(), s.cfg.Fallout.MaxRetryAttempts)
	if err != nil {
		return fmt.Errorf("fallout.ProcessRetries: %w", err)
	}
	for _, retry := range due {
		_, err := s.Resolve(ctx, retry.HoldID, retry.TotalLoss)
		switch {
		case errors.Is(err, domain.ErrFalloutAlreadyResolved):
			// Resolved elsewhere; drop the stale queue entry.
			if err := s.falloutRepo.DequeueRetry(ctx, retry.HoldID); err != nil {
				s.logger.Warn("fallout: dequeue stale retry failed", "hold", retry.HoldID, "error", err)
			}
		case err != nil:
			s.logger.Error("fallout retry failed", "hold", retry.HoldID, "attempt", retry.Attempts, "error", err)
		}
	}
	return nil
}

// GetRecord fetches the fallout record for a hold.
func (s *FalloutService) GetRecord(ctx context.Context, holdID uuid.UUID) (*domain.FalloutRecord, error) {
	rec, err := s.falloutRepo.GetByHold(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("fallout.GetRecord: %w", err)
	}
	return rec, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func (s *FalloutService) publish(evt domain.Event) {
	if s.publisher != nil {
		s.publisher.Publish(evt)
	}
}

func (s *FalloutService) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
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
