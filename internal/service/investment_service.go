package service

import (
	"context"
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

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into InvestmentService
// ──────────────────────────────────────────────────────────────────────────────

// PositionOracle supplies marked-to-market values and the withdrawal window
// gate.  Both calls are read-only and side-effect-free from the engine's
// perspective.  Implemented by oracle.MarketOracle; tests inject stubs.
type PositionOracle interface {
	CurrentValue(ctx context.Context, investmentID uuid.UUID) (decimal.Decimal, error)
	WithdrawalWindowOpen(ctx context.Context, investmentID uuid.UUID) (bool, error)
	// Forget releases per-investment oracle state once a position is closed.
	Forget(investmentID uuid.UUID)
}

// EventPublisher delivers settlement events best-effort.  Implementations
// must never block; a lost event never fails a settlement.
type EventPublisher interface {
	Publish(evt domain.Event)
}

// UtilizationSource supplies the platform utilization metric driving
// automatic pool resolution.  Implemented by InvestmentRepository.
type UtilizationSource interface {
	Utilization(ctx context.Context) (decimal.Decimal, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// InvestmentService
// ──────────────────────────────────────────────────────────────────────────────

// InvestmentService allocates investable sub-hold funds into pools, executes
// emergency and release withdrawals, and distributes herd-pool returns.
type InvestmentService struct {
	db          *sqlx.DB
	investRepo  *repository.InvestmentRepository
	holdRepo    *repository.HoldRepository
	ledger      *LedgerService
	oracle      PositionOracle
	utilization UtilizationSource
	publisher   EventPublisher
	cfg         *config.Config
	logger      *slog.Logger
}

// NewInvestmentService creates an InvestmentService.
func NewInvestmentService(
	db *sqlx.DB,
	investRepo *repository.InvestmentRepository,
	holdRepo *repository.HoldRepository,
	ledger *LedgerService,
	oracle PositionOracle,
	utilization UtilizationSource,
	cfg *config.Config,
	logger *slog.Logger,
) *InvestmentService {
	return &InvestmentService{
		db:          db,
		investRepo:  investRepo,
		holdRepo:    holdRepo,
		ledger:      ledger,
		oracle:      oracle,
		utilization: utilization,
		cfg:         cfg,
		logger:      logger,
	}
}

// SetPublisher injects the notification hub post-construction.
func (s *InvestmentService) SetPublisher(p EventPublisher) { s.publisher = p }

// ──────────────────────────────────────────────────────────────────────────────
// Allocation
// ──────────────────────────────────────────────────────────────────────────────

// AllocateTx allocates an investable sub-hold into a pool inside the caller's
// transaction.  The amount splits exactly in half: the consumer share lands
// in the resolved pool, the platform share in the platform-wide pool — the
// split is never skipped or approximated.
func (s *InvestmentService) AllocateTx(ctx context.Context, tx *sqlx.Tx, hold *domain.Hold, sub *domain.SubHold) (*domain.ConsumerInvestment, error) {
	if !sub.Investable || sub.State != domain.SubHoldHeld {
		return nil, fmt.Errorf("investment.Allocate: sub-hold %s is not allocatable", sub.ID)
	}

	poolType, err := s.resolvePoolType(ctx, hold)
	if err != nil {
		return nil, err
	}
	if hold.PoolType == domain.PoolAutomatic {
		if err := s.holdRepo.SetAssignedPoolType(ctx, tx, hold.ID, poolType); err != nil {
			return nil, fmt.Errorf("investment.Allocate: %w", err)
		}
	}

	consumerShare, platformShare := domain.SplitAllocation(sub.Amount)

	pool, err := s.investRepo.EnsurePool(ctx, tx, poolKeyFor(poolType, hold.ID), poolType, domain.RiskBalanced)
	if err != nil {
		return nil, fmt.Errorf("investment.Allocate: consumer pool: %w", err)
	}
	platformPool, err := s.investRepo.EnsurePool(ctx, tx, domain.PlatformPoolKey, domain.PoolHerd, domain.RiskBalanced)
	if err != nil {
		return nil, fmt.Errorf("investment.Allocate: platform pool: %w", err)
	}

	if err := s.investRepo.AddContribution(ctx, tx, pool.ID, consumerShare); err != nil {
		return nil, fmt.Errorf("investment.Allocate: %w", err)
	}
	if err := s.investRepo.AddContribution(ctx, tx, platformPool.ID, platformShare); err != nil {
		return nil, fmt.Errorf("investment.Allocate: %w", err)
	}

	ci := &domain.ConsumerInvestment{
		ID:            uuid.New(),
		HoldID:        hold.ID,
		SubHoldID:     sub.ID,
		PoolID:        pool.ID,
		ConsumerShare: consumerShare,
		PlatformShare: platformShare,
		InitialValue:  sub.Amount,
		CurrentValue:  sub.Amount,
		ReturnRate:    decimal.Zero,
		Status:        domain.InvestmentOpen,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.investRepo.CreateInvestment(ctx, tx, ci); err != nil {
		return nil, fmt.Errorf("investment.Allocate: %w", err)
	}
	if err := s.holdRepo.SetSubHoldState(ctx, tx, sub.ID, domain.SubHoldInvested); err != nil {
		return nil, fmt.Errorf("investment.Allocate: %w", err)
	}

	metrics.AllocationsTotal.WithLabelValues(string(poolType)).Inc()
	return ci, nil
}

// resolvePoolType applies the automatic-mode hysteresis policy.
func (s *InvestmentService) resolvePoolType(ctx context.Context, hold *domain.Hold) (domain.PoolType, error) {
	if hold.PoolType != domain.PoolAutomatic {
		return hold.PoolType, nil
	}
	util, err := s.utilization.Utilization(ctx)
	if err != nil {
		return "", fmt.Errorf("investment.resolvePoolType: utilization: %w", err)
	}
	resolved := domain.ResolvePoolType(
		hold.PoolType,
		hold.AssignedPoolType,
		util,
		decimal.NewFromFloat(s.cfg.Investment.IndividualThreshold),
		decimal.NewFromFloat(s.cfg.Investment.HerdThreshold),
	)
	return resolved, nil
}

// poolKeyFor derives the pool row key: herd allocations share one pool,
// individual allocations get a per-hold pool.
func poolKeyFor(pt domain.PoolType, holdID uuid.UUID) string {
	if pt == domain.PoolHerd {
		return "herd"
	}
	return "individual:" + holdID.String()
}

// ──────────────────────────────────────────────────────────────────────────────
// Withdrawal
// ──────────────────────────────────────────────────────────────────────────────

// AttemptWithdrawal tries to pull an open investment out of its pool at the
// current marked value.  A closed withdrawal window yields
// (Withdrawn=false, nil): an expected outcome that routes the risk monitor to
// the fallout path, never a retry loop.
func (s *InvestmentService) AttemptWithdrawal(ctx context.Context, investmentID uuid.UUID) (domain.WithdrawalResult, error) {
	ci, err := s.investRepo.GetInvestment(ctx, investmentID)
	if err != nil {
		return domain.WithdrawalResult{}, fmt.Errorf("investment.AttemptWithdrawal: %w", err)
	}
	if !ci.IsOpen() {
		return domain.WithdrawalResult{}, domain.ErrInvestmentClosed
	}

	open, err := s.oracle.WithdrawalWindowOpen(ctx, investmentID)
	if err != nil {
		return domain.WithdrawalResult{}, fmt.Errorf("investment.AttemptWithdrawal: window check: %w", err)
	}
	if !open {
		metrics.WithdrawalAttemptsTotal.WithLabelValues("window_closed").Inc()
		return domain.WithdrawalResult{Withdrawn: false}, nil
	}

	value, err := s.oracle.CurrentValue(ctx, investmentID)
	if err != nil {
		return domain.WithdrawalResult{}, fmt.Errorf("investment.AttemptWithdrawal: value: %w", err)
	}

	hold, err := s.holdRepo.GetByID(ctx, ci.HoldID)
	if err != nil {
		return domain.WithdrawalResult{}, fmt.Errorf("investment.AttemptWithdrawal: %w", err)
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.investRepo.CloseInvestment(ctx, tx, ci.ID, domain.InvestmentWithdrawn, time.Now().UTC()); err != nil {
			return err
		}
		if err := s.investRepo.RemoveContribution(ctx, tx, ci.PoolID, ci.ConsumerShare); err != nil {
			return err
		}
		platformPool, err := s.investRepo.EnsurePool(ctx, tx, domain.PlatformPoolKey, domain.PoolHerd, domain.RiskBalanced)
		if err != nil {
			return err
		}
		if err := s.investRepo.RemoveContribution(ctx, tx, platformPool.ID, ci.PlatformShare); err != nil {
			return err
		}
		// Funds come back to the borrower as plain, non-investable balance.
		ciID := ci.ID
		if _, err := s.ledger.CreditTx(ctx, tx, hold.BorrowerWalletID, value, domain.TxInvestReturn, &ciID,
			fmt.Sprintf("investment withdrawn at %s", value.StringFixed(4))); err != nil {
			return err
		}
		return s.holdRepo.SetSubHoldState(ctx, tx, ci.SubHoldID, domain.SubHoldReturned)
	})
	if err != nil {
		return domain.WithdrawalResult{}, fmt.Errorf("investment.AttemptWithdrawal: %w", err)
	}

	s.oracle.Forget(ci.ID)
	metrics.WithdrawalAttemptsTotal.WithLabelValues("withdrawn").Inc()
	s.publish(domain.Event{
		Type:      domain.EventInvestmentClosed,
		HoldID:    ci.HoldID,
		ItemID:    hold.ItemID,
		Amount:    value,
		Message:   fmt.Sprintf("Investment withdrawn: %s returned to borrower wallet", value.StringFixed(4)),
		Timestamp: time.Now().UTC(),
	})
	return domain.WithdrawalResult{Withdrawn: true, Amount: value}, nil
}

// WithdrawAllForRelease pulls every open investment of a hold back before a
// release.  A closed window surfaces ErrWithdrawalWindowClosed so the caller
// retries the release later; nothing is force-liquidated.
func (s *InvestmentService) WithdrawAllForRelease(ctx context.Context, holdID uuid.UUID) error {
	open, err := s.investRepo.GetOpenInvestmentsByHold(ctx, holdID)
	if err != nil {
		return fmt.Errorf("investment.WithdrawAllForRelease: %w", err)
	}
	for _, ci := range open {
		res, err := s.AttemptWithdrawal(ctx, ci.ID)
		if err != nil {
			return fmt.Errorf("investment.WithdrawAllForRelease: %w", err)
		}
		if !res.Withdrawn {
			return domain.ErrWithdrawalWindowClosed
		}
	}
	return nil
}

// CloseForFalloutTx marks a hold's open investments as consumed by a fallout
// and reverses their pool contributions, inside the caller's settlement
// transaction.
func (s *InvestmentService) CloseForFalloutTx(ctx context.Context, tx *sqlx.Tx, holdID uuid.UUID) error {
	open, err := s.investRepo.GetOpenInvestmentsByHold(ctx, holdID)
	if err != nil {
		return fmt.Errorf("investment.CloseForFallout: %w", err)
	}
	now := time.Now().UTC()
	for _, ci := range open {
		if err := s.investRepo.CloseInvestment(ctx, tx, ci.ID, domain.InvestmentFallout, now); err != nil {
			return fmt.Errorf("investment.CloseForFallout: %w", err)
		}
		if err := s.investRepo.RemoveContribution(ctx, tx, ci.PoolID, ci.ConsumerShare); err != nil {
			return fmt.Errorf("investment.CloseForFallout: %w", err)
		}
		platformPool, err := s.investRepo.EnsurePool(ctx, tx, domain.PlatformPoolKey, domain.PoolHerd, domain.RiskBalanced)
		if err != nil {
			return fmt.Errorf("investment.CloseForFallout: %w", err)
		}
		if err := s.investRepo.RemoveContribution(ctx, tx, platformPool.ID, ci.PlatformShare); err != nil {
			return fmt.Errorf("investment.CloseForFallout: %w", err)
		}
		if err := s.holdRepo.SetSubHoldState(ctx, tx, ci.SubHoldID, domain.SubHoldLost); err != nil {
			return fmt.Errorf("investment.CloseForFallout: %w", err)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Valuation & status
// ──────────────────────────────────────────────────────────────────────────────

// RecordValue stores a fresh marked-to-market value for an open investment.
// Best-effort: called by the risk monitor each tick.
func (s *InvestmentService) RecordValue(ctx context.Context, investmentID uuid.UUID, value decimal.Decimal) error {
	ci, err := s.investRepo.GetInvestment(ctx, investmentID)
	if err != nil {
		return fmt.Errorf("investment.RecordValue: %w", err)
	}
	rate := decimal.Zero
	if !ci.InitialValue.IsZero() {
		rate = value.Sub(ci.InitialValue).Div(ci.InitialValue)
	}
	if err := s.investRepo.RecordValue(ctx, investmentID, value, rate); err != nil {
		return fmt.Errorf("investment.RecordValue: %w", err)
	}
	return nil
}

// GetInvestmentStatus returns all investments for an item's hold with values
// refreshed from the oracle where possible.
func (s *InvestmentService) GetInvestmentStatus(ctx context.Context, itemID uuid.UUID) (*domain.InvestmentStatusView, error) {
	hold, err := s.holdRepo.GetByItemID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("investment.GetInvestmentStatus: %w", err)
	}
	cis, err := s.investRepo.GetInvestmentsByHold(ctx, hold.ID)
	if err != nil {
		return nil, fmt.Errorf("investment.GetInvestmentStatus: %w", err)
	}
	view := &domain.InvestmentStatusView{HoldID: hold.ID, ItemID: itemID}
	for _, ci := range cis {
		if ci.IsOpen() {
			if v, err := s.oracle.CurrentValue(ctx, ci.ID); err == nil {
				ci.CurrentValue = v
				if !ci.InitialValue.IsZero() {
					ci.ReturnRate = v.Sub(ci.InitialValue).Div(ci.InitialValue)
				}
			}
		}
		view.Investments = append(view.Investments, *ci)
	}
	return view, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Herd return distribution
// ──────────────────────────────────────────────────────────────────────────────

// DistributeReturns shares a herd pool's undistributed returns among its
// members, proportional to each member's contribution at the time of
// distribution — never retroactively.  The member snapshot is taken once and
// is immutable for the computation.
func (s *InvestmentService) DistributeReturns(ctx context.Context, poolID uuid.UUID) ([]domain.PoolMemberShare, error) {
	pool, err := s.investRepo.GetPoolByID(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("investment.DistributeReturns: %w", err)
	}
	if pool.Type != domain.PoolHerd || pool.Key == domain.PlatformPoolKey {
		return nil, domain.ErrNotHerdPool
	}

	members, err := s.investRepo.GetOpenInvestmentsByPool(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("investment.DistributeReturns: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	// Accrued return = marked growth across members.
	accrued := decimal.Zero
	totalContribution := decimal.Zero
	for _, m := range members {
		accrued = accrued.Add(m.CurrentValue.Sub(m.InitialValue))
		totalContribution = totalContribution.Add(m.ConsumerShare)
	}
	if !accrued.Sub(pool.TotalReturns).IsPositive() || totalContribution.IsZero() {
		return nil, nil
	}

	// Resolve payout wallets before opening the settlement transaction.
	wallets := make(map[uuid.UUID]uuid.UUID, len(members))
	for _, m := range members {
		hold, err := s.holdRepo.GetByID(ctx, m.HoldID)
		if err != nil {
			return nil, fmt.Errorf("investment.DistributeReturns: %w", err)
		}
		wallets[m.ID] = hold.BorrowerWalletID
	}

	var (
		shares        []domain.PoolMemberShare
		undistributed decimal.Decimal
	)
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		// The pool row lock serializes concurrent distributions; the
		// undistributed figure is recomputed under it so the same returns can
		// never be paid out twice.
		locked, err := s.investRepo.LockPool(ctx, tx, poolID)
		if err != nil {
			return err
		}
		undistributed = accrued.Sub(locked.TotalReturns)
		if !undistributed.IsPositive() {
			return nil
		}

		// Immutable snapshot: shares are fixed before any payout is applied.
		shares = make([]domain.PoolMemberShare, 0, len(members))
		paid := decimal.Zero
		for i, m := range members {
			payout := undistributed.Mul(m.ConsumerShare).Div(totalContribution).RoundDown(4)
			if i == len(members)-1 {
				payout = undistributed.Sub(paid) // remainder lands on the last member
			}
			paid = paid.Add(payout)
			shares = append(shares, domain.PoolMemberShare{
				InvestmentID: m.ID,
				WalletID:     wallets[m.ID],
				Contribution: m.ConsumerShare,
				Payout:       payout,
			})
		}

		for _, sh := range shares {
			if !sh.Payout.IsPositive() {
				continue
			}
			invID := sh.InvestmentID
			if _, err := s.ledger.CreditTx(ctx, tx, sh.WalletID, sh.Payout, domain.TxPoolPayout, &invID,
				fmt.Sprintf("herd pool return: %s", sh.Payout.StringFixed(4))); err != nil {
				return err
			}
		}
		return s.investRepo.AddReturns(ctx, tx, poolID, undistributed)
	})
	if err != nil {
		return nil, fmt.Errorf("investment.DistributeReturns: %w", err)
	}
	if len(shares) == 0 {
		// A concurrent distribution got there first.
		return nil, nil
	}

	s.publish(domain.Event{
		Type:      domain.EventReturnsDistributed,
		Amount:    undistributed,
		Message:   fmt.Sprintf("Herd pool %s distributed %s across %d members", pool.Key, undistributed.StringFixed(4), len(shares)),
		Timestamp: time.Now().UTC(),
	})
	return shares, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func (s *InvestmentService) publish(evt domain.Event) {
	if s.publisher != nil {
		s.publisher.Publish(evt)
	}
}

func (s *InvestmentService) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
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
