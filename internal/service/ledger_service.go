package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lendaro/settlement/internal/domain"
	"github.com/lendaro/settlement/internal/repository"
	"github.com/shopspring/decimal"
)

// LedgerService is the single source of truth for money movement.  Every
// balance change locks the wallet row, re-checks the precondition, applies
// the new balance, and appends exactly one signed transaction record — all
// inside one database transaction.
type LedgerService struct {
	db         *sqlx.DB
	walletRepo *repository.WalletRepository
	logger     *slog.Logger
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(db *sqlx.DB, walletRepo *repository.WalletRepository, logger *slog.Logger) *LedgerService {
	return &LedgerService{db: db, walletRepo: walletRepo, logger: logger}
}

// ──────────────────────────────────────────────────────────────────────────────
// Transaction-scoped primitives
// ──────────────────────────────────────────────────────────────────────────────
// Other services compose these inside their own BeginTxx so that a hold
// creation or a fallout settlement is one atomic unit with its money moves.

// DebitTx removes amount from a wallet inside tx.  Fails with
// ErrInsufficientFunds before any mutation when the balance cannot cover it.
func (s *LedgerService) DebitTx(ctx context.Context, tx *sqlx.Tx, walletID uuid.UUID, amount decimal.Decimal, typ domain.TxType, refID *uuid.UUID, desc string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	w, err := s.walletRepo.LockForUpdate(ctx, tx, walletID)
	if err != nil {
		return nil, fmt.Errorf("ledger.DebitTx lock: %w", err)
	}
	if !w.CanCover(amount) {
		return nil, domain.ErrInsufficientFunds
	}
	return s.applyTx(ctx, tx, w, amount.Neg(), typ, refID, desc)
}

// CreditTx adds amount to a wallet inside tx.
func (s *LedgerService) CreditTx(ctx context.Context, tx *sqlx.Tx, walletID uuid.UUID, amount decimal.Decimal, typ domain.TxType, refID *uuid.UUID, desc string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	w, err := s.walletRepo.LockForUpdate(ctx, tx, walletID)
	if err != nil {
		return nil, fmt.Errorf("ledger.CreditTx lock: %w", err)
	}
	return s.applyTx(ctx, tx, w, amount, typ, refID, desc)
}

// applyTx writes the new balance and appends the audit record.  delta is
// signed.  The caller holds the row lock.
func (s *LedgerService) applyTx(ctx context.Context, tx *sqlx.Tx, w *domain.Wallet, delta decimal.Decimal, typ domain.TxType, refID *uuid.UUID, desc string) (*domain.Transaction, error) {
	after := w.Balance.Add(delta)
	if after.IsNegative() {
		// Should be unreachable behind the CanCover check; treat as a
		// correctness failure and abort the whole transaction.
		s.logger.Error("ledger: balance would go negative",
			"wallet", w.ID, "balance", w.Balance, "delta", delta, "type", typ)
		return nil, domain.ErrInsufficientFunds
	}
	if err := s.walletRepo.SetBalance(ctx, tx, w.ID, after); err != nil {
		return nil, fmt.Errorf("ledger.apply set balance: %w", err)
	}
	txn := &domain.Transaction{
		ID:            uuid.New(),
		WalletID:      w.ID,
		Type:          typ,
		Amount:        delta,
		BalanceBefore: w.Balance,
		BalanceAfter:  after,
		RefID:         refID,
		Description:   desc,
		Status:        domain.TxCompleted,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.walletRepo.LogTransaction(ctx, tx, txn); err != nil {
		return nil, fmt.Errorf("ledger.apply log: %w", err)
	}
	return txn, nil
}

// TransferTx moves amount between two wallets inside tx.  Both rows are
// locked in ascending wallet-id order regardless of direction, so concurrent
// opposite transfers cannot deadlock.  Two transaction records are appended;
// either both sides apply or the enclosing tx rolls back.
func (s *LedgerService) TransferTx(ctx context.Context, tx *sqlx.Tx, fromID, toID uuid.UUID, amount decimal.Decimal, typ domain.TxType, refID *uuid.UUID, desc string) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	from, to, err := s.walletRepo.LockPair(ctx, tx, fromID, toID)
	if err != nil {
		return fmt.Errorf("ledger.TransferTx lock: %w", err)
	}
	if !from.CanCover(amount) {
		return domain.ErrInsufficientFunds
	}
	if _, err = s.applyTx(ctx, tx, from, amount.Neg(), typ, refID, desc); err != nil {
		return fmt.Errorf("ledger.TransferTx debit: %w", err)
	}
	if _, err = s.applyTx(ctx, tx, to, amount, typ, refID, desc); err != nil {
		return fmt.Errorf("ledger.TransferTx credit: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Standalone operations
// ──────────────────────────────────────────────────────────────────────────────

// Debit removes amount from a wallet in its own transaction.
func (s *LedgerService) Debit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, typ domain.TxType, refID *uuid.UUID, desc string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		txn, err = s.DebitTx(ctx, tx, walletID, amount, typ, refID, desc)
		return err
	})
	return txn, err
}

// Credit adds amount to a wallet in its own transaction.
func (s *LedgerService) Credit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, typ domain.TxType, refID *uuid.UUID, desc string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		txn, err = s.CreditTx(ctx, tx, walletID, amount, typ, refID, desc)
		return err
	})
	return txn, err
}

// Transfer moves amount between two wallets atomically in its own transaction.
func (s *LedgerService) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal, typ domain.TxType, refID *uuid.UUID, desc string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return s.TransferTx(ctx, tx, fromID, toID, amount, typ, refID, desc)
	})
}

// Deposit credits external funds into a wallet.
func (s *LedgerService) Deposit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (*domain.Transaction, error) {
	return s.Credit(ctx, walletID, amount, domain.TxDeposit, nil, "deposit")
}

// Withdraw debits free funds out of a wallet.
func (s *LedgerService) Withdraw(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (*domain.Transaction, error) {
	return s.Debit(ctx, walletID, amount, domain.TxWithdraw, nil, "withdrawal")
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries & audit
// ──────────────────────────────────────────────────────────────────────────────

// Balance returns a wallet's current state.
func (s *LedgerService) Balance(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("ledger.Balance: %w", err)
	}
	return w, nil
}

// History returns paginated transaction history for a wallet.
func (s *LedgerService) History(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*domain.Transaction, error) {
	txns, err := s.walletRepo.GetTransactions(ctx, walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger.History: %w", err)
	}
	return txns, nil
}

// VerifyWallet recomputes the signed sum of a wallet's transactions and
// compares it to the stored balance.  A mismatch means money was created,
// destroyed, or double-counted; it is logged with full context and surfaced
// as ErrLedgerInconsistent.
func (s *LedgerService) VerifyWallet(ctx context.Context, walletID uuid.UUID) error {
	w, err := s.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return fmt.Errorf("ledger.VerifyWallet: %w", err)
	}
	sum, err := s.walletRepo.SumTransactions(ctx, walletID)
	if err != nil {
		return fmt.Errorf("ledger.VerifyWallet: %w", err)
	}
	if !sum.Equal(w.Balance) {
		s.logger.Error("ledger conservation violation",
			"wallet", walletID, "balance", w.Balance, "transaction_sum", sum,
			"delta", w.Balance.Sub(sum))
		return domain.ErrLedgerInconsistent
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *LedgerService) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}
