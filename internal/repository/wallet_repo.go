package repository

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lendaro/settlement/internal/domain"
	"github.com/shopspring/decimal"
)

// WalletRepository handles all database operations for wallets and the
// append-only transaction log.
type WalletRepository struct {
	db *sqlx.DB
}

// NewWalletRepository creates a new WalletRepository.
func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Create inserts a new wallet.
func (r *WalletRepository) Create(ctx context.Context, w *domain.Wallet) error {
	query := `
		INSERT INTO wallets (id, owner_id, wallet_type, currency, balance, created_at, updated_at)
		VALUES (:id, :owner_id, :wallet_type, :currency, :balance, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, w); err != nil {
		return fmt.Errorf("wallet_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a wallet without locking it.
func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	var w domain.Wallet
	err := r.db.GetContext(ctx, &w, `SELECT * FROM wallets WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet_repo.GetByID: %w", err)
	}
	return &w, nil
}

// GetPlatformWallet fetches the house settlement wallet.
func (r *WalletRepository) GetPlatformWallet(ctx context.Context) (*domain.Wallet, error) {
	var w domain.Wallet
	err := r.db.GetContext(ctx, &w, `SELECT * FROM wallets WHERE wallet_type = 'platform'`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet_repo.GetPlatformWallet: %w", err)
	}
	return &w, nil
}

// ── Row locking ──────────────────────────────────────────────────────────────

// LockForUpdate locks a wallet row with FOR UPDATE inside tx and returns the
// current state.  Every balance mutation must go through this lock so that
// concurrent operations against the same wallet serialize.
func (r *WalletRepository) LockForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	var w domain.Wallet
	err := tx.GetContext(ctx, &w, `SELECT * FROM wallets WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet_repo.LockForUpdate: %w", err)
	}
	return &w, nil
}

// LockPair locks two wallet rows in ascending id order to avoid deadlocks
// between concurrent transfers.  Returns the wallets keyed by the argument
// order, not the lock order.
func (r *WalletRepository) LockPair(ctx context.Context, tx *sqlx.Tx, a, b uuid.UUID) (*domain.Wallet, *domain.Wallet, error) {
	first, second := a, b
	if bytes.Compare(b[:], a[:]) < 0 {
		first, second = b, a
	}
	w1, err := r.LockForUpdate(ctx, tx, first)
	if err != nil {
		return nil, nil, err
	}
	w2, err := r.LockForUpdate(ctx, tx, second)
	if err != nil {
		return nil, nil, err
	}
	if first == a {
		return w1, w2, nil
	}
	return w2, w1, nil
}

// SetBalance writes a wallet's new balance inside tx.  Callers must hold the
// row lock taken by LockForUpdate.
func (r *WalletRepository) SetBalance(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = $1, updated_at = now() WHERE id = $2`,
		balance, id)
	if err != nil {
		return fmt.Errorf("wallet_repo.SetBalance: %w", err)
	}
	return nil
}

// ── Transaction log ──────────────────────────────────────────────────────────

// LogTransaction appends an audit record inside tx.  The log is append-only;
// no update or delete statements exist for wallet_transactions.
func (r *WalletRepository) LogTransaction(ctx context.Context, tx *sqlx.Tx, txn *domain.Transaction) error {
	query := `
		INSERT INTO wallet_transactions
			(id, wallet_id, type, amount, balance_before, balance_after, ref_id, description, status, created_at)
		VALUES
			(:id, :wallet_id, :type, :amount, :balance_before, :balance_after, :ref_id, :description, :status, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, txn); err != nil {
		return fmt.Errorf("wallet_repo.LogTransaction: %w", err)
	}
	return nil
}

// GetTransactions returns paginated transaction history for a wallet.
func (r *WalletRepository) GetTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	err := r.db.SelectContext(ctx, &txns, `
		SELECT * FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("wallet_repo.GetTransactions: %w", err)
	}
	return txns, nil
}

// SumTransactions returns the signed sum of all completed transaction amounts
// for a wallet.  Used by the conservation audit.
func (r *WalletRepository) SumTransactions(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount), 0)
		FROM wallet_transactions
		WHERE wallet_id = $1 AND status = 'completed'`,
		walletID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet_repo.SumTransactions: %w", err)
	}
	return total, nil
}
