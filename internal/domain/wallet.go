package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Wallet
// ──────────────────────────────────────────────────────────────────────────────

// WalletType distinguishes party wallets from house-side pool wallets.
type WalletType string

const (
	WalletTypeUser     WalletType = "user"     // borrower or owner wallet
	WalletTypePlatform WalletType = "platform" // platform settlement wallet
)

// Wallet holds one account's balance.  The balance is the single source of
// truth for money; it must always equal the running sum of all completed
// transactions referencing the wallet, and it never goes negative.
type Wallet struct {
	ID        uuid.UUID       `json:"id"         db:"id"`
	OwnerID   *uuid.UUID      `json:"owner_id"   db:"owner_id"` // NULL for the platform wallet
	Type      WalletType      `json:"type"       db:"wallet_type"`
	Currency  string          `json:"currency"   db:"currency"`
	Balance   decimal.Decimal `json:"balance"    db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// CanCover reports whether the wallet can absorb a debit of amount.
func (w *Wallet) CanCover(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

// ──────────────────────────────────────────────────────────────────────────────
// Transaction
// ──────────────────────────────────────────────────────────────────────────────

// TxType enumerates ledger transaction types for auditing.
type TxType string

const (
	TxDeposit        TxType = "deposit"
	TxWithdraw       TxType = "withdraw"
	TxHold           TxType = "hold"            // collateral debited at hold creation
	TxHoldRelease    TxType = "hold_release"    // collateral credited back on release
	TxAntiCollateral TxType = "anti_collateral" // risky-mode loss buffer debit
	TxAntiRefund     TxType = "anti_refund"     // loss buffer credited back on de-risk
	TxInvestReturn   TxType = "invest_return"   // withdrawn investment value
	TxPoolPayout     TxType = "pool_payout"     // herd pool return distribution
	TxFallout        TxType = "fallout"         // loss-split settlement debit
)

// TxStatus is the completion state of a transaction.  The ledger only writes
// completed rows; compensating entries carry their own completed row.
type TxStatus string

const (
	TxCompleted TxStatus = "completed"
	TxReversed  TxStatus = "reversed"
)

// Transaction is an immutable, append-only audit record for every wallet
// balance change.  Amount is signed: credits are positive, debits negative,
// so that the sum of a wallet's transaction amounts equals its balance.
type Transaction struct {
	ID            uuid.UUID       `json:"id"             db:"id"`
	WalletID      uuid.UUID       `json:"wallet_id"      db:"wallet_id"`
	Type          TxType          `json:"type"           db:"type"`
	Amount        decimal.Decimal `json:"amount"         db:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"  db:"balance_after"`
	RefID         *uuid.UUID      `json:"ref_id"         db:"ref_id"` // hold, investment, or fallout ID
	Description   string          `json:"description"    db:"description"`
	Status        TxStatus        `json:"status"         db:"status"`
	CreatedAt     time.Time       `json:"created_at"     db:"created_at"`
}

// IsDebit reports whether the entry removed money from the wallet.
func (t *Transaction) IsDebit() bool {
	return t.Amount.IsNegative()
}
