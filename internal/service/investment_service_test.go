package service_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lendaro/settlement/internal/config"
	"github.com/lendaro/settlement/internal/repository"
	"github.com/lendaro/settlement/internal/service"
	"github.com/shopspring/decimal"
)

func newInvestmentService(t *testing.T) (*service.InvestmentService, sqlmock.Sqlmock) {
	t.Helper()
	rawDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { rawDB.Close() })

	db := sqlx.NewDb(rawDB, "sqlmock")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{}

	walletRepo := repository.NewWalletRepository(db)
	holdRepo := repository.NewHoldRepository(db)
	investRepo := repository.NewInvestmentRepository(db)
	ledger := service.NewLedgerService(db, walletRepo, logger)
	return service.NewInvestmentService(db, investRepo, holdRepo, ledger, nil, investRepo, cfg, logger), mock
}

func poolRow(poolID uuid.UUID, key, poolType, totalReturns string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "pool_key", "pool_type", "contributed", "total_invested", "total_returns",
		"risk_profile", "created_at", "updated_at",
	}).AddRow(poolID, key, poolType, "100", "100", totalReturns, "balanced", now, now)
}

func memberRow(ciID, holdID, poolID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "hold_id", "sub_hold_id", "pool_id", "consumer_share", "platform_share",
		"initial_value", "current_value", "return_rate", "status", "created_at", "closed_at",
	}).AddRow(ciID, holdID, uuid.New(), poolID, "50", "50", "100", "110", "0.1", "open", now, nil)
}

// ── Herd return distribution ─────────────────────────────────────────────────

// TestDistributeReturnsPaysUnderPoolLock walks the full single-member payout:
// the pool row is locked, the accrued return is credited to the borrower, and
// the pool's distributed total advances.
func TestDistributeReturnsPaysUnderPoolLock(t *testing.T) {
	svc, mock := newInvestmentService(t)
	poolID, ciID := uuid.New(), uuid.New()
	holdID, borrowerID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT \* FROM investment_pools WHERE id = \$1`).
		WithArgs(poolID).
		WillReturnRows(poolRow(poolID, "herd", "herd", "0"))
	mock.ExpectQuery(`SELECT \* FROM consumer_investments`).
		WillReturnRows(memberRow(ciID, holdID, poolID))
	mock.ExpectQuery(`SELECT \* FROM holds WHERE id = \$1`).
		WithArgs(holdID).
		WillReturnRows(holdRow(holdID, uuid.New(), borrowerID, uuid.New(), "shipped"))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM investment_pools WHERE id = \$1 FOR UPDATE`).
		WithArgs(poolID).
		WillReturnRows(poolRow(poolID, "herd", "herd", "0"))
	mock.ExpectQuery(`SELECT \* FROM wallets WHERE id = \$1 FOR UPDATE`).
		WithArgs(borrowerID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_id", "wallet_type", "currency", "balance", "created_at", "updated_at",
		}).AddRow(borrowerID, nil, "user", "USD", "0", now, now))
	mock.ExpectExec(`UPDATE wallets SET balance = \$1`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO wallet_transactions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE investment_pools`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	shares, err := svc.DistributeReturns(context.Background(), poolID)
	if err != nil {
		t.Fatalf("DistributeReturns: %v", err)
	}
	if len(shares) != 1 {
		t.Fatalf("got %d shares, want 1", len(shares))
	}
	if !shares[0].Payout.Equal(decimal.NewFromInt(10)) {
		t.Errorf("payout = %s, want 10 (110 marked − 100 invested)", shares[0].Payout)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestDistributeReturnsSkipsWhenAlreadyPaid re-reads the pool under the row
// lock: a concurrent distribution that already paid the accrued returns out
// leaves nothing to credit, and no money moves.
func TestDistributeReturnsSkipsWhenAlreadyPaid(t *testing.T) {
	svc, mock := newInvestmentService(t)
	poolID, ciID := uuid.New(), uuid.New()
	holdID, borrowerID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT \* FROM investment_pools WHERE id = \$1`).
		WithArgs(poolID).
		WillReturnRows(poolRow(poolID, "herd", "herd", "0"))
	mock.ExpectQuery(`SELECT \* FROM consumer_investments`).
		WillReturnRows(memberRow(ciID, holdID, poolID))
	mock.ExpectQuery(`SELECT \* FROM holds WHERE id = \$1`).
		WithArgs(holdID).
		WillReturnRows(holdRow(holdID, uuid.New(), borrowerID, uuid.New(), "shipped"))

	mock.ExpectBegin()
	// Under the lock the returns are already distributed.
	mock.ExpectQuery(`SELECT \* FROM investment_pools WHERE id = \$1 FOR UPDATE`).
		WithArgs(poolID).
		WillReturnRows(poolRow(poolID, "herd", "herd", "10"))
	mock.ExpectCommit()

	shares, err := svc.DistributeReturns(context.Background(), poolID)
	if err != nil {
		t.Fatalf("DistributeReturns: %v", err)
	}
	if len(shares) != 0 {
		t.Errorf("got %d shares, want none when returns are already paid", len(shares))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
