package service_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lendaro/settlement/internal/config"
	"github.com/lendaro/settlement/internal/repository"
	"github.com/lendaro/settlement/internal/service"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func newHoldService(t *testing.T) (*service.HoldService, sqlmock.Sqlmock) {
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
	falloutRepo := repository.NewFalloutRepository(db)
	ledger := service.NewLedgerService(db, walletRepo, logger)
	investSvc := service.NewInvestmentService(db, investRepo, holdRepo, ledger, nil, investRepo, cfg, logger)
	return service.NewHoldService(db, holdRepo, falloutRepo, ledger, investSvc, cfg, logger), mock
}

func holdRow(holdID, itemID, borrowerID, ownerID uuid.UUID, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "item_id", "borrower_wallet_id", "owner_wallet_id", "shipping_cost", "insurance_cost",
		"status", "pool_type", "assigned_pool_type", "shipped_at", "released_at", "created_at", "updated_at",
	}).AddRow(holdID, itemID, borrowerID, ownerID, "25", "10", status, "individual", nil, nil, nil, now, now)
}

// ── Release / ship idempotency ────────────────────────────────────────────────

// TestReleaseAlreadyReleasedIsNoop checks a repeated release succeeds without
// touching the ledger: no transaction is even opened.
func TestReleaseAlreadyReleasedIsNoop(t *testing.T) {
	svc, mock := newHoldService(t)
	holdID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM holds WHERE id = \$1`).
		WithArgs(holdID).
		WillReturnRows(holdRow(holdID, uuid.New(), uuid.New(), uuid.New(), "released"))

	if err := svc.Release(context.Background(), holdID); err != nil {
		t.Fatalf("repeated Release: %v, want nil (idempotent no-op)", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected database traffic on a no-op release: %v", err)
	}
}

// TestMarkShippedTwiceIsNoop checks the shipped state short-circuits.
func TestMarkShippedTwiceIsNoop(t *testing.T) {
	svc, mock := newHoldService(t)
	holdID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM holds WHERE id = \$1`).
		WithArgs(holdID).
		WillReturnRows(holdRow(holdID, uuid.New(), uuid.New(), uuid.New(), "shipped"))

	if err := svc.MarkShipped(context.Background(), holdID); err != nil {
		t.Fatalf("repeated MarkShipped: %v, want nil (idempotent no-op)", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected database traffic on a no-op ship: %v", err)
	}
}

// TestReleaseLostRaceIsNoop drives the full release path into the guarded
// status update losing to a concurrent release: zero rows transition, the
// transaction rolls back its credits, and the caller still sees success.
func TestReleaseLostRaceIsNoop(t *testing.T) {
	svc, mock := newHoldService(t)
	holdID, itemID := uuid.New(), uuid.New()
	borrowerID, ownerID := uuid.New(), uuid.New()
	subID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM holds WHERE id = \$1`).
		WithArgs(holdID).
		WillReturnRows(holdRow(holdID, itemID, borrowerID, ownerID, "active"))
	mock.ExpectQuery(`SELECT \* FROM consumer_investments`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "hold_id", "sub_hold_id", "pool_id", "consumer_share", "platform_share",
			"initial_value", "current_value", "return_rate", "status", "created_at", "closed_at",
		}))
	mock.ExpectQuery(`SELECT \* FROM sub_holds WHERE hold_id = \$1 ORDER BY kind`).
		WithArgs(holdID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "hold_id", "kind", "amount", "investable", "state", "created_at", "updated_at",
		}).AddRow(subID, holdID, "shipping", "50", false, "held", now, now))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM wallets WHERE id = \$1 FOR UPDATE`).
		WithArgs(borrowerID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_id", "wallet_type", "currency", "balance", "created_at", "updated_at",
		}).AddRow(borrowerID, nil, "user", "USD", "0", now, now))
	mock.ExpectExec(`UPDATE wallets SET balance = \$1`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO wallet_transactions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE sub_holds SET state = \$1`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM risky_configs WHERE hold_id = \$1`).
		WithArgs(holdID).
		WillReturnError(sql.ErrNoRows)
	// The concurrent release won: the guarded transition affects zero rows.
	mock.ExpectExec(`UPDATE holds SET status = \$1, released_at = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := svc.Release(context.Background(), holdID); err != nil {
		t.Fatalf("lost-race Release should be a no-op success, got: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
