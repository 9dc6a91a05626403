package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lendaro/settlement/internal/domain"
	"github.com/lendaro/settlement/internal/repository"
)

var now = time.Now().UTC()

func newWalletRepo(t *testing.T) (*repository.WalletRepository, sqlmock.Sqlmock) {
	t.Helper()
	rawDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { rawDB.Close() })
	return repository.NewWalletRepository(sqlx.NewDb(rawDB, "sqlmock")), mock
}

// TestGetPlatformWallet fetches the seeded house wallet by its type.
func TestGetPlatformWallet(t *testing.T) {
	repo, mock := newWalletRepo(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM wallets WHERE wallet_type = 'platform'`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_id", "wallet_type", "currency", "balance", "created_at", "updated_at",
		}).AddRow(id, nil, "platform", "USD", "0", now, now))

	w, err := repo.GetPlatformWallet(context.Background())
	if err != nil {
		t.Fatalf("GetPlatformWallet: %v", err)
	}
	if w.ID != id || w.Type != domain.WalletTypePlatform {
		t.Errorf("wallet = %s type %s, want %s type platform", w.ID, w.Type, id)
	}
}

// TestGetPlatformWalletMissing maps the missing seed row to ErrWalletNotFound
// so startup can fail fast with a clear cause.
func TestGetPlatformWalletMissing(t *testing.T) {
	repo, mock := newWalletRepo(t)

	mock.ExpectQuery(`SELECT \* FROM wallets WHERE wallet_type = 'platform'`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetPlatformWallet(context.Background())
	if !errors.Is(err, domain.ErrWalletNotFound) {
		t.Fatalf("err = %v, want ErrWalletNotFound", err)
	}
}
