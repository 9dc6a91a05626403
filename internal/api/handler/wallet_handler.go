package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lendaro/settlement/internal/domain"
	"github.com/lendaro/settlement/internal/repository"
	"github.com/lendaro/settlement/internal/service"
	"github.com/shopspring/decimal"
)

// WalletHandler serves wallet creation, balance, deposit/withdraw, and audit
// endpoints.
type WalletHandler struct {
	ledger     *service.LedgerService
	walletRepo *repository.WalletRepository
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(ledger *service.LedgerService, walletRepo *repository.WalletRepository) *WalletHandler {
	return &WalletHandler{ledger: ledger, walletRepo: walletRepo}
}

// Create godoc
// POST /api/v1/wallets [JWT]
// Body: {"owner_id":"…","currency":"USD"}
func (h *WalletHandler) Create(c *gin.Context) {
	var body struct {
		OwnerID  uuid.UUID `json:"owner_id" binding:"required"`
		Currency string    `json:"currency"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	if body.Currency == "" {
		body.Currency = "USD"
	}

	now := time.Now().UTC()
	ownerID := body.OwnerID
	w := &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   &ownerID,
		Type:      domain.WalletTypeUser,
		Currency:  body.Currency,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.walletRepo.Create(c.Request.Context(), w); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, w)
}

// GetBalance godoc
// GET /api/v1/wallets/:id [JWT]
func (h *WalletHandler) GetBalance(c *gin.Context) {
	walletID, ok := parseID(c)
	if !ok {
		return
	}
	w, err := h.ledger.Balance(c.Request.Context(), walletID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, w)
}

// Deposit godoc
// POST /api/v1/wallets/:id/deposit [JWT]
// Body: {"amount":"500.00"}
func (h *WalletHandler) Deposit(c *gin.Context) {
	walletID, ok := parseID(c)
	if !ok {
		return
	}
	amount, ok := parseAmount(c)
	if !ok {
		return
	}
	txn, err := h.ledger.Deposit(c.Request.Context(), walletID, amount)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, txn)
}

// Withdraw godoc
// POST /api/v1/wallets/:id/withdraw [JWT]
// Body: {"amount":"100.00"}
func (h *WalletHandler) Withdraw(c *gin.Context) {
	walletID, ok := parseID(c)
	if !ok {
		return
	}
	amount, ok := parseAmount(c)
	if !ok {
		return
	}
	txn, err := h.ledger.Withdraw(c.Request.Context(), walletID, amount)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, txn)
}

// GetTransactions godoc
// GET /api/v1/wallets/:id/transactions?page=1&limit=20 [JWT]
func (h *WalletHandler) GetTransactions(c *gin.Context) {
	walletID, ok := parseID(c)
	if !ok {
		return
	}
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	txns, err := h.ledger.History(c.Request.Context(), walletID, limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch transactions")
		return
	}
	respondList(c, txns, len(txns), page, limit)
}

// Verify godoc
// GET /api/v1/wallets/:id/verify [JWT, back-office]
// Recomputes the wallet's transaction sum against its balance.
func (h *WalletHandler) Verify(c *gin.Context) {
	walletID, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.ledger.VerifyWallet(c.Request.Context(), walletID); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"consistent": true})
}

// parseAmount reads a {"amount":"…"} body as a positive decimal.
func parseAmount(c *gin.Context) (decimal.Decimal, bool) {
	var body struct {
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil || !amount.IsPositive() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a positive decimal string")
		return decimal.Zero, false
	}
	return amount, true
}
