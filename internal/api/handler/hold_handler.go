package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lendaro/settlement/internal/domain"
	"github.com/lendaro/settlement/internal/service"
	"github.com/shopspring/decimal"
)

// HoldHandler serves the collateral hold lifecycle endpoints.
type HoldHandler struct {
	holdSvc    *service.HoldService
	falloutSvc *service.FalloutService
}

// NewHoldHandler creates a HoldHandler.
func NewHoldHandler(holdSvc *service.HoldService, falloutSvc *service.FalloutService) *HoldHandler {
	return &HoldHandler{holdSvc: holdSvc, falloutSvc: falloutSvc}
}

// Create godoc
// POST /api/v1/holds [JWT]
// Body: {"item_id":"…","borrower_wallet_id":"…","owner_wallet_id":"…",
//
//	"shipping_cost":"25.00","insurance_amount":"100.00",
//	"with_protection":true,"pool_type":"automatic"}
func (h *HoldHandler) Create(c *gin.Context) {
	var body struct {
		ItemID           uuid.UUID `json:"item_id"            binding:"required"`
		BorrowerWalletID uuid.UUID `json:"borrower_wallet_id" binding:"required"`
		OwnerWalletID    uuid.UUID `json:"owner_wallet_id"    binding:"required"`
		ShippingCost     string    `json:"shipping_cost"      binding:"required"`
		InsuranceAmount  string    `json:"insurance_amount"`
		WithProtection   bool      `json:"with_protection"`
		PoolType         string    `json:"pool_type"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	shipping, err := decimal.NewFromString(body.ShippingCost)
	if err != nil || !shipping.IsPositive() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "shipping_cost must be a positive decimal string")
		return
	}
	insurance := decimal.Zero
	if body.InsuranceAmount != "" {
		insurance, err = decimal.NewFromString(body.InsuranceAmount)
		if err != nil || insurance.IsNegative() {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "insurance_amount must be a non-negative decimal string")
			return
		}
	}
	poolType := domain.PoolType(body.PoolType)
	if body.PoolType == "" {
		poolType = domain.PoolIndividual
	}

	hold, err := h.holdSvc.CreateHold(c.Request.Context(), domain.CreateHoldRequest{
		ItemID:           body.ItemID,
		BorrowerWalletID: body.BorrowerWalletID,
		OwnerWalletID:    body.OwnerWalletID,
		ShippingCost:     shipping,
		InsuranceAmount:  insurance,
		WithProtection:   body.WithProtection,
		PoolType:         poolType,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, hold)
}

// Get godoc
// GET /api/v1/holds/:id [JWT]
func (h *HoldHandler) Get(c *gin.Context) {
	holdID, ok := parseID(c)
	if !ok {
		return
	}
	view, err := h.holdSvc.GetHoldStatus(c.Request.Context(), holdID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, view)
}

// GetByItem godoc
// GET /api/v1/items/:id/hold [JWT]
func (h *HoldHandler) GetByItem(c *gin.Context) {
	itemID, ok := parseID(c)
	if !ok {
		return
	}
	hold, err := h.holdSvc.GetHoldByItem(c.Request.Context(), itemID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	view, err := h.holdSvc.GetHoldStatus(c.Request.Context(), hold.ID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, view)
}

// Ship godoc
// POST /api/v1/holds/:id/ship [JWT]
func (h *HoldHandler) Ship(c *gin.Context) {
	holdID, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.holdSvc.MarkShipped(c.Request.Context(), holdID); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": domain.HoldStatusShipped})
}

// Release godoc
// POST /api/v1/holds/:id/release [JWT]
func (h *HoldHandler) Release(c *gin.Context) {
	holdID, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.holdSvc.Release(c.Request.Context(), holdID); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": domain.HoldStatusReleased})
}

// Dispute godoc
// POST /api/v1/holds/:id/dispute [JWT]
func (h *HoldHandler) Dispute(c *gin.Context) {
	holdID, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.holdSvc.Dispute(c.Request.Context(), holdID); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": domain.HoldStatusDisputed})
}

// ── Risky mode ───────────────────────────────────────────────────────────────

// EnableRiskyMode godoc
// POST /api/v1/holds/:id/risky-mode [JWT]
// Body: {"risk_tolerance":"0.25","anti_collateral":"50.00"}
func (h *HoldHandler) EnableRiskyMode(c *gin.Context) {
	holdID, ok := parseID(c)
	if !ok {
		return
	}
	var body struct {
		RiskTolerance  string `json:"risk_tolerance"  binding:"required"`
		AntiCollateral string `json:"anti_collateral"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	tolerance, err := decimal.NewFromString(body.RiskTolerance)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "risk_tolerance must be a decimal string")
		return
	}
	anti := decimal.Zero
	if body.AntiCollateral != "" {
		anti, err = decimal.NewFromString(body.AntiCollateral)
		if err != nil || anti.IsNegative() {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "anti_collateral must be a non-negative decimal string")
			return
		}
	}

	cfg, err := h.holdSvc.EnableRiskyMode(c.Request.Context(), holdID, tolerance, anti)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, cfg)
}

// DisableRiskyMode godoc
// DELETE /api/v1/holds/:id/risky-mode [JWT]
func (h *HoldHandler) DisableRiskyMode(c *gin.Context) {
	holdID, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.holdSvc.DisableRiskyMode(c.Request.Context(), holdID); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"enabled": false})
}

// ── Fallout ──────────────────────────────────────────────────────────────────

// GetFallout godoc
// GET /api/v1/holds/:id/fallout [JWT]
func (h *HoldHandler) GetFallout(c *gin.Context) {
	holdID, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.falloutSvc.GetRecord(c.Request.Context(), holdID)
	if err != nil {
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", "no fallout record for hold")
		return
	}
	respondSuccess(c, http.StatusOK, rec)
}

// ResolveFallout godoc
// POST /api/v1/holds/:id/fallout [JWT, back-office]
// Body: {"total_loss":"180.00"}
func (h *HoldHandler) ResolveFallout(c *gin.Context) {
	holdID, ok := parseID(c)
	if !ok {
		return
	}
	var body struct {
		TotalLoss string `json:"total_loss" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	totalLoss, err := decimal.NewFromString(body.TotalLoss)
	if err != nil || totalLoss.IsNegative() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "total_loss must be a non-negative decimal string")
		return
	}

	rec, err := h.falloutSvc.Resolve(c.Request.Context(), holdID, totalLoss)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if rec == nil {
		// Parked: a party could not cover its share yet.
		respondSuccess(c, http.StatusAccepted, gin.H{"status": "pending_retry"})
		return
	}
	respondSuccess(c, http.StatusCreated, rec)
}

// parseID reads the :id path parameter as a UUID.
func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
