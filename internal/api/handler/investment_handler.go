package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lendaro/settlement/internal/repository"
	"github.com/lendaro/settlement/internal/service"
)

// InvestmentHandler serves pool and investment status endpoints.
type InvestmentHandler struct {
	investSvc  *service.InvestmentService
	investRepo *repository.InvestmentRepository
}

// NewInvestmentHandler creates an InvestmentHandler.
func NewInvestmentHandler(investSvc *service.InvestmentService, investRepo *repository.InvestmentRepository) *InvestmentHandler {
	return &InvestmentHandler{investSvc: investSvc, investRepo: investRepo}
}

// GetItemInvestment godoc
// GET /api/v1/items/:id/investment [JWT]
func (h *InvestmentHandler) GetItemInvestment(c *gin.Context) {
	itemID, ok := parseID(c)
	if !ok {
		return
	}
	view, err := h.investSvc.GetInvestmentStatus(c.Request.Context(), itemID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, view)
}

// Withdraw godoc
// POST /api/v1/investments/:id/withdraw [JWT]
// Attempts an early withdrawal of one investment at the current marked value.
func (h *InvestmentHandler) Withdraw(c *gin.Context) {
	investmentID, ok := parseID(c)
	if !ok {
		return
	}
	res, err := h.investSvc.AttemptWithdrawal(c.Request.Context(), investmentID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if !res.Withdrawn {
		respondSuccess(c, http.StatusAccepted, gin.H{"withdrawn": false, "reason": "withdrawal window closed"})
		return
	}
	respondSuccess(c, http.StatusOK, res)
}

// Utilization godoc
// GET /api/v1/pools/utilization [JWT]
func (h *InvestmentHandler) Utilization(c *gin.Context) {
	util, err := h.investRepo.Utilization(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not compute utilization")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"utilization": util})
}

// DistributeReturns godoc
// POST /api/v1/pools/:id/distribute [JWT, back-office]
// Accepts either the pool id or its key, e.g. POST /pools/herd/distribute.
func (h *InvestmentHandler) DistributeReturns(c *gin.Context) {
	raw := c.Param("id")
	poolID, err := uuid.Parse(raw)
	if err != nil {
		pool, kerr := h.investRepo.GetPoolByKey(c.Request.Context(), raw)
		if kerr != nil {
			respondDomainError(c, kerr)
			return
		}
		poolID = pool.ID
	}
	shares, err := h.investSvc.DistributeReturns(c.Request.Context(), poolID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"members": len(shares), "shares": shares})
}
