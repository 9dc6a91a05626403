// Package api builds the HTTP surface of the settlement engine.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lendaro/settlement/internal/api/handler"
	"github.com/lendaro/settlement/internal/api/middleware"
	"github.com/lendaro/settlement/internal/config"
	"github.com/lendaro/settlement/internal/notify"
	"github.com/lendaro/settlement/internal/repository"
	"github.com/lendaro/settlement/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	HoldSvc    *service.HoldService
	InvestSvc  *service.InvestmentService
	FalloutSvc *service.FalloutService
	Ledger     *service.LedgerService
	WalletRepo *repository.WalletRepository
	InvestRepo *repository.InvestmentRepository
	Hub        *notify.Hub
	Cfg        *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes and
// middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── Health & metrics ─────────────────────────────────────────────────────
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ── Handlers ─────────────────────────────────────────────────────────────
	holdH := handler.NewHoldHandler(deps.HoldSvc, deps.FalloutSvc)
	walletH := handler.NewWalletHandler(deps.Ledger, deps.WalletRepo)
	investH := handler.NewInvestmentHandler(deps.InvestSvc, deps.InvestRepo)

	jwtMW := middleware.JWTMiddleware(deps.Cfg.JWT.AccessSecret)

	v1 := r.Group("/api/v1")
	v1.Use(jwtMW)
	{
		// ── Holds ────────────────────────────────────────────────────────────
		holds := v1.Group("/holds")
		{
			holds.POST("", holdH.Create)
			holds.GET("/:id", holdH.Get)
			holds.POST("/:id/ship", holdH.Ship)
			holds.POST("/:id/release", holdH.Release)
			holds.POST("/:id/dispute", holdH.Dispute)
			holds.POST("/:id/risky-mode", holdH.EnableRiskyMode)
			holds.DELETE("/:id/risky-mode", holdH.DisableRiskyMode)
			holds.GET("/:id/fallout", holdH.GetFallout)
			holds.POST("/:id/fallout", holdH.ResolveFallout)
		}

		// ── Items ────────────────────────────────────────────────────────────
		items := v1.Group("/items")
		{
			items.GET("/:id/hold", holdH.GetByItem)
			items.GET("/:id/investment", investH.GetItemInvestment)
		}

		// ── Wallets ──────────────────────────────────────────────────────────
		wallets := v1.Group("/wallets")
		{
			wallets.POST("", walletH.Create)
			wallets.GET("/:id", walletH.GetBalance)
			wallets.POST("/:id/deposit", walletH.Deposit)
			wallets.POST("/:id/withdraw", walletH.Withdraw)
			wallets.GET("/:id/transactions", walletH.GetTransactions)
			wallets.GET("/:id/verify", walletH.Verify)
		}

		// ── Investments & pools ──────────────────────────────────────────────
		v1.POST("/investments/:id/withdraw", investH.Withdraw)
		pools := v1.Group("/pools")
		{
			pools.GET("/utilization", investH.Utilization)
			pools.POST("/:id/distribute", investH.DistributeReturns)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}
