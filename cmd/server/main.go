// Package main is the entry point for the lendaro collateral hold &
// investment settlement server.  It wires together the ledger, hold,
// investment, and fallout services and starts the HTTP server alongside the
// WebSocket hub, the per-hold risk monitors, and the background scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lendaro/settlement/internal/api"
	"github.com/lendaro/settlement/internal/config"
	"github.com/lendaro/settlement/internal/monitor"
	"github.com/lendaro/settlement/internal/notify"
	"github.com/lendaro/settlement/internal/oracle"
	"github.com/lendaro/settlement/internal/repository"
	"github.com/lendaro/settlement/internal/scheduler"
	"github.com/lendaro/settlement/internal/service"
	_ "github.com/lib/pq" // postgres driver
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting lendaro settlement server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Repositories ───────────────────────────────────────────────────────
	walletRepo := repository.NewWalletRepository(db)
	holdRepo := repository.NewHoldRepository(db)
	investRepo := repository.NewInvestmentRepository(db)
	falloutRepo := repository.NewFalloutRepository(db)

	// The seed migration creates the house settlement wallet; refuse to start
	// without it rather than fail mid-settlement.
	if _, err = walletRepo.GetPlatformWallet(context.Background()); err != nil {
		logger.Error("platform wallet missing", "err", err)
		os.Exit(1)
	}

	// ── 5. Services (order matters for injection) ─────────────────────────────
	ledger := service.NewLedgerService(db, walletRepo, logger)

	marketOracle := oracle.NewMarketOracle(cfg, investRepo)

	investSvc := service.NewInvestmentService(db, investRepo, holdRepo, ledger, marketOracle, investRepo, cfg, logger)

	holdSvc := service.NewHoldService(db, holdRepo, falloutRepo, ledger, investSvc, cfg, logger)

	falloutSvc := service.NewFalloutService(db, falloutRepo, holdRepo, ledger, investSvc, cfg, logger)

	// ── 6. WebSocket Hub ──────────────────────────────────────────────────────
	jwtSecret := []byte(cfg.JWT.AccessSecret)
	var allowedOrigins []string
	if ori := os.Getenv("WS_ALLOWED_ORIGINS"); ori != "" {
		for _, o := range strings.Split(ori, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(o))
		}
	}
	hub := notify.NewHub(jwtSecret, allowedOrigins)

	holdSvc.SetPublisher(hub)
	investSvc.SetPublisher(hub)
	falloutSvc.SetPublisher(hub)

	// ── 7. Risk monitor ───────────────────────────────────────────────────────
	riskMonitor := monitor.NewManager(marketOracle, investSvc, falloutSvc, holdSvc, investRepo, holdRepo, cfg, logger)
	riskMonitor.SetPublisher(hub)
	holdSvc.SetMonitor(riskMonitor)

	// ── 8. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 9. Start WS Hub and resume monitors ───────────────────────────────────
	go hub.Run()
	logger.Info("websocket hub started")

	if err = riskMonitor.Resume(ctx); err != nil {
		logger.Error("risk monitor resume failed", "err", err)
		os.Exit(1)
	}

	// ── 10. Scheduler ─────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(falloutSvc, investSvc, investRepo, cfg, logger)
	sched.Start(ctx)

	// ── 11. HTTP Router ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		HoldSvc:    holdSvc,
		InvestSvc:  investSvc,
		FalloutSvc: falloutSvc,
		Ledger:     ledger,
		WalletRepo: walletRepo,
		InvestRepo: investRepo,
		Hub:        hub,
		Cfg:        cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 12. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 13. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	riskMonitor.Stop()
	db.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
