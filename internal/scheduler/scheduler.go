// Package scheduler manages the two background goroutines of the settlement
// engine:
//  1. falloutRetryLoop – re-attempts parked fallout resolutions once their
//     grace period elapses.
//  2. returnsLoop      – distributes herd-pool returns on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/lendaro/settlement/internal/config"
	"github.com/lendaro/settlement/internal/repository"
	"github.com/lendaro/settlement/internal/service"
)

// Scheduler wires together the services and runs the settlement lifecycle
// goroutines.  Call Start(ctx) once from main(); cancel the context to shut
// it down gracefully.
type Scheduler struct {
	falloutSvc *service.FalloutService
	investSvc  *service.InvestmentService
	investRepo *repository.InvestmentRepository
	cfg        *config.Config
	logger     *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	falloutSvc *service.FalloutService,
	investSvc *service.InvestmentService,
	investRepo *repository.InvestmentRepository,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		falloutSvc: falloutSvc,
		investSvc:  investSvc,
		investRepo: investRepo,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start launches the background goroutines.  It returns immediately; both
// loops run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.falloutRetryLoop(ctx)
	go s.returnsLoop(ctx)
	s.logger.Info("scheduler started",
		"fallout_retry_poll", s.cfg.Fallout.RetryPollInterval,
		"distribution_interval", s.cfg.Investment.DistributionInterval)
}

// ──────────────────────────────────────────────────────────────────────────────
// falloutRetryLoop
// ──────────────────────────────────────────────────────────────────────────────

// falloutRetryLoop scans the retry queue on each tick and re-attempts due
// resolutions.
func (s *Scheduler) falloutRetryLoop(ctx context.Context) {
	defer s.recoverAndLog("falloutRetryLoop")

	ticker := time.NewTicker(s.cfg.Fallout.RetryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("falloutRetryLoop: shutting down")
			return
		case <-ticker.C:
			if err := s.falloutSvc.ProcessRetries(ctx); err != nil {
				s.logger.Error("falloutRetryLoop: ProcessRetries", "err", err)
			}
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// returnsLoop
// ──────────────────────────────────────────────────────────────────────────────

// returnsLoop distributes accrued herd-pool returns to members on each
// interval.
func (s *Scheduler) returnsLoop(ctx context.Context) {
	defer s.recoverAndLog("returnsLoop")

	ticker := time.NewTicker(s.cfg.Investment.DistributionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("returnsLoop: shutting down")
			return
		case <-ticker.C:
			s.distributeReturns(ctx)
		}
	}
}

// distributeReturns is the inner body of returnsLoop, extracted so that the
// defer/recover in the loop catches panics correctly.
func (s *Scheduler) distributeReturns(ctx context.Context) {
	pools, err := s.investRepo.HerdPools(ctx)
	if err != nil {
		s.logger.Error("returnsLoop: list herd pools", "err", err)
		return
	}
	for _, pool := range pools {
		shares, err := s.investSvc.DistributeReturns(ctx, pool.ID)
		if err != nil {
			s.logger.Error("returnsLoop: distribution failed", "pool", pool.Key, "err", err)
			continue
		}
		if len(shares) > 0 {
			s.logger.Info("returns distributed", "pool", pool.Key, "members", len(shares))
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each goroutine to catch unexpected panics,
// log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
