// Package monitor runs one watcher goroutine per risky-mode hold.  Each
// watcher re-evaluates the hold's open investments on a fixed tick, fires
// the stop-loss on an inclusive descent breach or a projected critical
// descent, attempts an emergency withdrawal first, and falls back to a
// fallout resolution exactly once when the withdrawal window is closed.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lendaro/settlement/internal/config"
	"github.com/lendaro/settlement/internal/domain"
	"github.com/lendaro/settlement/internal/metrics"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces — minimally required from the services
// ──────────────────────────────────────────────────────────────────────────────
// Declared here so the monitor package does not import internal/service and
// cause a circular dependency.

// ValueSource supplies marked-to-market values for open investments.
type ValueSource interface {
	CurrentValue(ctx context.Context, investmentID uuid.UUID) (decimal.Decimal, error)
}

// Withdrawer performs emergency withdrawals and value recording.
type Withdrawer interface {
	AttemptWithdrawal(ctx context.Context, investmentID uuid.UUID) (domain.WithdrawalResult, error)
	RecordValue(ctx context.Context, investmentID uuid.UUID, value decimal.Decimal) error
}

// Resolver settles a fallout when the stop-loss could not exit cleanly.
type Resolver interface {
	Resolve(ctx context.Context, holdID uuid.UUID, totalLoss decimal.Decimal) (*domain.FalloutRecord, error)
}

// Derisker finalizes a clean stop-loss exit (refunds the anti-collateral).
type Derisker interface {
	CompleteDerisk(ctx context.Context, holdID uuid.UUID) error
}

// InvestmentSource lists a hold's open investments.
type InvestmentSource interface {
	GetOpenInvestmentsByHold(ctx context.Context, holdID uuid.UUID) ([]*domain.ConsumerInvestment, error)
}

// ConfigSource reads risky-mode configs: per-hold state for watcher
// self-retirement and the enabled set for startup resume.
type ConfigSource interface {
	GetRiskyConfig(ctx context.Context, holdID uuid.UUID) (*domain.RiskyModeConfig, error)
	GetEnabledRiskyConfigs(ctx context.Context) ([]*domain.RiskyModeConfig, error)
}

// EventPublisher delivers monitor events best-effort.
type EventPublisher interface {
	Publish(evt domain.Event)
}

// ──────────────────────────────────────────────────────────────────────────────
// Manager
// ──────────────────────────────────────────────────────────────────────────────

// Manager owns the set of active watchers.  Activate and Deactivate are safe
// for concurrent use; Stop cancels every watcher and waits for them to exit.
type Manager struct {
	oracle      ValueSource
	withdrawer  Withdrawer
	resolver    Resolver
	derisker    Derisker
	investments InvestmentSource
	configs     ConfigSource
	publisher   EventPublisher
	cfg         *config.Config
	logger      *slog.Logger

	mu       sync.Mutex
	watchers map[uuid.UUID]context.CancelFunc
	wg       sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
}

// NewManager creates a Manager.  Call Resume once after construction, then
// Activate/Deactivate as holds opt in and out.
func NewManager(
	oracle ValueSource,
	withdrawer Withdrawer,
	resolver Resolver,
	derisker Derisker,
	investments InvestmentSource,
	configs ConfigSource,
	cfg *config.Config,
	logger *slog.Logger,
) *Manager {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		oracle:      oracle,
		withdrawer:  withdrawer,
		resolver:    resolver,
		derisker:    derisker,
		investments: investments,
		configs:     configs,
		cfg:         cfg,
		logger:      logger,
		watchers:    make(map[uuid.UUID]context.CancelFunc),
		baseCtx:     baseCtx,
		cancel:      cancel,
	}
}

// SetPublisher injects the notification hub post-construction.
func (m *Manager) SetPublisher(p EventPublisher) { m.publisher = p }

// Activate starts a watcher for the hold.  A second Activate for the same
// hold is a no-op.
func (m *Manager) Activate(cfg *domain.RiskyModeConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.watchers[cfg.HoldID]; exists {
		return
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.watchers[cfg.HoldID] = cancel
	m.wg.Add(1)
	go m.watch(ctx, cfg)
	m.logger.Info("risk monitor activated",
		"hold", cfg.HoldID, "tolerance", cfg.RiskTolerance, "interval", m.cfg.Risk.PollInterval)
}

// Deactivate stops the hold's watcher.  Idempotent.
func (m *Manager) Deactivate(holdID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, exists := m.watchers[holdID]; exists {
		cancel()
		delete(m.watchers, holdID)
		m.logger.Info("risk monitor deactivated", "hold", holdID)
	}
}

// Resume restarts watchers for every risky config that was enabled when the
// process last stopped.  Called once at startup.
func (m *Manager) Resume(ctx context.Context) error {
	cfgs, err := m.configs.GetEnabledRiskyConfigs(ctx)
	if err != nil {
		return fmt.Errorf("monitor.Resume: %w", err)
	}
	for _, c := range cfgs {
		m.Activate(c)
	}
	if len(cfgs) > 0 {
		m.logger.Info("risk monitors resumed", "count", len(cfgs))
	}
	return nil
}

// Stop cancels all watchers and blocks until they exit.
func (m *Manager) Stop() {
	m.cancel()
	m.mu.Lock()
	m.watchers = make(map[uuid.UUID]context.CancelFunc)
	m.mu.Unlock()
	m.wg.Wait()
}

// ──────────────────────────────────────────────────────────────────────────────
// Watcher loop
// ──────────────────────────────────────────────────────────────────────────────

// observation holds the previous tick's descent for trend projection.
type observation struct {
	descent decimal.Decimal
	at      time.Time
}

func (m *Manager) watch(ctx context.Context, riskyCfg *domain.RiskyModeConfig) {
	defer m.wg.Done()
	defer m.recoverAndLog(riskyCfg.HoldID)

	ticker := time.NewTicker(m.cfg.Risk.PollInterval)
	defer ticker.Stop()

	history := make(map[uuid.UUID]observation)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := m.tick(ctx, riskyCfg, history); done {
				m.Deactivate(riskyCfg.HoldID)
				return
			}
		}
	}
}

// tick evaluates every open investment once.  Returns true when the watcher
// has nothing left to do: all positions exited cleanly or a fallout settled.
func (m *Manager) tick(ctx context.Context, riskyCfg *domain.RiskyModeConfig, history map[uuid.UUID]observation) bool {
	metrics.MonitorTicksTotal.Inc()

	tickCtx, cancel := context.WithTimeout(ctx, m.cfg.Risk.TickTimeout)
	defer cancel()

	open, err := m.investments.GetOpenInvestmentsByHold(tickCtx, riskyCfg.HoldID)
	if err != nil {
		m.logger.Error("monitor tick: list investments", "hold", riskyCfg.HoldID, "err", err)
		return false
	}
	if len(open) == 0 {
		// Nothing invested.  If risky mode was disabled elsewhere (manual
		// disable, release, fallout settled outside this watcher) the watcher
		// retires; otherwise it idles until an allocation opens.
		current, err := m.configs.GetRiskyConfig(tickCtx, riskyCfg.HoldID)
		if errors.Is(err, domain.ErrRiskyModeNotEnabled) || (err == nil && !current.Enabled) {
			return true
		}
		return false
	}

	now := time.Now().UTC()
	triggered := false
	for _, ci := range open {
		value, err := m.oracle.CurrentValue(tickCtx, ci.ID)
		if err != nil {
			m.logger.Warn("monitor tick: value fetch failed", "investment", ci.ID, "err", err)
			continue
		}
		if err := m.withdrawer.RecordValue(tickCtx, ci.ID, value); err != nil {
			m.logger.Warn("monitor tick: record value failed", "investment", ci.ID, "err", err)
		}

		descent := domain.Descent(ci.InitialValue, value)
		ci.CurrentValue = value

		if domain.StopLossBreached(descent, riskyCfg.RiskTolerance) {
			triggered = true
			history[ci.ID] = observation{descent: descent, at: now}
			continue
		}
		if prev, ok := history[ci.ID]; ok {
			if eta, descending := domain.ProjectTimeToCritical(prev.descent, descent, now.Sub(prev.at)); descending && eta <= m.cfg.Risk.CriticalWindow {
				m.logger.Warn("monitor: projected critical descent",
					"hold", riskyCfg.HoldID, "investment", ci.ID, "descent", descent, "eta", eta)
				triggered = true
			}
		}
		history[ci.ID] = observation{descent: descent, at: now}
	}

	if !triggered {
		return false
	}
	return m.triggerStopLoss(ctx, riskyCfg, open)
}

// triggerStopLoss tries the clean exit first; a closed withdrawal window or
// a withdrawal failure routes to the fallout path, exactly once.
func (m *Manager) triggerStopLoss(ctx context.Context, riskyCfg *domain.RiskyModeConfig, open []*domain.ConsumerInvestment) bool {
	m.logger.Warn("stop-loss triggered", "hold", riskyCfg.HoldID, "tolerance", riskyCfg.RiskTolerance)

	exitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.Risk.TickTimeout)
	defer cancel()

	allOut := true
	for _, ci := range open {
		res, err := m.withdrawer.AttemptWithdrawal(exitCtx, ci.ID)
		if err != nil {
			m.logger.Error("stop-loss: withdrawal failed", "investment", ci.ID, "err", err)
			allOut = false
			break
		}
		if !res.Withdrawn {
			m.logger.Warn("stop-loss: withdrawal window closed", "investment", ci.ID)
			allOut = false
			break
		}
	}

	if allOut {
		if err := m.derisker.CompleteDerisk(exitCtx, riskyCfg.HoldID); err != nil {
			m.logger.Error("stop-loss: de-risk finalization failed", "hold", riskyCfg.HoldID, "err", err)
		}
		metrics.StopLossTriggersTotal.WithLabelValues("derisked").Inc()
		m.publish(domain.Event{
			Type:      domain.EventStopLossTriggered,
			HoldID:    riskyCfg.HoldID,
			Message:   "Stop-loss triggered: positions withdrawn, hold de-risked",
			Timestamp: time.Now().UTC(),
		})
		return true
	}

	totalLoss := decimal.Zero
	for _, ci := range open {
		loss := ci.InitialValue.Sub(ci.CurrentValue)
		if loss.IsPositive() {
			totalLoss = totalLoss.Add(loss)
		}
	}

	if _, err := m.resolver.Resolve(exitCtx, riskyCfg.HoldID, totalLoss); err != nil {
		m.logger.Error("stop-loss: fallout resolution failed", "hold", riskyCfg.HoldID, "err", err)
	}
	metrics.StopLossTriggersTotal.WithLabelValues("fallout").Inc()
	m.publish(domain.Event{
		Type:      domain.EventStopLossTriggered,
		HoldID:    riskyCfg.HoldID,
		Amount:    totalLoss,
		Message:   "Stop-loss triggered: withdrawal unavailable, fallout resolution started",
		Timestamp: time.Now().UTC(),
	})
	return true
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func (m *Manager) publish(evt domain.Event) {
	if m.publisher != nil {
		m.publisher.Publish(evt)
	}
}

// recoverAndLog is deferred inside each watcher to catch unexpected panics.
func (m *Manager) recoverAndLog(holdID uuid.UUID) {
	if r := recover(); r != nil {
		m.logger.Error("PANIC recovered in risk watcher", "hold", holdID, "panic", r)
	}
}
