package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Risky mode
// ──────────────────────────────────────────────────────────────────────────────

// RiskyModeConfig is the per-hold opt-in for stop-loss monitored investing.
// AntiCollateral is a separate, non-investable loss buffer debited when risky
// mode is enabled and consumed toward the borrower's share on fallout.
type RiskyModeConfig struct {
	HoldID            uuid.UUID       `json:"hold_id"             db:"hold_id"`
	RiskTolerance     decimal.Decimal `json:"risk_tolerance"      db:"risk_tolerance"` // 0 < t < 1
	AntiCollateral    decimal.Decimal `json:"anti_collateral"     db:"anti_collateral"`
	StopLossThreshold decimal.Decimal `json:"stop_loss_threshold" db:"stop_loss_threshold"`
	Enabled           bool            `json:"enabled"             db:"enabled"`
	CreatedAt         time.Time       `json:"created_at"          db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"          db:"updated_at"`
}

// StopLossValue returns the invested value at which the stop-loss fires:
// initialValue × (1 − riskTolerance).
func (c *RiskyModeConfig) StopLossValue(initialValue decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	return initialValue.Mul(one.Sub(c.RiskTolerance))
}

// ──────────────────────────────────────────────────────────────────────────────
// Descent math
// ──────────────────────────────────────────────────────────────────────────────

// Descent computes the fractional value drop (initial − current) / initial.
// A rising position yields a negative descent.  Returns zero for a zero
// initial value (nothing was at risk).
func Descent(initialValue, currentValue decimal.Decimal) decimal.Decimal {
	if initialValue.IsZero() {
		return decimal.Zero
	}
	return initialValue.Sub(currentValue).Div(initialValue)
}

// StopLossBreached reports whether a descent triggers the stop-loss.  The
// boundary is inclusive: a descent exactly at the tolerance fires.
func StopLossBreached(descent, riskTolerance decimal.Decimal) bool {
	return descent.GreaterThanOrEqual(riskTolerance)
}

// ProjectTimeToCritical estimates how long until descent reaches 1.0 (total
// loss of the position), extrapolating linearly from two observations.
// Returns (0, false) when the position is not descending.
func ProjectTimeToCritical(prevDescent, descent decimal.Decimal, elapsed time.Duration) (time.Duration, bool) {
	delta := descent.Sub(prevDescent)
	if !delta.IsPositive() || elapsed <= 0 {
		return 0, false
	}
	remaining := decimal.NewFromInt(1).Sub(descent)
	if !remaining.IsPositive() {
		return 0, true // already past total loss
	}
	// intervals until critical, scaled by the observation gap
	intervals := remaining.Div(delta)
	nanos := intervals.Mul(decimal.NewFromInt(int64(elapsed)))
	if !nanos.IsPositive() {
		return 0, true
	}
	return time.Duration(nanos.IntPart()), true
}
