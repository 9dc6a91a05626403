package domain_test

import (
	"testing"
	"time"

	"github.com/lendaro/settlement/internal/domain"
	"github.com/shopspring/decimal"
)

// TestDescent validates the fractional drop math.
//
//	initial = 100, current = 75  → descent = 0.25
//	initial = 100, current = 110 → descent = -0.10 (rising position)
//	initial = 0                  → descent = 0     (nothing at risk)
func TestDescent(t *testing.T) {
	hundred := decimal.NewFromInt(100)

	if got := domain.Descent(hundred, decimal.NewFromInt(75)); !got.Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("descent(100, 75) = %s, want 0.25", got)
	}
	if got := domain.Descent(hundred, decimal.NewFromInt(110)); !got.Equal(decimal.NewFromFloat(-0.1)) {
		t.Errorf("descent(100, 110) = %s, want -0.1", got)
	}
	if got := domain.Descent(decimal.Zero, decimal.NewFromInt(50)); !got.IsZero() {
		t.Errorf("descent(0, 50) = %s, want 0", got)
	}
}

// TestStopLossBreachedInclusiveBoundary checks that a descent exactly at the
// tolerance fires the stop-loss.
func TestStopLossBreachedInclusiveBoundary(t *testing.T) {
	tolerance := decimal.NewFromFloat(0.25)

	if !domain.StopLossBreached(decimal.NewFromFloat(0.25), tolerance) {
		t.Error("descent exactly at tolerance must breach")
	}
	if !domain.StopLossBreached(decimal.NewFromFloat(0.2501), tolerance) {
		t.Error("descent above tolerance must breach")
	}
	if domain.StopLossBreached(decimal.NewFromFloat(0.2499), tolerance) {
		t.Error("descent below tolerance must not breach")
	}
	if domain.StopLossBreached(decimal.NewFromFloat(-0.5), tolerance) {
		t.Error("rising position must not breach")
	}
}

// TestStopLossValue checks the trigger value computed from risk tolerance:
// initial 200 with tolerance 0.25 → stop-loss fires at value 150.
func TestStopLossValue(t *testing.T) {
	cfg := domain.RiskyModeConfig{RiskTolerance: decimal.NewFromFloat(0.25)}
	got := cfg.StopLossValue(decimal.NewFromInt(200))
	if !got.Equal(decimal.NewFromInt(150)) {
		t.Errorf("stop-loss value = %s, want 150", got)
	}
}

// TestProjectTimeToCritical validates the linear extrapolation to total loss.
//
//	descent moved 0.1 → 0.2 over 1 hour; remaining 0.8 at 0.1/hour → 8 hours.
func TestProjectTimeToCritical(t *testing.T) {
	prev := decimal.NewFromFloat(0.1)
	curr := decimal.NewFromFloat(0.2)

	eta, descending := domain.ProjectTimeToCritical(prev, curr, time.Hour)
	if !descending {
		t.Fatal("position losing value must report descending")
	}
	if eta != 8*time.Hour {
		t.Errorf("eta = %s, want 8h", eta)
	}
}

// TestProjectTimeToCriticalNotDescending checks flat and recovering
// positions report no projection.
func TestProjectTimeToCriticalNotDescending(t *testing.T) {
	curr := decimal.NewFromFloat(0.2)

	if _, descending := domain.ProjectTimeToCritical(curr, curr, time.Hour); descending {
		t.Error("flat descent must not project")
	}
	if _, descending := domain.ProjectTimeToCritical(decimal.NewFromFloat(0.3), curr, time.Hour); descending {
		t.Error("recovering position must not project")
	}
	if _, descending := domain.ProjectTimeToCritical(decimal.NewFromFloat(0.1), curr, 0); descending {
		t.Error("zero elapsed time must not project")
	}
}

// TestProjectTimeToCriticalPastTotalLoss checks that a descent at or beyond
// 1.0 reports zero time remaining.
func TestProjectTimeToCriticalPastTotalLoss(t *testing.T) {
	eta, descending := domain.ProjectTimeToCritical(decimal.NewFromFloat(0.9), decimal.NewFromFloat(1.1), time.Minute)
	if !descending {
		t.Fatal("past total loss must report descending")
	}
	if eta != 0 {
		t.Errorf("eta = %s, want 0", eta)
	}
}
