package domain_test

import (
	"testing"

	"github.com/lendaro/settlement/internal/domain"
	"github.com/shopspring/decimal"
)

// TestComputeFalloutSplitBasic validates the four-way division.
//
//	totalLoss = 180, shipping = 25, insurance = 100
//	totalCosts  = 125 → borrower 62.50, owner 62.50
//	capitalLoss = 55  → borrower 27.50, owner 27.50
func TestComputeFalloutSplitBasic(t *testing.T) {
	split := domain.ComputeFalloutSplit(
		decimal.NewFromInt(180), decimal.NewFromInt(25), decimal.NewFromInt(100))

	if !split.BorrowerShare.Equal(decimal.RequireFromString("62.5")) {
		t.Errorf("borrower cost share = %s, want 62.5", split.BorrowerShare)
	}
	if !split.OwnerShare.Equal(decimal.RequireFromString("62.5")) {
		t.Errorf("owner cost share = %s, want 62.5", split.OwnerShare)
	}
	if !split.CapitalLoss.Equal(decimal.NewFromInt(55)) {
		t.Errorf("capital loss = %s, want 55", split.CapitalLoss)
	}
	if !split.BorrowerCapitalLoss.Equal(decimal.RequireFromString("27.5")) {
		t.Errorf("borrower capital loss = %s, want 27.5", split.BorrowerCapitalLoss)
	}
	if split.ReportingDiscrepancy {
		t.Error("no discrepancy expected for loss above costs")
	}
	if !split.Total().Equal(decimal.NewFromInt(180)) {
		t.Errorf("shares total %s, want 180", split.Total())
	}
}

// TestComputeFalloutSplitClampsNegativeCapitalLoss checks that a loss
// smaller than the recoverable costs clamps the capital loss at zero and
// flags the discrepancy instead of issuing a credit.
func TestComputeFalloutSplitClampsNegativeCapitalLoss(t *testing.T) {
	split := domain.ComputeFalloutSplit(
		decimal.NewFromInt(100), decimal.NewFromInt(25), decimal.NewFromInt(100))

	if !split.CapitalLoss.IsZero() {
		t.Errorf("capital loss = %s, want 0 (clamped)", split.CapitalLoss)
	}
	if !split.BorrowerCapitalLoss.IsZero() || !split.OwnerCapitalLoss.IsZero() {
		t.Error("clamped capital loss must not produce per-party shares")
	}
	if !split.ReportingDiscrepancy {
		t.Error("clamp must set ReportingDiscrepancy")
	}
	// The cost split still applies in full.
	if !split.Total().Equal(decimal.NewFromInt(125)) {
		t.Errorf("shares total %s, want 125 (costs only)", split.Total())
	}
}

// TestComputeFalloutSplitOddRemainder checks that sub-unit remainders land
// on the owner side and the shares still sum exactly.
func TestComputeFalloutSplitOddRemainder(t *testing.T) {
	totalLoss := decimal.RequireFromString("100.0003")
	shipping := decimal.RequireFromString("10.0001")
	insurance := decimal.Zero

	split := domain.ComputeFalloutSplit(totalLoss, shipping, insurance)

	if split.BorrowerShare.GreaterThan(split.OwnerShare) {
		t.Errorf("cost remainder must favor owner: borrower %s > owner %s", split.BorrowerShare, split.OwnerShare)
	}
	if split.BorrowerCapitalLoss.GreaterThan(split.OwnerCapitalLoss) {
		t.Errorf("capital remainder must favor owner: borrower %s > owner %s",
			split.BorrowerCapitalLoss, split.OwnerCapitalLoss)
	}
	if !split.Total().Equal(totalLoss) {
		t.Errorf("shares total %s, want %s", split.Total(), totalLoss)
	}
}

// TestComputeFalloutSplitZeroLoss covers the degenerate full-clamp case.
func TestComputeFalloutSplitZeroLoss(t *testing.T) {
	split := domain.ComputeFalloutSplit(decimal.Zero, decimal.NewFromInt(25), decimal.NewFromInt(100))

	if !split.ReportingDiscrepancy {
		t.Error("zero loss below costs must flag discrepancy")
	}
	if !split.Total().Equal(decimal.NewFromInt(125)) {
		t.Errorf("shares total %s, want 125", split.Total())
	}
}
