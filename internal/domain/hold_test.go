package domain_test

import (
	"testing"

	"github.com/lendaro/settlement/internal/domain"
	"github.com/shopspring/decimal"
)

// TestComposeHoldWithProtection validates the sub-hold breakdown for a hold
// with extra protection.  No I/O — pure arithmetic.
//
//	Scenario:
//	  shipping cost = 25.00
//	  insurance     = 100.00
//	  protection    = yes
//
//	Expected:
//	  shipping   = 2 × 25  = 50.00   (never investable)
//	  additional = 25.00
//	  insurance  = 100.00
//	  total debit = 175.00
func TestComposeHoldWithProtection(t *testing.T) {
	shipping := decimal.NewFromFloat(25)
	insurance := decimal.NewFromFloat(100)

	comp := domain.ComposeHold(shipping, insurance, true)

	if !comp.Shipping.Equal(decimal.NewFromInt(50)) {
		t.Errorf("shipping sub-hold = %s, want 50", comp.Shipping)
	}
	if !comp.Additional.Equal(shipping) {
		t.Errorf("additional sub-hold = %s, want %s", comp.Additional, shipping)
	}
	if !comp.Insurance.Equal(insurance) {
		t.Errorf("insurance sub-hold = %s, want %s", comp.Insurance, insurance)
	}
	if !comp.Total().Equal(decimal.NewFromInt(175)) {
		t.Errorf("total = %s, want 175", comp.Total())
	}
}

// TestComposeHoldWithoutProtection checks that skipping protection drops the
// additional sub-hold but never the 2× shipping hold.
func TestComposeHoldWithoutProtection(t *testing.T) {
	comp := domain.ComposeHold(decimal.NewFromFloat(12.5), decimal.Zero, false)

	if !comp.Shipping.Equal(decimal.NewFromInt(25)) {
		t.Errorf("shipping sub-hold = %s, want 25", comp.Shipping)
	}
	if !comp.Additional.IsZero() {
		t.Errorf("additional sub-hold = %s, want 0", comp.Additional)
	}
	if !comp.Insurance.IsZero() {
		t.Errorf("insurance sub-hold = %s, want 0", comp.Insurance)
	}
	if !comp.Total().Equal(decimal.NewFromInt(25)) {
		t.Errorf("total = %s, want 25", comp.Total())
	}
}

// TestComposeHoldFractionalCents verifies the composition stays exact for
// sub-cent shipping costs: total must equal the sum of the parts with no
// rounding drift.
func TestComposeHoldFractionalCents(t *testing.T) {
	shipping := decimal.RequireFromString("7.3333")
	insurance := decimal.RequireFromString("0.0001")

	comp := domain.ComposeHold(shipping, insurance, true)

	wantTotal := shipping.Mul(decimal.NewFromInt(3)).Add(insurance)
	if !comp.Total().Equal(wantTotal) {
		t.Errorf("total = %s, want %s", comp.Total(), wantTotal)
	}
	sum := comp.Shipping.Add(comp.Additional).Add(comp.Insurance)
	if !sum.Equal(comp.Total()) {
		t.Errorf("sum of parts %s != Total() %s", sum, comp.Total())
	}
}

func TestHoldLifecyclePredicates(t *testing.T) {
	cases := []struct {
		status   domain.HoldStatus
		active   bool
		terminal bool
	}{
		{domain.HoldStatusCreated, false, false},
		{domain.HoldStatusActive, true, false},
		{domain.HoldStatusShipped, true, false},
		{domain.HoldStatusReleased, false, true},
		{domain.HoldStatusDisputed, false, false},
		{domain.HoldStatusFalloutResolved, false, true},
	}
	for _, tc := range cases {
		h := domain.Hold{Status: tc.status}
		if h.IsActive() != tc.active {
			t.Errorf("%s: IsActive = %v, want %v", tc.status, h.IsActive(), tc.active)
		}
		if h.IsTerminal() != tc.terminal {
			t.Errorf("%s: IsTerminal = %v, want %v", tc.status, h.IsTerminal(), tc.terminal)
		}
	}
}
