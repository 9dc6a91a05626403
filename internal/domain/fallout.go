package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Fallout
// ──────────────────────────────────────────────────────────────────────────────

// FalloutRecord documents one loss-split settlement executed when a risky
// investment could not be withdrawn before the stop-loss breach.  At most one
// record exists per hold; resolution is not idempotent-retriable.
type FalloutRecord struct {
	ID       uuid.UUID `json:"id"       db:"id"`
	HoldID   uuid.UUID `json:"hold_id"  db:"hold_id"`
	ItemID   uuid.UUID `json:"item_id"  db:"item_id"`
	TotalLoss decimal.Decimal `json:"total_loss"     db:"total_loss"`
	ShippingCost  decimal.Decimal `json:"shipping_cost"  db:"shipping_cost"`
	InsuranceCost decimal.Decimal `json:"insurance_cost" db:"insurance_cost"`
	// Cost shares: (shipping + insurance) split 50/50.
	BorrowerShare decimal.Decimal `json:"borrower_share" db:"borrower_share"`
	OwnerShare    decimal.Decimal `json:"owner_share"    db:"owner_share"`
	// Capital-loss shares: max(totalLoss − totalCosts, 0) split 50/50.
	CapitalLoss         decimal.Decimal `json:"capital_loss"          db:"capital_loss"`
	BorrowerCapitalLoss decimal.Decimal `json:"borrower_capital_loss" db:"borrower_capital_loss"`
	OwnerCapitalLoss    decimal.Decimal `json:"owner_capital_loss"    db:"owner_capital_loss"`
	// AntiCollateralApplied is the risky-mode buffer consumed toward the
	// borrower's capital-loss debit.
	AntiCollateralApplied decimal.Decimal `json:"anti_collateral_applied" db:"anti_collateral_applied"`
	// ReportingDiscrepancy flags a raw capital loss below zero (the loss was
	// smaller than the recoverable costs); the value is clamped, never a credit.
	ReportingDiscrepancy bool      `json:"reporting_discrepancy" db:"reporting_discrepancy"`
	ResolvedAt           time.Time `json:"resolved_at"           db:"resolved_at"`
}

// FalloutSplit is the deterministic four-way division of a fallout loss.
type FalloutSplit struct {
	BorrowerShare        decimal.Decimal
	OwnerShare           decimal.Decimal
	CapitalLoss          decimal.Decimal
	BorrowerCapitalLoss  decimal.Decimal
	OwnerCapitalLoss     decimal.Decimal
	ReportingDiscrepancy bool
}

// ComputeFalloutSplit divides totalLoss between borrower and owner:
//
//	totalCosts  = shippingCost + insuranceCost   → split 50/50
//	capitalLoss = totalLoss − totalCosts         → split 50/50, clamped at 0
//
// Each half is rounded down to the money scale with the remainder attributed
// to the owner side, so the four shares sum to totalCosts + capitalLoss
// exactly.  A negative raw capital loss sets ReportingDiscrepancy.
func ComputeFalloutSplit(totalLoss, shippingCost, insuranceCost decimal.Decimal) FalloutSplit {
	two := decimal.NewFromInt(2)

	totalCosts := shippingCost.Add(insuranceCost)
	borrowerShare := totalCosts.Div(two).RoundDown(moneyScale)
	ownerShare := totalCosts.Sub(borrowerShare)

	capitalLoss := totalLoss.Sub(totalCosts)
	discrepancy := capitalLoss.IsNegative()
	if discrepancy {
		capitalLoss = decimal.Zero
	}
	borrowerCap := capitalLoss.Div(two).RoundDown(moneyScale)
	ownerCap := capitalLoss.Sub(borrowerCap)

	return FalloutSplit{
		BorrowerShare:        borrowerShare,
		OwnerShare:           ownerShare,
		CapitalLoss:          capitalLoss,
		BorrowerCapitalLoss:  borrowerCap,
		OwnerCapitalLoss:     ownerCap,
		ReportingDiscrepancy: discrepancy,
	}
}

// Total is the sum of all four shares.
func (s FalloutSplit) Total() decimal.Decimal {
	return s.BorrowerShare.Add(s.OwnerShare).Add(s.BorrowerCapitalLoss).Add(s.OwnerCapitalLoss)
}

// ──────────────────────────────────────────────────────────────────────────────
// Retry queue
// ──────────────────────────────────────────────────────────────────────────────

// FalloutRetry parks a resolution that failed with insufficient funds until
// the grace period elapses; the scheduler re-attempts it.
type FalloutRetry struct {
	HoldID        uuid.UUID       `json:"hold_id"         db:"hold_id"`
	TotalLoss     decimal.Decimal `json:"total_loss"      db:"total_loss"`
	Attempts      int             `json:"attempts"        db:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at" db:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"      db:"created_at"`
}
