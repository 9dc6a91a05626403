package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Hold
// ──────────────────────────────────────────────────────────────────────────────

// HoldStatus is the lifecycle state of a collateral hold.
//
//	created → active → shipped → released | disputed | fallout_resolved
type HoldStatus string

const (
	HoldStatusCreated         HoldStatus = "created"
	HoldStatusActive          HoldStatus = "active"
	HoldStatusShipped         HoldStatus = "shipped"
	HoldStatusReleased        HoldStatus = "released"
	HoldStatusDisputed        HoldStatus = "disputed"
	HoldStatusFalloutResolved HoldStatus = "fallout_resolved"
)

// ShippingHoldMultiplier: the shipping sub-hold always covers the cost both
// ways (2× one-way shipping).
var ShippingHoldMultiplier = decimal.NewFromInt(2)

// Hold is the collateral record for one borrowed item.  It is composed of
// three sub-holds; the sum of the sub-hold amounts equals the amount debited
// from the borrower's wallet at creation, exactly.
type Hold struct {
	ID               uuid.UUID       `json:"id"                 db:"id"`
	ItemID           uuid.UUID       `json:"item_id"            db:"item_id"`
	BorrowerWalletID uuid.UUID       `json:"borrower_wallet_id" db:"borrower_wallet_id"`
	OwnerWalletID    uuid.UUID       `json:"owner_wallet_id"    db:"owner_wallet_id"`
	ShippingCost     decimal.Decimal `json:"shipping_cost"      db:"shipping_cost"`
	InsuranceCost    decimal.Decimal `json:"insurance_cost"     db:"insurance_cost"`
	Status           HoldStatus      `json:"status"             db:"status"`
	// PoolType is the pool preference the borrower chose for investable funds.
	PoolType PoolType `json:"pool_type" db:"pool_type"`
	// AssignedPoolType remembers the last automatic-mode resolution so the
	// hysteresis band does not oscillate between checks.
	AssignedPoolType *PoolType  `json:"assigned_pool_type" db:"assigned_pool_type"`
	ShippedAt        *time.Time `json:"shipped_at"         db:"shipped_at"`
	ReleasedAt       *time.Time `json:"released_at"        db:"released_at"`
	CreatedAt        time.Time  `json:"created_at"         db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"         db:"updated_at"`
}

// IsActive reports whether the hold still binds collateral.
func (h *Hold) IsActive() bool {
	return h.Status == HoldStatusActive || h.Status == HoldStatusShipped
}

// IsTerminal reports whether the hold reached an end state.
func (h *Hold) IsTerminal() bool {
	return h.Status == HoldStatusReleased || h.Status == HoldStatusFalloutResolved
}

// ──────────────────────────────────────────────────────────────────────────────
// Sub-holds
// ──────────────────────────────────────────────────────────────────────────────

// SubHoldKind identifies one of the three collateral components.
type SubHoldKind string

const (
	SubHoldShipping   SubHoldKind = "shipping"   // 2× shipping cost, never investable
	SubHoldAdditional SubHoldKind = "additional" // optional extra collateral, investable immediately
	SubHoldInsurance  SubHoldKind = "insurance"  // investable once the item ships
)

// SubHoldState tracks where a sub-hold's money currently sits.
type SubHoldState string

const (
	SubHoldHeld     SubHoldState = "held"     // sitting idle as collateral
	SubHoldInvested SubHoldState = "invested" // deployed into a pool
	SubHoldReturned SubHoldState = "returned" // credited back to the borrower
	SubHoldLost     SubHoldState = "lost"     // consumed by a fallout
)

// SubHold is one component of a Hold with its own investability rule.
type SubHold struct {
	ID         uuid.UUID       `json:"id"         db:"id"`
	HoldID     uuid.UUID       `json:"hold_id"    db:"hold_id"`
	Kind       SubHoldKind     `json:"kind"       db:"kind"`
	Amount     decimal.Decimal `json:"amount"     db:"amount"`
	Investable bool            `json:"investable" db:"investable"`
	State      SubHoldState    `json:"state"      db:"state"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Composition math
// ──────────────────────────────────────────────────────────────────────────────

// HoldComposition is the computed sub-hold breakdown for a new hold.
type HoldComposition struct {
	Shipping   decimal.Decimal
	Additional decimal.Decimal
	Insurance  decimal.Decimal
}

// ComposeHold computes the sub-hold amounts for a hold:
//
//	shipping   = 2 × shippingCost            (always, non-investable)
//	additional = shippingCost                (only with extra protection)
//	insurance  = insuranceAmount             (caller-supplied)
func ComposeHold(shippingCost, insuranceAmount decimal.Decimal, withProtection bool) HoldComposition {
	c := HoldComposition{
		Shipping:   shippingCost.Mul(ShippingHoldMultiplier),
		Additional: decimal.Zero,
		Insurance:  insuranceAmount,
	}
	if withProtection {
		c.Additional = shippingCost
	}
	return c
}

// Total is the exact amount debited from the borrower at creation.
func (c HoldComposition) Total() decimal.Decimal {
	return c.Shipping.Add(c.Additional).Add(c.Insurance)
}

// ──────────────────────────────────────────────────────────────────────────────
// API views
// ──────────────────────────────────────────────────────────────────────────────

// HoldStatusView is the API-safe aggregate of a hold, its sub-holds, and any
// open investments.
type HoldStatusView struct {
	Hold        Hold                  `json:"hold"`
	SubHolds    []SubHold             `json:"sub_holds"`
	Investments []ConsumerInvestment  `json:"investments,omitempty"`
	RiskyMode   *RiskyModeConfig      `json:"risky_mode,omitempty"`
	Fallout     *FalloutRecord        `json:"fallout,omitempty"`
}

// CreateHoldRequest carries the validated inputs for creating a hold.
type CreateHoldRequest struct {
	ItemID           uuid.UUID
	BorrowerWalletID uuid.UUID
	OwnerWalletID    uuid.UUID
	ShippingCost     decimal.Decimal
	InsuranceAmount  decimal.Decimal
	WithProtection   bool
	PoolType         PoolType
}
