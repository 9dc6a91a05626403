package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Pools
// ──────────────────────────────────────────────────────────────────────────────

// PoolType is the borrower's pool preference for investable sub-hold funds.
type PoolType string

const (
	PoolIndividual PoolType = "individual"
	PoolHerd       PoolType = "herd"
	// PoolAutomatic resolves to herd or individual based on platform
	// utilization, with a hysteresis band in between.
	PoolAutomatic PoolType = "automatic"
)

// IsValid reports whether the pool type is one of the three known values.
func (p PoolType) IsValid() bool {
	return p == PoolIndividual || p == PoolHerd || p == PoolAutomatic
}

// PlatformPoolKey is the fixed key of the platform-wide pool that receives
// half of every allocation, independent of the chosen pool type.
const PlatformPoolKey = "platform"

// RiskProfile is a coarse label of a pool's exposure.
type RiskProfile string

const (
	RiskConservative RiskProfile = "conservative"
	RiskBalanced     RiskProfile = "balanced"
	RiskAggressive   RiskProfile = "aggressive"
)

// InvestmentPool aggregates contributions from many holds.  Invariant: the
// sum of open ConsumerInvestment shares attributed to a pool equals the
// pool's Contributed balance.
type InvestmentPool struct {
	ID            uuid.UUID       `json:"id"             db:"id"`
	Key           string          `json:"key"            db:"pool_key"`
	Type          PoolType        `json:"type"           db:"pool_type"`
	Contributed   decimal.Decimal `json:"contributed"    db:"contributed"`
	TotalInvested decimal.Decimal `json:"total_invested" db:"total_invested"`
	TotalReturns  decimal.Decimal `json:"total_returns"  db:"total_returns"`
	RiskProfile   RiskProfile     `json:"risk_profile"   db:"risk_profile"`
	CreatedAt     time.Time       `json:"created_at"     db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"     db:"updated_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Consumer investments
// ──────────────────────────────────────────────────────────────────────────────

// InvestmentStatus is the lifecycle state of a ConsumerInvestment.
type InvestmentStatus string

const (
	InvestmentOpen      InvestmentStatus = "open"
	InvestmentWithdrawn InvestmentStatus = "withdrawn"
	InvestmentFallout   InvestmentStatus = "fallout"
)

// ConsumerInvestment links one investable sub-hold to its pool contribution.
// The sub-hold amount splits 50/50 between the consumer's share in the chosen
// pool and the platform-wide pool; ConsumerShare + PlatformShare always equals
// the allocated amount exactly.
type ConsumerInvestment struct {
	ID            uuid.UUID        `json:"id"             db:"id"`
	HoldID        uuid.UUID        `json:"hold_id"        db:"hold_id"`
	SubHoldID     uuid.UUID        `json:"sub_hold_id"    db:"sub_hold_id"`
	PoolID        uuid.UUID        `json:"pool_id"        db:"pool_id"`
	ConsumerShare decimal.Decimal  `json:"consumer_share" db:"consumer_share"`
	PlatformShare decimal.Decimal  `json:"platform_share" db:"platform_share"`
	InitialValue  decimal.Decimal  `json:"initial_value"  db:"initial_value"`
	CurrentValue  decimal.Decimal  `json:"current_value"  db:"current_value"`
	ReturnRate    decimal.Decimal  `json:"return_rate"    db:"return_rate"`
	Status        InvestmentStatus `json:"status"         db:"status"`
	CreatedAt     time.Time        `json:"created_at"     db:"created_at"`
	ClosedAt      *time.Time       `json:"closed_at"      db:"closed_at"`
}

// IsOpen reports whether the investment still holds pool funds.
func (ci *ConsumerInvestment) IsOpen() bool {
	return ci.Status == InvestmentOpen
}

// Amount is the total allocated amount (both shares).
func (ci *ConsumerInvestment) Amount() decimal.Decimal {
	return ci.ConsumerShare.Add(ci.PlatformShare)
}

// ──────────────────────────────────────────────────────────────────────────────
// Allocation math
// ──────────────────────────────────────────────────────────────────────────────

// moneyScale matches the DB DECIMAL(18,4) columns.
const moneyScale = 4

// SplitAllocation divides an investable amount into the consumer share and the
// platform share.  The consumer half is rounded down to the money scale; any
// sub-unit remainder lands on the platform side, so the two shares always sum
// to amount exactly and the skew is at most one minimal currency unit.
func SplitAllocation(amount decimal.Decimal) (consumer, platform decimal.Decimal) {
	consumer = amount.Div(decimal.NewFromInt(2)).RoundDown(moneyScale)
	platform = amount.Sub(consumer)
	return consumer, platform
}

// ResolvePoolType maps an automatic pool preference onto a concrete pool.
// Utilization at or above herdThreshold resolves to herd; at or below
// individualThreshold resolves to individual; inside the band the previous
// assignment persists (individual when there is none yet).
func ResolvePoolType(requested PoolType, previous *PoolType, utilization, individualThreshold, herdThreshold decimal.Decimal) PoolType {
	if requested != PoolAutomatic {
		return requested
	}
	switch {
	case utilization.GreaterThanOrEqual(herdThreshold):
		return PoolHerd
	case utilization.LessThanOrEqual(individualThreshold):
		return PoolIndividual
	case previous != nil:
		return *previous
	default:
		return PoolIndividual
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Withdrawal / distribution results
// ──────────────────────────────────────────────────────────────────────────────

// WithdrawalResult reports an emergency or release withdrawal attempt.
// Withdrawn=false with a nil error means the withdrawal window was closed —
// an expected outcome that routes the caller to the fallout path.
type WithdrawalResult struct {
	Withdrawn bool            `json:"withdrawn"`
	Amount    decimal.Decimal `json:"amount"`
}

// PoolMemberShare is one member's immutable contribution snapshot taken when
// herd returns are distributed.
type PoolMemberShare struct {
	InvestmentID uuid.UUID       `json:"investment_id"`
	WalletID     uuid.UUID       `json:"wallet_id"`
	Contribution decimal.Decimal `json:"contribution"`
	Payout       decimal.Decimal `json:"payout"`
}

// InvestmentStatusView is the API view for an item's investment state.
type InvestmentStatusView struct {
	HoldID      uuid.UUID            `json:"hold_id"`
	ItemID      uuid.UUID            `json:"item_id"`
	Investments []ConsumerInvestment `json:"investments"`
}
