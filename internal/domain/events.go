package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Settlement events
// ──────────────────────────────────────────────────────────────────────────────

// EventType labels the settlement events published to the notification hub.
// Delivery is fire-and-forget: a lost event never blocks a settlement.
type EventType string

const (
	EventHoldCreated       EventType = "hold.created"
	EventHoldShipped       EventType = "hold.shipped"
	EventHoldReleased      EventType = "hold.released"
	EventHoldDisputed      EventType = "hold.disputed"
	EventInvestmentOpened  EventType = "investment.opened"
	EventInvestmentClosed  EventType = "investment.closed"
	EventRiskyModeEnabled  EventType = "risky_mode.enabled"
	EventRiskyModeDisabled EventType = "risky_mode.disabled"
	EventStopLossTriggered EventType = "stop_loss.triggered"
	EventFalloutResolved   EventType = "fallout.resolved"
	EventReturnsDistributed EventType = "returns.distributed"
)

// Event is the human-readable settlement summary sent to collaborators.
type Event struct {
	Type      EventType       `json:"type"`
	HoldID    uuid.UUID       `json:"hold_id,omitempty"`
	ItemID    uuid.UUID       `json:"item_id,omitempty"`
	Amount    decimal.Decimal `json:"amount,omitempty"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}
