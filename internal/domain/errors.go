package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Wallet / ledger errors
var (
	// ErrWalletNotFound is returned when no wallet matches the given ID.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInsufficientFunds is returned when a debit would drive a wallet
	// balance negative.  Nothing is mutated when this is returned.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned for zero or negative operation amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrLedgerInconsistent is returned when a wallet's balance does not
	// equal the sum of its transaction amounts.  Correctness-affecting; the
	// operation that detected it is aborted and logged with full context.
	ErrLedgerInconsistent = errors.New("ledger inconsistency: balance does not match transaction sum")
)

// Hold errors
var (
	// ErrHoldNotFound is returned when no hold matches the given ID.
	ErrHoldNotFound = errors.New("hold not found")

	// ErrAlreadyShipped marks the idempotent no-op of a repeated markShipped.
	ErrAlreadyShipped = errors.New("hold is already marked shipped")

	// ErrAlreadyReleased marks the idempotent no-op of a repeated release.
	ErrAlreadyReleased = errors.New("hold is already released")

	// ErrHoldNotActive is returned for operations that need a live hold
	// (e.g. enabling risky mode on a released hold).
	ErrHoldNotActive = errors.New("hold is not active")

	// ErrHoldDisputed is returned when a release is attempted on a hold
	// frozen by a dispute.
	ErrHoldDisputed = errors.New("hold is frozen by an open dispute")
)

// Investment errors
var (
	// ErrInvestmentNotFound is returned when no investment matches the ID.
	ErrInvestmentNotFound = errors.New("investment not found")

	// ErrPoolNotFound is returned when no pool matches the given key or ID.
	ErrPoolNotFound = errors.New("investment pool not found")

	// ErrInvestmentClosed is returned for withdrawal attempts against an
	// investment that no longer holds pool funds.
	ErrInvestmentClosed = errors.New("investment is already closed")

	// ErrWithdrawalWindowClosed is returned when a release cannot retrieve
	// pool funds because the withdrawal window is shut.  For the risk
	// monitor this is an expected outcome, not an error.
	ErrWithdrawalWindowClosed = errors.New("withdrawal window is closed")

	// ErrInvalidPoolType is returned for an unknown pool type value.
	ErrInvalidPoolType = errors.New("invalid pool type")

	// ErrNotHerdPool is returned when return distribution is requested for a
	// pool that does not share returns.
	ErrNotHerdPool = errors.New("pool is not a herd pool")
)

// Risky mode errors
var (
	// ErrRiskyModeEnabled is returned when risky mode is enabled twice.
	ErrRiskyModeEnabled = errors.New("risky mode is already enabled")

	// ErrRiskyModeNotEnabled is returned when risky mode state is required
	// but absent.
	ErrRiskyModeNotEnabled = errors.New("risky mode is not enabled")

	// ErrInvalidRiskTolerance is returned for a tolerance outside (0, 1).
	ErrInvalidRiskTolerance = errors.New("risk tolerance must be between 0 and 1 exclusive")
)

// Fallout errors
var (
	// ErrFalloutAlreadyResolved is returned when a second resolution is
	// attempted for the same incident.  Surfaced as a conflict.
	ErrFalloutAlreadyResolved = errors.New("fallout is already resolved for this hold")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller lacks the required permission.
	ErrForbidden = errors.New("forbidden: insufficient permissions")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound stays in sync automatically.
var notFoundErrors = []error{
	ErrWalletNotFound,
	ErrHoldNotFound,
	ErrInvestmentNotFound,
	ErrPoolNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors.  Used to translate domain errors to HTTP 404.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict.
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrFalloutAlreadyResolved,
		ErrRiskyModeEnabled,
		ErrRiskyModeNotEnabled,
		ErrHoldDisputed,
		ErrInvestmentClosed,
		ErrHoldNotActive,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsIdempotentNoop returns true for repeated transitions that are safe to
// treat as success (markShipped / release called twice).
func IsIdempotentNoop(err error) bool {
	return errors.Is(err, ErrAlreadyShipped) || errors.Is(err, ErrAlreadyReleased)
}
