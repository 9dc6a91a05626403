// Package metrics exposes Prometheus counters for the settlement engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HoldsCreatedTotal counts successfully created collateral holds.
	HoldsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_holds_created_total",
		Help: "Number of collateral holds created",
	})

	// AllocationsTotal counts pool allocations by resolved pool type.
	AllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_allocations_total",
		Help: "Number of sub-hold allocations by pool type",
	}, []string{"pool_type"})

	// WithdrawalAttemptsTotal counts withdrawal attempts by outcome
	// (withdrawn, window_closed).
	WithdrawalAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_withdrawal_attempts_total",
		Help: "Number of investment withdrawal attempts by result",
	}, []string{"result"})

	// MonitorTicksTotal counts risk monitor evaluation ticks.
	MonitorTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_risk_monitor_ticks_total",
		Help: "Number of risk monitor evaluation ticks",
	})

	// StopLossTriggersTotal counts stop-loss activations by outcome
	// (derisked, fallout).
	StopLossTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_stop_loss_triggers_total",
		Help: "Number of stop-loss activations by outcome",
	}, []string{"outcome"})

	// FalloutsResolvedTotal counts resolved fallout settlements.
	FalloutsResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_fallouts_resolved_total",
		Help: "Number of fallout settlements resolved",
	})

	// FalloutRetriesTotal counts fallout resolutions parked for retry.
	FalloutRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_fallout_retries_total",
		Help: "Number of fallout resolutions parked for retry",
	})
)
