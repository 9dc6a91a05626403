package domain_test

import (
	"testing"

	"github.com/lendaro/settlement/internal/domain"
	"github.com/shopspring/decimal"
)

// TestSplitAllocationExact verifies the 50/50 split is exact: the two shares
// always sum back to the allocated amount, and any sub-unit remainder lands
// on the platform side.
func TestSplitAllocationExact(t *testing.T) {
	cases := []string{"100", "0.0001", "33.3333", "0.0003", "123456.7891", "50.00"}
	for _, raw := range cases {
		amount := decimal.RequireFromString(raw)
		consumer, platform := domain.SplitAllocation(amount)

		if !consumer.Add(platform).Equal(amount) {
			t.Errorf("split(%s): %s + %s != %s", raw, consumer, platform, amount)
		}
		if consumer.GreaterThan(platform) {
			t.Errorf("split(%s): consumer %s > platform %s (remainder must favor platform)", raw, consumer, platform)
		}
		diff := platform.Sub(consumer)
		if diff.GreaterThan(decimal.RequireFromString("0.0001")) {
			t.Errorf("split(%s): share skew %s exceeds one minimal unit", raw, diff)
		}
	}
}

// TestResolvePoolTypeThresholds checks the automatic-mode boundaries:
// utilization ≥ 0.7 → herd, ≤ 0.3 → individual, both inclusive.
func TestResolvePoolTypeThresholds(t *testing.T) {
	lo := decimal.NewFromFloat(0.3)
	hi := decimal.NewFromFloat(0.7)

	cases := []struct {
		util string
		want domain.PoolType
	}{
		{"0.0", domain.PoolIndividual},
		{"0.3", domain.PoolIndividual}, // inclusive lower bound
		{"0.7", domain.PoolHerd},       // inclusive upper bound
		{"0.95", domain.PoolHerd},
	}
	for _, tc := range cases {
		got := domain.ResolvePoolType(domain.PoolAutomatic, nil, decimal.RequireFromString(tc.util), lo, hi)
		if got != tc.want {
			t.Errorf("utilization %s: resolved %s, want %s", tc.util, got, tc.want)
		}
	}
}

// TestResolvePoolTypeHysteresis checks that inside the (0.3, 0.7) band the
// previous assignment persists instead of oscillating, and that a hold with
// no previous assignment defaults to individual.
func TestResolvePoolTypeHysteresis(t *testing.T) {
	lo := decimal.NewFromFloat(0.3)
	hi := decimal.NewFromFloat(0.7)
	mid := decimal.NewFromFloat(0.5)

	if got := domain.ResolvePoolType(domain.PoolAutomatic, nil, mid, lo, hi); got != domain.PoolIndividual {
		t.Errorf("no previous assignment: resolved %s, want individual", got)
	}

	herd := domain.PoolHerd
	if got := domain.ResolvePoolType(domain.PoolAutomatic, &herd, mid, lo, hi); got != domain.PoolHerd {
		t.Errorf("previous herd inside band: resolved %s, want herd", got)
	}

	individual := domain.PoolIndividual
	if got := domain.ResolvePoolType(domain.PoolAutomatic, &individual, mid, lo, hi); got != domain.PoolIndividual {
		t.Errorf("previous individual inside band: resolved %s, want individual", got)
	}

	// Crossing a boundary overrides the sticky assignment.
	if got := domain.ResolvePoolType(domain.PoolAutomatic, &individual, decimal.NewFromFloat(0.8), lo, hi); got != domain.PoolHerd {
		t.Errorf("utilization 0.8 with previous individual: resolved %s, want herd", got)
	}
}

// TestResolvePoolTypeExplicitPreference checks that a non-automatic request
// is honored verbatim regardless of utilization.
func TestResolvePoolTypeExplicitPreference(t *testing.T) {
	lo := decimal.NewFromFloat(0.3)
	hi := decimal.NewFromFloat(0.7)
	full := decimal.NewFromInt(1)

	if got := domain.ResolvePoolType(domain.PoolIndividual, nil, full, lo, hi); got != domain.PoolIndividual {
		t.Errorf("explicit individual at full utilization: resolved %s", got)
	}
	if got := domain.ResolvePoolType(domain.PoolHerd, nil, decimal.Zero, lo, hi); got != domain.PoolHerd {
		t.Errorf("explicit herd at zero utilization: resolved %s", got)
	}
}
