package era

import "math"

// The inflation curve is an external pure function per spec.md §1 ("the
// piecewise-linear inflation curve" is out of scope) and is supplied to
// Engine via capability.Capabilities.Curve. DefaultCurve below is the
// reference NPoS ideal-stake curve, restated in the teacher's own
// arithmetic style: internal/economics/supply.go computes rewards as a
// float64 ratio of a base amount and casts back to uint64 at the end
// (CalculateReputationMultiplier, CalculateMinerReward); the same shape
// is used here, substituting "distance from the ideal staked ratio" for
// "reputation" as the multiplier input.

const (
	// millisPerYear approximates a Julian year in milliseconds, used to
	// annualize the duration-scoped era reward.
	millisPerYear = 365.25 * 24 * 60 * 60 * 1000

	// idealStakedRatio is the fraction of total issuance the curve
	// targets as actively staked.
	idealStakedRatio = 0.50

	// minAnnualInflation is the inflation rate floor, paid regardless of
	// how far actual stake is from the ideal ratio.
	minAnnualInflation = 0.025

	// idealAnnualInflation is the inflation rate paid exactly at the
	// ideal staked ratio.
	idealAnnualInflation = 0.20

	// decayRate controls how sharply the curve falls off once actual
	// stake exceeds the ideal ratio.
	decayRate = 0.05
)

// DefaultCurve implements capability.InflationCurve: given the total
// currently staked, the total issuance, and the era's duration in
// milliseconds, it returns the era's computed payout and the maximum
// payout obtainable at the ideal staked ratio (spec.md §4.5: "total_payout
// = f_inflation(...)"; "max_payout − total_payout" is routed to the
// reward remainder sink).
func DefaultCurve(totalStaked, totalIssuance, durationMillis uint64) (payout, maxPayout uint64) {
	if totalIssuance == 0 {
		return 0, 0
	}

	stakedRatio := float64(totalStaked) / float64(totalIssuance)

	var annualRate float64
	if stakedRatio <= idealStakedRatio {
		// Linear ramp from minAnnualInflation at 0 stake up to
		// idealAnnualInflation at the ideal ratio.
		annualRate = minAnnualInflation + stakedRatio*(idealAnnualInflation-minAnnualInflation)/idealStakedRatio
	} else {
		// Exponential decay beyond the ideal ratio, floor at minAnnualInflation.
		excess := stakedRatio - idealStakedRatio
		annualRate = minAnnualInflation + (idealAnnualInflation-minAnnualInflation)*math.Exp(-excess/decayRate)
	}

	yearFraction := float64(durationMillis) / millisPerYear

	payout = uint64(float64(totalIssuance) * annualRate * yearFraction)
	maxPayout = uint64(float64(totalIssuance) * idealAnnualInflation * yearFraction)
	return payout, maxPayout
}
