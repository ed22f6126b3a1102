// Package macro holds the small, pure macro-economy functions shared by
// the environment, pricing, and PID packages: inflation, stability, and
// decay. Each is a stateless function of its inputs, in the teacher's
// engine-math style (internal/engine/risk.go): short helpers, no side
// effects, clamped outputs.
package macro

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Logistic is the standard logistic (sigmoid) function, used throughout
// the core to turn an unbounded signal into a smooth 0..1 gate.
func Logistic(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// CalcInflation returns the inflation-adjustment factor used by the
// environment engine (and exposed as the calc_inflation entry point):
//
//	1 + inflationRate·0.2·σ(10·(inflationRate−0.05))
func CalcInflation(inflationRate float64) float64 {
	if !isFinite(inflationRate) {
		return 1.0
	}
	return 1 + inflationRate*0.2*Logistic(10*(inflationRate-0.05))
}

// CalcStability returns a 0..1 "market stability" score from a volatility
// measure: higher volatility pushes the score toward 0. Used by callers
// that want a single scalar summary of eco_saturation / market_heat
// inputs before they reach the pricing engine.
func CalcStability(volatility float64) float64 {
	if !isFinite(volatility) || volatility < 0 {
		return 1.0
	}
	return 1.0 / (1.0 + volatility)
}

// CalcDecay returns the exponential decay weight exp(-dtMillis/horizonMillis),
// the same per-record weight the aggregator's Neff summation applies
// (the aggregator computes it inline rather than calling this). Returns 0
// for a non-positive horizon or a non-finite result, matching the
// aggregator's "report non-finite as 0" rule.
func CalcDecay(dtMillis, horizonMillis float64) float64 {
	if horizonMillis <= 0 {
		return 0
	}
	w := math.Exp(-dtMillis / horizonMillis)
	if !isFinite(w) {
		return 0
	}
	return w
}

// Clamp restricts x to [lo, hi]. Generic over any floating-point type so
// the same helper serves float64 math here and in the pricing/pidctl
// packages without duplication.
func Clamp[T constraints.Float](x, lo, hi T) T {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// IsFinite reports whether x is neither NaN nor ±Inf. Exported for the
// packages that detect input poisoning per spec.md §7 (environment,
// pricing, pidctl).
func IsFinite(x float64) bool {
	return isFinite(x)
}
