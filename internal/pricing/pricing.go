// Package pricing implements the behavioral pricing engine: a bounded
// output price from base price, aggregated volume, trade direction, and
// environment, with asymmetric sensitivity, soft clamping, tiered bulk
// discounts, and a historical floor. See spec.md §4.2.
package pricing

import (
	"math"
	"sync"

	"ecobridge/internal/environment"
	"ecobridge/internal/macro"
	"ecobridge/internal/model"
)

const (
	hardFloor = 0.01

	sellLambdaDamping = 0.6
	exponentClamp     = 100.0
	softClampScale    = 10.0

	tierOneUnits   = 500.0
	tierTwoUnits   = 1500.0
	tierOnePct     = 1.00
	tierTwoPct     = 0.85
	tierThreePct   = 0.60
	floorHistRatio = 0.2
)

// Core computes the behavioral price: base, Neff (pre-trade effective
// volume), the trade's own amount, sensitivity lambda, and the
// environment factor epsilon. Any non-finite input returns the hard
// floor, 0.01.
func Core(base, neff, amount, lambda, epsilon float64) float64 {
	if !macro.IsFinite(base) || !macro.IsFinite(neff) || !macro.IsFinite(amount) || !macro.IsFinite(lambda) || !macro.IsFinite(epsilon) {
		return hardFloor
	}

	adjLambda := lambda
	if amount > 0 {
		adjLambda = lambda * sellLambdaDamping
	}

	nPrime := neff + amount

	x := macro.Clamp(-adjLambda*nPrime, -exponentClamp, exponentClamp)
	xSoft := softClampScale * math.Tanh(x/softClampScale)

	price := base * epsilon * math.Exp(xSoft)
	return math.Max(price, hardFloor)
}

// TierPrice returns the per-unit price for a sell of qty units, applying
// the 100%/85%/60% bulk-discount tiers above 500 units. Buys, or sell
// quantities at or below 500, return base unchanged.
func TierPrice(base float64, qty float64, isSell bool) float64 {
	if !isSell || qty <= tierOneUnits {
		return base
	}

	q1 := math.Min(qty, tierOneUnits)
	q2 := math.Min(qty-tierOneUnits, tierTwoUnits)
	residue := qty - q1 - q2
	if residue < 0 {
		residue = 0
	}

	weighted := base*tierOnePct*q1 + base*tierTwoPct*q2 + base*tierThreePct*residue
	return weighted / qty
}

// FloorProtected computes the core price and applies the 7-day historical
// floor: max(core, max(histAvg*0.2, 0.01)).
func FloorProtected(base, neff, amount, lambda, epsilon, histAvg float64) float64 {
	core := Core(base, neff, amount, lambda, epsilon)
	floor := math.Max(histAvg*floorHistRatio, hardFloor)
	return math.Max(core, floor)
}

// BatchRow is one row of batch input for ComputeBatch.
type BatchRow struct {
	Ctx     model.TradeContext
	Cfg     model.MarketConfig
	Lambda  float64
	HistAvg float64
}

// ComputeBatch fills out with the floor-protected price for each input
// row, computed in parallel by up to 8 goroutines (one per row below 8
// rows), each pricing a contiguous chunk. neff
// is a single shared effective-volume snapshot applied to every row (the
// boundary's compute_batch_prices takes one Neff, not one per row — a
// batch call prices N items against one aggregator snapshot). Per
// spec.md §9's Open Question on this, batch rows always price with
// amount=0: a batch call is a snapshot preview across many items, not a
// single trade, so no row's output should be skewed by a trade direction
// it isn't actually experiencing.
func ComputeBatch(neff float64, rows []BatchRow, out []float64) {
	if len(out) < len(rows) {
		return
	}

	var wg sync.WaitGroup
	workers := numWorkers(len(rows))
	chunk := (len(rows) + workers - 1) / workers
	if chunk == 0 {
		chunk = len(rows)
	}

	for lo := 0; lo < len(rows); lo += chunk {
		hi := lo + chunk
		if hi > len(rows) {
			hi = len(rows)
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				r := &rows[i]
				eps := environment.Calculate(&r.Ctx, &r.Cfg)
				out[i] = FloorProtected(r.Ctx.BasePrice, neff, 0, r.Lambda, eps, r.HistAvg)
			}
		}(lo, hi)
	}
	wg.Wait()
}

func numWorkers(n int) int {
	if n < 2 {
		return 1
	}
	if n < 8 {
		return n
	}
	return 8
}
