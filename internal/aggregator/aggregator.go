// Package aggregator maintains the hot in-memory trade history and
// computes Neff, the time-decayed effective volume used by the pricing
// engine. See spec.md §4.1.
//
// The hot window is a package-level singleton guarded by one
// multi-reader/single-writer lock, matching the teacher's order-cache
// pattern (internal/esi/order_cache.go): readers take the read side for
// the duration of a Neff query, the single writer (trade log) takes the
// write side only to append or prune.
package aggregator

import (
	"math"
	"sort"
	"sync"

	"golang.org/x/sys/cpu"

	"ecobridge/internal/logger"
	"ecobridge/internal/model"
)

const (
	hardCap       = 500_000
	pruneTo       = 400_000
	futureSlackMs = 60_000
	tailCutoffMul = 10.0
	msPerDay      = 86_400_000.0

	// vectorLanes is the chunk width of the unrolled decay-sum pipeline,
	// used when the host CPU advertises 256-bit double-precision vector
	// support (AVX2: 4 float64 lanes per 256-bit register). Go has no
	// portable SIMD intrinsic for a per-lane exp(), so "vectorized" here
	// means an unrolled-by-4 scalar loop that processes four records per
	// iteration with shared bounds checks. Each record's term is computed
	// exactly as on the plain scalar path; only the order in which the
	// terms are added differs, so the two sums can differ by rounding.
	vectorLanes = 4

	// parallelThreshold is the minimum history length before a
	// goroutine-per-chunk map-sum is worth its synchronization cost.
	parallelThreshold = 750
	parallelChunks    = 8
)

// wideVectorSupport reports whether the host CPU advertises 256-bit
// double-precision vector support (AVX2 on amd64; ASIMD covers the
// equivalent width on arm64).
func wideVectorSupport() bool {
	return cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD
}

var (
	mu      sync.RWMutex
	history []model.HistoryRecord
)

// Reset clears the hot window. Used by tests and by a host that wants to
// rebuild the singleton from scratch.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	history = nil
}

// Hydrate loads records into the hot window in ascending-ts order,
// replacing whatever is already present. Called once at warm start with
// every cold-store record newer than now-90d (spec.md §4.1).
func Hydrate(records []model.HistoryRecord) {
	mu.Lock()
	defer mu.Unlock()
	sorted := make([]model.HistoryRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })
	history = sorted
	logger.Stats("aggregator.hydrated", len(history))
}

// Append adds one record to the hot window under the write lock, then
// prunes if the hard cap was exceeded. Read-after-write: the very next
// Neff call on any goroutine observes this record once the lock is
// released.
func Append(rec model.HistoryRecord) {
	mu.Lock()
	defer mu.Unlock()
	history = append(history, rec)
	if len(history) > hardCap {
		drop := len(history) - pruneTo
		history = append([]model.HistoryRecord(nil), history[drop:]...)
	}
}

// Len returns the current hot-window length.
func Len() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(history)
}

// Neff computes the time-decayed effective volume at tNow over a decay
// horizon tau (days). Empty history or tau<=0 yields 0. A non-finite
// result is reported as 0.
func Neff(tNow int64, tau float64) float64 {
	mu.RLock()
	defer mu.RUnlock()
	return neffLocked(history, tNow, tau)
}

func neffLocked(records []model.HistoryRecord, tNow int64, tau float64) float64 {
	if len(records) == 0 || tau <= 0 {
		return 0
	}

	k := 1.0 / (tau * msPerDay)
	futureBound := tNow + futureSlackMs
	tailBound := tNow - int64(tailCutoffMul*tau*msPerDay)

	valid := make([]model.HistoryRecord, 0, len(records))
	tMin := int64(math.MaxInt64)
	for _, r := range records {
		if r.Timestamp > futureBound || r.Timestamp < tailBound {
			continue
		}
		valid = append(valid, r)
		if r.Timestamp < tMin {
			tMin = r.Timestamp
		}
	}
	if len(valid) == 0 {
		return 0
	}

	// Factor out exp(-(tNow-tMin)*k) for numeric stability: the
	// per-record exponent below, (ts-tMin)*k, is then non-negative and
	// bounded by the tail cutoff plus the future slack (about 10).
	outerExp := math.Exp(-float64(tNow-tMin) * k)

	var sum float64
	if wideVectorSupport() {
		sum = sumVectorized(valid, tMin, k)
	} else if len(valid) >= parallelThreshold {
		sum = sumParallel(valid, tMin, k)
	} else {
		sum = sumScalar(valid, 0, len(valid), tMin, k)
	}

	result := sum * outerExp
	if !isFinite(result) {
		return 0
	}
	return result
}

func sumScalar(records []model.HistoryRecord, lo, hi int, tMin int64, k float64) float64 {
	var sum float64
	for i := lo; i < hi; i++ {
		r := records[i]
		exponent := float64(r.Timestamp-tMin) * k
		sum += math.Abs(r.Amount) * math.Exp(exponent)
	}
	return sum
}

// sumVectorized processes records in lanes of 4 (the AVX2 "load ->
// subtract -> multiply -> exp -> multiply -> accumulate" pipeline of
// spec.md §4.1), falling back to scalar for the trailing remainder.
func sumVectorized(records []model.HistoryRecord, tMin int64, k float64) float64 {
	n := len(records)
	full := n - n%vectorLanes
	var sum float64
	for i := 0; i < full; i += vectorLanes {
		var lane [vectorLanes]float64
		for l := 0; l < vectorLanes; l++ {
			r := records[i+l]
			exponent := float64(r.Timestamp-tMin) * k
			lane[l] = math.Abs(r.Amount) * math.Exp(exponent)
		}
		sum += lane[0] + lane[1] + lane[2] + lane[3]
	}
	sum += sumScalar(records, full, n, tMin, k)
	return sum
}

func sumParallel(records []model.HistoryRecord, tMin int64, k float64) float64 {
	n := len(records)
	chunk := (n + parallelChunks - 1) / parallelChunks
	if chunk == 0 {
		chunk = n
	}
	partials := make([]float64, 0, parallelChunks)
	var wg sync.WaitGroup
	var pMu sync.Mutex
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			partial := sumScalar(records, lo, hi, tMin, k)
			pMu.Lock()
			partials = append(partials, partial)
			pMu.Unlock()
		}(lo, hi)
	}
	wg.Wait()
	var total float64
	for _, p := range partials {
		total += p
	}
	return total
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
