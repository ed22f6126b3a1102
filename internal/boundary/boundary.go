// Package boundary is the panic barrier: every function in this package
// that calls into a subsystem is one of the host-facing entry points
// named in spec.md §6, and every one of them recovers from a panic in the
// subsystem it calls, logs it, bumps a process-wide panic counter, and
// returns that entry point's documented fallback value instead of letting
// the panic cross into the host. See spec.md §5, §7, and §9 ("Global
// mutable state").
//
// The cold store is an init-once slot behind a mutex, the same shape as
// the teacher's internal/db package-level connection holder; the hot
// history is owned by internal/aggregator behind its own RWMutex, and
// the panic counter is a package-level atomic.
package boundary

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"ecobridge/internal/aggregator"
	"ecobridge/internal/environment"
	"ecobridge/internal/logger"
	"ecobridge/internal/macro"
	"ecobridge/internal/model"
	"ecobridge/internal/pidctl"
	"ecobridge/internal/pricing"
	"ecobridge/internal/regulator"
	"ecobridge/internal/storage"
)

const logTag = "BOUNDARY"

// ABIVersion pins the deployed binary-interface version. spec.md's Open
// Questions note this field appeared as both 0x0008_0300 and 0x0008_0700
// during the original's evolution; the entry-point table itself (§6)
// lists 0x0008_0700, so that is the value pinned here — see DESIGN.md.
const ABIVersion uint32 = 0x0008_0700

const versionString = "ecobridge-core 0.8.7"

var panicCount atomic.Uint64

var (
	dbMu    sync.Mutex
	db      *storage.Store
	dbReady bool
)

func recoverAndLog(entryPoint string) {
	if r := recover(); r != nil {
		panicCount.Add(1)
		logger.Error(logTag, fmt.Sprintf("panic in %s: %v", entryPoint, r))
	}
}

// ABIVersionCode returns the fixed ABI version word.
func ABIVersionCode() uint32 { return ABIVersion }

// VersionString returns the static, host-never-frees version string.
func VersionString() string { return versionString }

// PanicCount returns the number of panics trapped at this boundary since
// process start.
func PanicCount() uint64 { return panicCount.Load() }

// InitDB opens the cold store at path and warm-starts the aggregator.
// Returns 0 on success; negative codes per spec.md §6.
func InitDB(path []byte, readerPoolSize int) (code int32) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			logger.Error(logTag, fmt.Sprintf("panic in init_db: %v", r))
			code = -4
		}
	}()

	if path == nil {
		return -1
	}
	if !utf8.Valid(path) {
		return -2
	}

	dbMu.Lock()
	defer dbMu.Unlock()
	if dbReady {
		return -7
	}

	s, err := storage.Open(string(path), readerPoolSize)
	if err != nil {
		logger.Error(logTag, fmt.Sprintf("init_db: %v", err))
		switch {
		case errors.Is(err, storage.ErrDDL):
			return -5
		case errors.Is(err, storage.ErrPool):
			return -6
		default:
			return -4
		}
	}
	db = s
	dbReady = true
	return 0
}

// ShutdownDB flushes and closes the cold store. Returns 0 on success,
// -1 if no writer was ever initialized.
func ShutdownDB() (code int32) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			logger.Error(logTag, fmt.Sprintf("panic in shutdown_db: %v", r))
			code = -1
		}
	}()

	dbMu.Lock()
	defer dbMu.Unlock()
	if !dbReady {
		return -1
	}
	if err := db.Shutdown(); err != nil {
		logger.Error(logTag, fmt.Sprintf("shutdown_db: %v", err))
	}
	db = nil
	dbReady = false
	return 0
}

// LogEvent performs the dual write spec.md §4.1 requires: the record is
// appended to the hot window synchronously (read-after-write for the
// very next query_neff call), then enqueued for the cold writer. The
// hot-window append happens even when the cold store was never
// initialized; only the durable side is a no-op in that case.
func LogEvent(ts int64, playerUUID string, delta, balance float64, metadata string) {
	defer recoverAndLog("log_event")

	aggregator.Append(model.HistoryRecord{Timestamp: ts, Amount: delta})

	dbMu.Lock()
	s := db
	dbMu.Unlock()
	if s == nil {
		return
	}
	s.LogEvent(ts, playerUUID, delta, balance, metadata)
}

// GetHealthStats returns the relaxed total/dropped log counters and the
// boundary panic counter as raw numbers; HealthStatsLine formats them.
func GetHealthStats() (total, dropped, panics uint64) {
	defer recoverAndLog("get_health_stats")

	dbMu.Lock()
	s := db
	dbMu.Unlock()
	if s == nil {
		return 0, 0, panicCount.Load()
	}
	t, d := s.Stats()
	return t, d, panicCount.Load()
}

// HealthStatsLine renders the current health stats the way the demo
// host prints them to the log (github.com/dustin/go-humanize for
// thousands separators).
func HealthStatsLine() string {
	total, dropped, panics := GetHealthStats()
	return fmt.Sprintf("total=%s dropped=%s panics=%s",
		humanize.Comma(int64(total)), humanize.Comma(int64(dropped)), humanize.Comma(int64(panics)))
}

// QueryNeff returns the hot-window effective volume at tNow over horizon
// tau (days). When the hot window was never hydrated — the cold store is
// open but the aggregator holds nothing, e.g. right after init_db on a
// process that has logged no events yet this run — it falls back to the
// cold store's SQL aggregation path instead, per spec.md §4.1.
func QueryNeff(tNow int64, tau float64) (result float64) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			logger.Error(logTag, fmt.Sprintf("panic in query_neff: %v", r))
			result = 0
		}
	}()

	if aggregator.Len() > 0 {
		return aggregator.Neff(tNow, tau)
	}

	dbMu.Lock()
	s, ready := db, dbReady
	dbMu.Unlock()
	if !ready {
		return aggregator.Neff(tNow, tau)
	}

	result, err := s.NeffFromColdStore(context.Background(), tNow, tau)
	if err != nil {
		logger.Error(logTag, fmt.Sprintf("query_neff: cold-store fallback: %v", err))
		return aggregator.Neff(tNow, tau)
	}
	return result
}

// ComputePriceBounded returns the core clamped price with no tier or
// historical-floor adjustment: spec.md §4.2 step 1-6 only.
func ComputePriceBounded(base, neff, amount, lambda, epsilon float64) (result float64) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			logger.Error(logTag, fmt.Sprintf("panic in compute_price_bounded: %v", r))
			result = base
		}
	}()
	return pricing.Core(base, neff, amount, lambda, epsilon)
}

// ComputePriceHumane returns the core price with the bulk-discount tier
// schedule applied on top, the "what a player actually pays per unit"
// view for a sell of qty units.
func ComputePriceHumane(base, neff, amount, lambda, epsilon, qty float64, isSell bool) (result float64) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			logger.Error(logTag, fmt.Sprintf("panic in compute_price_humane: %v", r))
			result = base
		}
	}()
	core := pricing.Core(base, neff, amount, lambda, epsilon)
	return pricing.TierPrice(core, qty, isSell)
}

// ComputePriceFinal is the full pipeline: core price plus the 7-day
// historical floor, the price actually charged at the register.
func ComputePriceFinal(base, neff, amount, lambda, epsilon, histAvg float64) (result float64) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			logger.Error(logTag, fmt.Sprintf("panic in compute_price_final: %v", r))
			result = base
		}
	}()
	return pricing.FloorProtected(base, neff, amount, lambda, epsilon, histAvg)
}

// ComputeTierPrice is the standalone tiered bulk-discount calculation.
func ComputeTierPrice(base, qty float64, isSell bool) (result float64) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			logger.Error(logTag, fmt.Sprintf("panic in compute_tier_price: %v", r))
			result = base
		}
	}()
	return pricing.TierPrice(base, qty, isSell)
}

// ComputeBatchPrices fills out with the floor-protected price for every
// row, sharing one Neff snapshot across the whole call. out must be at
// least len(rows) long.
func ComputeBatchPrices(neff float64, rows []pricing.BatchRow, out []float64) {
	defer recoverAndLog("compute_batch_prices")
	pricing.ComputeBatch(neff, rows, out)
}

// CalculateEpsilon returns the environment factor, falling back to the
// neutral 1.0 on a trapped panic.
func CalculateEpsilon(ctx *model.TradeContext, cfg *model.MarketConfig) (result float64) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			logger.Error(logTag, fmt.Sprintf("panic in calculate_epsilon: %v", r))
			result = 1.0
		}
	}()
	return environment.Calculate(ctx, cfg)
}

// ComputePIDAdjustment steps the controller, falling back to 0.0 on a
// trapped panic (distinct from pidctl.Step's own input-poison fallback
// of 1.0 — 0.0 here means "the call itself could not complete").
func ComputePIDAdjustment(s *model.PidState, target, current, dt, inflation float64) (result float64) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			logger.Error(logTag, fmt.Sprintf("panic in compute_pid_adjustment: %v", r))
			result = 0.0
		}
	}()
	return pidctl.Step(s, target, current, dt, inflation)
}

// ResetPIDState writes the package defaults' dynamic fields back to s.
func ResetPIDState(s *model.PidState) {
	defer recoverAndLog("reset_pid_state")
	pidctl.Reset(s)
}

// CalcInflation, CalcStability, and CalcDecay expose the macro-economy
// helpers directly at the boundary, per spec.md's entry-point table.
func CalcInflation(rate float64) (result float64) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			logger.Error(logTag, fmt.Sprintf("panic in calc_inflation: %v", r))
			result = 1.0
		}
	}()
	return macro.CalcInflation(rate)
}

func CalcStability(volatility float64) (result float64) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			logger.Error(logTag, fmt.Sprintf("panic in calc_stability: %v", r))
			result = 1.0
		}
	}()
	return macro.CalcStability(volatility)
}

func CalcDecay(dtMillis, horizonMillis float64) (result float64) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			logger.Error(logTag, fmt.Sprintf("panic in calc_decay: %v", r))
			result = 0
		}
	}()
	return macro.CalcDecay(dtMillis, horizonMillis)
}

// ComputeTransferCheck audits one transfer attempt. A null ctx or cfg
// yields a blocked result with CodeNullCtx (671) or CodeNullCfg (672);
// a trapped panic yields a blocked result with CodeFallbackError (-999),
// per spec.md §6.
func ComputeTransferCheck(ctx *model.TransferContext, cfg *model.RegulatorConfig) (result model.TransferResult) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			logger.Error(logTag, fmt.Sprintf("panic in compute_transfer_check: %v", r))
			result = model.TransferResult{IsBlocked: 1, WarningCode: model.CodeFallbackError}
		}
	}()
	return regulator.Check(ctx, cfg)
}
