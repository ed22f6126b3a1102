// Package environment computes ε, the multiplicative environment factor
// applied to every priced trade: a seasonal/weekend/newbie/inflation
// composite, combined in log space. See spec.md §4.3.
package environment

import (
	"math"
	"time"

	"github.com/ncruces/go-strftime"

	"ecobridge/internal/logger"
	"ecobridge/internal/macro"
	"ecobridge/internal/model"
)

const (
	secondsPerDay   = 86400.0
	secondsPerWeek  = 604800.0
	secondsPerLunar = 2592000.0

	epsilonFloor   = 0.1
	epsilonCeiling = 10.0
	safeLogFloor   = 0.01

	festivalBoost = 1.15
)

// Debug, when true, logs the timezone-corrected local timestamp used for
// the seasonal/weekend sub-factors on every call. Off by default — it is
// a developer aid, not part of the production hot path.
var Debug = false

// Calculate returns ε(ctx, cfg), clamped to [0.1, 10]. Any unreadable
// input (nil ctx/cfg) falls back to the neutral factor 1.0, matching the
// boundary's documented fallback for calculate_epsilon.
func Calculate(ctx *model.TradeContext, cfg *model.MarketConfig) float64 {
	if ctx == nil || cfg == nil {
		return 1.0
	}

	sLocal := float64(ctx.CurrentTimestamp)/1000.0 + float64(ctx.TimezoneOffset)

	if Debug {
		t := time.Unix(int64(sLocal), 0).UTC()
		logger.Info("ENV", strftime.Format("%Y-%m-%d %H:%M:%S (local-shifted)", t))
	}

	seasonal := seasonalFactor(sLocal, cfg.SeasonalAmplitude, ctx.IsFestival())
	weekend := weekendFactor(sLocal, cfg.WeekendMultiplier)
	newbie := newbieFactor(ctx.IsNewbie(), cfg.NewbieProtectionRate)
	inflation := macro.CalcInflation(ctx.InflationRate)

	logSum := cfg.WeightSeasonal*safeLog(seasonal) +
		cfg.WeightWeekend*safeLog(weekend) +
		cfg.WeightNewbie*safeLog(newbie) +
		cfg.WeightInflation*safeLog(inflation)

	eps := math.Exp(logSum)
	if !macro.IsFinite(eps) {
		return 1.0
	}
	return macro.Clamp(eps, epsilonFloor, epsilonCeiling)
}

func seasonalFactor(sLocal, amplitude float64, festival bool) float64 {
	f := 1 + amplitude*(
		0.6*math.Sin(2*math.Pi*sLocal/secondsPerDay)+
			0.3*math.Sin(2*math.Pi*sLocal/secondsPerWeek)+
			0.1*math.Sin(2*math.Pi*sLocal/secondsPerLunar))
	if festival {
		f *= festivalBoost
	}
	return f
}

// dayOfWeek returns a floored-modulo day index, Thursday-epoch corrected
// (the Unix epoch, 1970-01-01, was a Thursday). The +4 shift lands
// Sunday=0 .. Saturday=6, so the "weekend" band (index >= 5) covers
// Friday and Saturday, matching spec.md's worked examples exactly.
func dayOfWeek(sLocal float64) int64 {
	days := int64(math.Floor(sLocal / secondsPerDay))
	return floorMod(days+4, 7)
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func weekendFactor(sLocal, weekendMultiplier float64) float64 {
	if dayOfWeek(sLocal) >= 5 {
		return weekendMultiplier
	}
	return 1.0
}

func newbieFactor(isNewbie bool, protectionRate float64) float64 {
	if isNewbie {
		return 1 - protectionRate
	}
	return 1.0
}

// safeLog guards ln(f) against non-positive f, per spec.md's "max(f,0.01)
// guards against non-positive factors" note (§4.3, also flagged as an
// Open Question: whether this floor is ever actually reached).
func safeLog(f float64) float64 {
	if f < safeLogFloor {
		f = safeLogFloor
	}
	return math.Log(f)
}
