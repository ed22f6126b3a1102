// Package model holds the flat, fixed-layout records exchanged across the
// boundary between the host application and the economy core. Field order
// is deliberate: widest-first, same-width fields grouped, so the in-memory
// layout matches the byte sizes pinned by model_test.go with no implicit
// padding beyond 8-byte alignment. Treat field order as part of the ABI —
// do not reorder without updating the Sizeof assertions.
package model

// PidState holds one PID controller instance's gains and running state.
// Host-allocated, mutated only through pidctl.Step/Reset, destroyed by the
// host. IntegrationLimit of 0 means "use the package default".
type PidState struct {
	Kp               float64
	Ki               float64
	Kd               float64
	Lambda           float64 // integral leakage rate, in [0,1]
	Integral         float64
	PrevPV           float64
	FilteredD        float64
	IntegrationLimit float64 // 0 => default
	IsSaturated      bool
}

// HistoryRecord is one trade impulse in the hot window: a timestamp (ms
// since epoch, signed) and a signed amount. The aggregator takes the
// absolute value of Amount; the sign is preserved for callers (e.g. the
// cold store) that care about trade direction.
type HistoryRecord struct {
	Timestamp int64
	Amount    float64
}

// TradeContext is the per-trade input to the environment and pricing
// engines.
type TradeContext struct {
	BasePrice        float64
	CurrentAmount    float64
	InflationRate    float64
	CurrentTimestamp int64 // ms UTC
	PlayTimeSeconds  int64
	TimezoneOffset   int32 // seconds
	NewbieMask       uint32
	MarketHeat       float64
	EcoSaturation    float64
}

// Newbie mask bits (TradeContext.NewbieMask).
const (
	NewbieBit   uint32 = 1 << 0
	FestivalBit uint32 = 1 << 1
)

func (c *TradeContext) IsNewbie() bool   { return c.NewbieMask&NewbieBit != 0 }
func (c *TradeContext) IsFestival() bool { return c.NewbieMask&FestivalBit != 0 }

// TransferContext is the per-attempt input to the transfer regulator.
type TransferContext struct {
	Amount              float64
	SenderBalance       float64
	ReceiverBalance     float64
	InflationRate       float64
	NewbieLimit         float64
	SenderPlayTime      int64   // seconds
	ReceiverPlayTime    int64   // seconds
	SenderActivityScore float64 // in [0,1]
	SenderVelocity      int64   // recent ops count
}

// MarketConfig tunes the environment and pricing engines.
type MarketConfig struct {
	BaseLambda           float64
	VolatilityFactor     float64
	SeasonalAmplitude    float64
	WeekendMultiplier    float64
	NewbieProtectionRate float64
	WeightSeasonal       float64
	WeightWeekend        float64
	WeightNewbie         float64
	WeightInflation      float64
}

// RegulatorConfig tunes the transfer regulator.
type RegulatorConfig struct {
	BaseTaxRate        float64
	LuxuryThreshold    float64
	LuxuryTaxRate      float64
	WealthGapTaxRate   float64
	PoorThreshold      float64
	RichThreshold      float64
	NewbieReceiveLimit float64
	NewbieHours        float64
	VeteranHours       float64
	VelocityThreshold  float64
	WarningRatio       float64
	WarningMin         float64
}

// TransferResult is the regulator's verdict for one transfer attempt.
type TransferResult struct {
	FinalTax    float64
	IsBlocked   int32
	WarningCode int32
}

// Warning/block codes, per spec.md §4.5.
const (
	CodeNormal                = 0
	CodeWarningHighRisk       = 1
	CodeBlockReverseFlow      = 2
	CodeBlockInjection        = 3
	CodeBlockInsufficientFund = 4
	CodeBlockVelocityLimit    = 5

	// CodeFallbackError is returned by the boundary when the regulator
	// itself cannot run because of a trapped panic.
	CodeFallbackError = -999

	// CodeNullCtx and CodeNullCfg are returned by the regulator in place
	// of CodeFallbackError when the specific null-pointer input is known
	// (ctx vs cfg), so a host can distinguish "caller passed a null
	// TransferContext" from "caller passed a null RegulatorConfig" rather
	// than collapsing both into the generic panic fallback.
	CodeNullCtx = 671
	CodeNullCfg = 672
)
