// Package config holds the documented default values for the PID
// controller, market, and regulator configs (spec.md §6). A plain
// struct-literal constructor, no env/flag parsing baked in — same
// division of responsibility as the teacher's own config.Default(),
// which leaves flag/env loading to main.go.
package config

import (
	"ecobridge/internal/model"
	"ecobridge/internal/pidctl"
)

// DefaultPID returns the documented default gains for a fresh PID
// instance: kp=0.5, ki=0.1, kd=0.05, lambda=0.01, integration_limit=30.
func DefaultPID() model.PidState {
	return pidctl.Defaults()
}

// DefaultMarket returns the documented default market/environment
// tuning: base_lambda=0.1, amplitude=0.15, weekend_multiplier=1.2,
// newbie_protection=0.2, and the four log-combine weights at 0.25 each.
func DefaultMarket() model.MarketConfig {
	return model.MarketConfig{
		BaseLambda:           0.1,
		VolatilityFactor:     0.0,
		SeasonalAmplitude:    0.15,
		WeekendMultiplier:    1.2,
		NewbieProtectionRate: 0.2,
		WeightSeasonal:       0.25,
		WeightWeekend:        0.25,
		WeightNewbie:         0.25,
		WeightInflation:      0.25,
	}
}

// DefaultRegulator returns the documented default transfer-regulator
// tuning from spec.md §6.
func DefaultRegulator() model.RegulatorConfig {
	return model.RegulatorConfig{
		BaseTaxRate:        0.05,
		LuxuryThreshold:    100_000,
		LuxuryTaxRate:      0.10,
		WealthGapTaxRate:   0.20,
		PoorThreshold:      10_000,
		RichThreshold:      1_000_000,
		NewbieReceiveLimit: 50_000,
		NewbieHours:        10,
		VeteranHours:       100,
		VelocityThreshold:  20,
		WarningRatio:       0.9,
		WarningMin:         50_000,
	}
}
