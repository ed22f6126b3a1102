// Package pidctl implements the PID controller that adjusts the
// market-wide price-scaling factor from a target/current velocity pair
// and current inflation. See spec.md §4.4.
package pidctl

import (
	"math"

	"ecobridge/internal/macro"
	"ecobridge/internal/model"
)

const (
	defaultIntegrationLimit = 30.0
	outputFloor             = 0.5
	outputCeiling           = 5.0
	saturationTolerance     = 1e-6
	panicDerivativeGain     = 1.8
	panicDerivativeTrigger  = 50.0
	backCalcGain            = 0.2
	leakageBase             = 0.99999
)

// Defaults returns the spec.md §6 default gains for a fresh controller.
func Defaults() model.PidState {
	return model.PidState{
		Kp:               0.5,
		Ki:               0.1,
		Kd:               0.05,
		Lambda:           0.01,
		IntegrationLimit: defaultIntegrationLimit,
	}
}

// Reset zeroes every dynamic field, leaving the configured gains, lambda
// and IntegrationLimit untouched (a zero IntegrationLimit stays zero and
// Step keeps treating it as the package default).
func Reset(s *model.PidState) {
	if s == nil {
		return
	}
	s.Integral = 0
	s.PrevPV = 0
	s.FilteredD = 0
	s.IsSaturated = false
}

// Step advances the controller by one tick and returns the bounded
// adjustment in [0.5, 5.0]. On any non-finite argument or dt<0, it
// returns 1.0 without mutating state, per spec.md §4.4 and §7.
func Step(s *model.PidState, target, current, dt, inflation float64) float64 {
	if s == nil {
		return 1.0
	}
	if !macro.IsFinite(target) || !macro.IsFinite(current) || !macro.IsFinite(dt) || !macro.IsFinite(inflation) || dt < 0 {
		return 1.0
	}

	dtSafe := macro.Clamp(dt, 0, 1)

	gamma := 1 + macro.Logistic(20*(inflation-0.05))
	kp := s.Kp * gamma
	ki := s.Ki * gamma

	limit := s.IntegrationLimit
	if limit == 0 {
		limit = defaultIntegrationLimit
	}

	leakage := (1 - macro.Clamp(s.Lambda, 0, 1)) * leakageBase

	err := target - current

	if s.IsSaturated {
		back := err * backCalcGain
		s.Integral = s.Integral*leakage + back*dtSafe
	} else {
		s.Integral = s.Integral*leakage + err*dtSafe
	}
	s.Integral = macro.Clamp(s.Integral, -limit, limit)

	var dRaw float64
	if dtSafe > 1e-6 {
		dRaw = (current - s.PrevPV) / dtSafe
	}
	s.FilteredD = 0.3*dRaw + 0.7*s.FilteredD
	s.PrevPV = current

	damping := 1.0
	if math.Abs(s.FilteredD) > panicDerivativeTrigger {
		damping = panicDerivativeGain
	}

	raw := 1 + kp*err + ki*s.Integral - s.Kd*s.FilteredD*damping
	clamped := macro.Clamp(raw, outputFloor, outputCeiling)

	s.IsSaturated = math.Abs(raw-clamped) > saturationTolerance

	if !macro.IsFinite(clamped) {
		return 1.0
	}
	return clamped
}
