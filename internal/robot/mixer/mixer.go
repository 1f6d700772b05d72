// Package mixer implements the differential-drive mix from
// (throttle, steer) to per-wheel signed outputs, with curvature
// preserving normalization and per-wheel calibration scale.
package mixer

import "github.com/arobi/picobot/internal/protocol"

// Limits holds the configured speed/turn-rate scale factors applied
// before mixing. Defaults are 1.0 (no attenuation).
type Limits struct {
	MaxSpeed float64
	TurnRate float64
}

// DefaultLimits returns the unscaled (1.0, 1.0) limits.
func DefaultLimits() Limits {
	return Limits{MaxSpeed: 1.0, TurnRate: 1.0}
}

// Mixer is pure: it holds only configured limits and reads a
// calibration snapshot per call, never mutating either.
type Mixer struct {
	limits Limits
}

// New builds a Mixer with the given speed/turn-rate limits.
func New(limits Limits) *Mixer {
	return &Mixer{limits: limits}
}

// Drive computes (left, right) from (throttle, steer) and the current
// calibration, per §4.2:
//  1. scale by MAX_SPEED / TURN_RATE
//  2. raw mix l = throttle+steer, r = throttle-steer
//  3. curvature-preserving normalization by the common max magnitude
//  4. apply per-wheel calibration scale
//  5. final defensive clamp to [-1, 1]
func (mx *Mixer) Drive(throttle, steer float64, cal protocol.Calibration) (left, right float64) {
	t := throttle * mx.limits.MaxSpeed
	s := steer * mx.limits.TurnRate

	l := t + s
	r := t - s

	m := maxAbs(l, r)
	if m > 1 {
		l /= m
		r /= m
	}

	l *= cal.MotorLeftScale
	r *= cal.MotorRightScale

	return clamp1(l), clamp1(r)
}

func maxAbs(a, b float64) float64 {
	if abs(a) > abs(b) {
		return abs(a)
	}
	return abs(b)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp1(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
