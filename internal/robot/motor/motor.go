// Package motor drives a single DC motor through a PWM pin and two
// direction pins, and composes two of them into a MotorDriver.
package motor

import "github.com/arobi/picobot/internal/hal"

// CoastEpsilon is the |value| threshold below which a motor coasts
// rather than being driven in either direction.
const CoastEpsilon = 0.01

// Wheel identifies one of the two driven wheels.
type Wheel int

const (
	Left Wheel = iota
	Right
)

// Motor is a single PWM + dual-direction-pin DC motor.
type Motor struct {
	pwm      hal.PWMPin
	forward  hal.DigitalPin
	backward hal.DigitalPin
	speed    float64
}

// New builds a Motor from its three hardware pins.
func New(pwm hal.PWMPin, forward, backward hal.DigitalPin) *Motor {
	return &Motor{pwm: pwm, forward: forward, backward: backward}
}

// SetSpeed drives the motor at signedUnit in [-1, 1]. Errors from the
// underlying pins are not surfaced; per §4.1 the driver is infallible
// at runtime — a dropped write here would otherwise have to propagate
// all the way up through the dispatch loop.
func (m *Motor) SetSpeed(signedUnit float64) {
	if signedUnit > 1 {
		signedUnit = 1
	}
	if signedUnit < -1 {
		signedUnit = -1
	}
	m.speed = signedUnit

	if abs(signedUnit) < CoastEpsilon {
		m.forward.Set(false)
		m.backward.Set(false)
		m.pwm.SetDutyCycle(0)
		return
	}

	if signedUnit > 0 {
		m.forward.Set(true)
		m.backward.Set(false)
	} else {
		m.forward.Set(false)
		m.backward.Set(true)
	}
	m.pwm.SetDutyCycle(abs(signedUnit))
}

// Stop coasts the motor. Idempotent: calling it twice leaves identical
// hardware state (R3).
func (m *Motor) Stop() {
	m.SetSpeed(0)
}

// Speed returns the last commanded signed unit value.
func (m *Motor) Speed() float64 {
	return m.speed
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Driver owns both wheels and is the sole component with hardware
// authority over them (§3 ownership rule).
type Driver struct {
	left  *Motor
	right *Motor
}

// NewDriver composes a left and right Motor into a Driver.
func NewDriver(left, right *Motor) *Driver {
	return &Driver{left: left, right: right}
}

// SetSpeed drives one wheel.
func (d *Driver) SetSpeed(wheel Wheel, signedUnit float64) {
	switch wheel {
	case Left:
		d.left.SetSpeed(signedUnit)
	case Right:
		d.right.SetSpeed(signedUnit)
	}
}

// Stop coasts both wheels. Idempotent (R3).
func (d *Driver) Stop() {
	d.left.Stop()
	d.right.Stop()
}

// Speeds returns the last commanded (left, right) signed units.
func (d *Driver) Speeds() (left, right float64) {
	return d.left.Speed(), d.right.Speed()
}
