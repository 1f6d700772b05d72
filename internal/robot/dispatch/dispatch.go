// Package dispatch implements the PacketDispatcher: parses UDP
// datagrams, validates freshness, and routes to the motor driver,
// calibration store, profile store, and state machine that the robot
// context owns.
package dispatch

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arobi/picobot/internal/protocol"
	"github.com/arobi/picobot/internal/robot/calibration"
	"github.com/arobi/picobot/internal/robot/mixer"
	"github.com/arobi/picobot/internal/robot/motor"
	"github.com/arobi/picobot/internal/robot/profile"
	"github.com/arobi/picobot/internal/robot/statemachine"
	"github.com/arobi/picobot/internal/robot/watchdog"
	"github.com/arobi/picobot/internal/stats"
)

// clockSkewTolerance is the forward-skew window (§4.4): a ts more than
// this far ahead of local time is warned about but still accepted,
// since host and robot clocks are not synchronized.
const clockSkewTolerance = time.Second

// MotorDriver is the subset of motor.Driver the dispatcher needs; kept
// as an interface so tests can substitute a recorder.
type MotorDriver interface {
	SetSpeed(wheel motor.Wheel, signedUnit float64)
	Stop()
}

// Identity supplies the fields a robot_info reply needs beyond
// calibration (hostname, version); these are fixed at process start.
type Identity struct {
	Hostname string
	Version  string
}

// Dispatcher is the robot's single PacketDispatcher. It is owned and
// called exclusively by the receive task (§3 ownership rule); no
// cross-task mutation of the fields below.
type Dispatcher struct {
	Identity Identity

	Motor      MotorDriver
	Mixer      *mixer.Mixer
	Watchdog   *watchdog.Watchdog
	Calibration *calibration.Store
	Profile    *profile.Store
	State      *statemachine.Machine
	Hz         *stats.HzStats

	maxAge time.Duration
	log    *logrus.Entry

	chargingMode bool
}

// New builds a Dispatcher. log may be nil, in which case a discarding
// logger is used.
func New(identity Identity, mx *mixer.Mixer, wd *watchdog.Watchdog, cal *calibration.Store,
	prof *profile.Store, sm *statemachine.Machine, driver MotorDriver, maxAge time.Duration, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.New()
		log.SetOutput(nilWriter{})
	}
	return &Dispatcher{
		Identity:    identity,
		Motor:       driver,
		Mixer:       mx,
		Watchdog:    wd,
		Calibration: cal,
		Profile:     prof,
		State:       sm,
		Hz:          stats.NewHzStats(),
		maxAge:      maxAge,
		log:         log.WithField("component", "dispatcher"),
	}
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

// HandleRaw parses data and dispatches it. It returns a reply payload
// to unicast back to the sender, or nil if no reply is warranted. This
// never returns an error: malformed/stale packets are logged and
// dropped (§7 propagation rule).
func (d *Dispatcher) HandleRaw(data []byte, now time.Time) []byte {
	msg, err := protocol.Parse(data)
	if err != nil {
		d.log.WithError(err).Debug("dropping malformed packet")
		return nil
	}
	return d.Handle(msg, now)
}

// Handle routes an already-parsed Message.
func (d *Dispatcher) Handle(msg protocol.Message, now time.Time) []byte {
	switch m := msg.(type) {
	case protocol.Drive:
		d.handleDrive(m, now)
		return nil
	case protocol.Discover:
		return d.handleDiscover()
	case protocol.GetCalibration:
		return d.handleGetCalibration(m)
	case protocol.SetCalibration:
		return d.handleSetCalibration(m)
	case protocol.SetProfile:
		return d.handleSetProfile(m)
	case protocol.Charging:
		d.handleCharging(m)
		return nil
	case protocol.Unknown:
		d.log.WithField("cmd", m.Cmd).Debug("dropping unknown cmd")
		return nil
	default:
		return nil
	}
}

func (d *Dispatcher) handleDrive(m protocol.Drive, now time.Time) {
	d.clientSeen()

	nowMs := now.UnixMilli()
	ageMs := nowMs - m.Ts

	if ageMs > d.maxAge.Milliseconds() {
		d.Watchdog.RecordDropped()
		d.log.WithField("age_ms", ageMs).Debug("dropping stale drive packet")
		return
	}
	if -ageMs > clockSkewTolerance.Milliseconds() {
		d.log.WithField("ahead_ms", -ageMs).Warn("drive packet timestamp is ahead of local clock")
	}

	d.Hz.Observe(now)

	if d.State.State() == statemachine.EStop || d.State.State() == statemachine.Charging {
		// Safety controller layering: E-Stop and charging both keep
		// motors off regardless of an otherwise-fresh drive packet.
		return
	}

	cal := d.Calibration.Get()
	left, right := d.Mixer.Drive(m.Axes.Throttle, m.Axes.Steer, cal)
	d.Motor.SetSpeed(motor.Left, left)
	d.Motor.SetSpeed(motor.Right, right)

	resumed := d.Watchdog.Feed(now)
	if resumed || d.State.State() != statemachine.Driving {
		d.State.Transition(statemachine.Driving)
	}
}

func (d *Dispatcher) handleDiscover() []byte {
	d.clientSeen()
	cal := d.Calibration.Get()
	active := d.Profile.Active()
	data, err := protocol.EncodeRobotInfo(protocol.RobotInfo{
		RobotID:     active.ID,
		Hostname:    d.Identity.Hostname,
		Version:     d.Identity.Version,
		Color:       active.Color,
		Calibration: cal,
	})
	if err != nil {
		d.log.WithError(err).Error("failed to encode robot_info")
		return nil
	}
	return data
}

func (d *Dispatcher) handleGetCalibration(m protocol.GetCalibration) []byte {
	d.clientSeen()
	data, err := protocol.EncodeCalibrationResponse(m.SequenceNumber(), d.Calibration.Get())
	if err != nil {
		d.log.WithError(err).Error("failed to encode calibration_response")
		return nil
	}
	return data
}

func (d *Dispatcher) handleSetCalibration(m protocol.SetCalibration) []byte {
	d.clientSeen()
	if err := d.Calibration.Set(m.Calibration); err != nil {
		d.log.WithError(err).Error("failed to persist calibration")
		return nil
	}
	data, err := protocol.EncodeCalibrationResponse(m.SequenceNumber(), d.Calibration.Get())
	if err != nil {
		d.log.WithError(err).Error("failed to encode calibration_response")
		return nil
	}
	return data
}

func (d *Dispatcher) handleSetProfile(m protocol.SetProfile) []byte {
	d.clientSeen()
	err := d.Profile.Set(m.RobotID, m.Name, m.Color)
	resp := protocol.ProfileResponse{RobotID: m.RobotID, Name: m.Name, Color: &m.Color}
	if err != nil {
		resp.Success = false
		resp.Message = err.Error()
	} else {
		resp.Success = true
		resp.Message = "profile updated"
	}
	data, encErr := protocol.EncodeProfileResponse(resp)
	if encErr != nil {
		d.log.WithError(encErr).Error("failed to encode profile_response")
		return nil
	}
	return data
}

func (d *Dispatcher) handleCharging(m protocol.Charging) {
	d.clientSeen()
	d.chargingMode = m.Enable
	if m.Enable {
		d.Motor.Stop()
		d.State.Transition(statemachine.Charging)
	} else if d.State.State() == statemachine.Charging {
		d.State.Transition(statemachine.ClientOK)
	}
}

// Charging reports whether charging mode is currently active, so the
// runtime's socket-toggle logic can react to it.
func (d *Dispatcher) Charging() bool {
	return d.chargingMode
}

// Stop cuts motor authority immediately, bypassing the packet path.
// Used by the bench console's "stop" command and by E-Stop entry.
func (d *Dispatcher) Stop() {
	d.Motor.Stop()
}

func (d *Dispatcher) clientSeen() {
	if d.State.State() == statemachine.Boot || d.State.State() == statemachine.NetUp {
		d.State.Transition(statemachine.ClientOK)
	}
}
