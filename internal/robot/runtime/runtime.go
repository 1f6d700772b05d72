// Package runtime assembles the robot's components into a single
// Context and runs its cooperative task set: packet receive, watchdog
// tick, and the status log. The bench console is run by the caller.
//
// Per §9's redesign note, all formerly-global mutable state (motor
// driver, watchdog, calibration, server) lives on one context value
// constructed at Initialize and borrowed into every task; nothing here
// is a package-level singleton.
package runtime

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arobi/picobot/internal/config"
	"github.com/arobi/picobot/internal/hal"
	"github.com/arobi/picobot/internal/robot/calibration"
	"github.com/arobi/picobot/internal/robot/dispatch"
	"github.com/arobi/picobot/internal/robot/mixer"
	"github.com/arobi/picobot/internal/robot/motor"
	"github.com/arobi/picobot/internal/robot/profile"
	"github.com/arobi/picobot/internal/robot/statemachine"
	"github.com/arobi/picobot/internal/robot/watchdog"
)

// pollInterval is the receive-poll yield between iterations (§5, ≈1ms).
const pollInterval = time.Millisecond

// statusInterval is the status-task sleep (§5, 50ms).
const statusInterval = 50 * time.Millisecond

// Hardware is the set of motor pins the runtime wires into a Driver.
// Populated by the caller from whatever concrete hal implementation
// targets the board.
type Hardware struct {
	LeftPWM, RightPWM           hal.PWMPin
	LeftForward, LeftBackward   hal.DigitalPin
	RightForward, RightBackward hal.DigitalPin
}

// Context is the robot's single constructed-at-init value, passed
// (borrowed) into every task.
type Context struct {
	Config      config.Config
	Identity    dispatch.Identity
	Dispatcher  *dispatch.Dispatcher
	Calibration *calibration.Store
	Profile     *profile.Store
	Watchdog    *watchdog.Watchdog
	State       *statemachine.Machine

	log         *logrus.Logger
	conn        *net.UDPConn
	chargingWas bool
}

// Options configures Initialize.
type Options struct {
	Config         config.Config
	Identity       dispatch.Identity
	CalibrationDir string
	Hardware       Hardware
	ProfileID      int
	Log            *logrus.Logger
}

// Initialize performs the startup sequence from §4.5: init motors
// (disabled) -> init watchdog (disarmed) -> bring up network -> enable
// motors -> arm watchdog. Arming after motor enable guarantees no
// pre-control command can drive motors in an unsafe state.
func Initialize(opts Options) (*Context, error) {
	log := opts.Log
	if log == nil {
		log = logrus.New()
	}

	sm := statemachine.New()

	left := motor.New(opts.Hardware.LeftPWM, opts.Hardware.LeftForward, opts.Hardware.LeftBackward)
	right := motor.New(opts.Hardware.RightPWM, opts.Hardware.RightForward, opts.Hardware.RightBackward)
	driver := motor.NewDriver(left, right)
	driver.Stop()
	log.Info("motors initialized (disabled)")

	wd := watchdog.New(opts.Config.WatchdogTimeout(), driver.Stop)
	log.Info("watchdog initialized (disarmed)")

	calPath := opts.CalibrationDir
	if calPath == "" {
		calPath = "calibration.json"
	} else {
		calPath = calPath + "/calibration.json"
	}
	calStore, err := calibration.Open(calPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: init calibration store: %w", err)
	}

	profStore := profile.New(opts.ProfileID)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: opts.Config.Port})
	if err != nil {
		log.WithError(err).Error("failed to bind UDP listener, continuing in degraded mode")
		sm.Transition(statemachine.Boot)
	} else {
		sm.Transition(statemachine.NetUp)
		log.WithField("port", opts.Config.Port).Info("network up")
	}

	mx := mixer.New(mixer.Limits{MaxSpeed: opts.Config.Mixer.MaxSpeed, TurnRate: opts.Config.Mixer.TurnRate})
	d := dispatch.New(opts.Identity, mx, wd, calStore, profStore, sm, driver, opts.Config.MaxAge(), log)

	driver.Stop()
	wd.Arm(time.Now())
	log.Info("motors enabled, watchdog armed")

	return &Context{
		Config:      opts.Config,
		Identity:    opts.Identity,
		Dispatcher:  d,
		Calibration: calStore,
		Profile:     profStore,
		Watchdog:    wd,
		State:       sm,
		log:         log,
		conn:        conn,
	}, nil
}

// ReceiveLoop blocks, reading datagrams and dispatching them, until
// stop is closed. Suspension points are limited to the read deadline
// yield between iterations (§5).
func (c *Context) ReceiveLoop(stop <-chan struct{}) {
	buf := make([]byte, 2048)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if c.conn == nil {
			time.Sleep(pollInterval)
			continue
		}
		c.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		reply := c.Dispatcher.HandleRaw(buf[:n], time.Now())
		if reply != nil && c.conn != nil {
			c.conn.WriteToUDP(reply, addr)
		}
		c.syncChargingSocket()
	}
}

// syncChargingSocket closes or reopens the UDP listener to track the
// dispatcher's charging-mode flag; the bench console stays reachable
// over serial regardless (it has its own port).
func (c *Context) syncChargingSocket() {
	now := c.Dispatcher.Charging()
	if now == c.chargingWas {
		return
	}
	c.chargingWas = now
	if err := c.ToggleCharging(now); err != nil {
		c.log.WithError(err).Error("failed to toggle charging-mode socket")
	}
}

// WatchdogLoop ticks the watchdog at roughly pollInterval granularity
// and publishes the resulting state transitions until stop is closed.
func (c *Context) WatchdogLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if c.Watchdog.Tick(now) {
				c.State.Transition(statemachine.LinkLost)
			}
		}
	}
}

// EnterEStop halts the robot immediately: stops motors, disarms the
// watchdog, and transitions to E_STOP. Only Reset leaves this state.
func (c *Context) EnterEStop() {
	c.Dispatcher.Stop()
	c.Watchdog.EnterEStop()
	c.State.EnterEStop()
	c.log.Warn("emergency stop engaged")
}

// ClearEStop releases the E-Stop latch and re-arms the watchdog,
// resuming normal operation.
func (c *Context) ClearEStop() {
	c.Watchdog.ClearEStop()
	c.Watchdog.Arm(time.Now())
	c.State.Reset()
	c.State.Transition(statemachine.NetUp)
	c.log.Info("emergency stop cleared")
}

// ToggleCharging implements the charging-mode Wi-Fi toggle supplement:
// enabling charging closes the UDP socket (motors are already stopped
// by the dispatcher); disabling reopens it.
func (c *Context) ToggleCharging(enable bool) error {
	if enable {
		if c.conn != nil {
			err := c.conn.Close()
			c.conn = nil
			if err != nil {
				return fmt.Errorf("runtime: close socket for charging: %w", err)
			}
		}
		c.log.Info("charging mode enabled, UDP listener closed")
		return nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: c.Config.Port})
	if err != nil {
		return fmt.Errorf("runtime: reopen socket after charging: %w", err)
	}
	c.conn = conn
	c.log.Info("charging mode disabled, UDP listener reopened")
	return nil
}

// StatusLoop periodically logs a debug snapshot (state, watchdog
// counters, HzStats) for bench visibility. It is advisory: it must
// never be able to stall the receive loop, so it only reads data the
// other tasks already publish.
func (c *Context) StatusLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := c.Dispatcher.Hz.Snapshot()
			c.log.WithFields(logrus.Fields{
				"state":         c.State.State().String(),
				"watchdog":      c.Watchdog.State().String(),
				"hz":            snap.MeanHz,
				"jitter_ms":     snap.JitterMs,
				"charging_mode": c.Dispatcher.Charging(),
			}).Debug("status")
		}
	}
}

// Close releases the UDP socket.
func (c *Context) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
