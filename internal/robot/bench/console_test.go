package bench

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arobi/picobot/internal/robot/calibration"
	"github.com/arobi/picobot/internal/robot/dispatch"
	"github.com/arobi/picobot/internal/robot/mixer"
	"github.com/arobi/picobot/internal/robot/motor"
	"github.com/arobi/picobot/internal/robot/profile"
	"github.com/arobi/picobot/internal/robot/statemachine"
	"github.com/arobi/picobot/internal/robot/watchdog"
)

type noopDriver struct{}

func (noopDriver) SetSpeed(wheel motor.Wheel, signedUnit float64) {}
func (noopDriver) Stop()                                          {}

func newTestDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	cal, err := calibration.Open(t.TempDir() + "/calibration.json")
	if err != nil {
		t.Fatalf("calibration.Open: %v", err)
	}
	wd := watchdog.New(500*time.Millisecond, func() {})
	return dispatch.New(dispatch.Identity{Hostname: "bench"}, mixer.New(mixer.DefaultLimits()), wd,
		cal, profile.New(1), statemachine.New(), noopDriver{}, 500*time.Millisecond, nil)
}

func newTestConsole() *Console {
	return &Console{log: logrus.New().WithField("component", "bench")}
}

func TestHandleLineStatus(t *testing.T) {
	c := newTestConsole()
	d := newTestDispatcher(t)
	reply := c.handleLine("status", d)
	if !strings.Contains(reply, "watchdog=DISARMED") {
		t.Errorf("reply = %q, want it to mention DISARMED", reply)
	}
}

func TestHandleLineGetCalibration(t *testing.T) {
	c := newTestConsole()
	d := newTestDispatcher(t)
	reply := c.handleLine("get_calibration", d)
	if !strings.Contains(reply, "motor_left_scale") {
		t.Errorf("reply = %q, want calibration JSON", reply)
	}
}

func TestHandleLineSetCalibration(t *testing.T) {
	c := newTestConsole()
	d := newTestDispatcher(t)
	reply := c.handleLine(`set_calibration {"steering_trim":0.1,"motor_left_scale":0.9,"motor_right_scale":0.9}`, d)
	if reply != "ok" {
		t.Errorf("reply = %q, want ok", reply)
	}
	if got := d.Calibration.Get().SteeringTrim; got != 0.1 {
		t.Errorf("SteeringTrim = %v, want 0.1", got)
	}
}

func TestHandleLineStop(t *testing.T) {
	c := newTestConsole()
	d := newTestDispatcher(t)
	if reply := c.handleLine("stop", d); reply != "ok" {
		t.Errorf("reply = %q, want ok", reply)
	}
}

func TestHandleLineUnknown(t *testing.T) {
	c := newTestConsole()
	d := newTestDispatcher(t)
	reply := c.handleLine("dance", d)
	if !strings.HasPrefix(reply, "error:") {
		t.Errorf("reply = %q, want an error", reply)
	}
}
