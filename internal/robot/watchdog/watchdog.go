// Package watchdog implements the robot's communication watchdog:
// DISARMED -> ARMED -> (ARMED | TIMED_OUT), plus the safety-controller
// layering (E-Stop disarms/rearms alongside motor authority).
package watchdog

import "time"

// DefaultTimeout matches §4.3's 500 ms design constant.
const DefaultTimeout = 500 * time.Millisecond

// State is the watchdog's own small state machine.
type State int

const (
	Disarmed State = iota
	Armed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Disarmed:
		return "DISARMED"
	case Armed:
		return "ARMED"
	case TimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// StopFunc is called exactly once per timeout transition to cut motor
// authority. It is supplied by the caller (the robot context) rather
// than imported, keeping this package free of a hal/motor dependency.
type StopFunc func()

// Watchdog tracks the last-fed time and fires StopFunc on expiry.
type Watchdog struct {
	timeout       time.Duration
	state         State
	lastFed       time.Time
	onTimeout     StopFunc
	accepted      uint64
	droppedStale  uint64
	estopDisarmed bool
}

// New builds a disarmed Watchdog with the given timeout and stop
// callback.
func New(timeout time.Duration, onTimeout StopFunc) *Watchdog {
	return &Watchdog{timeout: timeout, onTimeout: onTimeout, state: Disarmed}
}

// Arm transitions DISARMED -> ARMED. Per §4.5, arming must happen only
// after motors are enabled; callers are responsible for that ordering.
func (w *Watchdog) Arm(now time.Time) {
	if w.estopDisarmed {
		return
	}
	w.lastFed = now
	w.state = Armed
}

// Disarm transitions to DISARMED unconditionally. Unlike EnterEStop it
// sets no latch, so a later Arm re-arms the watchdog.
func (w *Watchdog) Disarm() {
	w.state = Disarmed
}

// EnterEStop disarms the watchdog and latches it so Arm is refused
// until ClearEStop is called, mirroring the safety controller's
// disable-motors-and-disarm-watchdog pairing.
func (w *Watchdog) EnterEStop() {
	w.estopDisarmed = true
	w.state = Disarmed
}

// ClearEStop releases the E-Stop latch. The caller must still call Arm
// to resume driving.
func (w *Watchdog) ClearEStop() {
	w.estopDisarmed = false
}

// Feed records an accepted command's arrival time. If the watchdog was
// TIMED_OUT, this transitions it back to ARMED (the caller is expected
// to publish DRIVING on the return value true).
func (w *Watchdog) Feed(now time.Time) (resumedFromTimeout bool) {
	w.accepted++
	wasTimedOut := w.state == TimedOut
	w.lastFed = now
	if w.state != Disarmed {
		w.state = Armed
	}
	return wasTimedOut
}

// RecordDropped increments the stale-packet counter without feeding
// the watchdog (P6: stale drive never feeds the watchdog).
func (w *Watchdog) RecordDropped() {
	w.droppedStale++
}

// Tick checks for timeout expiry. If armed and now-lastFed exceeds the
// timeout and it hasn't already fired, it calls onTimeout, transitions
// to TIMED_OUT, and returns true (the caller publishes LINK_LOST).
func (w *Watchdog) Tick(now time.Time) (firedTimeout bool) {
	if w.state != Armed {
		return false
	}
	if now.Sub(w.lastFed) > w.timeout {
		w.state = TimedOut
		if w.onTimeout != nil {
			w.onTimeout()
		}
		return true
	}
	return false
}

// State returns the current watchdog state.
func (w *Watchdog) State() State {
	return w.state
}

// Status is a snapshot for debug surfaces (the bench console's status
// command). robot_info does not carry it.
type Status struct {
	State        State
	Accepted     uint64
	DroppedStale uint64
	LastFed      time.Time
}

// Status returns a point-in-time snapshot.
func (w *Watchdog) Status() Status {
	return Status{State: w.state, Accepted: w.accepted, DroppedStale: w.droppedStale, LastFed: w.lastFed}
}
