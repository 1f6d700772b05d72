// Package statemachine implements the robot's observable state machine
// (§4.5) and a bounded, drop-oldest event-observer channel for
// indicator subsystems (§9: they must not be able to stall the
// receive loop).
package statemachine

// State is one of the robot's observable states.
type State int

const (
	Boot State = iota
	NetUp
	ClientOK
	Driving
	LinkLost
	EStop
	Charging
)

func (s State) String() string {
	switch s {
	case Boot:
		return "BOOT"
	case NetUp:
		return "NET_UP"
	case ClientOK:
		return "CLIENT_OK"
	case Driving:
		return "DRIVING"
	case LinkLost:
		return "LINK_LOST"
	case EStop:
		return "E_STOP"
	case Charging:
		return "CHARGING"
	default:
		return "UNKNOWN"
	}
}

// eventQueueDepth bounds the subscriber channel; indicator subsystems
// that fall behind lose the oldest event, never the loop.
const eventQueueDepth = 16

// Machine tracks current state and fans transitions out to subscribers.
type Machine struct {
	state       State
	subscribers []chan State
}

// New constructs a Machine starting in BOOT.
func New() *Machine {
	return &Machine{state: Boot}
}

// Subscribe returns a bounded, drop-oldest channel of future
// transitions. It does not replay the current state.
func (m *Machine) Subscribe() <-chan State {
	ch := make(chan State, eventQueueDepth)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Transition moves to state and publishes it to every subscriber. If a
// subscriber's channel is full, the oldest queued event is dropped to
// make room — publishing itself never blocks the caller. While in
// E_STOP, any transition other than to E_STOP is ignored; only Reset
// leaves it.
func (m *Machine) Transition(state State) {
	if m.state == EStop && state != EStop {
		return
	}
	m.state = state
	for _, ch := range m.subscribers {
		for {
			select {
			case ch <- state:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// EStop is a special case: only entering EStop may be done from any
// state, and only a call to Reset leaves it (§4.5: "only a reset
// leaves this state").
func (m *Machine) EnterEStop() {
	m.Transition(EStop)
}

// Reset leaves E_STOP and returns to BOOT, requiring the full startup
// sequence to run again before driving resumes.
func (m *Machine) Reset() {
	m.state = Boot
	m.Transition(Boot)
}
