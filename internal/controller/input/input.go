// Package input implements the host's InputSource: gamepad (via an
// injectable RawPad) or keyboard fallback, producing normalized
// (throttle, steer) and edge-detected buttons.
//
// No gamepad/HID library appears anywhere in the retrieval corpus this
// module was built from, so RawPad is a small interface the caller
// satisfies with whatever concrete SDL/HID binding it has; everything
// above that boundary (trigger remapping, edge detection, the
// keyboard fallback) is fully implemented here.
package input

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// RawAxes is one frame of raw axis readings straight from the pad, in
// its native range. Triggers follow the SDL convention of [-1, +1]
// (released to fully pressed).
type RawAxes struct {
	LeftStickX   float64
	RightTrigger float64
	LeftTrigger  float64
}

// RawButtons is one frame of raw button state, keyed by name (e.g.
// "a", "start"). Only pressed buttons need be present.
type RawButtons map[string]bool

// RawPad is the minimal surface a concrete gamepad binding must
// provide. Poll is called once per CommandLoop tick.
type RawPad interface {
	Poll() (RawAxes, RawButtons, error)
}

// Frame is one tick's normalized input: throttle/steer in [-1,1] and
// buttons edge-detected against the previous frame.
type Frame struct {
	Throttle, Steer float64
	Pressed         map[string]bool // true only on the tick a button transitions up->down
}

// Source is whatever the command loop polls once per tick: a gamepad
// or the keyboard fallback.
type Source interface {
	Poll() (Frame, error)
}

// triggerDeadZone matches §4.8's 10% low-end deadzone on trigger axes.
const triggerDeadZone = 0.10

// GamepadSource adapts a RawPad into the shaped-input Frame contract,
// including the trigger remap: SDL-style [-1,+1] triggers map to
// [0,1] with a 10% deadzone, then throttle = right - left.
type GamepadSource struct {
	pad     RawPad
	wasDown map[string]bool
}

// NewGamepadSource wraps pad.
func NewGamepadSource(pad RawPad) *GamepadSource {
	return &GamepadSource{pad: pad, wasDown: make(map[string]bool)}
}

// Poll reads one frame from the underlying pad.
func (g *GamepadSource) Poll() (Frame, error) {
	axes, buttons, err := g.pad.Poll()
	if err != nil {
		return Frame{}, err
	}

	right := remapTrigger(axes.RightTrigger)
	left := remapTrigger(axes.LeftTrigger)

	frame := Frame{
		Throttle: right - left,
		Steer:    axes.LeftStickX,
		Pressed:  make(map[string]bool),
	}
	for name, down := range buttons {
		if down && !g.wasDown[name] {
			frame.Pressed[name] = true
		}
	}
	// Also record releases so wasDown stays accurate for buttons not
	// present in this frame's map.
	for name := range g.wasDown {
		if !buttons[name] {
			delete(g.wasDown, name)
		}
	}
	for name, down := range buttons {
		g.wasDown[name] = down
	}
	return frame, nil
}

func remapTrigger(v float64) float64 {
	unit := (v + 1) / 2 // [-1,1] -> [0,1]
	if unit < triggerDeadZone {
		return 0
	}
	return (unit - triggerDeadZone) / (1 - triggerDeadZone)
}

// KeyboardSource is a fully real fallback InputSource: blocking stdin
// reads are isolated to a dedicated goroutine that hands lines through
// a bounded channel (§5), so the command loop's poll never blocks.
// WASD drive throttle/steer; space is an edge-detected e-stop button
// that also zeroes throttle and steer.
type KeyboardSource struct {
	mu      sync.Mutex
	lines   chan string
	current Frame
	wasDown map[string]bool
}

// NewKeyboardSource starts the reader goroutine over r (normally
// os.Stdin) and returns a ready-to-poll KeyboardSource.
func NewKeyboardSource(r io.Reader) *KeyboardSource {
	k := &KeyboardSource{
		lines:   make(chan string, 8),
		wasDown: make(map[string]bool),
	}
	go k.readLoop(r)
	return k
}

func (k *KeyboardSource) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.ToLower(strings.TrimSpace(raw))
		if line == "" && strings.Contains(raw, " ") {
			// A line of spaces is the space key, not an empty line.
			line = " "
		}
		select {
		case k.lines <- line:
		default:
			// Bounded queue: on overflow the newest event overwrites
			// (§5); drop the oldest to make room.
			select {
			case <-k.lines:
			default:
			}
			k.lines <- line
		}
	}
}

// Poll drains any pending keyboard lines (non-blocking) and returns
// the resulting normalized frame.
func (k *KeyboardSource) Poll() (Frame, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	pressed := make(map[string]bool)
	down := map[string]bool{}

drain:
	for {
		select {
		case line := <-k.lines:
			k.applyLine(line, down)
		default:
			break drain
		}
	}

	for name, isDown := range down {
		if isDown && !k.wasDown[name] {
			pressed[name] = true
		}
		k.wasDown[name] = isDown
	}
	// A key with no line this poll counts as released, so its next line
	// is a new press.
	for name := range k.wasDown {
		if !down[name] {
			k.wasDown[name] = false
		}
	}

	k.current.Pressed = pressed
	return k.current, nil
}

func (k *KeyboardSource) applyLine(line string, down map[string]bool) {
	switch line {
	case "w":
		k.current.Throttle = 1
	case "s":
		k.current.Throttle = -1
	case "a":
		k.current.Steer = -1
	case "d":
		k.current.Steer = 1
	case "":
		k.current.Throttle = 0
		k.current.Steer = 0
	case " ", "space", "stop":
		k.current.Throttle = 0
		k.current.Steer = 0
		down["estop"] = true
	}
}
