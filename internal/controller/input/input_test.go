package input

import (
	"strings"
	"testing"
	"time"
)

type fakePad struct {
	frames []struct {
		axes    RawAxes
		buttons RawButtons
	}
	i int
}

func (f *fakePad) Poll() (RawAxes, RawButtons, error) {
	fr := f.frames[f.i]
	if f.i < len(f.frames)-1 {
		f.i++
	}
	return fr.axes, fr.buttons, nil
}

func TestTriggerRemapDeadzoneAndRange(t *testing.T) {
	cases := []struct {
		raw  float64
		want float64
	}{
		{-1, 0},   // fully released
		{-0.85, 0}, // within 10% deadzone: unit=0.075
		{1, 1},    // fully pressed
	}
	for _, c := range cases {
		got := remapTrigger(c.raw)
		if got != c.want {
			t.Errorf("remapTrigger(%v) = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestGamepadThrottleFromTriggers(t *testing.T) {
	pad := &fakePad{frames: []struct {
		axes    RawAxes
		buttons RawButtons
	}{
		{axes: RawAxes{RightTrigger: 1, LeftTrigger: -1}}, // full forward
	}}
	g := NewGamepadSource(pad)
	frame, err := g.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if frame.Throttle != 1 {
		t.Errorf("Throttle = %v, want 1", frame.Throttle)
	}
}

func TestGamepadButtonEdgeDetection(t *testing.T) {
	pad := &fakePad{frames: []struct {
		axes    RawAxes
		buttons RawButtons
	}{
		{buttons: RawButtons{"a": true}},
		{buttons: RawButtons{"a": true}},
		{buttons: RawButtons{"a": false}},
		{buttons: RawButtons{"a": true}},
	}}
	g := NewGamepadSource(pad)

	f1, _ := g.Poll()
	if !f1.Pressed["a"] {
		t.Error("expected edge-press on first frame")
	}
	f2, _ := g.Poll()
	if f2.Pressed["a"] {
		t.Error("expected no repeat edge-press while held")
	}
	g.Poll() // release
	f4, _ := g.Poll()
	if !f4.Pressed["a"] {
		t.Error("expected a new edge-press after release and re-press")
	}
}

func TestKeyboardSourceThrottleSteer(t *testing.T) {
	r := strings.NewReader("w\nd\n")
	k := NewKeyboardSource(r)
	// Give the reader goroutine a moment to enqueue both lines.
	time.Sleep(20 * time.Millisecond)
	frame, err := k.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if frame.Throttle != 1 || frame.Steer != 1 {
		t.Errorf("Frame = %+v, want throttle=1 steer=1", frame)
	}
}

func TestKeyboardSourceEstopEdgeDetect(t *testing.T) {
	r := strings.NewReader("space\n")
	k := NewKeyboardSource(r)
	time.Sleep(20 * time.Millisecond)
	frame, _ := k.Poll()
	if !frame.Pressed["estop"] {
		t.Error("expected estop edge-press")
	}
	frame2, _ := k.Poll()
	if frame2.Pressed["estop"] {
		t.Error("expected no repeat estop press without a new line")
	}
}
