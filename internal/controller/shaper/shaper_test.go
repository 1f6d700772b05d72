package shaper

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDeadzoneExactZeroBelowThreshold(t *testing.T) {
	dz := 0.08
	cases := []float64{0, 0.01, 0.05, -0.07, 0.0799}
	for _, x := range cases {
		if got := deadzone(x, dz); got != 0 {
			t.Errorf("deadzone(%v, %v) = %v, want 0", x, dz, got)
		}
	}
}

func TestDeadzoneContinuousAtBoundary(t *testing.T) {
	dz := 0.08
	justBelow := deadzone(dz-1e-9, dz)
	justAbove := deadzone(dz+1e-9, dz)
	if justBelow != 0 {
		t.Errorf("deadzone just below boundary = %v, want 0", justBelow)
	}
	if math.Abs(justAbove) > 1e-6 {
		t.Errorf("deadzone just above boundary = %v, want ~0 (continuity)", justAbove)
	}
}

func TestDeadzoneRescalesAboveThreshold(t *testing.T) {
	got := deadzone(1.0, 0.08)
	if !almostEqual(got, 1.0) {
		t.Errorf("deadzone(1.0, 0.08) = %v, want 1.0 (full scale maps to full scale)", got)
	}
}

func TestExpoIdentityWhenExponentOne(t *testing.T) {
	xs := []float64{-1, -0.5, -0.08, 0, 0.3, 0.7, 1}
	for _, x := range xs {
		dzOut := deadzone(x, 0.08)
		got := ShapeAxis(x, 0.08, 1.0, 1.0)
		if !almostEqual(got, dzOut) {
			t.Errorf("ShapeAxis(%v, expo=1, sens=1) = %v, want identity on deadzoned input %v", x, got, dzOut)
		}
	}
}

func TestTrimGating(t *testing.T) {
	s := New(Default())

	// At zero throttle, steer must be independent of trim.
	_, steerNoTrim := s.Shape(0, 0.5, 0)
	_, steerWithTrim := s.Shape(0, 0.5, 0.1)
	if !almostEqual(steerNoTrim, steerWithTrim) {
		t.Errorf("trim changed steer at zero throttle: %v vs %v", steerNoTrim, steerWithTrim)
	}

	// Above the trim threshold, trim must be applied.
	throttle, steerTrimmed := s.Shape(0.3, 0, -0.05)
	if throttle <= Default().TrimThreshold && throttle != 0 {
		t.Fatalf("test setup: throttle %v not above trim threshold", throttle)
	}
	_, steerUntrimmed := s.Shape(0.3, 0, 0)
	if almostEqual(steerTrimmed, steerUntrimmed) {
		t.Error("expected trim to change steer output above the trim threshold")
	}
}

func TestScenarioSteerWithTrimActive(t *testing.T) {
	s := New(Default())
	throttle, steer := s.Shape(0.3, 0, -0.05)
	// Raw 0.3 throttle clears the trim threshold; the shaped steer
	// should equal the trim offset since raw steer input is zero.
	if throttle <= 0.05 {
		t.Fatalf("expected shaped throttle above trim threshold, got %v", throttle)
	}
	if !almostEqual(steer, -0.05) {
		t.Errorf("steer = %v, want -0.05 (trim applied to zero raw steer)", steer)
	}
}

func TestClampRange(t *testing.T) {
	s := New(Default())
	throttle, steer := s.Shape(1, 1, 0.5)
	if throttle > 1 || throttle < -1 || steer > 1 || steer < -1 {
		t.Errorf("Shape(1,1,0.5) = (%v,%v), out of [-1,1]", throttle, steer)
	}
}
