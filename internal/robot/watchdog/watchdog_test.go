package watchdog

import (
	"testing"
	"time"
)

func TestArmThenTickWithinTimeoutStaysArmed(t *testing.T) {
	stopped := false
	w := New(500*time.Millisecond, func() { stopped = true })
	start := time.Now()
	w.Arm(start)
	if fired := w.Tick(start.Add(100 * time.Millisecond)); fired {
		t.Error("expected no timeout within window")
	}
	if stopped {
		t.Error("stop callback should not have fired")
	}
	if w.State() != Armed {
		t.Errorf("state = %v, want Armed", w.State())
	}
}

func TestTickFiresOnTimeout(t *testing.T) {
	stopped := false
	w := New(500*time.Millisecond, func() { stopped = true })
	start := time.Now()
	w.Arm(start)
	fired := w.Tick(start.Add(600 * time.Millisecond))
	if !fired {
		t.Fatal("expected timeout to fire")
	}
	if !stopped {
		t.Error("expected stop callback to have fired")
	}
	if w.State() != TimedOut {
		t.Errorf("state = %v, want TimedOut", w.State())
	}
}

func TestFeedResumesFromTimeout(t *testing.T) {
	w := New(500*time.Millisecond, func() {})
	start := time.Now()
	w.Arm(start)
	w.Tick(start.Add(600 * time.Millisecond))
	if w.State() != TimedOut {
		t.Fatal("setup: expected TimedOut")
	}
	resumed := w.Feed(start.Add(700 * time.Millisecond))
	if !resumed {
		t.Error("expected Feed to report resumedFromTimeout")
	}
	if w.State() != Armed {
		t.Errorf("state = %v, want Armed", w.State())
	}
}

func TestRecordDroppedDoesNotFeed(t *testing.T) {
	w := New(500*time.Millisecond, func() {})
	start := time.Now()
	w.Arm(start)
	w.RecordDropped()
	status := w.Status()
	if status.DroppedStale != 1 {
		t.Errorf("DroppedStale = %v, want 1", status.DroppedStale)
	}
	if status.LastFed != start {
		t.Error("RecordDropped must not change lastFed")
	}
}

func TestEStopDisarmsAndBlocksRearm(t *testing.T) {
	w := New(500*time.Millisecond, func() {})
	start := time.Now()
	w.Arm(start)
	w.EnterEStop()
	if w.State() != Disarmed {
		t.Errorf("state after EnterEStop = %v, want Disarmed", w.State())
	}
	w.Arm(start.Add(time.Second))
	if w.State() != Disarmed {
		t.Error("Arm should be refused while E-Stop latched")
	}
	w.ClearEStop()
	w.Arm(start.Add(2 * time.Second))
	if w.State() != Armed {
		t.Errorf("state after ClearEStop+Arm = %v, want Armed", w.State())
	}
}

func TestStatusSnapshot(t *testing.T) {
	w := New(500*time.Millisecond, func() {})
	start := time.Now()
	w.Arm(start)
	w.Feed(start.Add(10 * time.Millisecond))
	w.Feed(start.Add(20 * time.Millisecond))
	status := w.Status()
	if status.Accepted != 2 {
		t.Errorf("Accepted = %v, want 2", status.Accepted)
	}
}
