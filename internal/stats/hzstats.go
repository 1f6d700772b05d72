// Package stats keeps a rolling window of inter-arrival/inter-send
// intervals and reduces it to an effective rate and jitter, shared by
// the robot's packet dispatcher and the host's command loop.
package stats

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// WindowSize is the number of most-recent intervals retained.
const WindowSize = 128

// HzStats computes a rolling-window estimate of loop rate and jitter
// from successive timestamps.
type HzStats struct {
	intervalsMs []float64
	last        time.Time
	haveLast    bool
}

// NewHzStats returns an empty HzStats ready to observe samples.
func NewHzStats() *HzStats {
	return &HzStats{intervalsMs: make([]float64, 0, WindowSize)}
}

// Observe records one arrival/send timestamp. The first call only
// seeds the clock; it takes two calls to produce the first interval.
func (h *HzStats) Observe(at time.Time) {
	if !h.haveLast {
		h.last = at
		h.haveLast = true
		return
	}
	interval := at.Sub(h.last).Seconds() * 1000
	h.last = at

	if len(h.intervalsMs) == WindowSize {
		copy(h.intervalsMs, h.intervalsMs[1:])
		h.intervalsMs[WindowSize-1] = interval
	} else {
		h.intervalsMs = append(h.intervalsMs, interval)
	}
}

// Snapshot is the reduction of the current window, used in status
// surfaces (the robot's status log, the controller's link_quality
// telemetry events). robot_info does not carry it.
type Snapshot struct {
	Samples     int
	MeanHz      float64
	JitterMs    float64
}

// Snapshot computes the current mean rate (Hz) and jitter (stddev of
// interval, ms) over the retained window. With fewer than two samples
// it returns only the sample count, with MeanHz and JitterMs zero.
func (h *HzStats) Snapshot() Snapshot {
	n := len(h.intervalsMs)
	if n < 2 {
		return Snapshot{Samples: n}
	}
	mean := stat.Mean(h.intervalsMs, nil)
	stddev := stat.StdDev(h.intervalsMs, nil)

	hz := 0.0
	if mean > 0 {
		hz = 1000.0 / mean
	}
	return Snapshot{Samples: n, MeanHz: hz, JitterMs: stddev}
}
