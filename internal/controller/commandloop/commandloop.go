// Package commandloop implements the host's CommandLoop (§4.9): a
// single-threaded cooperative scheduler running at 30 Hz, grounded on
// Valkyrie/cmd/valkyrie/main.go's ticker-driven background loop shape.
package commandloop

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arobi/picobot/internal/controller/input"
	"github.com/arobi/picobot/internal/controller/session"
	"github.com/arobi/picobot/internal/controller/shaper"
	"github.com/arobi/picobot/internal/controller/telemetry"
	"github.com/arobi/picobot/internal/protocol"
	"github.com/arobi/picobot/internal/stats"
)

// calibrationRequestTimeout bounds how long an asynchronous
// RequestCalibration waits for calibration_response before giving up.
const calibrationRequestTimeout = 2 * time.Second

// TickRate is the fixed control rate named in §4.9.
const TickRate = 30
const tickPeriod = time.Second / TickRate

// requestQueueDepth bounds the async queue of profile/calibration/
// charging requests so a burst of user events can never block a
// drive tick waiting for room.
const requestQueueDepth = 8

// request is a queued non-drive operation, processed between drive
// ticks (§4.9) so it never delays the 30 Hz send path.
type request func(*session.Session)

// Loop drives the 30 Hz send loop plus the asynchronous request queue.
type Loop struct {
	sess   *session.Session
	input  input.Source
	shaper *shaper.Shaper
	hz     *stats.HzStats
	feed   *telemetry.Feed
	log    *logrus.Entry

	trimMu sync.RWMutex
	trim   float64

	queue chan request
}

// New builds a Loop. trim is the host's cached steering_trim, refreshed
// whenever a get_calibration reply arrives.
func New(sess *session.Session, src input.Source, sh *shaper.Shaper, feed *telemetry.Feed, log *logrus.Logger) *Loop {
	if log == nil {
		log = logrus.New()
	}
	return &Loop{
		sess:   sess,
		input:  src,
		shaper: sh,
		hz:     stats.NewHzStats(),
		feed:   feed,
		log:    log.WithField("component", "commandloop"),
		queue:  make(chan request, requestQueueDepth),
	}
}

// SetTrim updates the locally cached steering_trim used to shape
// outgoing drive packets. Safe to call from the goroutine that services
// RequestCalibration while tick runs concurrently on the loop goroutine.
func (l *Loop) SetTrim(trim float64) {
	l.trimMu.Lock()
	l.trim = trim
	l.trimMu.Unlock()
}

func (l *Loop) getTrim() float64 {
	l.trimMu.RLock()
	defer l.trimMu.RUnlock()
	return l.trim
}

// Enqueue schedules a non-drive request (profile/calibration/charging)
// to run between the next drive ticks. If the queue is full the
// request is dropped and logged — a user retry is expected to be cheap
// (these are explicit user actions, not time-critical telemetry).
func (l *Loop) Enqueue(req request) {
	select {
	case l.queue <- req:
	default:
		l.log.Warn("request queue full, dropping queued request")
	}
}

// RequestCalibration asks the session for the robot's calibration and,
// once calibration_response arrives, applies the resulting
// steering_trim via SetTrim; if the request fails or times out, the
// cached trim is left unchanged. It runs on its own goroutine
// rather than the request queue: session.RequestCalibration blocks for
// up to calibrationRequestTimeout waiting on the reply, far longer than
// a single 30 Hz tick can afford to stall for.
func (l *Loop) RequestCalibration() {
	go func() {
		cal, err := l.sess.RequestCalibration(calibrationRequestTimeout)
		if err != nil {
			l.log.WithError(err).Warn("get_calibration request failed")
			return
		}
		l.SetTrim(cal.SteeringTrim)
		if l.feed != nil {
			l.feed.Publish(telemetry.Event{Kind: telemetry.EventCalibrationChanged, Data: cal})
		}
	}()
}

// RequestSetCalibration queues a set_calibration request.
func (l *Loop) RequestSetCalibration(c protocol.Calibration) {
	l.Enqueue(func(s *session.Session) {
		if err := s.SendSetCalibration(c); err != nil {
			l.log.WithError(err).Warn("set_calibration send failed")
			return
		}
		if l.feed != nil {
			l.feed.Publish(telemetry.Event{Kind: telemetry.EventCalibrationChanged, Data: c})
		}
	})
}

// RequestSetProfile queues a set_profile request.
func (l *Loop) RequestSetProfile(robotID int, name string, color protocol.Color) {
	l.Enqueue(func(s *session.Session) {
		if err := s.SendSetProfile(robotID, name, color); err != nil {
			l.log.WithError(err).Warn("set_profile send failed")
			return
		}
		if l.feed != nil {
			l.feed.Publish(telemetry.Event{Kind: telemetry.EventProfileChanged, Data: name})
		}
	})
}

// RequestCharging queues a charging toggle.
func (l *Loop) RequestCharging(enable bool) {
	l.Enqueue(func(s *session.Session) {
		if err := s.SendCharging(enable); err != nil {
			l.log.WithError(err).Warn("charging send failed")
		}
	})
}

// Run executes the cooperative loop until ctx is canceled. Each tick:
// poll input, shape, send a drive packet, update Hz stats, then drain
// at most one queued request so it can never stall the drive send
// path for more than one tick.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	l.log.Info("command loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info("command loop stopping")
			return
		case now := <-ticker.C:
			l.tick(now)
			l.drainOneRequest()
		}
	}
}

func (l *Loop) tick(now time.Time) {
	frame, err := l.input.Poll()
	if err != nil {
		l.log.WithError(err).Debug("input poll failed")
		return
	}
	if frame.Pressed["estop"] {
		l.sess.SendDrive(now.UnixMilli(), 0, 0)
		return
	}

	throttle, steer := l.shaper.Shape(frame.Throttle, frame.Steer, l.getTrim())
	l.sess.SendDrive(now.UnixMilli(), throttle, steer)
	l.hz.Observe(now)

	if l.feed != nil {
		snap := l.hz.Snapshot()
		l.feed.Publish(telemetry.Event{Kind: telemetry.EventLinkQuality, HzMean: snap.MeanHz, JitterMs: snap.JitterMs})
	}
}

func (l *Loop) drainOneRequest() {
	select {
	case req := <-l.queue:
		req(l.sess)
	default:
	}
}
