// robotd is the robot-side runtime: it owns the motors, the watchdog,
// calibration and profile storage, and the UDP packet dispatcher.
//
// Modeled on Valkyrie/cmd/valkyrie/main.go's flag-parse ->
// Initialize -> Start -> wait-for-signal -> Shutdown lifecycle.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/arobi/picobot/internal/config"
	"github.com/arobi/picobot/internal/hal"
	"github.com/arobi/picobot/internal/robot/bench"
	"github.com/arobi/picobot/internal/robot/dispatch"
	"github.com/arobi/picobot/internal/robot/runtime"
	"github.com/arobi/picobot/pkg/logging"
)

var (
	version = "1.0.0"

	configFile     = flag.String("config", "", "Optional YAML config file path")
	calibrationDir = flag.String("calibration-dir", ".", "Directory holding calibration.json")
	profileID      = flag.Int("profile-id", 1, "This robot's built-in profile slot (1-8)")
	hostname       = flag.String("hostname", "", "Hostname reported in robot_info (default: os.Hostname())")

	benchPort = flag.String("bench-port", "", "Optional serial port for the bench debug console (empty disables it)")
	benchBaud = flag.Int("bench-baud", bench.DefaultBaudRate, "Bench console baud rate")

	logLevel  = flag.String("log-level", "info", "debug|info|warn|error")
	logOutput = flag.String("log-output", "stdout", "stdout or a file path")
)

// robotd is the main application struct, holding every long-lived task
// and the signal to stop them.
type robotd struct {
	ctx  *runtime.Context
	bc   *bench.Console
	stop chan struct{}
	wg   sync.WaitGroup
}

func main() {
	flag.Parse()

	log := logging.New(*logLevel, *logOutput)
	log.WithField("version", version).Info("starting robotd")

	r := &robotd{stop: make(chan struct{})}
	if err := r.Initialize(log); err != nil {
		log.WithError(err).Fatal("failed to initialize robotd")
	}
	r.Start()

	log.Info("robotd operational, press ctrl+c to shut down")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	r.Shutdown(log)
	log.Info("robotd shutdown complete")
}

// Initialize wires up the robot's context: simulated hardware pins
// (no GPIO library appears anywhere in the retrieval corpus, so hal's
// Sim* doubles stand in for the board's real pins — the same
// documented-boundary pattern used for input.RawPad on the host side),
// config, identity, and the optional bench console.
func (r *robotd) Initialize(log *logrus.Logger) error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("robotd: load config: %w", err)
	}

	host := *hostname
	if host == "" {
		if h, err := os.Hostname(); err == nil {
			host = h
		} else {
			host = "picobot"
		}
	}

	hw := runtime.Hardware{
		LeftPWM:       &hal.SimPWMPin{},
		RightPWM:      &hal.SimPWMPin{},
		LeftForward:   &hal.SimDigitalPin{},
		LeftBackward:  &hal.SimDigitalPin{},
		RightForward:  &hal.SimDigitalPin{},
		RightBackward: &hal.SimDigitalPin{},
	}

	ctx, err := runtime.Initialize(runtime.Options{
		Config:         cfg,
		Identity:       dispatch.Identity{Hostname: host, Version: version},
		CalibrationDir: *calibrationDir,
		Hardware:       hw,
		ProfileID:      *profileID,
		Log:            log,
	})
	if err != nil {
		return fmt.Errorf("robotd: runtime init: %w", err)
	}
	r.ctx = ctx

	if *benchPort != "" {
		bc, err := bench.Open(bench.Config{Port: *benchPort, BaudRate: *benchBaud}, log)
		if err != nil {
			log.WithError(err).Warn("bench console unavailable, continuing without it")
		} else {
			r.bc = bc
		}
	}

	return nil
}

// Start launches every cooperative task as a goroutine. The tasks
// themselves remain single-threaded-cooperative within their own
// loops (§5); Start just needs each loop to not block the others.
func (r *robotd) Start() {
	r.wg.Add(2)
	go func() { defer r.wg.Done(); r.ctx.ReceiveLoop(r.stop) }()
	go func() { defer r.wg.Done(); r.ctx.WatchdogLoop(r.stop) }()

	r.wg.Add(1)
	go func() { defer r.wg.Done(); r.ctx.StatusLoop(r.stop) }()

	if r.bc != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.bc.Serve(r.ctx.Dispatcher); err != nil {
				logrus.WithError(err).Warn("bench console stopped")
			}
		}()
	}
}

// Shutdown stops every task and releases the UDP socket and bench port.
func (r *robotd) Shutdown(log *logrus.Logger) {
	close(r.stop)
	r.wg.Wait()

	if err := r.ctx.Close(); err != nil {
		log.WithError(err).Warn("error closing UDP socket")
	}
	if r.bc != nil {
		if err := r.bc.Close(); err != nil {
			log.WithError(err).Warn("error closing bench console")
		}
	}
}
