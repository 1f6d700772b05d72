// controller is the host-side binary: it discovers robots on the LAN,
// binds a Session to one, and drives the 30 Hz CommandLoop from
// keyboard input (no gamepad source is wired in this binary).
//
// CLI surface (§6):
//   controller [robot_ip|hostname]   drive the named robot, or discover if omitted
//   controller --configure [robot_id] [robot_ip]   run the profile configurator
//   controller --help
//
// Modeled on Valkyrie/cmd/valkyrie/main.go's flag-parse -> Initialize
// -> Start -> wait-for-signal -> Shutdown lifecycle.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arobi/picobot/internal/config"
	"github.com/arobi/picobot/internal/controller/commandloop"
	"github.com/arobi/picobot/internal/controller/discovery"
	"github.com/arobi/picobot/internal/controller/input"
	"github.com/arobi/picobot/internal/controller/session"
	"github.com/arobi/picobot/internal/controller/shaper"
	"github.com/arobi/picobot/internal/controller/telemetry"
	"github.com/arobi/picobot/internal/protocol"
	"github.com/arobi/picobot/pkg/logging"
)

var (
	configureFlag = flag.Bool("configure", false, "Run the profile configurator instead of driving")
	configFile    = flag.String("config", "", "Optional YAML config file path")
	telemetryAddr = flag.String("telemetry-addr", "", "Optional loopback address (e.g. 127.0.0.1:8766) to serve the telemetry WebSocket on")

	logLevel  = flag.String("log-level", "info", "debug|info|warn|error")
	logOutput = flag.String("log-output", "stdout", "stdout or a file path")
)

func main() {
	flag.Parse()
	log := logging.New(*logLevel, *logOutput)

	args := flag.Args()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.WithError(err).Error("failed to load config")
		os.Exit(1)
	}

	if *configureFlag {
		os.Exit(runConfigure(cfg, args, log))
	}
	os.Exit(runDrive(cfg, args, log))
}

// resolveTarget returns the robot IP to connect to: the positional
// argument if given, else the first robot found by a broadcast
// discovery scan, else (when the scan finds none) the cached last
// robot. The cached IP is used as the target directly; no unicast
// discover is sent to it first. Returns ("", false) on discovery
// failure or when no target is found; callers exit 0 on a clean
// cancel per §6 ("0 when user cancels discovery").
func resolveTarget(port int, positional string, log *logrus.Logger) (string, bool) {
	if positional != "" {
		return positional, true
	}

	log.Info("no robot specified, scanning the local network")
	scanner := discovery.New(port, log)
	ctx, cancel := context.WithTimeout(context.Background(), discovery.DefaultTimeout+time.Second)
	defer cancel()
	robots, err := scanner.Scan(ctx, discovery.DefaultTimeout)
	if err != nil {
		log.WithError(err).Error("discovery failed")
		return "", false
	}
	if len(robots) == 0 {
		if cached := session.LoadLastRobot(); cached != "" {
			log.WithField("ip", cached).Info("no robots found, falling back to last known robot")
			return cached, true
		}
		log.Warn("no robots found")
		return "", false
	}

	log.WithField("count", len(robots)).Info("robots found")
	for i, r := range robots {
		log.Infof("  [%d] %s  id=%d hostname=%s", i+1, r.IP, r.RobotID, r.Hostname)
	}
	// Single match: auto-select. Multiple matches: pick the first: a
	// richer selection UI is an external-UI-collaborator concern (§7),
	// out of scope for this binary's own responsibility.
	return robots[0].IP.String(), true
}

func runDrive(cfg config.Config, args []string, log *logrus.Logger) int {
	var positional string
	if len(args) > 0 {
		positional = args[0]
	}

	target, ok := resolveTarget(cfg.Port, positional, log)
	if !ok {
		return 0
	}

	sess, err := session.Dial(target, cfg.Port, log)
	if err != nil {
		log.WithError(err).Error("failed to dial robot")
		return 1
	}
	defer sess.Close()
	session.SaveLastRobot(target)

	var feed *telemetry.Feed
	var httpServer *http.Server
	if *telemetryAddr != "" {
		feed = telemetry.New(log)
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", feed.HandleWebSocket)
		httpServer = &http.Server{Addr: *telemetryAddr, Handler: mux}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Warn("telemetry HTTP server stopped")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if feed != nil {
		go feed.Run(ctx)
	}

	src := input.NewKeyboardSource(os.Stdin)
	sh := shaper.New(shaperParamsFromConfig(cfg))
	loop := commandloop.New(sess, src, sh, feed, log)
	loop.RequestCalibration()

	go loop.Run(ctx)

	log.Info("controller operational: w/a/s/d to drive, space to e-stop, ctrl+c to exit")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	cancel()
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}
	return 0
}

// runConfigure implements `controller --configure [robot_id] [robot_ip]`:
// it dials the robot and pushes a set_profile request, retrying up to
// three times with linearly increasing receive timeouts (3s, 4s, 5s)
// per §5.
func runConfigure(cfg config.Config, args []string, log *logrus.Logger) int {
	if len(args) < 2 {
		log.Error("usage: controller --configure <robot_id> <robot_ip> [name] [r] [g] [b]")
		return 1
	}
	robotID, err := strconv.Atoi(args[0])
	if err != nil || robotID < 1 || robotID > 8 {
		log.WithField("robot_id", args[0]).Error("robot_id must be an integer in 1..8")
		return 1
	}
	target := args[1]

	name := "PICOBOT"
	color := protocol.Color{255, 255, 255}
	if len(args) >= 3 {
		name = args[2]
	}
	if len(args) >= 6 {
		r, _ := strconv.Atoi(args[3])
		g, _ := strconv.Atoi(args[4])
		b, _ := strconv.Atoi(args[5])
		color = protocol.Color{r, g, b}
	}

	sess, err := session.Dial(target, cfg.Port, log)
	if err != nil {
		log.WithError(err).Error("failed to dial robot")
		return 1
	}
	defer sess.Close()

	timeouts := []time.Duration{3 * time.Second, 4 * time.Second, 5 * time.Second}
	var lastErr error
	for attempt, timeout := range timeouts {
		log.WithField("attempt", attempt+1).WithField("timeout", timeout).Info("sending set_profile")
		resp, err := sess.SendSetProfileAndAwait(robotID, name, color, timeout)
		if err != nil {
			// No reply within this attempt's timeout: retry with the
			// next, longer window.
			lastErr = err
			log.WithError(err).Warn("no profile_response, retrying")
			continue
		}
		if !resp.Success {
			log.WithField("message", resp.Message).Error("robot rejected profile configuration")
			return 1
		}
		log.WithField("robot_id", robotID).WithField("name", name).Info("profile configured")
		return 0
	}

	log.WithError(lastErr).Error("failed to configure robot after 3 attempts")
	return 1
}

func shaperParamsFromConfig(cfg config.Config) shaper.Params {
	return shaper.Params{
		DeadZone:               cfg.Shaper.DeadZone,
		ThrottleExpo:           cfg.Shaper.ThrottleExpo,
		SteeringExpo:           cfg.Shaper.SteeringExpo,
		ThrottleSensitivity:    cfg.Shaper.ThrottleSensitivity,
		SteeringSensitivity:    cfg.Shaper.SteeringSensitivity,
		SpeedSteeringReduction: cfg.Shaper.SpeedSteeringReduction,
		TrimThreshold:          cfg.Shaper.TrimThreshold,
	}
}
