// Package bench implements an optional line-based REPL over USB serial
// for bench debugging before Wi-Fi is configured: status,
// get_calibration, set_calibration, and stop, routed through the same
// dispatcher the UDP path uses.
package bench

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/arobi/picobot/internal/protocol"
	"github.com/arobi/picobot/internal/robot/dispatch"
)

// Config describes how to open the bench serial port.
type Config struct {
	Port     string
	BaudRate int
}

// DefaultBaudRate matches common USB-CDC bench setups.
const DefaultBaudRate = 115200

// Console is a REPL reader over an opened serial.Port.
type Console struct {
	port serial.Port
	log  *logrus.Entry
}

// Open opens cfg.Port at cfg.BaudRate (8-N-1, matching the teacher's
// MAVLink serial mode). A BaudRate of zero uses DefaultBaudRate.
func Open(cfg Config, log *logrus.Logger) (*Console, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("bench: open serial port %s: %w", cfg.Port, err)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Console{port: port, log: log.WithField("component", "bench")}, nil
}

// Close releases the serial port.
func (c *Console) Close() error {
	return c.port.Close()
}

// Serve reads newline-terminated commands from the port until it
// returns EOF or a read error, dispatching each line through d.
func (c *Console) Serve(d *dispatch.Dispatcher) error {
	reader := bufio.NewScanner(c.port)
	for reader.Scan() {
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}
		reply := c.handleLine(line, d)
		if reply != "" {
			io.WriteString(c.port, reply+"\n")
		}
	}
	return reader.Err()
}

func (c *Console) handleLine(line string, d *dispatch.Dispatcher) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}

	switch fields[0] {
	case "status":
		status := d.Watchdog.Status()
		return fmt.Sprintf("watchdog=%s accepted=%d dropped_stale=%d", status.State, status.Accepted, status.DroppedStale)

	case "get_calibration":
		data, err := json.Marshal(d.Calibration.Get())
		if err != nil {
			c.log.WithError(err).Error("failed to marshal calibration")
			return "error: " + err.Error()
		}
		return string(data)

	case "set_calibration":
		if len(fields) < 2 {
			return "error: usage: set_calibration <json>"
		}
		var cal protocol.Calibration
		if err := json.Unmarshal([]byte(strings.Join(fields[1:], " ")), &cal); err != nil {
			return "error: " + err.Error()
		}
		if err := d.Calibration.Set(cal); err != nil {
			c.log.WithError(err).Error("failed to persist calibration from bench console")
			return "error: " + err.Error()
		}
		return "ok"

	case "stop":
		d.Stop()
		return "ok"

	default:
		return "error: unknown command " + fields[0]
	}
}
