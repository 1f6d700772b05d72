// Package discovery implements the host's LAN robot discovery:
// broadcast `discover` across every local /24, collect `robot_info`
// replies, deduplicate by source IP, and fall back to cached unicast
// targets when broadcast is filtered.
package discovery

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arobi/picobot/internal/protocol"
)

// DefaultTimeout matches §4.7's ≈1.5s collection window.
const DefaultTimeout = 1500 * time.Millisecond

// excludedPrefixes skips loopback and common VPN/docker ranges.
var excludedPrefixes = []string{"127.", "172.17.", "172.18.", "10.244.", "169.254."}

// Robot is one discovered robot, keyed by IP for dedup.
type Robot struct {
	IP          net.IP
	RobotID     int
	Hostname    string
	Version     string
	Color       protocol.Color
	Calibration protocol.Calibration
}

// Scanner runs discovery scans over a single broadcast-capable socket.
type Scanner struct {
	port int
	log  *logrus.Entry
}

// New builds a Scanner targeting port.
func New(port int, log *logrus.Logger) *Scanner {
	if log == nil {
		log = logrus.New()
	}
	return &Scanner{port: port, log: log.WithField("component", "discovery")}
}

// localBroadcastAddrs enumerates active, non-excluded IPv4 interfaces
// and returns each one's broadcast address (<prefix>.255).
func localBroadcastAddrs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("discovery: enumerate interfaces: %w", err)
	}

	var addrs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range ifaceAddrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			if excluded(ip4.String()) {
				continue
			}
			broadcast := fmt.Sprintf("%d.%d.%d.255", ip4[0], ip4[1], ip4[2])
			addrs = append(addrs, broadcast)
		}
	}
	return addrs, nil
}

func excluded(ip string) bool {
	for _, prefix := range excludedPrefixes {
		if len(ip) >= len(prefix) && ip[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// setBroadcast sets SO_BROADCAST on conn. Required before sending to a
// directed broadcast address (<prefix>.255) per §4.7 step 2: without
// it, WriteToUDP to a broadcast destination fails with EACCES on
// Linux and most other OSes. Split out from Scan so a test can call it
// directly against a throwaway socket.
func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("discovery: get raw conn: %w", err)
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return fmt.Errorf("discovery: control raw conn: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("discovery: set SO_BROADCAST: %w", sockErr)
	}
	return nil
}

// Scan broadcasts discover to every local /24 and collects robot_info
// replies for up to timeout, deduplicated by source IP, ordered by
// arrival (P9, scenario 6). If ctx is canceled first, Scan returns
// whatever it has collected so far.
func (s *Scanner) Scan(ctx context.Context, timeout time.Duration) ([]Robot, error) {
	broadcasts, err := localBroadcastAddrs()
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("discovery: open socket: %w", err)
	}
	defer conn.Close()

	if err := setBroadcast(conn); err != nil {
		return nil, err
	}

	req, err := protocol.EncodeDiscover(0)
	if err != nil {
		return nil, fmt.Errorf("discovery: encode request: %w", err)
	}

	for _, b := range broadcasts {
		dst := &net.UDPAddr{IP: net.ParseIP(b), Port: s.port}
		if _, err := conn.WriteToUDP(req, dst); err != nil {
			s.log.WithError(err).WithField("broadcast", b).Warn("failed to send discover")
		}
	}

	return s.collect(ctx, conn, timeout)
}

// ScanUnicast sends discover directly to each candidate IP, for the
// fallback path when broadcast yields nothing (hostile networks that
// filter broadcasts).
func (s *Scanner) ScanUnicast(ctx context.Context, ips []string, timeout time.Duration) ([]Robot, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("discovery: open socket: %w", err)
	}
	defer conn.Close()

	req, err := protocol.EncodeDiscover(0)
	if err != nil {
		return nil, fmt.Errorf("discovery: encode request: %w", err)
	}

	for _, ip := range ips {
		dst := &net.UDPAddr{IP: net.ParseIP(ip), Port: s.port}
		if _, err := conn.WriteToUDP(req, dst); err != nil {
			s.log.WithError(err).WithField("ip", ip).Warn("failed to send unicast discover")
		}
	}

	return s.collect(ctx, conn, timeout)
}

func (s *Scanner) collect(ctx context.Context, conn *net.UDPConn, timeout time.Duration) ([]Robot, error) {
	deadline := time.Now().Add(timeout)
	seen := make(map[string]bool)
	var robots []Robot

	buf := make([]byte, 2048)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			return robots, nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(minDuration(remaining, 100*time.Millisecond)))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}

		info, err := protocol.DecodeRobotInfo(buf[:n])
		if err != nil {
			s.log.WithError(err).Debug("ignoring non robot_info reply")
			continue
		}

		ip := addr.IP.String()
		if seen[ip] {
			continue
		}
		seen[ip] = true

		robots = append(robots, Robot{
			IP: addr.IP, RobotID: info.RobotID, Hostname: info.Hostname,
			Version: info.Version, Color: info.Color, Calibration: info.Calibration,
		})
	}
	return robots, nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
