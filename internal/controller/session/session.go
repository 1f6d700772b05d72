// Package session implements the host's Session: a one-shot UDP socket
// bound to a chosen robot, a fire-and-forget sender with monotonic
// sequence numbers, a request/await path for replies that matter
// (set_profile, get_calibration), and the cached last-robot-IP file.
package session

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arobi/picobot/internal/protocol"
)

// LastRobotCacheFile is the documented cache path (§6).
const LastRobotCacheFile = ".picogo_last_robot"

// recvBufSize is large enough for any reply this protocol defines
// (robot_info, calibration_response, profile_response).
const recvBufSize = 2048

// Session owns the sending socket for one robot (§3: peer_addr, seq
// counter, local_calibration_cache). It is single-producer on the send
// side (§5): only the command loop writes to it. Reads that expect a
// specific reply (SendSetProfileAndAwait, RequestCalibration) share the
// same socket under recvMu so they never race each other.
type Session struct {
	conn       *net.UDPConn
	peer       *net.UDPAddr
	seq        uint64
	log        *logrus.Entry
	sendErrors uint64

	recvMu sync.Mutex

	calMu         sync.RWMutex
	localCalCache protocol.Calibration
	haveCal       bool
}

// Dial opens a socket targeting host:port. host may be an IP or
// hostname; resolution happens once, at dial time.
func Dial(host string, port int, log *logrus.Logger) (*Session, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	peer, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("session: resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp4", nil, peer)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", addr, err)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Session{conn: conn, peer: peer, log: log.WithField("component", "session")}, nil
}

// nextSeq returns a strictly increasing sequence number for this
// session (§3: seq strictly increases per sender session).
func (s *Session) nextSeq() uint64 {
	return atomic.AddUint64(&s.seq, 1)
}

// SendDrive fire-and-forgets a drive packet at the current time.
// Send failures are logged and counted, never fatal (§7 HostTransient)
// — the loop keeps sending rather than burning a cycle on retry logic.
func (s *Session) SendDrive(tsMillis int64, throttle, steer float64) {
	seq := s.nextSeq()
	data, err := protocol.EncodeDrive(seq, tsMillis, protocol.Axes{Throttle: round3(throttle), Steer: round3(steer)})
	if err != nil {
		s.log.WithError(err).Error("failed to encode drive packet")
		return
	}
	if _, err := s.conn.Write(data); err != nil {
		atomic.AddUint64(&s.sendErrors, 1)
		s.log.WithError(err).Debug("drive send failed")
	}
}

// SendGetCalibration requests the robot's calibration, fire-and-forget.
func (s *Session) SendGetCalibration() error {
	data, err := protocol.EncodeGetCalibration(s.nextSeq())
	if err != nil {
		return fmt.Errorf("session: encode get_calibration: %w", err)
	}
	_, err = s.conn.Write(data)
	return err
}

// RequestCalibration sends get_calibration and blocks for up to timeout
// for the calibration_response. On success it refreshes
// local_calibration_cache so LocalCalibration reflects the robot's
// current steering_trim.
func (s *Session) RequestCalibration(timeout time.Duration) (protocol.Calibration, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	if err := s.SendGetCalibration(); err != nil {
		return protocol.Calibration{}, fmt.Errorf("session: send get_calibration: %w", err)
	}

	resp, err := s.awaitCalibrationResponse(timeout)
	if err != nil {
		return protocol.Calibration{}, err
	}

	s.calMu.Lock()
	s.localCalCache = resp.Calibration
	s.haveCal = true
	s.calMu.Unlock()

	return resp.Calibration, nil
}

// LocalCalibration returns the most recently cached calibration_response
// payload, and whether one has ever been received.
func (s *Session) LocalCalibration() (protocol.Calibration, bool) {
	s.calMu.RLock()
	defer s.calMu.RUnlock()
	return s.localCalCache, s.haveCal
}

func (s *Session) awaitCalibrationResponse(timeout time.Duration) (protocol.CalibrationResponse, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return protocol.CalibrationResponse{}, fmt.Errorf("session: set read deadline: %w", err)
	}
	defer s.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, recvBufSize)
	n, err := s.conn.Read(buf)
	if err != nil {
		return protocol.CalibrationResponse{}, fmt.Errorf("session: read calibration_response: %w", err)
	}
	return protocol.DecodeCalibrationResponse(buf[:n])
}

// SendSetCalibration pushes a new calibration record.
func (s *Session) SendSetCalibration(c protocol.Calibration) error {
	data, err := protocol.EncodeSetCalibration(s.nextSeq(), c)
	if err != nil {
		return fmt.Errorf("session: encode set_calibration: %w", err)
	}
	_, err = s.conn.Write(data)
	return err
}

// SendSetProfile pushes a profile update, fire-and-forget.
func (s *Session) SendSetProfile(robotID int, name string, color protocol.Color) error {
	data, err := protocol.EncodeSetProfile(s.nextSeq(), robotID, name, color)
	if err != nil {
		return fmt.Errorf("session: encode set_profile: %w", err)
	}
	_, err = s.conn.Write(data)
	return err
}

// SendSetProfileAndAwait pushes a profile update and blocks for up to
// timeout for the robot's profile_response. A read timeout (no reply
// within the window) is returned as an error distinct from a received
// but negative reply, so callers can tell "robot didn't answer" apart
// from "robot rejected the request" (§7 UnknownRobotId).
func (s *Session) SendSetProfileAndAwait(robotID int, name string, color protocol.Color, timeout time.Duration) (protocol.ProfileResponse, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	if err := s.SendSetProfile(robotID, name, color); err != nil {
		return protocol.ProfileResponse{}, fmt.Errorf("session: send set_profile: %w", err)
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return protocol.ProfileResponse{}, fmt.Errorf("session: set read deadline: %w", err)
	}
	defer s.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, recvBufSize)
	n, err := s.conn.Read(buf)
	if err != nil {
		return protocol.ProfileResponse{}, fmt.Errorf("session: read profile_response: %w", err)
	}
	return protocol.DecodeProfileResponse(buf[:n])
}

// SendCharging toggles charging mode.
func (s *Session) SendCharging(enable bool) error {
	data, err := protocol.EncodeCharging(s.nextSeq(), enable)
	if err != nil {
		return fmt.Errorf("session: encode charging: %w", err)
	}
	_, err = s.conn.Write(data)
	return err
}

// SendErrors reports the cumulative send-failure counter.
func (s *Session) SendErrors() uint64 {
	return atomic.LoadUint64(&s.sendErrors)
}

// Close sends a best-effort zero-throttle packet, then closes the
// socket (§7 UserCancel).
func (s *Session) Close() error {
	s.SendDrive(time.Now().UnixMilli(), 0, 0)
	return s.conn.Close()
}

func round3(v float64) float64 {
	return float64(int(v*1000+sign(v)*0.5)) / 1000
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// LastRobotCachePath returns the cache file path under the user's home
// directory.
func LastRobotCachePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("session: resolve home dir: %w", err)
	}
	return filepath.Join(home, LastRobotCacheFile), nil
}

// SaveLastRobot records ip as the most recently used robot.
func SaveLastRobot(ip string) error {
	path, err := LastRobotCachePath()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(ip), 0644)
}

// LoadLastRobot returns the cached robot IP, or "" if none is cached.
func LoadLastRobot() string {
	path, err := LastRobotCachePath()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
